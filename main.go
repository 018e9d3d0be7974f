package main

import "github.com/seckatie/stashd/cmd"

func main() {
	cmd.Execute()
}
