package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seckatie/stashd/internal/core"
	"github.com/seckatie/stashd/internal/core/api"
)

// syncCmd runs one sync cycle in the foreground with a progress bar.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the remote service",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		baseURL := viper.GetString("remote.base_url")
		if baseURL == "" {
			return fmt.Errorf("no remote base URL configured (set remote.base_url or --remote-url)")
		}

		database, err := openDB()
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()

		bus := core.NewBus()
		fetcher := core.NewContentFetcher(database)
		favicons := core.NewFaviconCache(database, bus)
		client := api.New(baseURL, viper.GetString("remote.token"))
		engine := core.NewEngine(database, client, bus, fetcher, favicons, core.EngineConfig{})

		var bar *pb.ProgressBar
		bus.Subscribe(core.OnSyncStarted, func(event core.Event) error {
			ev := event.(core.SyncStartedEvent)
			if ev.Total > 0 {
				bar = pb.StartNew(ev.Total)
			}
			return nil
		})
		bus.Subscribe(core.OnSyncProgress, func(event core.Event) error {
			ev := event.(core.SyncProgressEvent)
			if bar != nil {
				bar.SetCurrent(int64(ev.Current))
			}
			return nil
		})
		bus.Subscribe(core.OnSyncCompleted, func(event core.Event) error {
			ev := event.(core.SyncCompletedEvent)
			if bar != nil {
				bar.Finish()
			}
			fmt.Printf("Sync completed: %d record(s) processed\n", ev.Processed)
			return nil
		})

		full, err := cmd.Flags().GetBool("full")
		if err != nil {
			return err
		}

		ctx := context.Background()
		if full {
			log.Println("Forcing full sync")
			return engine.FullSync(ctx)
		}
		return engine.Sync(ctx)
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "Clear the sync cursor and re-sync everything")
	rootCmd.AddCommand(syncCmd)
}
