package cmd

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/seckatie/stashd/internal/core"
	"github.com/seckatie/stashd/internal/core/api"
	"github.com/seckatie/stashd/internal/core/db"
	"github.com/seckatie/stashd/internal/core/web"
)

// rootCmd runs the daemon: open the local cache, start the background
// sync ticker, and serve the offline reader UI.
var rootCmd = &cobra.Command{
	Use:   "stashd",
	Short: "Offline-first mirror of a remote bookmark service",
	Long: `stashd mirrors a remote bookmark service into a local cache, keeps
the cache fresh through incremental sync, and serves sanitized cached
content for offline reading.`,
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		database, err := openDB()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()

		bus := core.NewBus()
		bus.Subscribe(core.OnSyncCompleted, func(event core.Event) error {
			ev := event.(core.SyncCompletedEvent)
			log.Printf("Sync completed: %d record(s) processed", ev.Processed)
			return nil
		})
		bus.Subscribe(core.OnSyncError, func(event core.Event) error {
			ev := event.(core.SyncErrorEvent)
			log.Printf("Sync error: %v", ev.Err)
			return nil
		})

		fetcher := core.NewContentFetcher(database)
		favicons := core.NewFaviconCache(database, bus)

		var engine *core.Engine
		if baseURL := viper.GetString("remote.base_url"); baseURL != "" {
			client := api.New(baseURL, viper.GetString("remote.token"))
			engine = core.NewEngine(database, client, bus, fetcher, favicons, core.EngineConfig{})

			interval := viper.GetDuration("sync.interval")
			if interval <= 0 {
				interval = 15 * time.Minute
			}
			go runSyncTicker(engine, interval)
		} else {
			log.Println("No remote.base_url configured; serving cached content only")
			engine = core.NewEngine(database, nil, bus, fetcher, favicons, core.EngineConfig{})
		}

		web.StartServer(viper.GetString("listen"), database, engine, fetcher, favicons)
	},
}

// runSyncTicker fires an immediate background sync on startup (the
// app-foreground trigger), then re-syncs on the configured interval.
// Background syncs never propagate errors.
func runSyncTicker(engine *core.Engine, interval time.Duration) {
	engine.BackgroundSync(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		engine.BackgroundSync(context.Background())
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("db", "d", "stashd.db", "Path to the SQLite database file")
	rootCmd.PersistentFlags().String("remote-url", "", "Base URL of the remote bookmark service")
	rootCmd.PersistentFlags().String("token", "", "Access token for the remote bookmark service")
	rootCmd.PersistentFlags().String("log-file", "", "Log file path (rotated); empty logs to stderr")
	rootCmd.Flags().String("listen", "localhost:8080", "Address to serve the reader UI on")
	rootCmd.Flags().Duration("interval", 15*time.Minute, "Background sync interval")

	must(viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db")))
	must(viper.BindPFlag("remote.base_url", rootCmd.PersistentFlags().Lookup("remote-url")))
	must(viper.BindPFlag("remote.token", rootCmd.PersistentFlags().Lookup("token")))
	must(viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file")))
	must(viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen")))
	must(viper.BindPFlag("sync.interval", rootCmd.Flags().Lookup("interval")))
}

func must(err error) {
	if err != nil {
		log.Fatalf("Failed to bind flag: %v", err)
	}
}

// initConfig reads a stashd.yaml from the working directory or
// ~/.config/stashd, plus STASHD_* environment variables. A missing
// config file is fine; flags and defaults cover everything.
func initConfig() {
	viper.SetConfigName("stashd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/stashd")
	}
	viper.SetEnvPrefix("STASHD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Failed to read config: %v", err)
		}
	}
}

// setupLogging routes logs through a rotating file when log.file is
// configured.
func setupLogging() {
	if logFile := viper.GetString("log.file"); logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		})
	}
}

func openDB() (*db.DB, error) {
	database, err := db.NewSQLiteDB(viper.GetString("db"))
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
