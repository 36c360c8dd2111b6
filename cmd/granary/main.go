package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/granary/pkg/api"
	"github.com/cuemby/granary/pkg/auth"
	"github.com/cuemby/granary/pkg/blob"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/docs"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/health"
	"github.com/cuemby/granary/pkg/index"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/registry"
	"github.com/cuemby/granary/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "granary",
	Short: "Granary - Private Cargo-compatible package registry",
	Long: `Granary is a private package registry speaking the public Cargo
registry protocol: publishes land in an S3-compatible object store with a
git-backed index, guarded by OAuth sessions and capability-scoped API
tokens, all delivered as a single binary.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Granary version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry server",
	Long: `Run the registry server configured from REGISTRY_* environment
variables (see the project documentation for the full list). The server
maintains the git index working tree and the metadata database under
REGISTRY_DATA_DIR and serves the cargo API on the configured address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: os.Getenv("REGISTRY_LOG_JSON") != "",
			TimeFormat: cfg.LogDateTimeFormat,
		})
		metrics.SetVersion(Version)

		// Critical components gate readiness; each reports in once it is up.
		metrics.RegisterComponent("storage", true)
		metrics.RegisterComponent("index", true)
		metrics.RegisterComponent("api", true)
		metrics.RegisterComponent("docs", false)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %v", err)
		}

		// Metadata store
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			metrics.UpdateComponent("storage", false, err.Error())
			return fmt.Errorf("failed to open metadata store: %v", err)
		}
		defer store.Close()
		metrics.UpdateComponent("storage", true, "")

		// Index repository
		idx, err := index.Open(cfg.Index)
		if err != nil {
			metrics.UpdateComponent("index", false, err.Error())
			return fmt.Errorf("failed to open index repository: %v", err)
		}
		metrics.UpdateComponent("index", true, "")

		// Blob store client
		blobs, err := blob.NewClient(cfg.S3)
		if err != nil {
			return fmt.Errorf("failed to create blob store client: %v", err)
		}

		// Inject the self-service and external registry credentials for the
		// internal builder before anything tries to use them.
		if err := cfg.WriteAuthConfig(); err != nil {
			return fmt.Errorf("failed to write auth configuration: %v", err)
		}

		// Event broker
		broker := events.NewBroker()
		defer broker.Close()

		// Auth service and registry core
		authService := auth.NewService(cfg, store, broker)
		core := registry.New(store, idx, blobs, broker, cfg.Index.RemotePushChanges)

		// Docs worker
		docsWorker := docs.NewWorker(store, blobs, broker, nil)
		docsWorker.Start()
		defer docsWorker.Stop()
		metrics.UpdateComponent("docs", true, "")

		// Metrics collector and upstream health probes
		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()
		monitor := health.NewMonitor(cfg)
		monitor.Start()
		defer monitor.Stop()

		// Serve until interrupted
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("shutting down")
			cancel()
		}()

		server := api.NewServer(cfg, core, authService)
		return server.Serve(ctx)
	},
}
