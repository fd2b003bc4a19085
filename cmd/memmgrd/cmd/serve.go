package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bundy-dns/memmgrd/internal/memmgr"
	"github.com/bundy-dns/memmgrd/internal/memmgrerrors"
	"github.com/bundy-dns/memmgrd/internal/slogutil"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memmgrd coordinator",
		Long:  `Start the memmgrd memory-manager coordinator using configuration from a YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()

	cfg, err := memmgr.LoadConfig(fs, configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger, leveler := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting memmgrd",
		"mapped_file_dir", cfg.MappedFileDir,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File)

	configManager := memmgr.NewManager(cfg, configFile, fs, logger)
	configManager.OnConfigChange(func(old, next *memmgr.Config) {
		logger.Info("configuration updated", "mapped_file_dir", next.MappedFileDir)
		if next.Log.Level != old.Log.Level {
			leveler.SetLevel(slogutil.ParseLevel(next.Log.Level))
			logger.Info("log level updated", "log_level", next.Log.Level)
		}
	})

	bus := memmgr.NewLocalBus()
	channel := memmgr.NewBuilderChannel()
	datasrcMgr := memmgr.NewReferenceDataSrcClientsManager()
	loader := memmgr.NewNullZoneLoader(fs)
	builder := memmgr.NewReferenceBuilder(loader, cfg.MappedFileDir, nil)
	worker := memmgr.NewBuilderWorker(channel, builder, logger)

	coordinator := memmgr.NewCoordinator(configManager.GetConfigGetter(), bus, channel, datasrcMgr, nil, fs, logger)

	// Route memmgrd's synchronous module command surface through the bus:
	// a real bus adapter would deliver these off the wire from whatever
	// cluster module sends them (xfrin/ddns for loadzone, readers for the
	// two acks); LocalBus gives them a concrete dispatch point via Command.
	for _, name := range []string{"loadzone", "segment_info_update_ack", "release_segments_ack"} {
		name := name
		bus.RegisterCommand(name, func(args map[string]any) (int, string) {
			return coordinator.HandleModCommand(name, args)
		})
	}

	// Seed the bus's data_sources remote config with an empty snapshot so
	// Start's subscription has something to receive; a real bus adapter
	// would already have this available from the cluster configuration
	// store.
	bus.RegisterRPC("get_module_clients", func(group string, params map[string]any) ([]any, error) {
		return nil, nil
	})
	if err := bus.PublishRemoteConfig("data_sources", map[string]any{"classes": map[string]any{}}); err != nil {
		logger.Error("failed to publish initial data source configuration", "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		logger.Error("startup failed", "err", err)
		if memmgrerrors.IsFatalStartup(err) {
			os.Exit(1)
		}
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	go coordinator.Run(ctx)

	logger.Info("memmgrd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	if err := coordinator.Shutdown(context.Background(), workerDone); err != nil {
		logger.Error("shutdown error", "err", err)
		return err
	}

	logger.Info("memmgrd stopped")
	return nil
}
