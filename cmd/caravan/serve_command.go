package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"caravan/internal/batch"
	"caravan/internal/enrich"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/notifications"
	"caravan/internal/server"
	"caravan/internal/trigger"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion API server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx)
		},
	}
}

func runServe(cmd *cobra.Command, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// One instance per data directory.
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another caravan instance already holds %s", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	notifier := notifications.NewService(cfg)
	scheduler := trigger.NewScheduler(cfg)
	enricher := enrich.NewClient(cfg.Enrichment)
	processor := batch.NewProcessor(cfg, store, enricher, notifier, logger)
	control := jobctl.NewController(cfg, store, scheduler, notifier, logger)

	srv, err := server.New(cfg, store, processor, control, notifier, scheduler, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(signalCtx); err != nil {
		return err
	}
	defer srv.Stop()

	logger.Info("caravan serving",
		logging.String("address", srv.Addr()),
		logging.String(logging.FieldPhase, cfg.Pipeline.Phase),
		logging.String("database", store.Path()),
	)

	<-signalCtx.Done()
	logger.Info("caravan shutting down")
	return nil
}
