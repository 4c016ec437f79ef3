package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/api"
	"github.com/inkfeed/inkfeed/internal/api/handlers"
	"github.com/inkfeed/inkfeed/internal/archive"
	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/db"
	"github.com/inkfeed/inkfeed/internal/logging"
	"github.com/inkfeed/inkfeed/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the spooler service",
	Long: `Start the HTTP API and the print queue worker. Pending jobs left over
from a previous run are replayed once a printer endpoint is available.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Settings changed through the API win over the config file.
	handlers.LoadPersistedPrinterConfig(context.Background(), cfg)

	hub := api.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	sender := webhook.NewSender(webhook.Config{}, logger)
	sender.Start()
	defer sender.Stop()

	archiver, err := archive.NewArchiver(archive.Config{
		ArchivePath: filepath.Join(filepath.Dir(cfg.Database.Path), "archives"),
		SpoolDir:    cfg.Database.SpoolDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize archiver: %w", err)
	}
	archiver.Start()
	defer archiver.Stop()

	orchestrator := core.NewOrchestrator(cfg, logger, core.CombineNotifiers(hub, sender), nil)
	if err := orchestrator.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer orchestrator.Stop()

	server, err := api.NewServer(cfg.Server, logger, orchestrator, hub)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown did not complete cleanly", zap.Error(err))
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if path := os.Getenv("INKFEED_CONFIG"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("inkfeed.yaml"); err == nil {
		return config.Load("inkfeed.yaml")
	}
	return config.LoadFromEnv(), nil
}
