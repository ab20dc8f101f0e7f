package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/catalog"
	"github.com/fyrsmithlabs/factord/internal/config"
	"github.com/fyrsmithlabs/factord/internal/engine"
	"github.com/fyrsmithlabs/factord/internal/events"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/logging"
	"github.com/fyrsmithlabs/factord/internal/scope"
	"github.com/fyrsmithlabs/factord/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the factord daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return runServe(ctx)
		},
	}
}

// runServe wires the full daemon: config, logger, storage, engine, events
// and the HTTP server, then blocks until the context is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded",
		zap.String("path", cfg.Catalog.Path),
		zap.Int("factors", cat.Len()))

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := scope.NewRegistry(cfg.Storage.RegistryPath)
	if err != nil {
		return err
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.Events.URL, logger.Named("events"))
		if err != nil {
			return fmt.Errorf("failed to set up event publishing: %w", err)
		}
		defer natsPub.Close()
		pub = natsPub
		logger.Info("event publishing enabled", zap.String("url", cfg.Events.URL))
	}

	svc, err := engine.NewService(cat, store, registry, pub, logger.Named("engine"), engine.Options{
		Dampening:    cfg.Engine.Dampening,
		Aggregation:  cfg.EvidenceConfig(),
		Relationship: cfg.RelationshipConfig(),
		Deferred:     !cfg.Engine.Synchronous,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, svc, logger.Named("server"))

	logger.Info("factord starting", zap.String("addr", cfg.Server.Addr))
	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Info("factord shutdown complete")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

// openStore builds the configured instance store and returns it with a
// close function.
func openStore(cfg config.StorageConfig, logger *zap.Logger) (factorbank.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory storage, data will not survive restarts")
		return factorbank.NewMemoryStore(), func() {}, nil
	case "badger":
		store, err := factorbank.NewBadgerStore(factorbank.BadgerOptions{
			DataDir:    cfg.DataDir,
			SyncWrites: cfg.SyncWrites,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("storage close failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
