package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/road-telemetry/roadwatch/internal/agent"
	"github.com/road-telemetry/roadwatch/internal/api"
	"github.com/road-telemetry/roadwatch/internal/audit"
	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/config"
	"github.com/road-telemetry/roadwatch/internal/ingest"
	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/store"
	"github.com/road-telemetry/roadwatch/internal/store/memory"
	"github.com/road-telemetry/roadwatch/internal/store/postgres"
	"github.com/road-telemetry/roadwatch/internal/store/sqlite"
	"github.com/road-telemetry/roadwatch/internal/telemetry"
	"github.com/road-telemetry/roadwatch/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

var (
	serveAddr  string
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and subscription channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if serveStore != "" {
			cfg.Store.Driver = serveStore
			if err := config.Validate(cfg); err != nil {
				return err
			}
		}

		logger := newLogger(cfg.Log, cmd.ErrOrStderr())
		slog.SetDefault(logger)
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "store driver: memory, sqlite or postgres (overrides store.driver)")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting roadwatch", "version", version)

	// Step 1: tracing
	tp, err := tracing.New(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, cfg.Tracing.Insecure)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	tp.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()
	logger.Info("tracing initialized", "exporting", cfg.Tracing.Endpoint != "")

	// Step 2: record store
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("error closing store", "error", err)
		}
	}()
	logger.Info("record store opened", "driver", cfg.Store.Driver)

	// Step 3: metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	// Step 4: agent directory
	directory := agent.NewDirectory()
	if err := directory.Load(ctx, st); err != nil {
		return err
	}
	logger.Info("agent directory loaded", "agents", len(directory.List(nil).Items))

	// Step 5: telemetry hub
	hub := telemetry.NewHub(cfg.Stream, telemetry.WithLogger(logger), telemetry.WithMetrics(m))
	defer hub.Stop()
	logger.Info("telemetry hub initialized",
		"queue_size", cfg.Stream.QueueSize,
		"buffer_size", cfg.Stream.BufferSize)

	// Step 6: ingest service
	ingestOpts := []ingest.Option{
		ingest.WithObserver(directory),
		ingest.WithMetrics(m),
		ingest.WithTracer(tp.Tracer("github.com/road-telemetry/roadwatch/internal/ingest")),
		ingest.WithLogger(logger),
	}
	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		defer func() {
			if err := auditLogger.Close(); err != nil {
				logger.Warn("error closing audit logger", "error", err)
			}
		}()
		ingestOpts = append(ingestOpts, ingest.WithAudit(auditLogger))
		logger.Info("audit logger initialized", "path", auditLogger.Path())
	}
	svc := ingest.NewService(st, hub, cfg.Ingest, ingestOpts...)

	// Step 7: API server
	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithVersion(version),
		api.WithWebSocketOptions(telemetry.WebSocketOptions{
			OriginPatterns:  cfg.Stream.OriginPatterns,
			MaxMessageBytes: cfg.Stream.MaxMessageBytes,
		}),
	}
	if m != nil {
		apiOpts = append(apiOpts, api.WithMetrics(cfg.Metrics.Path, m.Handler()))
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm:    cfg.Auth.Algorithm,
			SecretKey:    cfg.Auth.SecretKey,
			PublicKeyPEM: cfg.Auth.PublicKeyPEM,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize auth: %w", err)
		}
		apiOpts = append(apiOpts, api.WithAuth(auth.NewMiddleware(verifier)))
		logger.Info("auth enabled", "algorithm", cfg.Auth.Algorithm)
	}
	server := api.NewServer(svc, hub, directory, cfg.Server, apiOpts...)
	server.OnShutdown(hub.Stop)

	// Step 8: run until a signal or a server error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return server.Stop(context.WithoutCancel(gctx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("roadwatch stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; records are lost on exit")
		return memory.New(), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:         cfg.PostgresDSN,
			AutoMigrate: cfg.AutoMigrate,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
