package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/R3duxLabs/EchoMind-Backend/internal/auth"
	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
	"github.com/R3duxLabs/EchoMind-Backend/internal/bus"
	"github.com/R3duxLabs/EchoMind-Backend/internal/config"
	"github.com/R3duxLabs/EchoMind-Backend/internal/database"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
	"github.com/R3duxLabs/EchoMind-Backend/internal/memory"
	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
	"github.com/R3duxLabs/EchoMind-Backend/internal/presence"
	"github.com/R3duxLabs/EchoMind-Backend/internal/server"
	"github.com/R3duxLabs/EchoMind-Backend/internal/stream"
	"github.com/R3duxLabs/EchoMind-Backend/internal/telemetry"
	"github.com/R3duxLabs/EchoMind-Backend/internal/version"
)

const statsInterval = time.Minute

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event and batch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(cfg.Log, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/echomind.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger.Info("starting echomind",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", instanceID,
	)

	tracer, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version.Version,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	var m *metrics.Metrics
	if !cfg.Metrics.Disabled {
		m = metrics.New()
	}

	busOpts := []bus.Option{bus.WithMetrics(m)}
	if cfg.Redis.Enabled {
		p, err := presence.NewRedisPresence(presence.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.PresenceTTL,
			Instance: instanceID,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect presence store: %w", err)
		}
		defer p.Close()
		busOpts = append(busOpts, bus.WithPresence(p))
		logger.Info("presence store connected", "addr", cfg.Redis.Addr)
	}
	b := bus.New(logger, busOpts...)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	processor := batch.NewProcessor(logger,
		batch.WithMetrics(m),
		batch.WithMaxOperations(cfg.Batch.MaxOperations),
	)
	if err := memory.NewOperations(store, b, logger).Register(processor); err != nil {
		return fmt.Errorf("register memory operations: %w", err)
	}
	logger.Info("batch operations registered", "types", processor.Types())

	gateway := stream.NewGateway(stream.Config{
		SendBuffer:     cfg.Stream.SendBuffer,
		MaxSendBuffer:  cfg.Stream.MaxSendBuffer,
		IdleTimeout:    cfg.Stream.IdleTimeout,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		MaxMessageSize: cfg.Stream.MaxMessageSize,
		AllowedOrigins: cfg.Stream.AllowedOrigins,
	}, b, logger, stream.WithMetrics(m), stream.WithInboundHandler(logInbound(logger)))

	keys, err := loadKeys(cfg.Auth)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	if keys == nil {
		logger.Warn("authentication disabled")
	}

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.Disabled {
		metricsPath = ""
	}
	srv, err := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MetricsPath:       metricsPath,
		RateLimit:         cfg.Batch.RateLimit,
		RateWindow:        cfg.Batch.RateWindow,
	}, server.Deps{
		Bus:       b,
		Gateway:   gateway,
		Processor: processor,
		Storage:   store,
		Keys:      keys,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		logStats(gctx, b, gateway, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("echomind stopped")
	return nil
}

// loadKeys merges inline and file keys. It returns nil when authentication
// is disabled.
func loadKeys(cfg config.AuthConfig) (*auth.Keys, error) {
	if cfg.Disabled {
		return nil, nil
	}
	keys := append([]string(nil), cfg.APIKeys...)
	if cfg.KeyFile != "" {
		fileKeys, err := auth.ReadKeyFile(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fileKeys...)
	}
	return auth.NewKeys(keys...)
}

// openStore returns the configured memory store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (memory.Store, func(), error) {
	if cfg.Storage.Driver != "postgres" {
		logger.Info("using in-memory store")
		return memory.NewMemoryStore(), func() {}, nil
	}

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")
	return memory.NewPostgresStore(pool), pool.Close, nil
}

// logInbound records client events that have no server-side consumer.
func logInbound(logger *slog.Logger) stream.InboundHandler {
	return func(_ context.Context, s *stream.Session, env event.Envelope) {
		logger.Debug("client event",
			"session_id", s.ID(),
			"identity", s.Identity(),
			"type", env.Type,
			"fields", len(env.Payload),
			"backlog", s.Backlog(),
		)
	}
}

func logStats(ctx context.Context, b *bus.Bus, g *stream.Gateway, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			logger.Info("stream stats",
				"identities", stats.Identities,
				"sessions", g.SessionCount(),
				"published", stats.Published,
				"delivered", stats.Delivered,
				"delivery_failures", stats.DeliveryFailures,
			)
		}
	}
}
