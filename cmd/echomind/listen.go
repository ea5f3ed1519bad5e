package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3duxLabs/EchoMind-Backend/internal/connection"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
	"github.com/R3duxLabs/EchoMind-Backend/internal/version"
)

func listenCmd() *cobra.Command {
	var (
		configPath string
		url        string
		apiKey     string
		identity   string
		types      []string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print live events for a subscriber identity",
		Long: `Connect to the stream endpoint as a subscriber and print every event
as one JSON line. The connection is kept alive with heartbeats and
re-established with exponential backoff after unexpected closes.

Examples:
  echomind listen --identity user-42 --api-key $ECHOMIND_API_KEY
  echomind listen --identity user-42 --type memory_update --type notification`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("url") || cfg.Client.URL == "" {
				cfg.Client.URL = url
			}
			if cmd.Flags().Changed("api-key") {
				cfg.Client.APIKey = apiKey
			}

			logger := newLogger(cfg.Log, os.Stderr)

			sessCfg := connection.DefaultSessionConfig()
			sessCfg.URL = cfg.Client.URL
			sessCfg.APIKey = cfg.Client.APIKey
			sessCfg.ClientKind = cfg.Client.ClientKind
			sessCfg.HeartbeatInterval = cfg.Client.HeartbeatInterval
			sessCfg.ReconnectBaseDelay = cfg.Client.ReconnectBaseDelay
			sessCfg.MaxReconnectAttempts = cfg.Client.MaxReconnectAttempts
			sessCfg.DialTimeout = cfg.Client.DialTimeout

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("listening", "url", sessCfg.URL, "identity", identity, "client", version.UserAgent())
			return listen(ctx, connection.NewSession(sessCfg, logger), identity, types, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "optional config file (client section)")
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "stream endpoint")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("ECHOMIND_API_KEY"), "API key")
	cmd.Flags().StringVar(&identity, "identity", "", "subscriber identity")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only print these event types (repeatable)")
	cmd.MarkFlagRequired("identity")
	return cmd
}

// listenBacklog is the number of encoded events waiting for out. Events
// arriving while it is full are dropped and counted.
const listenBacklog = 64

// listen prints events until ctx is done or the session gives up
// reconnecting.
func listen(ctx context.Context, sess *connection.Session, identity string, types []string, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var dropped atomic.Int64
	defer func() {
		if n := dropped.Load(); n > 0 {
			logger.Warn("events dropped while output was blocked", "count", n)
		}
	}()

	lines := make(chan []byte, listenBacklog)
	emit := func(env event.Envelope) error {
		data, err := event.Encode(env)
		if err != nil {
			return err
		}
		select {
		case lines <- data:
		default:
			if n := dropped.Add(1); n == 1 || n%100 == 0 {
				logger.Warn("output backlog full, dropping event", "type", env.Type, "dropped", n)
			}
		}
		return nil
	}

	if len(types) == 0 {
		types = []string{connection.AnyEvent}
	}
	for _, t := range types {
		sub := sess.Subscribe(t, emit)
		logger.Debug("subscribed", "type", sub.EventType())
	}

	if err := sess.Connect(ctx, identity); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	// A disconnected session that is not reconnecting has given up.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if st := sess.Stats(); st.State == connection.StateDisconnected && !st.Reconnecting {
				return errors.New("connection lost")
			}
		case line := <-lines:
			fmt.Fprintln(out, string(line))
		}
	}
}
