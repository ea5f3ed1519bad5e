// Command echomind runs the real-time event server and its client tools.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3duxLabs/EchoMind-Backend/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "echomind",
		Short: "Real-time event channel and batch operation server",
		Long: `echomind pushes live events to connected subscribers over WebSocket
and executes batches of operations over HTTP.

  serve    run the server
  listen   tail live events for a subscriber identity
  batch    submit a batch of operations from a JSON file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		listenCmd(),
		batchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the root logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadClientConfig reads path when given, otherwise returns defaults. Client
// commands skip server validation.
func loadClientConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadWithDefaults(path)
}
