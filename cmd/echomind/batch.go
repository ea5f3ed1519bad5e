package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3duxLabs/EchoMind-Backend/internal/api"
	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
)

func batchCmd() *cobra.Command {
	var (
		configPath string
		baseURL    string
		apiKey     string
		identity   string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit a batch of operations",
		Long: `Submit operations from a JSON file to the batch endpoint and print the
result. The file holds either {"operations": [...]} or a bare array of
{"type": ..., "data": {...}} objects. Use --file - to read stdin.

The command exits non-zero when any operation failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("api-key") || cfg.Client.APIKey == "" {
				cfg.Client.APIKey = apiKey
			}
			if !cmd.Flags().Changed("url") && cfg.Client.URL != "" {
				baseURL = httpBase(cfg.Client.URL)
			}

			ops, err := readOperations(file)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, os.Stderr)
			client := api.NewClient(baseURL, cfg.Client.APIKey,
				api.WithLogger(logger),
				api.WithTimeout(cfg.Client.RequestTimeout),
				api.WithRetries(cfg.Client.MaxRetries, cfg.Client.ReconnectBaseDelay),
			)

			result, err := client.Batch(cmd.Context(), identity, ops)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.ErrorCount > 0 {
				return fmt.Errorf("%d of %d operations failed", result.ErrorCount, len(result.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "optional config file (client section)")
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("ECHOMIND_API_KEY"), "API key")
	cmd.Flags().StringVar(&identity, "identity", "", "subscriber identity sent as X-Subscriber-ID")
	cmd.Flags().StringVarP(&file, "file", "f", "", "operations JSON file, - for stdin")
	cmd.MarkFlagRequired("file")
	return cmd
}

// readOperations accepts a batch request object or a bare operations array.
func readOperations(path string) ([]batch.Operation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var ops []batch.Operation
		if err := json.Unmarshal(data, &ops); err != nil {
			return nil, fmt.Errorf("parse operations: %w", err)
		}
		return ops, nil
	}

	var req batch.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse operations: %w", err)
	}
	if req.Operations == nil {
		return nil, batch.ErrNoOperations
	}
	return req.Operations, nil
}

// httpBase turns a stream URL such as ws://host:8080/ws into the server
// base URL http://host:8080.
func httpBase(streamURL string) string {
	u := strings.TrimSuffix(streamURL, "/ws")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}
