package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	if !c.Auth.Disabled && len(c.Auth.APIKeys) == 0 && c.Auth.KeyFile == "" {
		return errors.New("auth.api_keys or auth.key_file is required unless auth.disabled is true")
	}
	for i, key := range c.Auth.APIKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("auth.api_keys[%d] is empty", i)
		}
	}

	if c.Stream.IdleTimeout <= 0 {
		return errors.New("stream.idle_timeout must be > 0")
	}
	if c.Stream.SendBuffer < 1 {
		return errors.New("stream.send_buffer must be >= 1")
	}
	if c.Stream.MaxSendBuffer < c.Stream.SendBuffer {
		return fmt.Errorf("stream.max_send_buffer (%d) cannot be less than send_buffer (%d)",
			c.Stream.MaxSendBuffer, c.Stream.SendBuffer)
	}

	if c.Client.HeartbeatInterval <= 0 {
		return errors.New("client.heartbeat_interval must be > 0")
	}
	if c.Client.ReconnectBaseDelay <= 0 {
		return errors.New("client.reconnect_base_delay must be > 0")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return errors.New("client.max_reconnect_attempts must be >= 0")
	}

	if c.Batch.MaxOperations < 1 {
		return errors.New("batch.max_operations must be >= 1")
	}
	if c.Batch.RateLimit < 0 {
		return errors.New("batch.rate_limit must be >= 0")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis.enabled is true")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required when tracing.enabled is true")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
