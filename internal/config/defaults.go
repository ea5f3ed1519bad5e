package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr           = ":8080"
	DefaultReadHeaderTimeout    = 10 * time.Second
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultIdleTimeout          = 90 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultSendBuffer           = 64
	DefaultMaxSendBuffer        = 1024
	DefaultMaxMessageSize       = 1 << 20
	DefaultClientURL            = "ws://localhost:8080/ws"
	DefaultClientKind           = "cli"
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 10 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultBatchMaxOperations   = 100
	DefaultBatchRateLimit       = 100
	DefaultBatchRateWindow      = time.Minute
	DefaultStorageDriver        = "memory"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultPresenceTTL          = 3 * time.Minute
	DefaultMetricsPath          = "/metrics"
	DefaultServiceName          = "echomind"
	DefaultSampleRate           = 1.0
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Stream defaults
	if c.Stream.IdleTimeout == 0 {
		c.Stream.IdleTimeout = DefaultIdleTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.SendBuffer == 0 {
		c.Stream.SendBuffer = DefaultSendBuffer
	}
	if c.Stream.MaxSendBuffer == 0 {
		c.Stream.MaxSendBuffer = DefaultMaxSendBuffer
	}
	if c.Stream.MaxMessageSize == 0 {
		c.Stream.MaxMessageSize = DefaultMaxMessageSize
	}

	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultClientURL
	}
	if c.Client.ClientKind == "" {
		c.Client.ClientKind = DefaultClientKind
	}
	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Client.ReconnectBaseDelay == 0 {
		c.Client.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Client.DialTimeout == 0 {
		c.Client.DialTimeout = DefaultDialTimeout
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = DefaultRequestTimeout
	}
	if c.Client.MaxRetries == 0 {
		c.Client.MaxRetries = DefaultMaxRetries
	}

	// Batch defaults
	if c.Batch.MaxOperations == 0 {
		c.Batch.MaxOperations = DefaultBatchMaxOperations
	}
	if c.Batch.RateLimit == 0 {
		c.Batch.RateLimit = DefaultBatchRateLimit
	}
	if c.Batch.RateWindow == 0 {
		c.Batch.RateWindow = DefaultBatchRateWindow
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	applyDBDefaults(&c.Database)

	// Redis defaults
	if c.Redis.PresenceTTL == 0 {
		c.Redis.PresenceTTL = DefaultPresenceTTL
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Tracing defaults
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = DefaultSampleRate
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
