package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEndpoint                   = "http://localhost:3000"
	DefaultMaxReconnectAttempts       = 7
	DefaultAttemptTimeout             = 15 * time.Second
	DefaultWatchdogTimeout            = 15 * time.Second
	DefaultProbeTimeout               = 5 * time.Second
	DefaultTransportReconnectAttempts = 3
	DefaultSocketPath                 = "/socket.io/"
	DefaultRetryInterval              = 10 * time.Second
	DefaultTypingStopDelay            = 5 * time.Second
	DefaultRegistrationTimeout        = 15 * time.Second
	DefaultDedupWindow                = 1024
	DefaultDBPort                     = 5432
	DefaultDBSSLMode                  = "prefer"
	DefaultMaxConns                   = 4
	DefaultMinConns                   = 1
	DefaultBatchSize                  = 100
	DefaultFlushInterval              = 1 * time.Second
	DefaultBufferSize                 = 1000
	DefaultMetricsPort                = 9090
	DefaultMetricsPath                = "/metrics"
	DefaultLogLevel                   = "info"
)

// DefaultTransports is the transport order tried by each attempt.
var DefaultTransports = []string{"polling", "websocket"}

func (c *Config) applyDefaults() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{DefaultEndpoint}
	}

	// Connection defaults
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.AttemptTimeout == 0 {
		c.Connection.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Connection.WatchdogTimeout == 0 {
		c.Connection.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if c.Connection.ProbeTimeout == 0 {
		c.Connection.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Connection.ProbeEnabled == nil {
		enabled := true
		c.Connection.ProbeEnabled = &enabled
	}
	if c.Connection.TransportReconnectAttempts == 0 {
		c.Connection.TransportReconnectAttempts = DefaultTransportReconnectAttempts
	}
	if len(c.Connection.Transports) == 0 {
		c.Connection.Transports = append([]string(nil), DefaultTransports...)
	}
	if c.Connection.Path == "" {
		c.Connection.Path = DefaultSocketPath
	}
	if c.Connection.RetryInterval == 0 {
		c.Connection.RetryInterval = DefaultRetryInterval
	}

	// Messaging defaults
	if c.Messaging.TypingStopDelay == 0 {
		c.Messaging.TypingStopDelay = DefaultTypingStopDelay
	}
	if c.Messaging.RegistrationTimeout == 0 {
		c.Messaging.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if c.Messaging.DedupWindow == 0 {
		c.Messaging.DedupWindow = DefaultDedupWindow
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
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
