package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rickgao/relaychat/internal/socketio"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("endpoints must not be empty")
	}
	for i, ep := range c.Endpoints {
		if _, err := socketio.ParseEndpoint(ep, ""); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
	}

	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.AttemptTimeout <= 0 {
		return errors.New("connection.attempt_timeout must be > 0")
	}
	if c.Connection.WatchdogTimeout <= 0 {
		return errors.New("connection.watchdog_timeout must be > 0")
	}
	if c.Connection.TransportReconnectAttempts < 0 {
		return errors.New("connection.transport_reconnect_attempts must be >= 0")
	}
	for _, tr := range c.Connection.Transports {
		if tr != socketio.TransportPolling && tr != socketio.TransportWebSocket {
			return fmt.Errorf("connection.transports: unknown transport %q", tr)
		}
	}
	if c.Connection.MaxRetryCycles < 0 {
		return errors.New("connection.max_retry_cycles must be >= 0")
	}

	if c.Messaging.DedupWindow < 1 {
		return errors.New("messaging.dedup_window must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL != "" {
		if _, err := url.Parse(db.URL); err != nil {
			return fmt.Errorf("%s.url: %w", prefix, err)
		}
		return nil
	}
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

// ParseLevel maps a level name onto slog. An empty name is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
}
