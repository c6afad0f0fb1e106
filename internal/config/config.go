package config

import "time"

// Config is the relaychat client configuration.
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Endpoints  []string         `yaml:"endpoints"`
	Connection ConnectionConfig `yaml:"connection"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ClientConfig is the identity announced at registration.
type ClientConfig struct {
	Username string         `yaml:"username"`
	Age      int            `yaml:"age"`
	Gender   string         `yaml:"gender"`
	Country  string         `yaml:"country"`
	Profile  map[string]any `yaml:"profile"` // Extra registration fields
}

// ConnectionConfig tunes the connection attempt sequencer.
type ConnectionConfig struct {
	MaxReconnectAttempts       int           `yaml:"max_reconnect_attempts"`
	AttemptTimeout             time.Duration `yaml:"attempt_timeout"`
	WatchdogTimeout            time.Duration `yaml:"watchdog_timeout"`
	ProbeTimeout               time.Duration `yaml:"probe_timeout"`
	ProbeEnabled               *bool         `yaml:"probe_enabled"`
	TransportReconnectAttempts int           `yaml:"transport_reconnect_attempts"`
	Transports                 []string      `yaml:"transports"`
	Path                       string        `yaml:"path"`
	RetryInterval              time.Duration `yaml:"retry_interval"`
	MaxRetryCycles             int           `yaml:"max_retry_cycles"` // 0 retries forever
}

// MessagingConfig tunes sending and receiving.
type MessagingConfig struct {
	TypingStopDelay     time.Duration `yaml:"typing_stop_delay"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
	DedupWindow         int           `yaml:"dedup_window"`
}

// ArchiveConfig controls the optional transcript archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	URL      string `yaml:"url"` // Full connection URL; overrides the fields below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// EnvOverrides are read from the environment after the file is loaded.
type EnvOverrides struct {
	ServerURL string `env:"RELAYCHAT_SERVER_URL"`
	LogLevel  string `env:"RELAYCHAT_LOG_LEVEL"`
	Username  string `env:"RELAYCHAT_USERNAME"`
	ArchiveDB string `env:"RELAYCHAT_ARCHIVE_URL"`
}
