package config

import "time"

// Database drivers understood by the app wiring.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogConsole        bool          `mapstructure:"log_console" yaml:"log_console"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ProtocolVersion   int           `mapstructure:"protocol_version" yaml:"protocol_version"`

	DatabaseDriver string `mapstructure:"database_driver" yaml:"database_driver"`
	DatabasePath   string `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`

	// RedisURL enables the cross-process notification bus. Empty keeps delivery in-process.
	RedisURL     string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	PersistDebounce  time.Duration `mapstructure:"persist_debounce" yaml:"persist_debounce"`
	ActivityDebounce time.Duration `mapstructure:"activity_debounce" yaml:"activity_debounce"`
	StorageTimeout   time.Duration `mapstructure:"storage_timeout" yaml:"storage_timeout"`
	CursorRate       float64       `mapstructure:"cursor_rate" yaml:"cursor_rate"`
	PersistWorkers   int           `mapstructure:"persist_workers" yaml:"persist_workers"`
	// PersistQueueSize is the per-lane backlog that triggers a warning.
	PersistQueueSize int           `mapstructure:"persist_queue_size" yaml:"persist_queue_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogConsole:        true,
		MaxMessageBytes:   1 << 20,
		ProtocolVersion:   1,
		DatabaseDriver:    DriverSQLite,
		DatabasePath:      "collabboard.db",
		RedisChannel:      "collabboard:notify",
		JWTSecret:         "change-me",
		JWTIssuer:         "collabboard",
		JWTAudience:       "collabboard",
		TokenTTL:          24 * time.Hour,
		PersistDebounce:   500 * time.Millisecond,
		ActivityDebounce:  2 * time.Second,
		StorageTimeout:    5 * time.Second,
		CursorRate:        60,
		PersistWorkers:    4,
		PersistQueueSize:  1024,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Used to apply command-line overrides on top of the loaded file.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabaseDriver != "" {
		c.DatabaseDriver = other.DatabaseDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.DatabaseURL != "" {
		c.DatabaseURL = other.DatabaseURL
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}
