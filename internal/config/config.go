package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Zerofill ZerofillConfig `mapstructure:"zerofill"`
	Events   EventsConfig   `mapstructure:"events"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort     int           `mapstructure:"http_port"` // HTTP server port
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig selects and configures the repository backend
type StoreConfig struct {
	Backend        string `mapstructure:"backend"`          // memory, sqlite (default), postgres
	Path           string `mapstructure:"path"`             // SQLite database file
	DSN            string `mapstructure:"dsn"`              // PostgreSQL connection string
	MigrateOnStart bool   `mapstructure:"migrate_on_start"` // Apply schema migrations when the server starts
}

// CalendarConfig configures bucket boundaries
type CalendarConfig struct {
	Timezone       string `mapstructure:"timezone"`          // IANA name ("Asia/Tokyo") or offset ("+09:00")
	FirstDayOfWeek string `mapstructure:"first_day_of_week"` // monday (default) ... sunday
	CacheMaxMonths int    `mapstructure:"cache_max_months"`  // Bound of the month-start memo, 0 disables it
}

// EngineConfig configures the aggregation engine
type EngineConfig struct {
	MaxCascadeDepth int           `mapstructure:"max_cascade_depth"` // Longest dependency chain recomputed by one mutation
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`      // Upper bound on waiting for series locks
	Aligner         string        `mapstructure:"aligner"`           // step (default) or intersect
}

// ZerofillConfig configures the zerofill scheduler
type ZerofillConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"` // How often the clock is checked for an hour crossing
	Workers       int           `mapstructure:"workers"`        // Concurrent series per sweep
	MaxBuckets    int           `mapstructure:"max_buckets"`    // Upper bound of points inserted per series per sweep
}

// EventsConfig represents change-notification bus configuration
type EventsConfig struct {
	Type          string `mapstructure:"type"`           // none, memory (default), nats, redis, kafka
	URL           string `mapstructure:"url"`            // Server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username      string `mapstructure:"username"`       // Optional authentication
	Password      string `mapstructure:"password"`       // Optional authentication
	SubjectPrefix string `mapstructure:"subject_prefix"` // Events are published on <prefix>.<series_id>

	// Redis-specific options
	RedisDB       int    `mapstructure:"redis_db"`
	RedisStream   string `mapstructure:"redis_stream"`
	RedisGroup    string `mapstructure:"redis_group"`
	RedisConsumer string `mapstructure:"redis_consumer"`

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaGroupID string   `mapstructure:"kafka_group_id"`

	// Embedded NATS server, started in-process when enabled
	EmbeddedNATS    bool   `mapstructure:"embedded_nats"`
	EmbeddedNATSDir string `mapstructure:"embedded_nats_dir"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Zerofill.Validate(); err != nil {
		return fmt.Errorf("zerofill config: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates store configuration
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, sqlite, postgres")
	}
	return nil
}

// Validate validates calendar configuration
func (c *CalendarConfig) Validate() error {
	if _, err := ParseTimezone(c.Timezone); err != nil {
		return err
	}
	if _, err := ParseWeekday(c.FirstDayOfWeek); err != nil {
		return err
	}
	if c.CacheMaxMonths < 0 {
		return fmt.Errorf("calendar.cache_max_months must not be negative")
	}
	return nil
}

// Validate validates engine configuration
func (c *EngineConfig) Validate() error {
	if c.MaxCascadeDepth < 1 {
		return fmt.Errorf("engine.max_cascade_depth must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("engine.lock_timeout must be positive")
	}
	if c.Aligner != "step" && c.Aligner != "intersect" {
		return fmt.Errorf("engine.aligner must be 'step' or 'intersect'")
	}
	return nil
}

// Validate validates zerofill configuration
func (c *ZerofillConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("zerofill.check_interval must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("zerofill.workers must be at least 1")
	}
	if c.MaxBuckets < 1 {
		return fmt.Errorf("zerofill.max_buckets must be at least 1")
	}
	return nil
}

// Validate validates events configuration
func (c *EventsConfig) Validate() error {
	switch c.Type {
	case "none", "memory":
	case "nats":
		if c.URL == "" && !c.EmbeddedNATS {
			return fmt.Errorf("events.url is required for nats unless embedded_nats is set")
		}
	case "redis":
		if c.URL == "" {
			return fmt.Errorf("events.url is required for redis")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("events.kafka_brokers is required for kafka")
		}
	default:
		return fmt.Errorf("events.type must be one of: none, memory, nats, redis, kafka")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("events.subject_prefix is required")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
