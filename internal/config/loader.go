package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")            // Current directory
		v.AddConfigPath("./configs")    // Project configs directory
		v.AddConfigPath("/etc/lifelog") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides (LIFELOG_STORE_BACKEND, ...)
	v.SetEnvPrefix("LIFELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	// Store defaults
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.migrate_on_start", d.Store.MigrateOnStart)

	// Calendar defaults
	v.SetDefault("calendar.timezone", d.Calendar.Timezone)
	v.SetDefault("calendar.first_day_of_week", d.Calendar.FirstDayOfWeek)
	v.SetDefault("calendar.cache_max_months", d.Calendar.CacheMaxMonths)

	// Engine defaults
	v.SetDefault("engine.max_cascade_depth", d.Engine.MaxCascadeDepth)
	v.SetDefault("engine.lock_timeout", d.Engine.LockTimeout)
	v.SetDefault("engine.aligner", d.Engine.Aligner)

	// Zerofill defaults
	v.SetDefault("zerofill.enabled", d.Zerofill.Enabled)
	v.SetDefault("zerofill.check_interval", d.Zerofill.CheckInterval)
	v.SetDefault("zerofill.workers", d.Zerofill.Workers)
	v.SetDefault("zerofill.max_buckets", d.Zerofill.MaxBuckets)

	// Events defaults
	v.SetDefault("events.type", d.Events.Type)
	v.SetDefault("events.url", d.Events.URL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("events.redis_stream", d.Events.RedisStream)
	v.SetDefault("events.redis_group", d.Events.RedisGroup)
	v.SetDefault("events.kafka_group_id", d.Events.KafkaGroupID)
	v.SetDefault("events.embedded_nats", d.Events.EmbeddedNATS)
	v.SetDefault("events.embedded_nats_dir", d.Events.EmbeddedNATSDir)

	// Auth defaults
	v.SetDefault("auth.enabled", d.Auth.Enabled)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			HTTPPort:     5580,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:        "sqlite",
			Path:           "./data/lifelog.db",
			MigrateOnStart: true,
		},
		Calendar: CalendarConfig{
			Timezone:       "UTC",
			FirstDayOfWeek: "monday",
			CacheMaxMonths: 2400,
		},
		Engine: EngineConfig{
			MaxCascadeDepth: 32,
			LockTimeout:     10 * time.Second,
			Aligner:         "step",
		},
		Zerofill: ZerofillConfig{
			Enabled:       true,
			CheckInterval: time.Minute,
			Workers:       4,
			MaxBuckets:    10000,
		},
		Events: EventsConfig{
			Type:            "memory",
			SubjectPrefix:   "lifelog.changes",
			RedisStream:     "lifelog",
			RedisGroup:      "lifelog-group",
			KafkaGroupID:    "lifelog-group",
			EmbeddedNATSDir: "./data/nats",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
