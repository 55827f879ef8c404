// Package config provides configuration management for Arbor.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Arbor.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectStore"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Packages    PackagesConfig    `mapstructure:"packages"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds relational database configuration.
// Driver "sqlite" uses Path; driver "postgres" uses the DSN fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// RedisConfig holds the shared cache / pub-sub bus configuration.
// An empty URL selects the in-memory bus and disables the session cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig holds broker queue configuration.
// An empty URL selects the in-process queue.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ObjectStoreConfig holds S3-compatible object store configuration.
type ObjectStoreConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	AgentsBucket    string `mapstructure:"agentsBucket"`
	StorageBucket   string `mapstructure:"storageBucket"`
	UsePathStyle    bool   `mapstructure:"usePathStyle"`
}

// SecretsConfig holds the secret store configuration.
type SecretsConfig struct {
	// Dir is where the master encryption key lives (default: ~/.arbor).
	Dir string `mapstructure:"dir"`
}

// LLMConfig holds LLM gateway configuration.
type LLMConfig struct {
	RequestTimeout   int `mapstructure:"requestTimeout"` // in seconds
	DefaultMaxTokens int `mapstructure:"defaultMaxTokens"`
}

// WorkerConfig holds job worker configuration.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	JobTimeout  int `mapstructure:"jobTimeout"` // in seconds, 0 = no deadline
}

// PackagesConfig holds agent package directories.
type PackagesConfig struct {
	AgentsDir string `mapstructure:"agentsDir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the LLM request timeout as a time.Duration.
func (l *LLMConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(l.RequestTimeout) * time.Second
}

// JobTimeoutDuration returns the job timeout as a time.Duration.
func (w *WorkerConfig) JobTimeoutDuration() time.Duration {
	return time.Duration(w.JobTimeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ARBOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file in the working directory
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./arbor.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arbor")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "arbor")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// Redis defaults - empty URL means in-memory bus, no session cache
	v.SetDefault("redis.url", "")

	// NATS defaults - empty URL means in-process job queue
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "arbor")
	v.SetDefault("nats.maxReconnects", 10)

	// Object store defaults
	v.SetDefault("objectStore.endpoint", "")
	v.SetDefault("objectStore.region", "us-east-1")
	v.SetDefault("objectStore.accessKeyId", "")
	v.SetDefault("objectStore.secretAccessKey", "")
	v.SetDefault("objectStore.agentsBucket", "arbor-agents")
	v.SetDefault("objectStore.storageBucket", "arbor-storage")
	v.SetDefault("objectStore.usePathStyle", true)

	// Secrets defaults
	v.SetDefault("secrets.dir", "~/.arbor")

	// LLM defaults
	v.SetDefault("llm.requestTimeout", 120)
	v.SetDefault("llm.defaultMaxTokens", 4096)

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.jobTimeout", 600)

	// Packages defaults
	v.SetDefault("packages.agentsDir", "./agents")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ARBOR_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/arbor/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where env var naming differs from camelCase config keys.
	_ = v.BindEnv("database.dbName", "ARBOR_DATABASE_DB_NAME")
	_ = v.BindEnv("objectStore.accessKeyId", "ARBOR_OBJECT_STORE_ACCESS_KEY_ID")
	_ = v.BindEnv("objectStore.secretAccessKey", "ARBOR_OBJECT_STORE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("objectStore.endpoint", "ARBOR_OBJECT_STORE_ENDPOINT")
	_ = v.BindEnv("objectStore.agentsBucket", "ARBOR_OBJECT_STORE_AGENTS_BUCKET")
	_ = v.BindEnv("objectStore.storageBucket", "ARBOR_OBJECT_STORE_STORAGE_BUCKET")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/arbor/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Worker.Concurrency <= 0 {
		errs = append(errs, "worker.concurrency must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
