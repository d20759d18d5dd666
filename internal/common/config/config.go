// Package config provides configuration management for the runtime.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runtime.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Tenancy  TenancyConfig  `mapstructure:"tenancy"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event-bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	Namespace string `mapstructure:"namespace"`
}

// TenancyConfig holds per-tenant provisioning layout configuration.
type TenancyConfig struct {
	// ClientsRootDir is <clients_root> from §6.4: bun/ shared runtime install
	// plus one subdirectory per tenant.
	ClientsRootDir string `mapstructure:"clientsRootDir"`
	// JSRuntimeURL is where the shared JS runtime is downloaded from when
	// bun/bin/<js-runtime> is not already present.
	JSRuntimeURL string `mapstructure:"jsRuntimeUrl"`
	// SetupTimeoutSeconds bounds submit_setup_token's wait on the OAuth
	// notifier (§4.4: 20s).
	SetupTimeoutSeconds int `mapstructure:"setupTimeoutSeconds"`
}

// SandboxConfig holds analysis sandbox bridge configuration (C6).
type SandboxConfig struct {
	JSRuntimePath     string `mapstructure:"jsRuntimePath"`
	JobTimeoutSeconds int    `mapstructure:"jobTimeoutSeconds"`
	RPCTimeoutSeconds int    `mapstructure:"rpcTimeoutSeconds"`
	MaxResultBytes    int64  `mapstructure:"maxResultBytes"`
}

// PoolConfig holds connection pool registry defaults (C2).
type PoolConfig struct {
	MaxConnections       int `mapstructure:"maxConnections"`
	MinConnections       int `mapstructure:"minConnections"`
	IdleTimeoutSeconds   int `mapstructure:"idleTimeoutSeconds"`
	MaxLifetimeSeconds   int `mapstructure:"maxLifetimeSeconds"`
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	SessionSecret string `mapstructure:"sessionSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
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

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CLAYSTUDIO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./claystudio.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "claystudio")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "claystudio")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use the in-memory event bus.
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "claystudio-cluster")
	v.SetDefault("nats.clientId", "claystudio-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("tenancy.clientsRootDir", "../.clients")
	v.SetDefault("tenancy.jsRuntimeUrl", "")
	v.SetDefault("tenancy.setupTimeoutSeconds", 20)

	v.SetDefault("sandbox.jsRuntimePath", "")
	v.SetDefault("sandbox.jobTimeoutSeconds", 300)
	v.SetDefault("sandbox.rpcTimeoutSeconds", 30)
	v.SetDefault("sandbox.maxResultBytes", 10*1024*1024)

	v.SetDefault("pool.maxConnections", 10)
	v.SetDefault("pool.minConnections", 1)
	v.SetDefault("pool.idleTimeoutSeconds", 300)
	v.SetDefault("pool.maxLifetimeSeconds", 1800)
	v.SetDefault("pool.sweepIntervalSeconds", 60)

	v.SetDefault("auth.sessionSecret", "")
	v.SetDefault("auth.tokenDuration", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CLAYSTUDIO_ followed by the config key
// uppercased with "." replaced by "_" (e.g. CLAYSTUDIO_SERVER_READTIMEOUT);
// the differently-named variables are bound explicitly with BindEnv.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CLAYSTUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the externally-documented env vars (§6.5) that
	// don't follow the CLAYSTUDIO_ prefix convention.
	_ = v.BindEnv("tenancy.clientsRootDir", "CLIENTS_DIR")
	_ = v.BindEnv("database.path", "DATABASE_URL")
	_ = v.BindEnv("auth.sessionSecret", "SESSION_SECRET")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("logging.level", "CLAYSTUDIO_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "CLAYSTUDIO_EVENTS_NAMESPACE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claystudio/")

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

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	if cfg.Auth.SessionSecret == "" {
		cfg.Auth.SessionSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Sandbox.JobTimeoutSeconds <= 0 {
		errs = append(errs, "sandbox.jobTimeoutSeconds must be positive")
	}
	if cfg.Pool.MaxConnections <= 0 {
		errs = append(errs, "pool.maxConnections must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
