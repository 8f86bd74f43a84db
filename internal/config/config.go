// Package config provides configuration management for the service-cluster service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Registry backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Database     DatabaseConfig     `mapstructure:"database"`
	SQLite       SQLiteConfig       `mapstructure:"sqlite"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Etcd         EtcdConfig         `mapstructure:"etcd"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegistryConfig selects the host registry backend.
type RegistryConfig struct {
	// Backend is one of "memory", "postgres" or "sqlite".
	Backend      string `mapstructure:"backend"`
	SeedDemoData bool   `mapstructure:"seed_demo_data"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// SQLiteConfig holds the embedded SQLite registry configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration. Redis is optional; it is used when Host is set.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	HostTTL  time.Duration `mapstructure:"host_ttl"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EtcdConfig holds etcd configuration. etcd is optional; it is used when endpoints are set.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// Enabled reports whether etcd endpoints are configured.
func (c EtcdConfig) Enabled() bool {
	return len(c.Endpoints) > 0
}

// DiscoveryConfig describes how this instance announces itself in the service registry.
type DiscoveryConfig struct {
	AppName      string        `mapstructure:"app_name"`
	InstanceHost string        `mapstructure:"instance_host"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
}

// SchedulerConfig holds host selection configuration.
type SchedulerConfig struct {
	PlacementStrategy string  `mapstructure:"placement_strategy"`
	CPUPercentPerCore float64 `mapstructure:"cpu_percent_per_core"`
}

// ProvisioningConfig holds settings for VM creation requests forwarded to hosts.
type ProvisioningConfig struct {
	Port    int           `mapstructure:"port"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// legacyEnv maps config keys to the environment variable names used by existing
// deployments of the service.
var legacyEnv = map[string]string{
	"server.host":             "APP_HOST",
	"server.port":             "APP_PORT",
	"discovery.app_name":      "APP_NAME",
	"provisioning.port":       "SERVICE_VM_HOST_PORT",
	"database.host":           "DATABASE_HOST",
	"database.port":           "DATABASE_PORT",
	"database.user":           "DATABASE_USER",
	"database.password":       "DATABASE_PASSWORD",
	"database.name":           "DATABASE_NAME",
	"redis.host":              "REDIS_HOST",
	"etcd.endpoints":          "ETCD_ENDPOINTS",
	"registry.backend":        "REGISTRY_BACKEND",
	"registry.seed_demo_data": "SEED_DEMO_DATA",
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SERVICE_CLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		// Prefixed variables still take precedence; BindEnv checks names in order.
		if err := v.BindEnv(key, "SERVICE_CLUSTER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendMemory, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.Provisioning.Port <= 0 || c.Provisioning.Port > 65535 {
		return fmt.Errorf("invalid provisioning port %d", c.Provisioning.Port)
	}
	if c.Provisioning.Timeout <= 0 {
		return fmt.Errorf("provisioning timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Registry
	v.SetDefault("registry.backend", BackendMemory)
	v.SetDefault("registry.seed_demo_data", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "service_cluster")
	v.SetDefault("database.user", "service_cluster")
	v.SetDefault("database.password", "service_cluster")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// SQLite
	v.SetDefault("sqlite.path", "service_cluster.db")

	// Redis
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.host_ttl", "1m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Discovery
	v.SetDefault("discovery.app_name", "service-cluster")
	v.SetDefault("discovery.instance_host", "")
	v.SetDefault("discovery.lease_ttl", "90s")

	// Scheduler
	v.SetDefault("scheduler.placement_strategy", "pack")
	v.SetDefault("scheduler.cpu_percent_per_core", 10.0)

	// Provisioning
	v.SetDefault("provisioning.port", 5003)
	v.SetDefault("provisioning.path", "/vm/create")
	v.SetDefault("provisioning.timeout", "15s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)
}
