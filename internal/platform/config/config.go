// Package config loads process configuration from an optional TOML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names accepted for the store and lock settings.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	Approval ApprovalConfig `toml:"approval"`
	Tracing  TracingConfig  `toml:"tracing"`
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	GRPCPort        int           `toml:"grpc_port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
}

type DatabaseConfig struct {
	Host        string        `toml:"host"`
	Port        int           `toml:"port"`
	User        string        `toml:"user"`
	Password    string        `toml:"password"`
	Database    string        `toml:"database"`
	SSLMode     string        `toml:"ssl_mode"`
	MaxConns    int32         `toml:"max_conns"`
	MinConns    int32         `toml:"min_conns"`
	MaxConnTime time.Duration `toml:"max_conn_time"`
	MaxIdleTime time.Duration `toml:"max_idle_time"`
	HealthCheck time.Duration `toml:"health_check"`
}

// DSN renders a postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type NATSConfig struct {
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	Enabled bool   `toml:"enabled"`
}

// ApprovalConfig holds the engine settings.
type ApprovalConfig struct {
	StoreBackend      string        `toml:"store_backend"`
	LockBackend       string        `toml:"lock_backend"`
	LockWaitTimeout   time.Duration `toml:"lock_wait_timeout"`
	LockLeaseTTL      time.Duration `toml:"lock_lease_ttl"`
	NotifyQueueSize   int           `toml:"notify_queue_size"`
	NotifyWorkerCount int           `toml:"notify_worker_count"`
}

type TracingConfig struct {
	Enabled    bool   `toml:"enabled"`
	OutputFile string `toml:"output_file"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "be-wf-approvals",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8086,
			GRPCPort:        9086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Password:    "postgres",
			Database:    "approvals",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Stream: "NOTIFICATIONS",
		},
		Approval: ApprovalConfig{
			StoreBackend:      BackendPostgres,
			LockBackend:       BackendRedis,
			LockWaitTimeout:   5 * time.Second,
			LockLeaseTTL:      10 * time.Second,
			NotifyQueueSize:   1024,
			NotifyWorkerCount: 2,
		},
	}
}

// Load reads CONFIG_FILE (if set) over the defaults, then applies the
// environment, then validates.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Approval.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Approval.StoreBackend)
	}
	switch c.Approval.LockBackend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown lock backend %q", c.Approval.LockBackend)
	}
	if c.Approval.LockBackend == BackendPostgres && c.Approval.StoreBackend != BackendPostgres {
		return fmt.Errorf("postgres lock backend requires the postgres store backend")
	}
	if c.Approval.LockWaitTimeout <= 0 || c.Approval.LockLeaseTTL <= 0 {
		return fmt.Errorf("lock wait timeout and lease ttl must be positive")
	}
	if c.Approval.LockLeaseTTL < c.Approval.LockWaitTimeout {
		return fmt.Errorf("lock lease ttl (%s) must not be shorter than the wait timeout (%s)",
			c.Approval.LockLeaseTTL, c.Approval.LockWaitTimeout)
	}
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout < c.Approval.LockWaitTimeout {
		return fmt.Errorf("request timeout (%s) must not be shorter than the lock wait timeout (%s)",
			c.Server.RequestTimeout, c.Approval.LockWaitTimeout)
	}
	if c.Approval.NotifyQueueSize < 1 || c.Approval.NotifyWorkerCount < 1 {
		return fmt.Errorf("notify queue size and worker count must be at least 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString("SERVICE_NAME", &cfg.Service.Name)
	envString("SERVICE_VERSION", &cfg.Service.Version)
	envString("ENVIRONMENT", &cfg.Service.Environment)
	envString("LOG_LEVEL", &cfg.Service.LogLevel)

	envInt("HTTP_PORT", &cfg.Server.Port)
	envInt("GRPC_PORT", &cfg.Server.GRPCPort)
	envDuration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envDuration("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	envString("DB_HOST", &cfg.Database.Host)
	envInt("DB_PORT", &cfg.Database.Port)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASSWORD", &cfg.Database.Password)
	envString("DB_NAME", &cfg.Database.Database)
	envString("DB_SSL_MODE", &cfg.Database.SSLMode)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envString("NATS_URL", &cfg.NATS.URL)
	envString("NATS_STREAM", &cfg.NATS.Stream)
	envBool("NATS_ENABLED", &cfg.NATS.Enabled)

	envString("STORE_BACKEND", &cfg.Approval.StoreBackend)
	envString("LOCK_BACKEND", &cfg.Approval.LockBackend)
	envDuration("LOCK_WAIT_TIMEOUT", &cfg.Approval.LockWaitTimeout)
	envDuration("LOCK_LEASE_TTL", &cfg.Approval.LockLeaseTTL)
	envInt("NOTIFY_QUEUE_SIZE", &cfg.Approval.NotifyQueueSize)
	envInt("NOTIFY_WORKER_COUNT", &cfg.Approval.NotifyWorkerCount)

	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("TRACING_OUTPUT_FILE", &cfg.Tracing.OutputFile)
}

func envString(name string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*dst = value
	}
}

func envInt(name string, dst *int) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		*dst = true
	case "0", "false", "f", "no", "n", "off":
		*dst = false
	}
}
