package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Geo         GeoConfig         `yaml:"geo"`
	Scan        ScanConfig        `yaml:"scan"`
	Sentry      SentryConfig      `yaml:"sentry"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Mode            string        `yaml:"mode"`
	BaseURL         string        `yaml:"base_url"`
	ResolveTimeout  time.Duration `yaml:"resolve_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig represents the backing store configuration.
// Driver is one of mysql, postgres or sqlite. URL, when set, is used verbatim as the DSN.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	LogQueries   bool   `yaml:"log_queries"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// DestinationTTL bounds how stale a cached destination may be
	DestinationTTL time.Duration `yaml:"destination_ttl"`
}

// BloomFilterConfig represents Bloom filter configuration
type BloomFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Capacity          uint          `yaml:"capacity"`
	FalsePositiveRate float64       `yaml:"false_positive_rate"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// RateLimitConfig represents the redirect rate limiter configuration
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Strategy string        `yaml:"strategy"`
	Limit    int           `yaml:"limit"`
	Window   time.Duration `yaml:"window"`
}

// GeoConfig represents the geolocation lookup configuration
type GeoConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ScanConfig controls how scans are recorded after a redirect
type ScanConfig struct {
	Async   bool          `yaml:"async"`
	Timeout time.Duration `yaml:"timeout"`
}

// SentryConfig represents Sentry configuration. An empty DSN disables reporting.
type SentryConfig struct {
	DSN          string        `yaml:"dsn"`
	Environment  string        `yaml:"environment"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// LogConfig represents structured logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DSN returns the data source name for the configured driver
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
	case "sqlite":
		return "file:" + d.Database + "?_foreign_keys=1"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.Username, d.Password, d.Host, d.Port, d.Database)
	}
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from file. A .env file next to the working
// directory is loaded first so its values take part in the env overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and env overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for any field the file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Mode:            "release",
			BaseURL:         "http://localhost:8080",
			ResolveTimeout:  3 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "localhost",
			Port:         3306,
			Database:     "qr_link",
			SSLMode:      "disable",
			MaxIdleConns: 10,
			MaxOpenConns: 100,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,

			DestinationTTL: 30 * time.Second,
		},
		BloomFilter: BloomFilterConfig{
			Enabled:           true,
			Capacity:          1_000_000,
			FalsePositiveRate: 0.001,
			RefreshInterval:   5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Strategy: "sliding_window",
			Limit:    120,
			Window:   time.Minute,
		},
		Geo: GeoConfig{
			Enabled:  true,
			Endpoint: "https://ipapi.co",
			Timeout:  2 * time.Second,
			CacheTTL: 24 * time.Hour,
		},
		Scan: ScanConfig{
			Async:   true,
			Timeout: 5 * time.Second,
		},
		Sentry: SentryConfig{
			Environment:  "production",
			FlushTimeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports configuration values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.ResolveTimeout <= 0 {
		errs = append(errs, errors.New("server.resolve_timeout must be positive"))
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Redis.Enabled && c.Redis.DestinationTTL <= 0 {
		errs = append(errs, errors.New("redis.destination_ttl must be positive"))
	}
	if c.BloomFilter.Enabled {
		if c.BloomFilter.Capacity == 0 {
			errs = append(errs, errors.New("bloom_filter.capacity must be positive"))
		}
		if c.BloomFilter.FalsePositiveRate <= 0 || c.BloomFilter.FalsePositiveRate >= 1 {
			errs = append(errs, errors.New("bloom_filter.false_positive_rate must be in (0, 1)"))
		}
	}
	if c.Snowflake.DatacenterID < 0 || c.Snowflake.DatacenterID > 31 {
		errs = append(errs, errors.New("snowflake.datacenter_id must be in [0, 31]"))
	}
	if c.Snowflake.WorkerID < 0 || c.Snowflake.WorkerID > 31 {
		errs = append(errs, errors.New("snowflake.worker_id must be in [0, 31]"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.limit and rate_limit.window must be positive"))
		}
		switch c.RateLimit.Strategy {
		case "fixed_window", "sliding_window", "token_bucket":
		default:
			errs = append(errs, fmt.Errorf("rate_limit.strategy %q is not supported", c.RateLimit.Strategy))
		}
	}
	if c.Geo.Enabled && c.Geo.Timeout <= 0 {
		errs = append(errs, errors.New("geo.timeout must be positive"))
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, errors.New("scan.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// applyEnv overrides file values with environment variables if present
func (c *Config) applyEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Sentry.DSN = v
	}
	if v := os.Getenv("GEO_ENDPOINT"); v != "" {
		c.Geo.Endpoint = v
	}
	return nil
}
