// Package config loads gateway settings from an optional YAML file and the
// environment. Precedence: environment > file > Default().
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Minio    MinioConfig    `yaml:"minio"`
	Plugins  PluginsConfig  `yaml:"plugins"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"HTTP_ADDR"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES"`
	CORSOrigins       []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
	// Dir enables a rotated log file next to stdout when set.
	Dir          string `yaml:"dir" env:"LOG_DIR"`
	RotationDays int    `yaml:"rotation_days" env:"LOG_ROTATION_DAYS"`
}

type AuthConfig struct {
	Algorithm     string `yaml:"algorithm" env:"JWT_ALGORITHM"`
	Secret        string `yaml:"secret" env:"JWT_SECRET_KEY"`
	PublicKeyFile string `yaml:"public_key_file" env:"JWT_PUBLIC_KEY_FILE"`
	Issuer        string `yaml:"issuer" env:"JWT_ISSUER"`
}

type CacheConfig struct {
	Enabled            bool   `yaml:"enabled" env:"CACHE_ENABLED"`
	ForceRefreshHeader string `yaml:"force_refresh_header" env:"FORCE_REFRESH_HEADER"`
	// StructuredBackend is "sql" or "memory".
	StructuredBackend string `yaml:"structured_backend" env:"CACHE_STRUCTURED_BACKEND"`
	// BlobBackend is "minio", "redis" or "memory".
	BlobBackend string `yaml:"blob_backend" env:"CACHE_BLOB_BACKEND"`
	RedisPrefix string `yaml:"redis_prefix" env:"CACHE_REDIS_PREFIX"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
	Region    string `yaml:"region" env:"MINIO_REGION"`
}

type PluginsConfig struct {
	ChatGPT    ChatGPTConfig `yaml:"chatgpt"`
	Flux       BackendConfig `yaml:"flux" envPrefix:"FLUX_"`
	Chatterbox BackendConfig `yaml:"chatterbox" envPrefix:"CHATTERBOX_"`
}

type ChatGPTConfig struct {
	Enabled      bool          `yaml:"enabled" env:"CHATGPT_ENABLED"`
	APIKey       string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model        string        `yaml:"model" env:"CHATGPT_MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"CHATGPT_TIMEOUT"`
	RateLimit    int           `yaml:"rate_limit" env:"CHATGPT_RATE_LIMIT"`
	ContextsFile string        `yaml:"contexts_file" env:"CHATGPT_CONTEXTS_FILE"`
}

// BackendConfig is shared by the self-hosted generation servers. Environment
// names are prefixed per adapter, e.g. FLUX_API_URL.
type BackendConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL   string        `yaml:"base_url" env:"API_URL"`
	Model     string        `yaml:"model" env:"MODEL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimit int           `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// Default returns a configuration that runs locally without external stores.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8000",
			RequestTimeout:    150 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      20 << 20,
			CORSOrigins:       []string{"*"},
		},
		Log: LogConfig{
			Level:        "info",
			RotationDays: 60,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Cache: CacheConfig{
			Enabled:            true,
			ForceRefreshHeader: "X-Force-Refresh",
			StructuredBackend:  "memory",
			BlobBackend:        "memory",
			RedisPrefix:        "aigateway",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Minio: MinioConfig{
			Endpoint: "127.0.0.1:9000",
		},
		Plugins: PluginsConfig{
			ChatGPT: ChatGPTConfig{
				Enabled:   true,
				BaseURL:   "https://api.openai.com",
				Model:     "gpt-4o-mini",
				Timeout:   30 * time.Second,
				RateLimit: 20,
			},
			Flux: BackendConfig{
				Enabled:   true,
				BaseURL:   "http://127.0.0.1:8001",
				Model:     "flux-1-schnell",
				Timeout:   120 * time.Second,
				RateLimit: 5,
			},
			Chatterbox: BackendConfig{
				Enabled:   true,
				BaseURL:   "http://127.0.0.1:8002",
				Model:     "chatterbox-tts",
				Timeout:   60 * time.Second,
				RateLimit: 10,
			},
		},
	}
}

// Load reads path (optional) over Default() and applies environment
// overrides. ${VAR} references inside the file are expanded first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the secrets the enabled parts need.
func (c Config) Validate() error {
	var errs []error

	switch c.Cache.StructuredBackend {
	case "sql", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.structured_backend: unknown backend %q", c.Cache.StructuredBackend))
	}
	switch c.Cache.BlobBackend {
	case "minio", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.blob_backend: unknown backend %q", c.Cache.BlobBackend))
	}
	if c.Cache.StructuredBackend == "sql" && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for the sql structured backend"))
	}
	if c.Cache.BlobBackend == "minio" && (c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		errs = append(errs, errors.New("minio access_key and secret_key are required for the minio blob backend"))
	}

	switch c.Auth.Algorithm {
	case "HS256":
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("auth.secret (JWT_SECRET_KEY) is required for HS256"))
		}
	case "RS256":
		if c.Auth.PublicKeyFile == "" {
			errs = append(errs, errors.New("auth.public_key_file is required for RS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm: unsupported %q", c.Auth.Algorithm))
	}

	if c.Plugins.ChatGPT.Enabled && c.Plugins.ChatGPT.APIKey == "" {
		errs = append(errs, errors.New("plugins.chatgpt.api_key (OPENAI_API_KEY) is required"))
	}
	if c.Plugins.Flux.Enabled && c.Plugins.Flux.BaseURL == "" {
		errs = append(errs, errors.New("plugins.flux.base_url (FLUX_API_URL) is required"))
	}
	if c.Plugins.Chatterbox.Enabled && c.Plugins.Chatterbox.BaseURL == "" {
		errs = append(errs, errors.New("plugins.chatterbox.base_url (CHATTERBOX_API_URL) is required"))
	}
	for name, limit := range c.RateLimits() {
		if limit <= 0 {
			errs = append(errs, fmt.Errorf("plugins.%s.rate_limit must be positive, got %d", name, limit))
		}
	}

	return errors.Join(errs...)
}

// RateLimits returns the per-minute threshold of every enabled adapter.
func (c Config) RateLimits() map[string]int {
	out := make(map[string]int, 3)
	if c.Plugins.ChatGPT.Enabled {
		out["chatgpt"] = c.Plugins.ChatGPT.RateLimit
	}
	if c.Plugins.Flux.Enabled {
		out["flux"] = c.Plugins.Flux.RateLimit
	}
	if c.Plugins.Chatterbox.Enabled {
		out["chatterbox"] = c.Plugins.Chatterbox.RateLimit
	}
	return out
}
