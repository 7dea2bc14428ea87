package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. SUNLOG_POOL_LEASE_TIMEOUT for pool.lease_timeout.
const EnvPrefix = "SUNLOG"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with config.yaml searched in the given directories.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its validate tags and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateStorage, StorageConfig{})
	validate.RegisterStructValidation(validateRateLimit, RateLimitConfig{})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	if s.Backend != "minio" {
		return
	}
	if s.MinIO.Endpoint == "" {
		sl.ReportError(s.MinIO.Endpoint, "MinIO.Endpoint", "Endpoint", "required_with_minio", "")
	}
	if s.MinIO.Bucket == "" {
		sl.ReportError(s.MinIO.Bucket, "MinIO.Bucket", "Bucket", "required_with_minio", "")
	}
}

func validateRateLimit(sl validator.StructLevel) {
	r := sl.Current().Interface().(RateLimitConfig)
	if r.Backend == "redis" && r.Redis.Addr == "" {
		sl.ReportError(r.Redis.Addr, "Redis.Addr", "Addr", "required_with_redis", "")
	}
}

// Every key needs a default so that AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("pool.lease_timeout", 30*time.Minute)
	v.SetDefault("pool.processing_timeout", time.Duration(0))
	v.SetDefault("pool.max_outstanding", 500)
	v.SetDefault("pool.max_file_bytes", 10<<20)
	v.SetDefault("pool.allowed_content_types", []string{"image/jpeg", "image/png", "image/webp", "image/heic"})
	v.SetDefault("pool.default_page_size", 50)
	v.SetDefault("pool.max_page_size", 200)

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.base_path", "uploads")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "sunlog-images")
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.use_ssl", false)

	v.SetDefault("extractor.provider", "mock")
	v.SetDefault("extractor.gemini_api_key", "")
	v.SetDefault("extractor.model_name", "gemini-2.5-flash")
	v.SetDefault("extractor.max_retries", 3)
	v.SetDefault("extractor.retry_delay_seconds", 2)
	v.SetDefault("extractor.timeout", 60*time.Second)

	v.SetDefault("rate_limit.backend", "postgres")
	v.SetDefault("rate_limit.daily_limit", 100)
	v.SetDefault("rate_limit.redis.addr", "")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.db", 0)
}
