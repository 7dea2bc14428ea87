package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"     validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"   validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"       validate:"required"`
	Pool      PoolConfig      `mapstructure:"pool"       validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"    validate:"required"`
	Extractor ExtractorConfig `mapstructure:"extractor"  validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains the settings used to verify externally issued tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// PoolConfig contains the lease and admission rules of the image pool.
type PoolConfig struct {
	// LeaseTimeout is how long a claim stays exclusive before another member
	// may take the task over.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout" validate:"gt=0"`

	// ProcessingTimeout makes tasks stuck in processing reclaimable after this
	// long. Zero keeps processing tasks with their holder indefinitely.
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" validate:"gte=0"`

	MaxOutstanding      int      `mapstructure:"max_outstanding"       validate:"gt=0"`
	MaxFileBytes        int64    `mapstructure:"max_file_bytes"        validate:"gt=0"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types" validate:"min=1,dive,required"`
	DefaultPageSize     int      `mapstructure:"default_page_size"     validate:"gt=0,ltefield=MaxPageSize"`
	MaxPageSize         int      `mapstructure:"max_page_size"         validate:"gt=0"`
}

// StorageConfig selects and configures the blob storage backend.
type StorageConfig struct {
	Backend  string      `mapstructure:"backend"   validate:"required,oneof=fs minio"`
	BasePath string      `mapstructure:"base_path" validate:"required_if=Backend fs"`
	MinIO    MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig contains the S3-compatible object store settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ExtractorConfig selects and configures the reading extraction provider.
type ExtractorConfig struct {
	Provider          string        `mapstructure:"provider"            validate:"required,oneof=mock gemini"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key"      validate:"required_if=Provider gemini"`
	ModelName         string        `mapstructure:"model_name"          validate:"required"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"gte=0,lte=5"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"gt=0"`
}

// RateLimitConfig configures the per-member daily extraction quota.
type RateLimitConfig struct {
	Backend    string      `mapstructure:"backend"     validate:"required,oneof=postgres redis none"`
	DailyLimit int         `mapstructure:"daily_limit" validate:"gt=0"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains the Redis connection settings for the rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}
