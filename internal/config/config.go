package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// RedisConfig points at the shared counter store used for concurrency slots
// and the quota ledger.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration. Tokens are minted by the
// surrounding platform; this service only needs the verification secret.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// UploadConfig carries the per-owner defaults and the reaper tuning knobs.
// MaxSessions and QuotaLimitBytes apply to owners without a tier override.
type UploadConfig struct {
	MaxSessionsPerOwner int64         `mapstructure:"max_sessions_per_owner"`
	QuotaLimitBytes     int64         `mapstructure:"quota_limit_bytes"`
	PartURLExpiry       time.Duration `mapstructure:"part_url_expiry"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	ReaperInterval      time.Duration `mapstructure:"reaper_interval"`
	ReaperBatchSize     int64         `mapstructure:"reaper_batch_size"`
	AllowedMimePrefixes []string      `mapstructure:"allowed_mime_prefixes"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// --- Environment Variable Handling ---
	viper.AutomaticEnv()
	// Use replacer for nested keys e.g., server.address -> SERVER_ADDRESS
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	// --- Set default values ---
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "upload_service")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("s3.use_ssl", true)
	viper.SetDefault("upload.max_sessions_per_owner", 5)
	viper.SetDefault("upload.quota_limit_bytes", 10*1024*1024*1024) // 10 GiB
	viper.SetDefault("upload.part_url_expiry", "1h")
	viper.SetDefault("upload.inactivity_threshold", "30m")
	viper.SetDefault("upload.reaper_interval", "5m")
	viper.SetDefault("upload.reaper_batch_size", 100)

	// --- Read Config File ---
	err = viper.ReadInConfig()
	// If config file not found, continue (might rely solely on env vars).
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	// --- Unmarshal Config ---
	// Duration strings ("30m", "1h") parse directly into time.Duration fields.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
