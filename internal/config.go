package internal

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mediavault/mediavault_server/internal/cas"
)

type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	ExternalURL string `mapstructure:"external_url"`
}

type UploadConfig struct {
	Secret      string `mapstructure:"secret"`
	TTLMinutes  int    `mapstructure:"ttl_minutes"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

type StorageConfig struct {
	Type        string `mapstructure:"type"`
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Config struct {
	Server         ServerConfig   `mapstructure:"server"`
	Upload         UploadConfig   `mapstructure:"upload"`
	Storage        StorageConfig  `mapstructure:"storage"`
	Database       DatabaseConfig `mapstructure:"database"`
	Auth           AuthConfig     `mapstructure:"auth"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("files/config.yaml")
	viper.SetEnvPrefix("MEDIAVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Upload.Secret == "" {
		return nil, fmt.Errorf("upload.secret must be configured")
	}
	return &config, nil
}

func (c *Config) BackendConfig() *cas.BackendConfig {
	return &cas.BackendConfig{
		Type:        cas.BackendType(c.Storage.Type),
		LocalPath:   c.Storage.LocalPath,
		S3Endpoint:  c.Storage.S3Endpoint,
		S3Bucket:    c.Storage.S3Bucket,
		S3AccessKey: c.Storage.S3AccessKey,
		S3SecretKey: c.Storage.S3SecretKey,
		S3Region:    c.Storage.S3Region,
		S3UseSSL:    c.Storage.S3UseSSL,
	}
}
