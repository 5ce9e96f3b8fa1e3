package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML with environment
// overrides. Database and AI service locations follow the deployment
// environment: DB_URL, DB_USER, DB_PASSWORD, AI_SERVER_URL.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DBURL      string `yaml:"dbURL"`
	DBUser     string `yaml:"dbUser"`
	DBPassword string `yaml:"dbPassword"`

	AIServerURL string `yaml:"aiServerURL"`

	AudioDir       string `yaml:"audioDir"`
	StorageBackend string `yaml:"storageBackend"`
	S3Endpoint     string `yaml:"s3Endpoint"`
	S3AccessKey    string `yaml:"s3AccessKey"`
	S3SecretKey    string `yaml:"s3SecretKey"`
	S3Bucket       string `yaml:"s3Bucket"`
	S3UseSSL       bool   `yaml:"s3UseSSL"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	UploadRateLimitPerMinute int    `yaml:"uploadRateLimitPerMinute"`
	LoginRateLimitPerMinute  int    `yaml:"loginRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml), applies a local
// .env file when present, then environment overrides, then validates.
func Load(path string) (FileConfig, error) {
	// Optional .env, same convention as the deployment scripts.
	_ = godotenv.Load()

	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.DBURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("AI_SERVER_URL"); v != "" {
		cfg.AIServerURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AUDIO_DIR"); v != "" {
		cfg.AudioDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}

	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "disk"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return errors.New("config: database URL is required (set dbURL or DB_URL)")
	}
	if strings.TrimSpace(cfg.AIServerURL) == "" {
		return errors.New("config: AI server URL is required (set aiServerURL or AI_SERVER_URL)")
	}
	switch cfg.StorageBackend {
	case "disk":
		if strings.TrimSpace(cfg.AudioDir) == "" {
			return errors.New("config: audioDir is required for the disk storage backend")
		}
	case "s3":
		if strings.TrimSpace(cfg.S3Endpoint) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return errors.New("config: s3Endpoint and s3Bucket are required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.StorageBackend)
	}
	if cfg.UploadRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// DatabaseDSN assembles the gorm/pgx connection string. DBURL carries the
// key=value portion (host, port, dbname, sslmode); credentials are appended
// from their own settings so secrets stay out of the URL.
func (c FileConfig) DatabaseDSN() string {
	dsn := strings.TrimSpace(c.DBURL)
	if c.DBUser != "" && !strings.Contains(dsn, "user=") {
		dsn += " user=" + c.DBUser
	}
	if c.DBPassword != "" && !strings.Contains(dsn, "password=") {
		dsn += " password=" + c.DBPassword
	}
	return dsn
}
