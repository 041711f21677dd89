package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Database backends
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// Tracker backends
const (
	TrackerMemory = "memory"
	TrackerBadger = "badger"
)

// Config holds all application configuration
type Config struct {
	Port      string
	UploadDir string
	DBType    string
	DBPath    string

	PostgreSQL *PostgreSQLConfig

	FFmpegPath              string
	WatermarkLogo           string
	SplitSegmentSeconds     int
	HLSSegmentSeconds       int
	WatermarkCRF            int
	MaxConcurrentTranscodes int
	InstanceID              string // two base-36 characters embedded in every watermark code

	TrackerBackend string
	TrackerDir     string

	MaxChunkSize         int64
	MaxFileSize          int64
	DefaultUserID        int64 // used when a request carries no X-User-ID header
	AbandonedUploadHours int
	SweepIntervalMinutes int
	ShutdownTimeout      time.Duration

	S3 *S3PublishConfig // nil unless S3_PUBLISH_BUCKET is set

	LogLevel string
}

// PostgreSQLConfig holds connection settings for the postgres backend
type PostgreSQLConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConnections int
	AutoMigrate    bool
}

// S3PublishConfig holds the target for mirroring finished HLS output
type S3PublishConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: S3-compatible endpoint (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	Prefix          string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		UploadDir:               getEnv("UPLOAD_DIR", "./uploads"),
		DBType:                  strings.ToLower(getEnv("DB_TYPE", DBTypeSQLite)),
		DBPath:                  getEnv("DB_PATH", "./streamforge.db"),
		FFmpegPath:              getEnv("FFMPEG_PATH", "ffmpeg"),
		WatermarkLogo:           getEnv("WATERMARK_LOGO", "./assets/logo.png"),
		SplitSegmentSeconds:     getEnvInt("SPLIT_SEGMENT_SECONDS", 10),
		HLSSegmentSeconds:       getEnvInt("HLS_SEGMENT_SECONDS", 4),
		WatermarkCRF:            getEnvInt("WATERMARK_CRF", 20),
		MaxConcurrentTranscodes: getEnvInt("MAX_CONCURRENT_TRANSCODES", runtime.GOMAXPROCS(0)),
		InstanceID:              strings.ToUpper(getEnv("INSTANCE_ID", "X1")),
		TrackerBackend:          strings.ToLower(getEnv("TRACKER_BACKEND", TrackerMemory)),
		TrackerDir:              getEnv("TRACKER_DIR", "./data/tracker"),
		MaxChunkSize:            getEnvInt64("MAX_CHUNK_SIZE", 64<<20),  // 64MB default
		MaxFileSize:             getEnvInt64("MAX_FILE_SIZE", 20<<30),   // 20GB default
		DefaultUserID:           getEnvInt64("DEFAULT_USER_ID", 1),
		AbandonedUploadHours:    getEnvInt("ABANDONED_UPLOAD_HOURS", 48),
		SweepIntervalMinutes:    getEnvInt("SWEEP_INTERVAL_MINUTES", 60),
		ShutdownTimeout:         time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.DBType == DBTypePostgres {
		cfg.PostgreSQL = &PostgreSQLConfig{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnvInt("POSTGRES_PORT", 5432),
			User:           getEnv("POSTGRES_USER", "streamforge"),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			Database:       getEnv("POSTGRES_DB", "streamforge"),
			SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConnections: getEnvInt("POSTGRES_MAX_CONNECTIONS", 25),
			AutoMigrate:    getEnvBool("POSTGRES_AUTO_MIGRATE", true),
		}
	}

	if bucket := getEnv("S3_PUBLISH_BUCKET", ""); bucket != "" {
		cfg.S3 = &S3PublishConfig{
			Bucket:          bucket,
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       getEnvBool("S3_PATH_STYLE", false),
			Prefix:          getEnv("S3_PUBLISH_PREFIX", ""),
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// AbandonedAfter is the age at which an unfinished upload is swept
func (c *Config) AbandonedAfter() time.Duration {
	return time.Duration(c.AbandonedUploadHours) * time.Hour
}

// SweepInterval is how often the abandoned-upload sweeper runs
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}

	switch c.DBType {
	case DBTypeSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DBTypePostgres:
		if c.PostgreSQL.Host == "" || c.PostgreSQL.Database == "" {
			return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required for DB_TYPE=postgres")
		}
		if c.PostgreSQL.Port <= 0 || c.PostgreSQL.Port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be between 1 and 65535, got %d", c.PostgreSQL.Port)
		}
	default:
		return fmt.Errorf("DB_TYPE must be %q or %q, got %q", DBTypeSQLite, DBTypePostgres, c.DBType)
	}

	if c.FFmpegPath == "" {
		return fmt.Errorf("FFMPEG_PATH cannot be empty")
	}

	if c.SplitSegmentSeconds <= 0 {
		return fmt.Errorf("SPLIT_SEGMENT_SECONDS must be positive, got %d", c.SplitSegmentSeconds)
	}

	if c.HLSSegmentSeconds <= 0 {
		return fmt.Errorf("HLS_SEGMENT_SECONDS must be positive, got %d", c.HLSSegmentSeconds)
	}

	// x264 constant rate factor range
	if c.WatermarkCRF < 0 || c.WatermarkCRF > 51 {
		return fmt.Errorf("WATERMARK_CRF must be between 0 and 51, got %d", c.WatermarkCRF)
	}

	if c.MaxConcurrentTranscodes < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TRANSCODES must be at least 1, got %d", c.MaxConcurrentTranscodes)
	}

	if len(c.InstanceID) != 2 || !isBase36(c.InstanceID) {
		return fmt.Errorf("INSTANCE_ID must be exactly two base-36 characters (0-9, A-Z), got %q", c.InstanceID)
	}

	switch c.TrackerBackend {
	case TrackerMemory:
	case TrackerBadger:
		if c.TrackerDir == "" {
			return fmt.Errorf("TRACKER_DIR cannot be empty for TRACKER_BACKEND=badger")
		}
	default:
		return fmt.Errorf("TRACKER_BACKEND must be %q or %q, got %q", TrackerMemory, TrackerBadger, c.TrackerBackend)
	}

	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}

	if c.MaxFileSize < c.MaxChunkSize {
		return fmt.Errorf("MAX_FILE_SIZE (%d) cannot be smaller than MAX_CHUNK_SIZE (%d)", c.MaxFileSize, c.MaxChunkSize)
	}

	if c.AbandonedUploadHours <= 0 {
		return fmt.Errorf("ABANDONED_UPLOAD_HOURS must be positive, got %d", c.AbandonedUploadHours)
	}

	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

func isBase36(s string) bool {
	for _, ch := range s {
		if !((ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z')) {
			return false
		}
	}
	return true
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool accepts anything strconv.ParseBool does
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
