package config

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

// clearEnvVars blanks every variable Load reads; getEnv treats empty as unset
func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		"PORT", "UPLOAD_DIR", "DB_TYPE", "DB_PATH",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD",
		"POSTGRES_DB", "POSTGRES_SSLMODE", "POSTGRES_MAX_CONNECTIONS", "POSTGRES_AUTO_MIGRATE",
		"FFMPEG_PATH", "WATERMARK_LOGO", "SPLIT_SEGMENT_SECONDS", "HLS_SEGMENT_SECONDS",
		"WATERMARK_CRF", "MAX_CONCURRENT_TRANSCODES", "INSTANCE_ID",
		"TRACKER_BACKEND", "TRACKER_DIR", "MAX_CHUNK_SIZE", "MAX_FILE_SIZE",
		"DEFAULT_USER_ID", "ABANDONED_UPLOAD_HOURS", "SWEEP_INTERVAL_MINUTES",
		"SHUTDOWN_TIMEOUT_SECONDS", "S3_PUBLISH_BUCKET", "S3_REGION", "S3_ENDPOINT",
		"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PATH_STYLE", "S3_PUBLISH_PREFIX",
		"LOG_LEVEL",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_DefaultConfiguration(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.UploadDir != "./uploads" {
		t.Errorf("UploadDir = %s, want ./uploads", cfg.UploadDir)
	}
	if cfg.DBType != DBTypeSQLite {
		t.Errorf("DBType = %s, want sqlite", cfg.DBType)
	}
	if cfg.DBPath != "./streamforge.db" {
		t.Errorf("DBPath = %s, want ./streamforge.db", cfg.DBPath)
	}
	if cfg.PostgreSQL != nil {
		t.Error("PostgreSQL config should be nil for sqlite")
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %s, want ffmpeg", cfg.FFmpegPath)
	}
	if cfg.SplitSegmentSeconds != 10 {
		t.Errorf("SplitSegmentSeconds = %d, want 10", cfg.SplitSegmentSeconds)
	}
	if cfg.HLSSegmentSeconds != 4 {
		t.Errorf("HLSSegmentSeconds = %d, want 4", cfg.HLSSegmentSeconds)
	}
	if cfg.WatermarkCRF != 20 {
		t.Errorf("WatermarkCRF = %d, want 20", cfg.WatermarkCRF)
	}
	if want := runtime.GOMAXPROCS(0); cfg.MaxConcurrentTranscodes != want {
		t.Errorf("MaxConcurrentTranscodes = %d, want %d", cfg.MaxConcurrentTranscodes, want)
	}
	if cfg.InstanceID != "X1" {
		t.Errorf("InstanceID = %s, want X1", cfg.InstanceID)
	}
	if cfg.TrackerBackend != TrackerMemory {
		t.Errorf("TrackerBackend = %s, want memory", cfg.TrackerBackend)
	}
	if cfg.MaxChunkSize != 64<<20 {
		t.Errorf("MaxChunkSize = %d, want %d", cfg.MaxChunkSize, 64<<20)
	}
	if cfg.DefaultUserID != 1 {
		t.Errorf("DefaultUserID = %d, want 1", cfg.DefaultUserID)
	}
	if cfg.AbandonedAfter() != 48*time.Hour {
		t.Errorf("AbandonedAfter() = %v, want 48h", cfg.AbandonedAfter())
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.S3 != nil {
		t.Error("S3 config should be nil without S3_PUBLISH_BUCKET")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
}

func TestLoad_Postgres(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DB_TYPE", "POSTGRES")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_AUTO_MIGRATE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBType != DBTypePostgres {
		t.Fatalf("DBType = %s, want postgres", cfg.DBType)
	}
	pg := cfg.PostgreSQL
	if pg == nil {
		t.Fatal("PostgreSQL config should be set")
	}
	if pg.Host != "db.internal" || pg.Port != 6543 {
		t.Errorf("Host/Port = %s/%d", pg.Host, pg.Port)
	}
	if pg.AutoMigrate {
		t.Error("AutoMigrate should be false")
	}
	if pg.SSLMode != "disable" {
		t.Errorf("SSLMode = %s, want disable", pg.SSLMode)
	}
}

func TestLoad_S3Publish(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("S3_PUBLISH_BUCKET", "media")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.S3 == nil {
		t.Fatal("S3 config should be set")
	}
	if cfg.S3.Bucket != "media" || !cfg.S3.PathStyle || cfg.S3.Region != "us-east-1" {
		t.Errorf("unexpected S3 config: %+v", cfg.S3)
	}
}

func TestLoad_InvalidIntegerFallsBackToDefault(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("HLS_SEGMENT_SECONDS", "four")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HLSSegmentSeconds != 4 {
		t.Errorf("HLSSegmentSeconds = %d, want default 4", cfg.HLSSegmentSeconds)
	}
}

func TestLoad_InstanceIDUppercased(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("INSTANCE_ID", "a7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.InstanceID != "A7" {
		t.Errorf("InstanceID = %s, want A7", cfg.InstanceID)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown db type", map[string]string{"DB_TYPE": "mysql"}, "DB_TYPE"},
		{"bad postgres port", map[string]string{"DB_TYPE": "postgres", "POSTGRES_PORT": "70000"}, "POSTGRES_PORT"},
		{"zero split", map[string]string{"SPLIT_SEGMENT_SECONDS": "0"}, "SPLIT_SEGMENT_SECONDS"},
		{"negative hls", map[string]string{"HLS_SEGMENT_SECONDS": "-1"}, "HLS_SEGMENT_SECONDS"},
		{"crf out of range", map[string]string{"WATERMARK_CRF": "52"}, "WATERMARK_CRF"},
		{"zero transcodes", map[string]string{"MAX_CONCURRENT_TRANSCODES": "0"}, "MAX_CONCURRENT_TRANSCODES"},
		{"long instance id", map[string]string{"INSTANCE_ID": "X12"}, "INSTANCE_ID"},
		{"non base36 instance id", map[string]string{"INSTANCE_ID": "X-"}, "INSTANCE_ID"},
		{"unknown tracker", map[string]string{"TRACKER_BACKEND": "redis"}, "TRACKER_BACKEND"},
		{"file smaller than chunk", map[string]string{"MAX_CHUNK_SIZE": "100", "MAX_FILE_SIZE": "10"}, "MAX_FILE_SIZE"},
		{"zero abandoned hours", map[string]string{"ABANDONED_UPLOAD_HOURS": "0"}, "ABANDONED_UPLOAD_HOURS"},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"nope", true, true},
	}
	for _, tt := range tests {
		t.Setenv("STREAMFORGE_TEST_BOOL", tt.value)
		if got := getEnvBool("STREAMFORGE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}
