package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	for _, k := range []string{
		"HOST", "PORT", "STORAGE_DIR", "FFMPEG_PATH", "FFPROBE_PATH",
		"SAMPLE_RATE", "MIN_SPEAKERS", "MAX_SPEAKERS", "MAX_FILE_SIZE_MB",
		"TTS_MODEL", "MUSIC_MODEL", "S3_BUCKET", "S3_REGION",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "LOG_FORMAT", "LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/voiceclone", cfg.StorageDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 24000, cfg.SampleRate)
	assert.Equal(t, 1, cfg.MinSpeakers)
	assert.Equal(t, 8, cfg.MaxSpeakers)
	assert.Equal(t, 500, cfg.MaxFileSizeMB)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	t.Setenv("PORT", "3000")
	t.Setenv("STORAGE_DIR", "/custom/storage")
	t.Setenv("SAMPLE_RATE", "16000")
	t.Setenv("MAX_SPEAKERS", "4")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/storage", cfg.StorageDir)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 4, cfg.MaxSpeakers)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidIntegerDefaults(t *testing.T) {
	clearEnv()
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{S3Bucket: tt.bucket, S3Region: tt.region}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
}

func TestConfig_JobsAndVoicesDir(t *testing.T) {
	cfg := &Config{StorageDir: "/data"}
	assert.Equal(t, "/data/jobs", cfg.JobsDir())
	assert.Equal(t, "/data/voices", cfg.VoicesDir())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		StorageDir:  "/tmp/test",
		SampleRate:  24000,
		MinSpeakers: 1,
		MaxSpeakers: 8,
		S3Bucket:    "bucket",
		S3Region:    "region",
		LogFormat:   "json",
		LogLevel:    "info",
	}

	str := cfg.String()
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "info"}
	logger := cfg.NewLogger()
	require.NotNil(t, logger)

	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	testLogger := slog.New(handler)
	testLogger.Info("test message")

	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{LogFormat: "text", LogLevel: "debug"}
	logger := cfg.NewLogger()
	require.NotNil(t, logger)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 8080, SampleRate: 24000, MinSpeakers: 1, MaxSpeakers: 8, MaxFileSizeMB: 500}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidPort)

		cfg.Port = 70000
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidPort)
	})

	t.Run("non-positive sample rate", func(t *testing.T) {
		cfg := valid()
		cfg.SampleRate = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidSampleRate)
	})

	t.Run("min speakers exceeds max", func(t *testing.T) {
		cfg := valid()
		cfg.MinSpeakers = 9
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidSpeakerRange)
	})

	t.Run("non-positive min speakers", func(t *testing.T) {
		cfg := valid()
		cfg.MinSpeakers = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidSpeakerRange)
	})

	t.Run("non-positive max file size", func(t *testing.T) {
		cfg := valid()
		cfg.MaxFileSizeMB = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidMaxFileSize)
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
