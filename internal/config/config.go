// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when Port is outside the valid TCP range.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidSampleRate is returned when SampleRate is not positive.
	ErrInvalidSampleRate = errors.New("config: SAMPLE_RATE must be positive")
	// ErrInvalidSpeakerRange is returned when MIN_SPEAKERS/MAX_SPEAKERS are
	// non-positive or MIN_SPEAKERS exceeds MAX_SPEAKERS.
	ErrInvalidSpeakerRange = errors.New("config: MIN_SPEAKERS must be positive and no greater than MAX_SPEAKERS")
	// ErrInvalidMaxFileSize is returned when MaxFileSizeMB is not positive.
	ErrInvalidMaxFileSize = errors.New("config: MAX_FILE_SIZE_MB must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Host string `env:"HOST, default=0.0.0.0" json:"host"`
	Port int    `env:"PORT, default=8080" json:"port"`

	// Storage settings
	StorageDir string `env:"STORAGE_DIR, default=/tmp/voiceclone" json:"storage_dir"`

	// External-tool paths
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Processing settings
	SampleRate    int `env:"SAMPLE_RATE, default=24000" json:"sample_rate"`
	MinSpeakers   int `env:"MIN_SPEAKERS, default=1" json:"min_speakers"`
	MaxSpeakers   int `env:"MAX_SPEAKERS, default=8" json:"max_speakers"`
	MaxFileSizeMB int `env:"MAX_FILE_SIZE_MB, default=500" json:"max_file_size_mb"`

	// Per-workflow model identifiers
	TTSModel   string `env:"TTS_MODEL, default=reference-tts" json:"tts_model"`
	MusicModel string `env:"MUSIC_MODEL, default=reference-music" json:"music_model"`

	// Optional S3 settings (artifact backup)
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// JobsDir returns the directory under StorageDir holding per-job workspaces.
func (c *Config) JobsDir() string {
	return c.StorageDir + "/jobs"
}

// VoicesDir returns the directory under StorageDir holding voice profiles.
func (c *Config) VoicesDir() string {
	return c.StorageDir + "/voices"
}

// Addr returns the host:port the HTTP server should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the loaded configuration is internally consistent,
// beyond what go-envconfig's struct tags alone can express.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if c.MinSpeakers <= 0 || c.MinSpeakers > c.MaxSpeakers {
		return ErrInvalidSpeakerRange
	}
	if c.MaxFileSizeMB <= 0 {
		return ErrInvalidMaxFileSize
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Addr: %s, StorageDir: %s, SampleRate: %d, MinSpeakers: %d, MaxSpeakers: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Addr(),
		c.StorageDir,
		c.SampleRate,
		c.MinSpeakers,
		c.MaxSpeakers,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
