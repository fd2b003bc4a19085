package slogutil

import (
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the structured JSON logger, with optional rotation,
// as a config block memmgr.Config embeds directly.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type Format string

type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

type Config struct {
	Level       slog.Leveler
	ReplaceAttr ReplaceAttrFunc
	Hooks       []Hook
	AddSource   bool
	LogPath     string
	MaxSizeMB   int
	MaxAgeDays  int
	MaxBackups  int
	Compress    bool
}

var defaultConfig = Config{
	Level: defaultLevel(),
}

func mergeConfig(config ...Config) Config {
	if len(config) == 0 {
		return defaultConfig
	}

	cfg := config[0]

	if cfg.Level == nil {
		cfg.Level = defaultConfig.Level
	}

	return cfg
}

func defaultLevel() slog.Leveler {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return ParseLevel(v)
	}

	return slog.LevelInfo
}

// ParseLevel maps a config string (debug/warn/error, case-insensitive) onto
// a slog.Level, defaulting to Info for anything else including "info"
// itself and the empty string.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogRotation builds a JSON slog.Logger writing to stdout and, when
// logConfig.File is set, also to a rotating file via lumberjack. The
// returned DynamicLeveler lets the caller hot-reload the level later (via
// Manager.OnConfigChange) without rebuilding the handler or losing the
// rotating file writer.
func SetupLogRotation(logConfig LogConfig) (*slog.Logger, *DynamicLeveler) {
	leveler := &DynamicLeveler{}
	leveler.SetLevel(ParseLevel(logConfig.Level))

	handler := NewHandler(Config{
		Level:      leveler,
		LogPath:    logConfig.File,
		MaxSizeMB:  logConfig.MaxSizeMB,
		MaxAgeDays: logConfig.MaxAgeDays,
		MaxBackups: logConfig.MaxBackups,
		Compress:   logConfig.Compress,
	})

	return slog.New(handler), leveler
}

// SetupLogRotationWithFallback is SetupLogRotation, but falls back to
// legacyLogLevel when logConfig.Level is unset, for configs written before
// the log block gained its own level field.
func SetupLogRotationWithFallback(logConfig LogConfig, legacyLogLevel string) (*slog.Logger, *DynamicLeveler) {
	if logConfig.Level == "" && legacyLogLevel != "" {
		logConfig.Level = legacyLogLevel
	}
	return SetupLogRotation(logConfig)
}
