// Package util provides utility functions used throughout RustPanel.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory.
const LogFileName = "rustpanel.log"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with a rotating JSON file
// and optional console output. The returned closer flushes the file.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	return initLogger(cfg, os.Stdout)
}

func initLogger(cfg LogConfig, console io.Writer) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFilePath := filepath.Join(cfg.Directory, LogFileName)
	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}

	// File writer (JSON format for machine parsing)
	writers := []io.Writer{rotator}

	if cfg.Console && console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Str("app", "rustpanel").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	return rotator, nil
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
