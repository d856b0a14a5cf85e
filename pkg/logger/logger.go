// Package logger builds the process slog.Logger from logging config and
// RELAYBOT_LOG_* environment overrides.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	charmLog "github.com/charmbracelet/log"

	"relaybot/pkg/config"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	defaultFormat = FormatText
	defaultLevel  = "info"
)

// overrides mirrors the environment knobs that win over the config file.
type overrides struct {
	Format    string `env:"RELAYBOT_LOG_FORMAT"`
	Level     string `env:"RELAYBOT_LOG_LEVEL"`
	AddSource *bool  `env:"RELAYBOT_LOG_ADD_SOURCE"`
}

// New returns a logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	resolved, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	level, err := parseLevel(resolved.Level)
	if err != nil {
		return nil, err
	}

	if resolved.Format == FormatText {
		pretty := charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			ReportCaller:    resolved.AddSource,
			Formatter:       charmLog.TextFormatter,
			Prefix:          "relaybot",
		})
		return slog.New(pretty), nil
	}

	return slog.New(&entryHandler{
		level:     level,
		addSource: resolved.AddSource,
		writer:    writer,
		mu:        &sync.Mutex{},
	}), nil
}

// resolve merges env overrides into cfg and normalizes format and level.
func resolve(cfg config.LoggingConfig) (config.LoggingConfig, error) {
	var vars overrides
	if err := env.Parse(&vars); err != nil {
		return cfg, fmt.Errorf("parse logging env: %w", err)
	}

	if value := strings.TrimSpace(vars.Format); value != "" {
		cfg.Format = value
	}
	if value := strings.TrimSpace(vars.Level); value != "" {
		cfg.Level = value
	}
	if vars.AddSource != nil {
		cfg.AddSource = *vars.AddSource
	}

	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.Format != FormatJSON && cfg.Format != FormatText {
		return cfg, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	cfg.Level = strings.ToLower(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		cfg.Level = defaultLevel
	}

	return cfg, nil
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseLevel(text string) (slog.Level, error) {
	switch text {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
}
