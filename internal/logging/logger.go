// Package logging builds the daemon's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jawad360/phone-detox/internal/config"
)

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// EncoderConfig is the production JSON encoding with ISO8601 timestamps.
func EncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// New builds the daemon logger. With cfg.Path set it writes JSON to a
// lumberjack-rotated file; otherwise console output goes to stderr.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var core zapcore.Core
	if cfg.Path == "" {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), sink, level)
	}

	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

// NewOrFallback is New, falling back to a stderr production logger so
// the daemon never starts without logging.
func NewOrFallback(cfg config.LogConfig) *zap.Logger {
	logger, err := New(cfg)
	if err == nil {
		return logger
	}
	fallback, _ := zap.NewProduction()
	fallback.Warn("log config rejected, using stderr", zap.Error(err))
	return fallback
}

// NewCLI returns a console logger for interactive commands.
func NewCLI(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
