package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hupe1980/bcache"
	"github.com/hupe1980/bcache/internal/config"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// newLogger logs JSON to a rotating file when one is configured and to
// fallback otherwise. The returned closer flushes the file.
func newLogger(cfg config.Config, fallback io.Writer) (*bcache.Logger, io.Closer, error) {
	level := parseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return bcache.NewJSONLogger(fallback, level), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    64, // megabytes
		MaxBackups: 3,
		Compress:   true,
		LocalTime:  true,
	}
	return bcache.NewJSONLogger(rotator, level), rotator, nil
}
