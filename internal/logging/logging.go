// Package logging provides structured logging for the loop engine using
// slog, following the pattern of the teacher's internal/logging package:
// a JSON file logger and a human-readable console logger, both backed by
// a shared dynamic level, with log rotation via lumberjack.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	loggerMu         sync.RWMutex
	initOnce         sync.Once
	currentLevel     = new(slog.LevelVar)
)

// Config controls where and how logs are written.
type Config struct {
	Dir        string // directory holding rotated log files, default "logs"
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

func defaultConfig() Config {
	return Config{Dir: "logs", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28, Level: slog.LevelInfo}
}

func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	return a
}

// Init sets up the global structured and console loggers. Safe to call once;
// subsequent calls are no-ops.
func Init(cfg Config) {
	initOnce.Do(func() {
		if cfg.Dir == "" {
			cfg = defaultConfig()
		}
		currentLevel.Set(cfg.Level)

		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to create log directory: %v\n", err)
		}

		lj := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "looper.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}

		jsonHandler := slog.NewJSONHandler(lj, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})
		textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(jsonHandler)
		consoleLogger = slog.New(textHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)
	})
}

// SetLevel adjusts the level shared by both loggers at runtime.
func SetLevel(level slog.Level) { currentLevel.Set(level) }

// ForService returns a logger tagged with a "service" attribute, falling
// back to slog.Default() if Init has not run (e.g. in unit tests).
func ForService(name string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("service", name)
}

// Console returns the human-readable logger, or slog.Default() if unset.
func Console() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if consoleLogger == nil {
		return slog.Default()
	}
	return consoleLogger
}
