package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jgoulah/flumescraper/internal/config"
)

// LogFileName is the rotated log file written under LogConfig.Dir
const LogFileName = "flumescraper.log"

// ParseLevel maps a config level name to a slog level (default info)
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds the process logger. Output goes to stderr and, when cfg.Dir is
// set, also to a rotated file. The returned closer releases the file.
func New(cfg config.LogConfig, debug bool) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		level = slog.LevelDebug
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		color            = isatty.IsTerminal(os.Stderr.Fd())
	)
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogFileName),
			MaxSize:    orDefault(cfg.MaxSizeMB, 10), // megabytes
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30), // days
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stderr, file)
		closer = file
		color = false
	}

	return slog.New(NewHandler(w, cfg.Format, level, color)), closer, nil
}

// NewHandler returns a JSON handler for format "json" and a tint handler otherwise
func NewHandler(w io.Writer, format string, level slog.Level, color bool) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !color,
	})
}

// MaskSecret keeps a short prefix of a token or password for log lines
func MaskSecret(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "***"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
