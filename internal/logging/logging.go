// Package logging builds the slog logger used by the rvault command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/forest6511/rvault/internal/fsutil"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error; empty means warn
	Format string // "json" or "text"
	Output string // "stderr", "stdout", "discard" or a file path
}

// Redacted replaces the value of any attribute whose key names secret
// material.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "passphrase", "secret", "token", "mek", "kek", "plaintext"}

// New returns a logger for cfg and a function that closes any file it
// opened.
func New(cfg Config) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	closer := func() error { return nil }
	var w io.Writer
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "discard":
		return slog.New(slog.DiscardHandler), closer, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), fsutil.DirMode); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fsutil.FileMode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f.Close
	}

	return slog.New(NewHandler(w, cfg.Format, level)), closer, nil
}

// NewHandler returns a text or JSON handler that redacts sensitive keys.
func NewHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}
