package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fieldforge/nvlbridge/internal/infrastructure/config"
)

// serviceName tags every log record so aggregated logs from several
// daemons on the same host stay attributable.
const serviceName = "nvlbridge"

// Logger is the bridge's structured logger, a thin wrapper over slog.
//
// Every record carries the service name and version as default fields.
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration.
//
// Format selects the handler: "text" gives human-readable output for a
// terminal, anything else JSON for log shippers. Output selects the
// destination ("stderr" or stdout). Records below the configured level
// are dropped at the handler.
//
// Parameters:
//   - cfg: The logging configuration section
//   - version: Build version, attached to every record
//
// Returns:
//   - *Logger: Ready to use
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg, destination(cfg.Output))

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// destination maps the configured output name to a writer.
// Unrecognised names fall back to stdout.
func destination(name string) io.Writer {
	if strings.ToLower(name) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// newHandler builds the slog handler for the configured format and level.
func newHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps a level name to its slog.Level.
// Accepts debug, info, warn/warning and error, case-insensitively;
// anything else reads as info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger carrying extra default attributes.
//
// Used to tag a subsystem's records once instead of on every call:
//
//	lsnLog := logger.With("component", "listener")
//	lsnLog.Info("socket bound", "port", 1202) // includes component=listener
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns the bootstrap logger used before configuration is
// loaded: JSON to stdout at info level, version "dev". Startup errors
// that happen before config parsing land here.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
