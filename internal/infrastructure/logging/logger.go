package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/wattwise/wattsync/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "wattsync"

// tokenPrefixLen is how much of a credential RedactToken keeps.
const tokenPrefixLen = 6

// Logger wraps slog.Logger with WattSync default fields.
//
// Every entry carries service=wattsync and the build version, so logs from
// several agents on one host can be told apart.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - With returns an independent Logger; the parent is not modified.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the output named in cfg.
//
// Parameters:
//   - cfg: Level (debug/info/warn/error), format (json/text), output
//     (stdout/stderr)
//   - version: Build version attached to every entry
//
// Returns:
//   - *Logger: Configured logger ready for use
//
// Example:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("wattsync starting", "house_id", houseID)
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(output, cfg, version)
}

// NewWithWriter creates a Logger writing to w. Output in cfg is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	// Add default attributes
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
//
//	subLog := logger.With("component", "subscriber")
//	subLog.Info("connected") // Includes component=subscriber
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON at info level to stdout.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// RedactToken returns a log-safe form of a credential.
//
// Parameters:
//   - token: A bearer credential or empty string
//
// Returns:
//   - string: The first six characters plus "...", "***" for short
//     tokens, or "" for an empty one
//
// Example:
//
//	log.Info("session restored", "token", logging.RedactToken(token))
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= tokenPrefixLen {
		return "***"
	}
	return token[:tokenPrefixLen] + "..."
}
