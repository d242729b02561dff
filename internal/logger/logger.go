// Package logger configures the process-wide slog logger: JSON to stdout,
// with warnings and errors also forwarded to Sentry when a DSN is set.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// Config controls log output.
type Config struct {
	Level             string
	SentryDSN         string
	SentryEnvironment string
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
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

// New builds a JSON logger writing to w. When cfg.SentryDSN is set and the
// SDK initializes, records are also sent to Sentry: errors as issues,
// warnings and errors as logs.
func New(w io.Writer, cfg Config) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	if cfg.SentryDSN == "" {
		return slog.New(jsonHandler)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		EnableLogs:  true,
	}); err != nil {
		slog.New(jsonHandler).Error("failed to initialize Sentry", "error", err)
		return slog.New(jsonHandler)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(newMultiHandler(jsonHandler, sentryHandler))
}

// Flush waits up to timeout for buffered Sentry events to be sent. It is
// a no-op when Sentry was never initialized.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
