// Package observability provides structured logging for caupolican's
// relay daemon: per-channel worker loggers, credential redaction for
// upstream source URLs, and runtime log-level control for the CLI and
// control-plane HTTP surface.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/fifthbell/caupolican/internal/config"
	"github.com/m-mizutani/masq"
)

// urlSensitiveParamPattern matches credential-bearing query parameters
// that can appear in a set_source upstream URL (e.g.
// rtmp://host/live?token=... or http://host/playlist.m3u8?password=...).
var urlSensitiveParamPattern = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|credential)=([^&\s"']+)`)

// GlobalLogLevel is the shared log level, adjustable at runtime and
// surfaced by the control-plane health endpoint.
var GlobalLogLevel = &slog.LevelVar{}

// NewLogger builds the process-wide slog.Logger from cfg, writing to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// sensitiveFieldRedactor redacts credential-shaped attribute names
// (password, secret, token, apikey, credential) from every log record.
func sensitiveFieldRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("ApiKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("Credential"),
	)
}

// redactURLParams scrubs credential-shaped query parameters out of a
// string value, which is how a leaked upstream source URL would show up
// in a log line (the URL itself, not a dedicated "password" field).
func redactURLParams(s string) string {
	return urlSensitiveParamPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// NewLoggerWithWriter builds a logger writing to w, honoring cfg.Level,
// cfg.Format ("json" or "text"), cfg.AddSource, and cfg.TimeFormat. Every
// record passes through sensitiveFieldRedactor and redactURLParams so a
// live stream URL with embedded credentials never reaches the log sink
// unredacted.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	GlobalLogLevel.Set(parseLevel(cfg.Level))

	redactor := sensitiveFieldRedactor()

	opts := &slog.HandlerOptions{
		Level:     GlobalLogLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)

			if a.Value.Kind() == slog.KindString {
				if redacted := redactURLParams(a.Value.String()); redacted != a.Value.String() {
					a = slog.String(a.Key, redacted)
				}
			}

			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a config level string to slog.Level, defaulting
// to info for anything unrecognized.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes GlobalLogLevel at runtime. Valid levels: debug,
// info, warn, error.
func SetLogLevel(level string) {
	GlobalLogLevel.Set(parseLevel(level))
}

// GetLogLevel returns the current log level as a string, surfaced by
// the control-plane health endpoint (internal/httpapi).
func GetLogLevel() string {
	switch {
	case GlobalLogLevel.Level() <= slog.LevelDebug:
		return "debug"
	case GlobalLogLevel.Level() <= slog.LevelInfo:
		return "info"
	case GlobalLogLevel.Level() <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// WithChannel returns logger scoped to a single channel worker instance,
// attached once at worker construction and carried through every tick
// and control-operation log line that worker emits.
func WithChannel(logger *slog.Logger, channelID, instanceID string) *slog.Logger {
	return logger.With(slog.String("channel", channelID), slog.String("instance", instanceID))
}
