// Package logger builds the structured slog logger used across the progress
// service and carries it through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New.
type Options struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Format is json (production) or text (development).
	Format Format

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource adds file:line to every record.
	AddSource bool

	// Service is attached to every record when set.
	Service string
}

// ParseLevel parses a level name. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New creates a logger from options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	return log
}

// Setup creates a logger and installs it as the slog default.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext stores the logger in ctx.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	return slog.Default()
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

// UserID returns the user id attribute.
func UserID(id string) slog.Attr { return slog.String("user_id", id) }

// Token returns the idempotency token attribute.
func Token(token string) slog.Attr { return slog.String("token", token) }

// Source returns the event source attribute.
func Source(source string) slog.Attr { return slog.String("source", source) }

// Action returns the event action attribute.
func Action(action string) slog.Attr { return slog.String("action", action) }

// XP returns an XP amount attribute.
func XP(amount int) slog.Attr { return slog.Int("xp", amount) }

// Level returns a level attribute.
func Level(level int) slog.Attr { return slog.Int("level", level) }

// AchievementID returns the achievement id attribute.
func AchievementID(id string) slog.Attr { return slog.String("achievement_id", id) }

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr { return slog.String("component", name) }

// Operation names the operation being performed.
func Operation(name string) slog.Attr { return slog.String("operation", name) }

// Latency returns a duration attribute in milliseconds.
func Latency(d time.Duration) slog.Attr { return slog.Int64("latency_ms", d.Milliseconds()) }

// Err returns the error attribute. A nil error yields an empty attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
