package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns a production-friendly structured logger.
// No business logic should depend on logging implementation details.
func New(appEnv string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFor(appEnv)})
	return slog.New(h)
}

// NewWithCapture returns a logger whose records are additionally buffered in
// a bounded Capture, so the engine can ship recent log records to the server
// as a bundle. maxRecords bounds memory; oldest records are dropped first.
func NewWithCapture(appEnv string, maxRecords int) (*slog.Logger, *Capture) {
	c := newCapture(maxRecords)
	json := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFor(appEnv)})
	return slog.New(&captureHandler{next: json, capture: c}), c
}

func levelFor(appEnv string) slog.Level {
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
