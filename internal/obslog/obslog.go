// Package obslog wraps log/slog with the request/tenant-scoped fields
// every log line needs: {requestId, tenantId, userId, code}. A
// low-ceremony, tag-prefixed style turned into structured fields so
// requestId/tenantId survive into whatever sink aggregates logs.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// Fields carries the per-request scoping attached to every log line.
type Fields struct {
	RequestID string
	TenantID  string
	UserID    string
}

var base = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// WithFields returns a context carrying the given request-scoped fields.
func WithFields(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, ctxKey{}, f)
}

func fieldsFrom(ctx context.Context) Fields {
	f, _ := ctx.Value(ctxKey{}).(Fields)
	return f
}

// From returns a logger pre-populated with the fields stashed on ctx by
// WithFields, plus an optional error code for error-path logging.
func From(ctx context.Context, code string) *slog.Logger {
	f := fieldsFrom(ctx)
	l := base
	if f.RequestID != "" {
		l = l.With("requestId", f.RequestID)
	}
	if f.TenantID != "" {
		l = l.With("tenantId", f.TenantID)
	}
	if f.UserID != "" {
		l = l.With("userId", f.UserID)
	}
	if code != "" {
		l = l.With("code", code)
	}
	return l
}

// Default returns the unscoped base logger, for startup/shutdown logging
// outside any request.
func Default() *slog.Logger { return base }
