// Package log defines the logging interface the HTTP layer logs through,
// plus its zerolog implementation. Library packages log with the global
// zerolog logger; this interface exists for request-scoped logging that
// must carry trace ids.
package log

import "context"

// Logger is a leveled, structured logger. Implementations pull the current
// trace out of ctx so request logs correlate with spans.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	With(fields map[string]any) Logger
}
