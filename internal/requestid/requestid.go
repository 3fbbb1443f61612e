// Package requestid attaches correlation IDs to a context so the logging
// handler can stamp every record touched by one HTTP dispatch, scheduler
// run, or planner session with the same identifier.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type requestKeyT struct{}
type runKeyT struct{}
type sessionKeyT struct{}

// New generates a random UUID v4, used for request, run, and session
// correlation IDs alike.
func New() string {
	return uuid.NewString()
}

// WithRequestID attaches an outbound-dispatch correlation ID, the one the
// dispatcher also sets as the X-Request-ID header on the endpoint call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKeyT{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestKeyT{}).(string)
	return id
}

// WithRunID attaches a scheduler run's ID so every log line emitted while
// that run is in flight — including the dispatcher's own request-tagged
// lines — can be traced back to the run row.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKeyT{}, id)
}

// RunIDFromContext extracts the run ID from ctx. Returns "" if absent.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runKeyT{}).(string)
	return id
}

// WithSessionID attaches a planner session's ID so every log line emitted
// during that session's tool loop can be traced back to the session row.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKeyT{}, id)
}

// SessionIDFromContext extracts the session ID from ctx. Returns "" if absent.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKeyT{}).(string)
	return id
}
