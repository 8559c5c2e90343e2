package requestid

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestKey struct{}
	runKey     struct{}
)

// New generates a random UUID v4 id.
func New() string {
	return uuid.NewString()
}

// WithRequestID returns a copy of ctx with the request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}

// WithRunID tags ctx with the id of one background run: a sync cycle, a fire
// tick or a cron job execution.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// NewRun is WithRunID with a fresh id.
func NewRun(ctx context.Context) context.Context {
	return WithRunID(ctx, New())
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}
