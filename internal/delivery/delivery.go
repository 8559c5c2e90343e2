// Package delivery sends chat notifications to their targets.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
)

var ErrNoRoute = errors.New("no deliverer for platform")

// Deliverer sends one message to one target. Implementations must be safe
// for concurrent use with different targets.
type Deliverer interface {
	Deliver(ctx context.Context, target domain.Target, msg domain.Message) error
}

// Router picks a Deliverer by Target.Platform, falling back to a default
// when no route matches.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Deliverer
	fallback Deliverer
}

func NewRouter(fallback Deliverer) *Router {
	return &Router{routes: make(map[string]Deliverer), fallback: fallback}
}

func (r *Router) Handle(platform string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[platform] = d
}

func (r *Router) Deliver(ctx context.Context, target domain.Target, msg domain.Message) error {
	target = target.WithDefaults()
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: %s", err, target.Session())
	}

	r.mu.RLock()
	d, ok := r.routes[target.Platform]
	r.mu.RUnlock()
	if !ok {
		d = r.fallback
	}
	if d == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, target.Platform)
	}
	return d.Deliver(ctx, target, msg)
}

// LogDeliverer writes messages to the log instead of sending them. Used for
// ENV=local and as the fallback for unknown platforms.
type LogDeliverer struct {
	logger *slog.Logger
}

func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger.With("component", "log_deliverer")}
}

func (d *LogDeliverer) Deliver(ctx context.Context, target domain.Target, msg domain.Message) error {
	d.logger.InfoContext(ctx, "notification (not sent)",
		"target", target.Session(),
		"mention", msg.MentionUserID,
		"text", msg.Text,
		"image_bytes", len(msg.Image),
	)
	return nil
}
