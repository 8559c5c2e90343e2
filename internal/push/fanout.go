// Package push holds the cron-triggered fan-out jobs: daily keyword, daily
// and weekly reports, and admin broadcasts.
package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/metrics"
	"golang.org/x/time/rate"
)

type Deliverer interface {
	Deliver(ctx context.Context, target domain.Target, msg domain.Message) error
}

type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Fanout delivers one message to many targets, spacing sends so the chat
// platform's rate limits are not hit. It is safe for concurrent use; all
// callers share the same pacing.
type Fanout struct {
	deliver Deliverer
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewFanout(deliver Deliverer, interval time.Duration, logger *slog.Logger) *Fanout {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Fanout{
		deliver: deliver,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "fanout"),
	}
}

// Send attempts every target once. Per-target failures are logged and
// counted; only context cancellation stops the run early.
func (f *Fanout) Send(ctx context.Context, kind string, targets []domain.Target, msg domain.Message) (Result, error) {
	var res Result
	for _, target := range targets {
		if err := f.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := f.deliver.Deliver(ctx, target, msg); err != nil {
			f.logger.ErrorContext(ctx, "push delivery failed", "kind", kind, "target", target.Session(), "error", err)
			metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
			res.Failed++
			continue
		}
		f.logger.DebugContext(ctx, "push delivered", "kind", kind, "target", target.Session())
		metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
		res.Sent++
	}
	return res, nil
}

// dedupe keeps the first occurrence of each target.
func dedupe(targets []domain.Target) []domain.Target {
	seen := make(map[string]struct{}, len(targets))
	out := make([]domain.Target, 0, len(targets))
	for _, t := range targets {
		t = t.WithDefaults()
		if _, ok := seen[t.Session()]; ok {
			continue
		}
		seen[t.Session()] = struct{}{}
		out = append(out, t)
	}
	return out
}

// GroupTargets converts bare group ids from configuration into targets.
func GroupTargets(ids []string) []domain.Target {
	out := make([]domain.Target, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, domain.Target{Type: domain.TargetGroup, ID: id, Platform: domain.DefaultPlatform})
	}
	return out
}
