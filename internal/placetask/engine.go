package placetask

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/clock"
	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/metrics"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
	"github.com/ErlanBelekov/df-notifier/internal/requestid"
)

const (
	completionText = "Your %s has finished production!"
	expiredText    = "Your game login has expired, so production notifications are paused. Log in again to resume them."
)

// PlaceAPI is satisfied by *dfapi.Client.
type PlaceAPI interface {
	PlaceStatus(ctx context.Context, token string) ([]dfapi.Place, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, target domain.Target, msg domain.Message) error
}

type Config struct {
	SyncInterval time.Duration
	FireInterval time.Duration
	// UserDelay is the pause between two users within one sync cycle.
	UserDelay time.Duration
}

// Engine keeps an in-memory table of crafting tasks in step with the remote
// facility state and fires one notification per finished task. The task
// table and the expired-login markers live only for the process lifetime.
type Engine struct {
	api     PlaceAPI
	subs    repository.SubscriptionRepository
	tokens  repository.TokenRepository
	deliver Deliverer
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[domain.TaskKey]domain.CraftingTask
	expired map[string]struct{}
	// forgotten holds users dropped by ForgetUser during the current sync
	// cycle, so a poll already in flight for them is discarded.
	forgotten map[string]struct{}
}

func NewEngine(
	api PlaceAPI,
	subs repository.SubscriptionRepository,
	tokens repository.TokenRepository,
	deliver Deliverer,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		api:     api,
		subs:    subs,
		tokens:  tokens,
		deliver: deliver,
		cfg:     cfg,
		logger:  logger.With("component", "place_task"),
		now:     time.Now,
		tasks:   make(map[domain.TaskKey]domain.CraftingTask),
		expired: make(map[string]struct{}),

		forgotten: make(map[string]struct{}),
	}
}

// SetClock replaces the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run drives the sync and fire loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("place task engine started",
		"sync_interval", e.cfg.SyncInterval,
		"fire_interval", e.cfg.FireInterval,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.loop(ctx, "place_sync", e.cfg.SyncInterval, func(ctx context.Context) {
			if err := e.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "sync cycle failed", "error", err)
			}
		})
	}()
	go func() {
		defer wg.Done()
		e.loop(ctx, "place_fire", e.cfg.FireInterval, func(ctx context.Context) {
			e.FireOnce(ctx)
		})
	}()
	wg.Wait()

	e.logger.Info("place task engine shut down")
}

// loop runs tick immediately and then on every interval. A panicking tick is
// logged and the loop carries on with the next one.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.safeTick(ctx, name, tick)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) safeTick(ctx context.Context, name string, tick func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "loop tick panicked", "loop", name, "panic", r)
			metrics.LoopRestartsTotal.WithLabelValues(name).Inc()
		}
	}()
	tick(requestid.NewRun(ctx))
}

// SyncOnce polls every place-task subscriber in turn and reconciles the task
// table against what the remote side reports. A failure for one user never
// stops the cycle.
func (e *Engine) SyncOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.SyncCycleDuration.Observe(time.Since(start).Seconds()) }()

	e.mu.Lock()
	clear(e.forgotten)
	e.mu.Unlock()

	subs, err := e.subs.List(ctx, domain.FeaturePlaceTask)
	if err != nil {
		return fmt.Errorf("list place task subscriptions: %w", err)
	}
	e.dropUnsubscribed(subs)

	for i, sub := range subs {
		if i > 0 {
			if err := clock.Sleep(ctx, e.cfg.UserDelay); err != nil {
				return err
			}
		}
		e.syncUser(ctx, sub)
	}

	e.logger.DebugContext(ctx, "sync cycle done", "users", len(subs), "tracked", e.trackedCount())
	return nil
}

func (e *Engine) syncUser(ctx context.Context, sub *domain.Subscription) {
	log := e.logger.With("user_id", sub.UserID)

	if len(sub.Targets) == 0 {
		return
	}
	token := e.resolveToken(ctx, sub)
	if token == "" {
		log.WarnContext(ctx, "no token bound, skipping user")
		metrics.SyncUsersTotal.WithLabelValues("no_token").Inc()
		return
	}

	places, err := e.api.PlaceStatus(ctx, token)
	switch {
	case errors.Is(err, dfapi.ErrAuthExpired):
		log.InfoContext(ctx, "login expired")
		metrics.SyncUsersTotal.WithLabelValues("auth_expired").Inc()
		e.handleExpired(ctx, sub)
		return
	case err != nil:
		log.WarnContext(ctx, "place status failed, skipping user this cycle", "error", err)
		metrics.SyncUsersTotal.WithLabelValues("error").Inc()
		return
	}

	if !e.reconcile(sub, places) {
		log.DebugContext(ctx, "user unsubscribed during poll, discarding result")
		return
	}
	metrics.SyncUsersTotal.WithLabelValues("ok").Inc()
}

// resolveToken prefers the user's currently bound token over the one stored
// when they subscribed.
func (e *Engine) resolveToken(ctx context.Context, sub *domain.Subscription) string {
	if e.tokens == nil {
		return sub.Token
	}
	token, err := e.tokens.GetActiveToken(ctx, sub.UserID)
	if err != nil {
		e.logger.WarnContext(ctx, "get active token", "user_id", sub.UserID, "error", err)
		return sub.Token
	}
	if token == "" {
		return sub.Token
	}
	return token
}

// reconcile rebuilds the user's part of the table from places. Entries that
// the poll no longer confirms are dropped without a notification. It reports
// false when the user was forgotten while the poll was in flight.
func (e *Engine) reconcile(sub *domain.Subscription, places []dfapi.Place) bool {
	now := e.now()
	seen := make(map[string]struct{}, len(places))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.forgotten[sub.UserID]; ok {
		return false
	}

	delete(e.expired, sub.UserID)

	for _, p := range places {
		if !p.Producing {
			continue
		}
		seen[p.ID] = struct{}{}
		task := domain.CraftingTask{
			UserID:     sub.UserID,
			PlaceID:    p.ID,
			ObjectName: p.ObjectName,
			FinishTime: now.Add(p.LeftTime),
			Targets:    slices.Clone(sub.Targets),
		}
		e.tasks[task.Key()] = task
	}

	for key := range e.tasks {
		if key.UserID != sub.UserID {
			continue
		}
		if _, ok := seen[key.PlaceID]; !ok {
			delete(e.tasks, key)
		}
	}
	metrics.TrackedTasks.Set(float64(len(e.tasks)))
	return true
}

// handleExpired notifies the user once per expiry episode.
func (e *Engine) handleExpired(ctx context.Context, sub *domain.Subscription) {
	e.mu.Lock()
	_, notified := e.expired[sub.UserID]
	_, forgotten := e.forgotten[sub.UserID]
	if !forgotten {
		e.expired[sub.UserID] = struct{}{}
	}
	e.mu.Unlock()

	if notified || forgotten {
		return
	}
	e.deliverAll(ctx, "token_expired", sub.Targets, domain.Message{
		Text:          expiredText,
		MentionUserID: sub.UserID,
	})
}

func (e *Engine) dropUnsubscribed(subs []*domain.Subscription) {
	active := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		active[s.UserID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.tasks {
		if _, ok := active[key.UserID]; !ok {
			delete(e.tasks, key)
		}
	}
	for user := range e.expired {
		if _, ok := active[user]; !ok {
			delete(e.expired, user)
		}
	}
	metrics.TrackedTasks.Set(float64(len(e.tasks)))
}

// FireOnce delivers every due task and returns how many fired. Due tasks are
// removed from the table before delivery, so a task is attempted at most once
// no matter how delivery goes.
func (e *Engine) FireOnce(ctx context.Context) int {
	now := e.now()

	e.mu.Lock()
	var due []domain.CraftingTask
	for key, task := range e.tasks {
		if task.Due(now) {
			due = append(due, task)
			delete(e.tasks, key)
		}
	}
	metrics.TrackedTasks.Set(float64(len(e.tasks)))
	e.mu.Unlock()

	slices.SortFunc(due, func(a, b domain.CraftingTask) int { return a.FinishTime.Compare(b.FinishTime) })

	for _, task := range due {
		e.logger.InfoContext(ctx, "crafting task finished",
			"user_id", task.UserID,
			"place_id", task.PlaceID,
			"object", task.ObjectName,
		)
		e.deliverAll(ctx, "place_complete", task.Targets, domain.Message{
			Text:          fmt.Sprintf(completionText, task.ObjectName),
			MentionUserID: task.UserID,
		})
	}
	return len(due)
}

func (e *Engine) deliverAll(ctx context.Context, kind string, targets []domain.Target, msg domain.Message) {
	for _, target := range targets {
		if err := e.deliver.Deliver(ctx, target, msg); err != nil {
			e.logger.ErrorContext(ctx, "notification delivery failed",
				"kind", kind,
				"target", target.Session(),
				"error", err,
			)
			metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	}
}

// ForgetUser drops the user's tasks and expiry marker immediately.
func (e *Engine) ForgetUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.tasks {
		if key.UserID == userID {
			delete(e.tasks, key)
		}
	}
	delete(e.expired, userID)
	e.forgotten[userID] = struct{}{}
	metrics.TrackedTasks.Set(float64(len(e.tasks)))
}

// Tasks returns a copy of the table ordered by finish time.
func (e *Engine) Tasks() []domain.CraftingTask {
	e.mu.Lock()
	out := make([]domain.CraftingTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.CraftingTask) int {
		return cmp.Or(
			a.FinishTime.Compare(b.FinishTime),
			strings.Compare(a.UserID, b.UserID),
			strings.Compare(a.PlaceID, b.PlaceID),
		)
	})
	return out
}

// ExpiredUsers lists users currently marked as having an expired login.
func (e *Engine) ExpiredUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.expired))
	for u := range e.expired {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

func (e *Engine) trackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}
