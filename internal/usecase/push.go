package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
	"github.com/ErlanBelekov/df-notifier/internal/scheduler"
)

type JobScheduler interface {
	AddJob(id string, fn scheduler.JobFunc, expr string) (string, error)
	RemoveJob(id string) bool
	HasJob(id string) bool
}

// TaskTracker is the part of the place task engine the use case touches.
type TaskTracker interface {
	ForgetUser(userID string)
}

// CronJob binds a cron-driven feature to its callback. A pinned job stays
// registered with no subscribers, e.g. the keyword push to configured groups.
type CronJob struct {
	Feature domain.Feature
	Cron    string
	Run     scheduler.JobFunc
	Pinned  bool
}

type PushUsecase struct {
	subs         repository.SubscriptionRepository
	tokens       repository.TokenRepository
	sched        JobScheduler
	tasks        TaskTracker
	placeEnabled bool
	jobs         map[domain.Feature]CronJob
	logger       *slog.Logger

	// mu serializes subscription changes with the job add/remove decision
	// that depends on them.
	mu sync.Mutex
}

// NewPushUsecase wires the enabled features. Cron features missing from jobs
// are treated as disabled; tasks may be nil when place tasks are disabled.
func NewPushUsecase(
	subs repository.SubscriptionRepository,
	tokens repository.TokenRepository,
	sched JobScheduler,
	tasks TaskTracker,
	jobs []CronJob,
	logger *slog.Logger,
) *PushUsecase {
	byFeature := make(map[domain.Feature]CronJob, len(jobs))
	for _, j := range jobs {
		byFeature[j.Feature] = j
	}
	return &PushUsecase{
		subs:         subs,
		tokens:       tokens,
		sched:        sched,
		tasks:        tasks,
		placeEnabled: tasks != nil,
		jobs:         byFeature,
		logger:       logger.With("component", "push_usecase"),
	}
}

func (u *PushUsecase) Enabled(feature domain.Feature) bool {
	if feature == domain.FeaturePlaceTask {
		return u.placeEnabled
	}
	_, ok := u.jobs[feature]
	return ok
}

// RegisterJobs schedules every cron feature that is pinned or already has
// subscribers. Called once at boot.
func (u *PushUsecase) RegisterJobs(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, f := range domain.Features() {
		job, ok := u.jobs[f]
		if !ok {
			continue
		}
		if !job.Pinned {
			subs, err := u.subs.List(ctx, f)
			if err != nil {
				return fmt.Errorf("list %s subscriptions: %w", f, err)
			}
			if len(subs) == 0 {
				continue
			}
		}
		if _, err := u.sched.AddJob(string(f), job.Run, job.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", f, err)
		}
	}
	return nil
}

func (u *PushUsecase) BindToken(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" || token == "" {
		return domain.ErrEmptyToken
	}
	if err := u.tokens.SetActiveToken(ctx, userID, token); err != nil {
		return fmt.Errorf("bind token: %w", err)
	}
	return nil
}

// Subscribe adds target to the user's subscription for feature. Every feature
// except the daily keyword needs a bound token.
func (u *PushUsecase) Subscribe(ctx context.Context, feature domain.Feature, userID string, target domain.Target) error {
	if !u.Enabled(feature) {
		return domain.ErrFeatureDisabled
	}
	target = target.WithDefaults()
	if err := target.Validate(); err != nil {
		return err
	}

	token, err := u.tokens.GetActiveToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("get active token: %w", err)
	}
	if token == "" && feature != domain.FeatureDailyKeyword {
		return domain.ErrNoActiveToken
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.subs.Add(ctx, feature, userID, token, target); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	u.logger.InfoContext(ctx, "subscribed", "feature", feature, "user_id", userID, "target", target.Session())

	if job, ok := u.jobs[feature]; ok && !u.sched.HasJob(string(feature)) {
		if _, err := u.sched.AddJob(string(feature), job.Run, job.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", feature, err)
		}
	}
	return nil
}

// Unsubscribe removes one target, or the whole subscription when target is
// nil. Dropping the last subscriber of an unpinned cron feature unschedules it.
func (u *PushUsecase) Unsubscribe(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) error {
	if target != nil {
		t := target.WithDefaults()
		target = &t
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.subs.Remove(ctx, feature, userID, target); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	u.logger.InfoContext(ctx, "unsubscribed", "feature", feature, "user_id", userID)

	remaining, err := u.subs.List(ctx, feature)
	if err != nil {
		return fmt.Errorf("list %s subscriptions: %w", feature, err)
	}

	if feature == domain.FeaturePlaceTask && u.tasks != nil && !hasUser(remaining, userID) {
		u.tasks.ForgetUser(userID)
	}
	if job, ok := u.jobs[feature]; ok && !job.Pinned && len(remaining) == 0 {
		u.sched.RemoveJob(string(feature))
	}
	return nil
}

func (u *PushUsecase) Subscriptions(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error) {
	subs, err := u.subs.List(ctx, feature)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func hasUser(subs []*domain.Subscription, userID string) bool {
	for _, s := range subs {
		if s.UserID == userID {
			return true
		}
	}
	return false
}
