package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/clock"
	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
)

type ReportKind int

const (
	DailyReport ReportKind = iota
	WeeklyReport
)

func (k ReportKind) Feature() domain.Feature {
	if k == WeeklyReport {
		return domain.FeatureWeeklyReport
	}
	return domain.FeatureDailyReport
}

func (k ReportKind) String() string { return string(k.Feature()) }

type ReportAPI interface {
	DailyRecord(ctx context.Context, token string, date time.Time) (*dfapi.DailyRecord, error)
	WeeklyRecord(ctx context.Context, token string) (*dfapi.WeeklyRecord, error)
	PersonalInfo(ctx context.Context, token string) (string, error)
}

// Renderer turns report data into an image. Reports fall back to plain text
// when it is nil or fails.
type Renderer interface {
	Render(ctx context.Context, template string, data any) ([]byte, error)
}

type ReportJob struct {
	kind      ReportKind
	api       ReportAPI
	subs      repository.SubscriptionRepository
	tokens    repository.TokenRepository
	fanout    *Fanout
	renderer  Renderer
	userDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type ReportJobConfig struct {
	UserDelay time.Duration
	Renderer  Renderer
	Location  *time.Location
}

func NewReportJob(
	kind ReportKind,
	api ReportAPI,
	subs repository.SubscriptionRepository,
	tokens repository.TokenRepository,
	fanout *Fanout,
	cfg ReportJobConfig,
	logger *slog.Logger,
) *ReportJob {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &ReportJob{
		kind:      kind,
		api:       api,
		subs:      subs,
		tokens:    tokens,
		fanout:    fanout,
		renderer:  cfg.Renderer,
		userDelay: cfg.UserDelay,
		now:       func() time.Time { return time.Now().In(loc) },
		logger:    logger.With("component", kind.String()),
	}
}

// SetClock replaces the time source. Intended for tests.
func (j *ReportJob) SetClock(now func() time.Time) {
	j.now = now
}

// Run sends one report per subscriber to that subscriber's group targets.
// A failing user is logged and skipped.
func (j *ReportJob) Run(ctx context.Context) error {
	subs, err := j.subs.List(ctx, j.kind.Feature())
	if err != nil {
		return fmt.Errorf("list %s subscriptions: %w", j.kind, err)
	}

	var total Result
	first := true
	for _, sub := range subs {
		targets := sub.GroupTargets()
		if len(targets) == 0 {
			continue
		}
		if !first {
			if err := clock.Sleep(ctx, j.userDelay); err != nil {
				return err
			}
		}
		first = false

		res, err := j.runUser(ctx, sub, targets)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logger.WarnContext(ctx, "report skipped", "user_id", sub.UserID, "error", err)
			continue
		}
		total.Sent += res.Sent
		total.Failed += res.Failed
	}

	j.logger.InfoContext(ctx, "reports pushed", "users", len(subs), "sent", total.Sent, "failed", total.Failed)
	return nil
}

var errNoData = errors.New("no record data")

func (j *ReportJob) runUser(ctx context.Context, sub *domain.Subscription, targets []domain.Target) (Result, error) {
	token := sub.Token
	if j.tokens != nil {
		if active, err := j.tokens.GetActiveToken(ctx, sub.UserID); err == nil && active != "" {
			token = active
		}
	}
	if token == "" {
		return Result{}, domain.ErrNoActiveToken
	}

	var (
		template string
		data     any
		text     func(name string) string
	)
	switch j.kind {
	case WeeklyReport:
		rec, err := j.api.WeeklyRecord(ctx, token)
		if err != nil {
			return Result{}, fmt.Errorf("weekly record: %w", err)
		}
		if rec.Empty() {
			return Result{}, errNoData
		}
		template, data = "weekly_report", rec
		text = func(name string) string { return FormatWeekly(name, rec) }
	default:
		yesterday := j.now().AddDate(0, 0, -1)
		rec, err := j.api.DailyRecord(ctx, token, yesterday)
		if err != nil {
			return Result{}, fmt.Errorf("daily record: %w", err)
		}
		if rec.Empty() {
			return Result{}, errNoData
		}
		template, data = "daily_report", rec
		text = func(name string) string { return FormatDaily(name, rec) }
	}

	name := j.playerName(ctx, token, sub.UserID)
	msg := domain.Message{Text: text(name)}
	if j.renderer != nil {
		img, err := j.renderer.Render(ctx, template, data)
		if err == nil && len(img) > 0 {
			msg.Image = img
		} else {
			j.logger.WarnContext(ctx, "render failed, sending text", "template", template, "error", err)
		}
	}

	return j.fanout.Send(ctx, j.kind.String(), targets, msg)
}

func (j *ReportJob) playerName(ctx context.Context, token, fallback string) string {
	name, err := j.api.PersonalInfo(ctx, token)
	if err != nil || name == "" {
		return fallback
	}
	return name
}
