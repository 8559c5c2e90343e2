package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
)

const KindDailyKeyword = "daily_keyword"

var ErrNoKeywords = errors.New("no keywords returned")

type KeywordAPI interface {
	DailyKeyword(ctx context.Context) ([]dfapi.Keyword, error)
}

// KeywordJob fetches the day's door codes once and sends them to every
// configured group plus every daily_keyword subscriber target.
type KeywordJob struct {
	api    KeywordAPI
	subs   repository.SubscriptionRepository
	fanout *Fanout
	groups []domain.Target
	logger *slog.Logger
}

func NewKeywordJob(api KeywordAPI, subs repository.SubscriptionRepository, fanout *Fanout, groups []string, logger *slog.Logger) *KeywordJob {
	return &KeywordJob{
		api:    api,
		subs:   subs,
		fanout: fanout,
		groups: GroupTargets(groups),
		logger: logger.With("component", "daily_keyword"),
	}
}

func (j *KeywordJob) Run(ctx context.Context) error {
	targets, err := j.targets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		j.logger.InfoContext(ctx, "no targets configured, skipping")
		return nil
	}

	kws, err := j.api.DailyKeyword(ctx)
	if err != nil {
		return fmt.Errorf("fetch daily keyword: %w", err)
	}
	if len(kws) == 0 {
		return ErrNoKeywords
	}

	res, err := j.fanout.Send(ctx, KindDailyKeyword, targets, domain.Message{Text: FormatKeywords(kws)})
	if err != nil {
		return err
	}
	j.logger.InfoContext(ctx, "daily keyword pushed", "sent", res.Sent, "failed", res.Failed)
	return nil
}

func (j *KeywordJob) targets(ctx context.Context) ([]domain.Target, error) {
	subs, err := j.subs.List(ctx, domain.FeatureDailyKeyword)
	if err != nil {
		return nil, fmt.Errorf("list keyword subscriptions: %w", err)
	}
	all := append([]domain.Target(nil), j.groups...)
	for _, s := range subs {
		all = append(all, s.Targets...)
	}
	return dedupe(all), nil
}
