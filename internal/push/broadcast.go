package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
)

const (
	KindBroadcast   = "broadcast"
	broadcastHeader = "System notice\n\n"
)

// Broadcaster sends admin notices to groups and keeps a history of them.
type Broadcaster struct {
	admins   map[string]struct{}
	defaults []domain.Target
	repo     repository.BroadcastRepository
	fanout   *Fanout
	now      func() time.Time
	logger   *slog.Logger
}

func NewBroadcaster(admins, defaultGroups []string, repo repository.BroadcastRepository, fanout *Fanout, logger *slog.Logger) *Broadcaster {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &Broadcaster{
		admins:   set,
		defaults: GroupTargets(defaultGroups),
		repo:     repo,
		fanout:   fanout,
		now:      time.Now,
		logger:   logger.With("component", "broadcast"),
	}
}

func (b *Broadcaster) IsAdmin(userID string) bool {
	_, ok := b.admins[userID]
	return ok
}

// Broadcast sends message to groups, or to the configured default groups
// when groups is empty. The returned record is persisted even when every
// send failed.
func (b *Broadcaster) Broadcast(ctx context.Context, senderID, message string, groups []string) (*domain.BroadcastRecord, error) {
	if !b.IsAdmin(senderID) {
		return nil, domain.ErrNotBroadcastAdmin
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.ErrEmptyBroadcast
	}

	targets := dedupe(GroupTargets(groups))
	if len(targets) == 0 {
		targets = b.defaults
	}
	if len(targets) == 0 {
		return nil, domain.ErrNoBroadcastTargets
	}

	res, err := b.fanout.Send(ctx, KindBroadcast, targets, domain.Message{Text: broadcastHeader + message})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	rec := &domain.BroadcastRecord{
		SenderID:     senderID,
		Message:      message,
		Targets:      ids,
		SuccessCount: res.Sent,
		FailCount:    res.Failed,
		CreatedAt:    b.now().UTC(),
	}
	if err := b.repo.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("save broadcast history: %w", err)
	}

	b.logger.InfoContext(ctx, "broadcast sent", "sender_id", senderID, "sent", res.Sent, "failed", res.Failed)
	return rec, nil
}

func (b *Broadcaster) History(ctx context.Context, limit int) ([]*domain.BroadcastRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return b.repo.ListRecent(ctx, limit)
}
