package repository

import (
	"context"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
)

type BroadcastRepository interface {
	Save(ctx context.Context, rec *domain.BroadcastRecord) error
	// ListRecent returns the newest records first.
	ListRecent(ctx context.Context, limit int) ([]*domain.BroadcastRecord, error)
}
