package repository

import (
	"context"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
)

// SubscriptionRepository is the single source of truth for which users get
// pushed to. Callers keep no subscription state of their own.
type SubscriptionRepository interface {
	// List returns every subscription of a feature that still has at least one target.
	List(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error)

	// Add creates the subscription or appends the target to an existing one.
	// The stored token is replaced when token is non-empty.
	// Returns domain.ErrTargetAlreadySubscribed when the target is already present.
	Add(ctx context.Context, feature domain.Feature, userID, token string, target domain.Target) error

	// Remove drops one target, or the whole subscription when target is nil.
	// A subscription whose last target is removed is deleted.
	// Returns domain.ErrSubscriptionNotFound when nothing matched.
	Remove(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) error
}

type TokenRepository interface {
	// GetActiveToken returns "" with a nil error when the user has no token bound.
	GetActiveToken(ctx context.Context, userID string) (string, error)
	SetActiveToken(ctx context.Context, userID, token string) error
}
