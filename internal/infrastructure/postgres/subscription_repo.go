package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) List(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT feature, user_id, token, targets, updated_at
		FROM push_subscriptions
		WHERE feature = $1 AND jsonb_array_length(targets) > 0
		ORDER BY user_id`, feature)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepository) Add(ctx context.Context, feature domain.Feature, userID, token string, target domain.Target) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// The placeholder row gives FOR UPDATE something to lock when this is the
	// user's first target; List ignores rows with no targets.
	if _, err = tx.Exec(ctx, `
		INSERT INTO push_subscriptions (feature, user_id)
		VALUES ($1, $2)
		ON CONFLICT (feature, user_id) DO NOTHING`,
		feature, userID,
	); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	sub, err := lockSubscription(ctx, tx, feature, userID)
	if err != nil {
		return err
	}

	if slices.ContainsFunc(sub.Targets, target.Same) {
		return domain.ErrTargetAlreadySubscribed
	}
	sub.Targets = append(sub.Targets, target)
	if token != "" {
		sub.Token = token
	}

	if _, err = tx.Exec(ctx, `
		UPDATE push_subscriptions
		SET token = $3, targets = $4, updated_at = NOW()
		WHERE feature = $1 AND user_id = $2`,
		feature, userID, sub.Token, sub.Targets,
	); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Remove(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) (err error) {
	if target == nil {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM push_subscriptions WHERE feature = $1 AND user_id = $2`,
			feature, userID,
		)
		if err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrSubscriptionNotFound
		}
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	sub, err := lockSubscription(ctx, tx, feature, userID)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(sub.Targets), target.Same)
	if len(kept) == len(sub.Targets) {
		return domain.ErrSubscriptionNotFound
	}

	if len(kept) == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM push_subscriptions WHERE feature = $1 AND user_id = $2`, feature, userID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE push_subscriptions SET targets = $3, updated_at = NOW() WHERE feature = $1 AND user_id = $2`,
			feature, userID, kept,
		)
	}
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockSubscription(ctx context.Context, tx pgx.Tx, feature domain.Feature, userID string) (*domain.Subscription, error) {
	row := tx.QueryRow(ctx, `
		SELECT feature, user_id, token, targets, updated_at
		FROM push_subscriptions
		WHERE feature = $1 AND user_id = $2
		FOR UPDATE`, feature, userID)
	return scanSubscription(row)
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.Feature, &s.UserID, &s.Token, &s.Targets, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}
