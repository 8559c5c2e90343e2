package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BroadcastRepository struct {
	pool *pgxpool.Pool
}

func NewBroadcastRepository(pool *pgxpool.Pool) *BroadcastRepository {
	return &BroadcastRepository{pool: pool}
}

// Save inserts rec and fills in its ID.
func (r *BroadcastRepository) Save(ctx context.Context, rec *domain.BroadcastRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO broadcast_history (sender_id, message, targets, success_count, fail_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.SenderID, rec.Message, rec.Targets, rec.SuccessCount, rec.FailCount, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("save broadcast: %w", err)
	}
	return nil
}

func (r *BroadcastRepository) ListRecent(ctx context.Context, limit int) ([]*domain.BroadcastRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sender_id, message, targets, success_count, fail_count, created_at
		FROM broadcast_history
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*domain.BroadcastRecord
	for rows.Next() {
		rec, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate broadcasts: %w", err)
	}
	return out, nil
}

func scanBroadcast(row rowScanner) (*domain.BroadcastRecord, error) {
	var b domain.BroadcastRecord
	err := row.Scan(&b.ID, &b.SenderID, &b.Message, &b.Targets, &b.SuccessCount, &b.FailCount, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan broadcast: %w", err)
	}
	return &b, nil
}
