package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) GetActiveToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx, `SELECT token FROM user_tokens WHERE user_id = $1`, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get active token: %w", err)
	}
	return token, nil
}

func (r *TokenRepository) SetActiveToken(ctx context.Context, userID, token string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_tokens (user_id, token, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()`,
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("set active token: %w", err)
	}
	return nil
}
