// Package infrastructure selects the persistence driver at startup.
package infrastructure

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/df-notifier/internal/health"
	"github.com/ErlanBelekov/df-notifier/internal/infrastructure/bolt"
	"github.com/ErlanBelekov/df-notifier/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/df-notifier/internal/repository"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Store bundles the repositories of whichever driver is configured.
type Store struct {
	Subscriptions repository.SubscriptionRepository
	Tokens        repository.TokenRepository
	Broadcasts    repository.BroadcastRepository
	Pinger        health.Pinger

	close func()
}

// Open connects to Postgres when driver is "postgres" and opens the bolt
// file at boltPath otherwise.
func Open(ctx context.Context, driver, databaseURL, boltPath string) (*Store, error) {
	if driver == DriverPostgres {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return &Store{
			Subscriptions: postgres.NewSubscriptionRepository(pool),
			Tokens:        postgres.NewTokenRepository(pool),
			Broadcasts:    postgres.NewBroadcastRepository(pool),
			Pinger:        pool,
			close:         pool.Close,
		}, nil
	}

	db, err := bolt.Open(boltPath)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &Store{
		Subscriptions: db,
		Tokens:        db,
		Broadcasts:    db,
		Pinger:        db,
		close:         func() { _ = db.Close() },
	}, nil
}

func (s *Store) Close() {
	s.close()
}
