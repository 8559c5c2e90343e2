package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/infrastructure/postgres"
	"github.com/google/uuid"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func newRepo(t *testing.T) *postgres.SubscriptionRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := postgres.NewPool(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.NewSubscriptionRepository(pool)
}

func TestAdd_ConcurrentFirstTargetsAllKept(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := "user-" + uuid.NewString()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := domain.Target{Type: domain.TargetGroup, ID: fmt.Sprint(1000 + i), Platform: domain.DefaultPlatform}
			errs <- repo.Add(ctx, domain.FeatureDailyReport, userID, "tok", target)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	t.Cleanup(func() { _ = repo.Remove(ctx, domain.FeatureDailyReport, userID, nil) })

	subs, err := repo.List(ctx, domain.FeatureDailyReport)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range subs {
		if s.UserID == userID {
			if len(s.Targets) != n {
				t.Fatalf("expected %d targets, got %d", n, len(s.Targets))
			}
			return
		}
	}
	t.Fatal("subscription not found")
}

func TestAdd_DuplicateTarget(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	userID := "user-" + uuid.NewString()
	target := domain.Target{Type: domain.TargetGroup, ID: "1", Platform: domain.DefaultPlatform}

	if err := repo.Add(ctx, domain.FeatureDailyReport, userID, "tok", target); err != nil {
		t.Fatalf("add: %v", err)
	}
	t.Cleanup(func() { _ = repo.Remove(ctx, domain.FeatureDailyReport, userID, nil) })

	if err := repo.Add(ctx, domain.FeatureDailyReport, userID, "tok", target); !errors.Is(err, domain.ErrTargetAlreadySubscribed) {
		t.Fatalf("expected ErrTargetAlreadySubscribed, got %v", err)
	}
}
