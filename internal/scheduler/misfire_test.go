package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestWrap_SkipsRunsPastGrace(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 59, 0, 0, time.UTC)
	s := New(time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return now }))

	calls := 0
	if _, err := s.AddJob("daily", func(context.Context) error { calls++; return nil }, "0 8 * * *"); err != nil {
		t.Fatalf("add: %v", err)
	}
	e := s.jobs["daily"]
	job := s.wrap("daily", e)

	// 30s late: within grace
	now = time.Date(2026, 3, 2, 8, 0, 30, 0, time.UTC)
	job.Run()
	if calls != 1 {
		t.Fatalf("expected run within grace, calls=%d", calls)
	}

	// next day, 2 minutes late: skipped
	now = time.Date(2026, 3, 3, 8, 2, 0, 0, time.UTC)
	job.Run()
	if calls != 1 {
		t.Fatalf("expected late run to be skipped, calls=%d", calls)
	}

	// following day on time
	now = time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	job.Run()
	if calls != 2 {
		t.Fatalf("expected on-time run, calls=%d", calls)
	}
}
