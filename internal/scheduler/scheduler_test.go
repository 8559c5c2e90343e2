package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/scheduler"
)

func newScheduler() *scheduler.Scheduler {
	return scheduler.New(time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func noop(context.Context) error { return nil }

func TestAddJob_ReplacesSameID(t *testing.T) {
	s := newScheduler()

	if _, err := s.AddJob("report", noop, "0 8 * * *"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddJob("report", noop, "0 10 * * 1"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Cron != "0 0 10 * * 1" {
		t.Fatalf("expected replaced cron, got %s", jobs[0].Cron)
	}
	if jobs[0].NextRun.Weekday() != time.Monday {
		t.Fatalf("expected next run on Monday, got %s", jobs[0].NextRun)
	}
}

func TestAddJob_InvalidCronUsesDefault(t *testing.T) {
	s := newScheduler()

	used, err := s.AddJob("kw", noop, "garbage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != scheduler.DefaultCron {
		t.Fatalf("expected default cron, got %s", used)
	}
	if next := s.ListJobs()[0].NextRun; next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("expected 08:00 next run, got %s", next)
	}
}

func TestRemoveJob(t *testing.T) {
	s := newScheduler()
	_, _ = s.AddJob("a", noop, "0 8 * * *")
	_, _ = s.AddJob("b", noop, "0 9 * * *")

	if !s.RemoveJob("a") {
		t.Fatal("expected RemoveJob to report true")
	}
	if s.RemoveJob("a") {
		t.Fatal("expected second RemoveJob to report false")
	}
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestRunNow_ErrorKeepsJob(t *testing.T) {
	s := newScheduler()
	boom := errors.New("boom")
	_, _ = s.AddJob("flaky", func(context.Context) error { return boom }, "0 8 * * *")

	if err := s.RunNow(context.Background(), "flaky"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatal("failing job must stay registered")
	}
	if jobs[0].LastError != "boom" || jobs[0].LastRun.IsZero() {
		t.Fatalf("expected last run recorded, got %+v", jobs[0])
	}
}

func TestRunNow_PanicBecomesError(t *testing.T) {
	s := newScheduler()
	_, _ = s.AddJob("p", func(context.Context) error { panic("kaboom") }, "0 8 * * *")

	err := s.RunNow(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
	if !s.HasJob("p") {
		t.Fatal("panicking job must stay registered")
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := newScheduler()
	if err := s.RunNow(context.Background(), "nope"); !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStart_FiresAndSurvivesErrors(t *testing.T) {
	s := newScheduler()
	var calls atomic.Int32
	_, _ = s.AddJob("tick", func(context.Context) error {
		calls.Add(1)
		return errors.New("always fails")
	}, "* * * * * *")

	s.Start(context.Background())
	defer func() { _ = s.Shutdown(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected job to keep firing after errors, got %d calls", calls.Load())
	}
}
