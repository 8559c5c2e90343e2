package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/metrics"
	"github.com/ErlanBelekov/df-notifier/internal/requestid"
	"github.com/robfig/cron/v3"
)

// DefaultCron is used when an expression cannot be parsed: daily at 08:00.
const DefaultCron = "0 0 8 * * *"

const defaultMisfireGrace = 60 * time.Second

var ErrJobNotFound = errors.New("job not found")

// JobFunc is a scheduled callback. A returned error is logged and the job
// stays scheduled.
type JobFunc func(ctx context.Context) error

// JobStatus describes one registered job.
type JobStatus struct {
	ID          string    `json:"id"`
	Cron        string    `json:"cron"`
	Description string    `json:"description"`
	NextRun     time.Time `json:"next_run"`
	LastRun     time.Time `json:"last_run,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

type entry struct {
	id       cron.EntryID
	expr     string
	schedule cron.Schedule
	fn       JobFunc

	mu      sync.Mutex
	lastDue time.Time
	lastRun time.Time
	lastErr string
}

// Scheduler runs named cron jobs. Registering an id that already exists
// replaces the previous job.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	grace  time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

// WithMisfireGrace sets how late a run may start before it is skipped.
func WithMisfireGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// WithClock overrides the time source used for misfire checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With("component", "cron")
	cronLogger := newCronLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		loc:    loc,
		grace:  defaultMisfireGrace,
		now:    time.Now,
		logger: logger,
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers fn under id. Malformed expressions fall back to
// DefaultCron; the expression actually used is returned.
func (s *Scheduler) AddJob(id string, fn JobFunc, expr string) (string, error) {
	normalized, err := NormalizeCron(expr)
	if err != nil {
		s.logger.Warn("invalid cron expression, using default", "job_id", id, "cron", expr, "error", err)
	}
	schedule, err := specParser.Parse(normalized)
	if err != nil {
		// NormalizeCron only returns parseable expressions.
		return "", fmt.Errorf("parse cron %q: %w", normalized, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old.id)
		delete(s.jobs, id)
	}

	e := &entry{expr: normalized, schedule: schedule, fn: fn, lastDue: s.now().In(s.loc)}
	e.id = s.cron.Schedule(schedule, s.wrap(id, e))
	s.jobs[id] = e

	s.logger.Info("job scheduled", "job_id", id, "cron", normalized, "description", Describe(normalized))
	return normalized, nil
}

// RemoveJob reports whether a job with id existed.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.jobs, id)
	s.logger.Info("job removed", "job_id", id)
	return true
}

func (s *Scheduler) HasJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// ListJobs returns the registered jobs sorted by id.
func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	out := make([]JobStatus, 0, len(s.jobs))
	for id, e := range s.jobs {
		e.mu.Lock()
		st := JobStatus{
			ID:          id,
			Cron:        e.expr,
			Description: Describe(e.expr),
			NextRun:     e.schedule.Next(now),
			LastRun:     e.lastRun,
			LastError:   e.lastErr,
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b JobStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Start begins firing jobs. Callbacks receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "location", s.loc.String(), "jobs", len(s.ListJobs()))
}

// Shutdown stops firing new runs, cancels running callbacks and waits for
// them until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()

	s.mu.Lock()
	s.cancel()
	clear(s.jobs)
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		s.logger.Info("scheduler shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunNow executes a registered job immediately on the calling goroutine.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.run(requestid.NewRun(ctx), id, e)
}

func (s *Scheduler) wrap(id string, e *entry) cron.Job {
	return cron.FuncJob(func() {
		now := s.now().In(s.loc)

		e.mu.Lock()
		due := e.lastDueBefore(now)
		e.lastDue = due
		e.mu.Unlock()

		if late := now.Sub(due); late > s.grace {
			s.logger.Warn("run missed its grace period, skipping", "job_id", id, "due", due, "late", late)
			metrics.CronRunsTotal.WithLabelValues(id, "missed").Inc()
			return
		}

		_ = s.run(requestid.NewRun(s.runContext()), id, e)
	})
}

func (s *Scheduler) run(ctx context.Context, id string, e *entry) error {
	s.logger.InfoContext(ctx, "job started", "job_id", id)
	start := time.Now()

	err := s.invoke(ctx, id, e.fn)

	e.mu.Lock()
	e.lastRun = s.now().In(s.loc)
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "job failed", "job_id", id, "error", err, "duration", time.Since(start))
		metrics.CronRunsTotal.WithLabelValues(id, "error").Inc()
		return err
	}
	s.logger.InfoContext(ctx, "job finished", "job_id", id, "duration", time.Since(start))
	metrics.CronRunsTotal.WithLabelValues(id, "success").Inc()
	return nil
}

// invoke converts a panicking callback into an error so the job stays scheduled.
func (s *Scheduler) invoke(ctx context.Context, id string, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", id, r)
		}
	}()
	return fn(ctx)
}

// lastDueBefore walks the schedule forward from the previous due time and
// returns the latest activation not after now.
func (e *entry) lastDueBefore(now time.Time) time.Time {
	due := e.lastDue
	for next := e.schedule.Next(due); !next.IsZero() && !next.After(now); next = e.schedule.Next(next) {
		due = next
	}
	return due
}
