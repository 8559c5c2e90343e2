package placetask_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/placetask"
)

// --- fakes ---

type fakeAPI struct {
	placeStatus func(token string) ([]dfapi.Place, error)
}

func (f *fakeAPI) PlaceStatus(_ context.Context, token string) ([]dfapi.Place, error) {
	return f.placeStatus(token)
}

type fakeSubs struct {
	subs []*domain.Subscription
	err  error
}

func (f *fakeSubs) List(context.Context, domain.Feature) ([]*domain.Subscription, error) {
	return f.subs, f.err
}

func (f *fakeSubs) Add(context.Context, domain.Feature, string, string, domain.Target) error {
	return nil
}

func (f *fakeSubs) Remove(context.Context, domain.Feature, string, *domain.Target) error {
	return nil
}

type fakeTokens struct {
	tokens map[string]string
}

func (f *fakeTokens) GetActiveToken(_ context.Context, userID string) (string, error) {
	return f.tokens[userID], nil
}

func (f *fakeTokens) SetActiveToken(_ context.Context, userID, token string) error {
	f.tokens[userID] = token
	return nil
}

type sent struct {
	target domain.Target
	msg    domain.Message
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []sent
	fail func(domain.Target) error
}

func (f *fakeDeliverer) Deliver(_ context.Context, target domain.Target, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(target); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sent{target: target, msg: msg})
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// --- helpers ---

var (
	groupA = domain.Target{Type: domain.TargetGroup, ID: "100", Platform: domain.DefaultPlatform}
	groupB = domain.Target{Type: domain.TargetGroup, ID: "200", Platform: domain.DefaultPlatform}
)

func sub(userID, token string, targets ...domain.Target) *domain.Subscription {
	return &domain.Subscription{Feature: domain.FeaturePlaceTask, UserID: userID, Token: token, Targets: targets}
}

func producing(id, object string, left time.Duration) dfapi.Place {
	return dfapi.Place{ID: id, ObjectName: object, LeftTime: left, Producing: true}
}

type harness struct {
	engine  *placetask.Engine
	api     *fakeAPI
	subs    *fakeSubs
	deliver *fakeDeliverer
	now     time.Time
}

func newHarness(subs ...*domain.Subscription) *harness {
	h := &harness{
		api:     &fakeAPI{placeStatus: func(string) ([]dfapi.Place, error) { return nil, nil }},
		subs:    &fakeSubs{subs: subs},
		deliver: &fakeDeliverer{},
		now:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = placetask.NewEngine(h.api, h.subs, nil, h.deliver, placetask.Config{
		SyncInterval: time.Hour,
		FireInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.engine.SetClock(func() time.Time { return h.now })
	return h
}

// --- tests ---

func TestSyncOnce_Idempotent(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{
			producing("p1", "Armor", time.Hour),
			producing("p2", "Ammo", 2*time.Hour),
			{ID: "p3"},
		}, nil
	}

	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	first := h.engine.Tasks()
	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	second := h.engine.Tasks()

	if len(first) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical tables\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if want := h.now.Add(time.Hour); !first[0].FinishTime.Equal(want) {
		t.Fatalf("expected finish %s, got %s", want, first[0].FinishTime)
	}
}

func TestSyncOnce_DropsCancelledTasksSilently(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Minute)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	h.api.placeStatus = func(string) ([]dfapi.Place, error) { return []dfapi.Place{{ID: "p1"}}, nil }
	_ = h.engine.SyncOnce(context.Background())

	if n := len(h.engine.Tasks()); n != 0 {
		t.Fatalf("expected cancelled task removed, got %d tasks", n)
	}
	h.now = h.now.Add(time.Hour)
	if fired := h.engine.FireOnce(context.Background()); fired != 0 {
		t.Fatalf("expected nothing to fire, got %d", fired)
	}
	if h.deliver.count() != 0 {
		t.Fatal("cancelled task must not notify")
	}
}

func TestFireOnce_DeliversExactlyOnce(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA, groupB))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", 10*time.Second)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	// finish time is now 5s in the past
	h.now = h.now.Add(15 * time.Second)

	if fired := h.engine.FireOnce(context.Background()); fired != 1 {
		t.Fatalf("expected 1 task fired, got %d", fired)
	}
	if h.deliver.count() != 2 {
		t.Fatalf("expected delivery to both targets, got %d", h.deliver.count())
	}
	for _, s := range h.deliver.sent {
		if s.msg.MentionUserID != "u1" || s.msg.Text != "Your Armor has finished production!" {
			t.Fatalf("unexpected message %+v", s.msg)
		}
	}
	if n := len(h.engine.Tasks()); n != 0 {
		t.Fatalf("expected (u1,p1) removed, got %d tasks", n)
	}

	if fired := h.engine.FireOnce(context.Background()); fired != 0 {
		t.Fatalf("expected no second delivery, got %d", fired)
	}
	if h.deliver.count() != 2 {
		t.Fatalf("expected no extra deliveries, got %d", h.deliver.count())
	}
}

func TestFireOnce_NotDueStays(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Minute)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	if fired := h.engine.FireOnce(context.Background()); fired != 0 {
		t.Fatalf("expected nothing due, got %d", fired)
	}
	if n := len(h.engine.Tasks()); n != 1 {
		t.Fatalf("expected task kept, got %d", n)
	}
}

func TestFireOnce_TargetFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA, groupB))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Second)}, nil
	}
	h.deliver.fail = func(target domain.Target) error {
		if target.ID == groupA.ID {
			return errors.New("group muted")
		}
		return nil
	}
	_ = h.engine.SyncOnce(context.Background())
	h.now = h.now.Add(time.Minute)

	h.engine.FireOnce(context.Background())

	if h.deliver.count() != 1 || h.deliver.sent[0].target.ID != groupB.ID {
		t.Fatalf("expected delivery to group B only, got %+v", h.deliver.sent)
	}
	if n := len(h.engine.Tasks()); n != 0 {
		t.Fatalf("task must be removed despite failure, got %d", n)
	}
}

func TestSyncOnce_TokenExpiryNotifiesOncePerEpisode(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	expired := func(string) ([]dfapi.Place, error) { return nil, dfapi.ErrAuthExpired }
	ok := func(string) ([]dfapi.Place, error) { return nil, nil }

	steps := []struct {
		status func(string) ([]dfapi.Place, error)
		want   int
	}{
		{expired, 1},
		{expired, 1},
		{ok, 1},
		{expired, 2},
	}
	for i, step := range steps {
		h.api.placeStatus = step.status
		if err := h.engine.SyncOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
		if got := h.deliver.count(); got != step.want {
			t.Fatalf("cycle %d: expected %d notifications, got %d", i+1, step.want, got)
		}
	}
}

func TestSyncOnce_OneUserFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(sub("u1", "bad", groupA), sub("u2", "good", groupA))
	h.api.placeStatus = func(token string) ([]dfapi.Place, error) {
		if token == "bad" {
			return nil, &dfapi.Error{Response: dfapi.Response{Code: dfapi.CodeExhausted, Message: "all endpoints failed"}}
		}
		return []dfapi.Place{producing("p1", "Armor", time.Hour)}, nil
	}

	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	tasks := h.engine.Tasks()
	if len(tasks) != 1 || tasks[0].UserID != "u2" {
		t.Fatalf("expected u2's task only, got %+v", tasks)
	}
}

func TestSyncOnce_ErrorKeepsExistingTasks(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Hour)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	h.api.placeStatus = func(string) ([]dfapi.Place, error) { return nil, errors.New("transport") }
	_ = h.engine.SyncOnce(context.Background())

	if n := len(h.engine.Tasks()); n != 1 {
		t.Fatalf("failed sync must not mutate the table, got %d tasks", n)
	}
}

func TestSyncOnce_DropsUnsubscribedUsers(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Hour)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	h.subs.subs = nil
	_ = h.engine.SyncOnce(context.Background())

	if n := len(h.engine.Tasks()); n != 0 {
		t.Fatalf("expected tasks of unsubscribed user dropped, got %d", n)
	}
}

func TestSyncOnce_PrefersActiveToken(t *testing.T) {
	var used []string
	api := &fakeAPI{placeStatus: func(token string) ([]dfapi.Place, error) {
		used = append(used, token)
		return nil, nil
	}}
	tokens := &fakeTokens{tokens: map[string]string{"u1": "fresh"}}
	engine := placetask.NewEngine(api, &fakeSubs{subs: []*domain.Subscription{
		sub("u1", "stale", groupA),
		sub("u2", "own", groupA),
	}}, tokens, &fakeDeliverer{}, placetask.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !reflect.DeepEqual(used, []string{"fresh", "own"}) {
		t.Fatalf("unexpected tokens used: %v", used)
	}
}

func TestSyncOnce_ListError(t *testing.T) {
	h := newHarness()
	h.subs.err = errors.New("db down")

	if err := h.engine.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestForgetUser(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA), sub("u2", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		return []dfapi.Place{producing("p1", "Armor", time.Hour)}, nil
	}
	_ = h.engine.SyncOnce(context.Background())

	h.engine.ForgetUser("u1")

	tasks := h.engine.Tasks()
	if len(tasks) != 1 || tasks[0].UserID != "u2" {
		t.Fatalf("expected only u2 left, got %+v", tasks)
	}
}

func TestSyncOnce_ForgetDuringPollDiscardsResult(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	forget := true
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		if forget {
			h.engine.ForgetUser("u1")
		}
		return []dfapi.Place{producing("p1", "Armor", time.Hour)}, nil
	}

	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tasks := h.engine.Tasks(); len(tasks) != 0 {
		t.Fatalf("expected no tasks for a forgotten user, got %+v", tasks)
	}

	// still listed on the next cycle, e.g. after resubscribing
	forget = false
	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tasks := h.engine.Tasks(); len(tasks) != 1 {
		t.Fatalf("expected the task to be tracked again, got %+v", tasks)
	}
}

func TestSyncOnce_ForgetDuringPollSkipsExpiryNotice(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		h.engine.ForgetUser("u1")
		return nil, dfapi.ErrAuthExpired
	}

	if err := h.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.deliver.count() != 0 {
		t.Fatalf("expected no notice for a forgotten user, got %d", h.deliver.count())
	}
	if users := h.engine.ExpiredUsers(); len(users) != 0 {
		t.Fatalf("expected no expiry marker, got %v", users)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(sub("u1", "tok", groupA))
	synced := make(chan struct{}, 1)
	h.api.placeStatus = func(string) ([]dfapi.Place, error) {
		select {
		case synced <- struct{}{}:
		default:
		}
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate sync on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_SyncLoopSurvivesPanic(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	api := &fakeAPI{placeStatus: func(string) ([]dfapi.Place, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("unexpected payload")
		}
		return nil, nil
	}}
	engine := placetask.NewEngine(api, &fakeSubs{subs: []*domain.Subscription{sub("u1", "tok", groupA)}}, nil, &fakeDeliverer{},
		placetask.Config{SyncInterval: 10 * time.Millisecond, FireInterval: time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected the sync loop to keep ticking after a panic, got %d calls", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
