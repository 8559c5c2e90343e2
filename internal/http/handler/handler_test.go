package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/http/handler"
	"github.com/ErlanBelekov/df-notifier/internal/http/middleware"
	"github.com/ErlanBelekov/df-notifier/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- fakes ----

type fakePush struct {
	bindToken     func(ctx context.Context, userID, token string) error
	subscribe     func(ctx context.Context, feature domain.Feature, userID string, target domain.Target) error
	unsubscribe   func(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) error
	subscriptions func(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error)
}

func (f *fakePush) BindToken(ctx context.Context, userID, token string) error {
	return f.bindToken(ctx, userID, token)
}

func (f *fakePush) Subscribe(ctx context.Context, feature domain.Feature, userID string, target domain.Target) error {
	return f.subscribe(ctx, feature, userID, target)
}

func (f *fakePush) Unsubscribe(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) error {
	return f.unsubscribe(ctx, feature, userID, target)
}

func (f *fakePush) Subscriptions(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error) {
	return f.subscriptions(ctx, feature)
}

type fakeBroadcaster struct {
	broadcast func(ctx context.Context, senderID, message string, groups []string) (*domain.BroadcastRecord, error)
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, senderID, message string, groups []string) (*domain.BroadcastRecord, error) {
	return f.broadcast(ctx, senderID, message, groups)
}

func (f *fakeBroadcaster) History(context.Context, int) ([]*domain.BroadcastRecord, error) {
	return nil, nil
}

type fakeJobs []scheduler.JobStatus

func (f fakeJobs) ListJobs() []scheduler.JobStatus { return f }

type fakeTasks []domain.CraftingTask

func (f fakeTasks) Tasks() []domain.CraftingTask { return f }
func (f fakeTasks) ExpiredUsers() []string       { return []string{"u9"} }

type fakePool struct {
	mode dfapi.Mode
}

func (p *fakePool) Status() dfapi.PoolStatus { return dfapi.PoolStatus{Mode: p.mode} }
func (p *fakePool) SetMode(mode dfapi.Mode)  { p.mode = mode }

// ---- helpers ----

func pushEngine(uc *fakePush) *gin.Engine {
	h := handler.NewPushHandler(uc, quietLogger())
	r := gin.New()
	r.PUT("/users/:user_id/token", h.BindToken)
	r.GET("/features/:feature/subscriptions", h.List)
	r.POST("/features/:feature/subscriptions", h.Subscribe)
	r.DELETE("/features/:feature/subscriptions/:user_id", h.Unsubscribe)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ---- push ----

func TestBindToken_Returns204(t *testing.T) {
	var gotUser, gotToken string
	uc := &fakePush{bindToken: func(_ context.Context, userID, token string) error {
		gotUser, gotToken = userID, token
		return nil
	}}

	w := do(pushEngine(uc), http.MethodPut, "/users/u1/token", `{"token":"tok"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if gotUser != "u1" || gotToken != "tok" {
		t.Fatalf("got %q %q", gotUser, gotToken)
	}
}

func TestBindToken_MissingToken_Returns400(t *testing.T) {
	w := do(pushEngine(&fakePush{}), http.MethodPut, "/users/u1/token", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubscribe_UnknownFeature_Returns404(t *testing.T) {
	w := do(pushEngine(&fakePush{}), http.MethodPost, "/features/lottery/subscriptions",
		`{"user_id":"u1","target":{"type":"group","id":"1"}}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSubscribe_InvalidTargetType_Returns400(t *testing.T) {
	w := do(pushEngine(&fakePush{}), http.MethodPost, "/features/place_task/subscriptions",
		`{"user_id":"u1","target":{"type":"channel","id":"1"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubscribe_DomainErrors(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{nil, http.StatusCreated},
		{domain.ErrNoActiveToken, http.StatusUnprocessableEntity},
		{domain.ErrTargetAlreadySubscribed, http.StatusConflict},
		{domain.ErrFeatureDisabled, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	} {
		uc := &fakePush{subscribe: func(_ context.Context, feature domain.Feature, userID string, target domain.Target) error {
			if feature != domain.FeaturePlaceTask || userID != "u1" || target.ID != "100" {
				t.Errorf("unexpected args %s %s %+v", feature, userID, target)
			}
			return tc.err
		}}
		w := do(pushEngine(uc), http.MethodPost, "/features/place_task/subscriptions",
			`{"user_id":"u1","target":{"type":"group","id":"100"}}`)
		if w.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestUnsubscribe_SingleTarget(t *testing.T) {
	var got *domain.Target
	uc := &fakePush{unsubscribe: func(_ context.Context, _ domain.Feature, _ string, target *domain.Target) error {
		got = target
		return nil
	}}

	w := do(pushEngine(uc), http.MethodDelete, "/features/daily_report/subscriptions/u1?target_type=private&target_id=u1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got == nil || got.Type != domain.TargetPrivate || got.ID != "u1" {
		t.Fatalf("unexpected target %+v", got)
	}
}

func TestUnsubscribe_NotFound_Returns404(t *testing.T) {
	uc := &fakePush{unsubscribe: func(context.Context, domain.Feature, string, *domain.Target) error {
		return domain.ErrSubscriptionNotFound
	}}

	w := do(pushEngine(uc), http.MethodDelete, "/features/daily_report/subscriptions/u1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListSubscriptions_HidesToken(t *testing.T) {
	uc := &fakePush{subscriptions: func(context.Context, domain.Feature) ([]*domain.Subscription, error) {
		return []*domain.Subscription{{UserID: "u1", Token: "secret", Targets: []domain.Target{{Type: domain.TargetGroup, ID: "1"}}}}, nil
	}}

	w := do(pushEngine(uc), http.MethodGet, "/features/place_task/subscriptions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Fatalf("token leaked: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"has_token":true`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

// ---- status ----

func TestStatus_PlaceTasksAndMode(t *testing.T) {
	pool := &fakePool{mode: dfapi.ModeAuto}
	tasks := fakeTasks{{UserID: "u1", PlaceID: "1", ObjectName: "Armor", FinishTime: time.Now().Add(time.Hour)}}
	h := handler.NewStatusHandler(fakeJobs{{ID: "daily_keyword"}}, tasks, pool, quietLogger())

	r := gin.New()
	r.GET("/jobs", h.Jobs)
	r.GET("/place-tasks", h.PlaceTasks)
	r.PUT("/api/mode", h.SetMode)

	w := do(r, http.MethodGet, "/place-tasks", "")
	var body struct {
		Enabled      bool     `json:"enabled"`
		ExpiredUsers []string `json:"expired_users"`
		Tasks        []struct {
			ObjectName string `json:"object_name"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Enabled || len(body.Tasks) != 1 || body.Tasks[0].ObjectName != "Armor" || body.ExpiredUsers[0] != "u9" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	if w := do(r, http.MethodGet, "/jobs", ""); !strings.Contains(w.Body.String(), "daily_keyword") {
		t.Fatalf("unexpected jobs body %s", w.Body.String())
	}

	if w := do(r, http.MethodPut, "/api/mode", `{"mode":"eo"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if pool.mode != dfapi.ModeAlt1 {
		t.Fatalf("expected alias eo to select alt1, got %s", pool.mode)
	}

	if w := do(r, http.MethodPut, "/api/mode", `{"mode":"fastest"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatus_PlaceTasksDisabled(t *testing.T) {
	h := handler.NewStatusHandler(fakeJobs{}, nil, &fakePool{}, quietLogger())
	r := gin.New()
	r.GET("/place-tasks", h.PlaceTasks)

	w := do(r, http.MethodGet, "/place-tasks", "")
	if !strings.Contains(w.Body.String(), `"enabled":false`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

// ---- broadcast ----

func broadcastEngine(b *fakeBroadcaster) *gin.Engine {
	h := handler.NewBroadcastHandler(b, quietLogger())
	r := gin.New()
	r.POST("/broadcasts", func(c *gin.Context) {
		c.Set(middleware.SubjectKey, "admin")
		c.Next()
	}, h.Create)
	return r
}

func TestBroadcast_SenderIsSubject(t *testing.T) {
	var gotSender string
	b := &fakeBroadcaster{broadcast: func(_ context.Context, sender, msg string, groups []string) (*domain.BroadcastRecord, error) {
		gotSender = sender
		return &domain.BroadcastRecord{ID: 1, SenderID: sender, Message: msg, Targets: groups, SuccessCount: 2}, nil
	}}

	w := do(broadcastEngine(b), http.MethodPost, "/broadcasts", `{"message":"hi","groups":["1","2"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if gotSender != "admin" {
		t.Fatalf("sender = %q", gotSender)
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestBroadcast_Errors(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{domain.ErrNotBroadcastAdmin, http.StatusForbidden},
		{domain.ErrEmptyBroadcast, http.StatusBadRequest},
		{domain.ErrNoBroadcastTargets, http.StatusUnprocessableEntity},
	} {
		b := &fakeBroadcaster{broadcast: func(context.Context, string, string, []string) (*domain.BroadcastRecord, error) {
			return nil, tc.err
		}}
		if w := do(broadcastEngine(b), http.MethodPost, "/broadcasts", `{"message":"hi"}`); w.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestBroadcast_AllSendsFailed_Returns502(t *testing.T) {
	b := &fakeBroadcaster{broadcast: func(context.Context, string, string, []string) (*domain.BroadcastRecord, error) {
		return &domain.BroadcastRecord{FailCount: 3}, nil
	}}
	if w := do(broadcastEngine(b), http.MethodPost, "/broadcasts", `{"message":"hi"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}
