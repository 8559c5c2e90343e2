package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/gin-gonic/gin"
)

// pushUsecaser is the subset of PushUsecase the handler needs.
type pushUsecaser interface {
	BindToken(ctx context.Context, userID, token string) error
	Subscribe(ctx context.Context, feature domain.Feature, userID string, target domain.Target) error
	Unsubscribe(ctx context.Context, feature domain.Feature, userID string, target *domain.Target) error
	Subscriptions(ctx context.Context, feature domain.Feature) ([]*domain.Subscription, error)
}

type PushHandler struct {
	push   pushUsecaser
	logger *slog.Logger
}

func NewPushHandler(push pushUsecaser, logger *slog.Logger) *PushHandler {
	return &PushHandler{push: push, logger: logger.With("component", "push_handler")}
}

type bindTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type targetRequest struct {
	Type     domain.TargetType `json:"type"     binding:"required,oneof=group private"`
	ID       string            `json:"id"       binding:"required"`
	Platform string            `json:"platform"`
}

func (r targetRequest) target() domain.Target {
	return domain.Target{Type: r.Type, ID: r.ID, Platform: r.Platform}
}

type subscribeRequest struct {
	UserID string        `json:"user_id" binding:"required"`
	Target targetRequest `json:"target"  binding:"required"`
}

type subscriptionResponse struct {
	UserID    string          `json:"user_id"`
	Targets   []domain.Target `json:"targets"`
	HasToken  bool            `json:"has_token"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PUT /v1/users/:user_id/token
func (h *PushHandler) BindToken(c *gin.Context) {
	var req bindTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errTokenOrUserIDRequired})
		return
	}

	if err := h.push.BindToken(c.Request.Context(), c.Param("user_id"), req.Token); err != nil {
		h.respondError(c, "bind token", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /v1/features/:feature/subscriptions
func (h *PushHandler) List(c *gin.Context) {
	feature, ok := h.feature(c)
	if !ok {
		return
	}

	subs, err := h.push.Subscriptions(c.Request.Context(), feature)
	if err != nil {
		h.respondError(c, "list subscriptions", err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, subscriptionResponse{
			UserID:    s.UserID,
			Targets:   s.Targets,
			HasToken:  s.Token != "",
			UpdatedAt: s.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feature": feature, "subscriptions": resp})
}

// POST /v1/features/:feature/subscriptions
func (h *PushHandler) Subscribe(c *gin.Context) {
	feature, ok := h.feature(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.push.Subscribe(c.Request.Context(), feature, req.UserID, req.Target.target()); err != nil {
		h.respondError(c, "subscribe", err)
		return
	}
	c.Status(http.StatusCreated)
}

// DELETE /v1/features/:feature/subscriptions/:user_id
// Optional query target_type/target_id/platform removes a single target.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	feature, ok := h.feature(c)
	if !ok {
		return
	}

	var target *domain.Target
	if id := c.Query("target_id"); id != "" {
		t := domain.Target{
			Type:     domain.TargetType(c.DefaultQuery("target_type", string(domain.TargetGroup))),
			ID:       id,
			Platform: c.Query("platform"),
		}
		if t.Type != domain.TargetGroup && t.Type != domain.TargetPrivate {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTargetType})
			return
		}
		target = &t
	}

	if err := h.push.Unsubscribe(c.Request.Context(), feature, c.Param("user_id"), target); err != nil {
		h.respondError(c, "unsubscribe", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PushHandler) feature(c *gin.Context) (domain.Feature, bool) {
	f, err := domain.ParseFeature(c.Param("feature"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownFeature})
		return "", false
	}
	return f, true
}

func (h *PushHandler) respondError(c *gin.Context, op string, err error) {
	status, msg, known := mapError(err)
	if !known {
		h.logger.ErrorContext(c.Request.Context(), op, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}
