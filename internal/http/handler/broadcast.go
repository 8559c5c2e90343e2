package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/http/middleware"
	"github.com/gin-gonic/gin"
)

type broadcaster interface {
	Broadcast(ctx context.Context, senderID, message string, groups []string) (*domain.BroadcastRecord, error)
	History(ctx context.Context, limit int) ([]*domain.BroadcastRecord, error)
}

type BroadcastHandler struct {
	broadcaster broadcaster
	logger      *slog.Logger
}

func NewBroadcastHandler(b broadcaster, logger *slog.Logger) *BroadcastHandler {
	return &BroadcastHandler{broadcaster: b, logger: logger.With("component", "broadcast_handler")}
}

type broadcastRequest struct {
	Message string   `json:"message"`
	Groups  []string `json:"groups"`
}

type broadcastResponse struct {
	ID           int64     `json:"id"`
	SenderID     string    `json:"sender_id"`
	Message      string    `json:"message"`
	Targets      []string  `json:"targets"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"created_at"`
}

func toBroadcastResponse(r *domain.BroadcastRecord) broadcastResponse {
	return broadcastResponse{
		ID:           r.ID,
		SenderID:     r.SenderID,
		Message:      r.Message,
		Targets:      r.Targets,
		SuccessCount: r.SuccessCount,
		FailCount:    r.FailCount,
		Success:      r.SuccessCount > 0,
		CreatedAt:    r.CreatedAt,
	}
}

// POST /v1/broadcasts
// The sender is the authenticated operator.
func (h *BroadcastHandler) Create(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.broadcaster.Broadcast(c.Request.Context(), middleware.Subject(c), req.Message, req.Groups)
	if err != nil && rec == nil {
		status, msg, known := mapError(err)
		if !known {
			h.logger.ErrorContext(c.Request.Context(), "broadcast", "error", err)
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if err != nil {
		// sent, but the history write failed
		h.logger.ErrorContext(c.Request.Context(), "broadcast history", "error", err)
	}

	status := http.StatusCreated
	if rec.SuccessCount == 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, toBroadcastResponse(rec))
}

// GET /v1/broadcasts?limit=20
func (h *BroadcastHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	recs, err := h.broadcaster.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list broadcasts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := make([]broadcastResponse, 0, len(recs))
	for _, r := range recs {
		resp = append(resp, toBroadcastResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": resp})
}
