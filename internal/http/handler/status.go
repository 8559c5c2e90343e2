package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type jobLister interface {
	ListJobs() []scheduler.JobStatus
}

// TaskLister is satisfied by *placetask.Engine.
type TaskLister interface {
	Tasks() []domain.CraftingTask
	ExpiredUsers() []string
}

type endpointPool interface {
	Status() dfapi.PoolStatus
	SetMode(mode dfapi.Mode)
}

// StatusHandler exposes read-only runtime state plus the API mode switch.
// tasks is nil when place tasks are disabled.
type StatusHandler struct {
	jobs   jobLister
	tasks  TaskLister
	pool   endpointPool
	now    func() time.Time
	logger *slog.Logger
}

func NewStatusHandler(jobs jobLister, tasks TaskLister, pool endpointPool, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		jobs:   jobs,
		tasks:  tasks,
		pool:   pool,
		now:    time.Now,
		logger: logger.With("component", "status_handler"),
	}
}

type placeTaskResponse struct {
	UserID     string    `json:"user_id"`
	PlaceID    string    `json:"place_id"`
	ObjectName string    `json:"object_name"`
	FinishTime time.Time `json:"finish_time"`
	Remaining  string    `json:"remaining"`
	Targets    int       `json:"targets"`
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// GET /v1/jobs
func (h *StatusHandler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.ListJobs()})
}

// GET /v1/place-tasks
func (h *StatusHandler) PlaceTasks(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "tasks": []placeTaskResponse{}})
		return
	}

	now := h.now()
	tasks := h.tasks.Tasks()
	resp := make([]placeTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, placeTaskResponse{
			UserID:     t.UserID,
			PlaceID:    t.PlaceID,
			ObjectName: t.ObjectName,
			FinishTime: t.FinishTime,
			Remaining:  max(t.FinishTime.Sub(now), 0).Round(time.Second).String(),
			Targets:    len(t.Targets),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":       true,
		"tasks":         resp,
		"expired_users": h.tasks.ExpiredUsers(),
	})
}

// GET /v1/api/status
func (h *StatusHandler) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Status())
}

// PUT /v1/api/mode
func (h *StatusHandler) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidMode})
		return
	}
	mode, ok := dfapi.ParseMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidMode})
		return
	}

	h.pool.SetMode(mode)
	h.logger.InfoContext(c.Request.Context(), "api mode changed", "mode", mode)
	c.JSON(http.StatusOK, h.pool.Status())
}
