package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/df-notifier/internal/http/handler"
	"github.com/ErlanBelekov/df-notifier/internal/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(
	logger *slog.Logger,
	pushHandler *handler.PushHandler,
	statusHandler *handler.StatusHandler,
	broadcastHandler *handler.BroadcastHandler,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	v1 := r.Group("/v1", middleware.Auth(jwtKey))

	v1.PUT("/users/:user_id/token", pushHandler.BindToken)

	features := v1.Group("/features/:feature/subscriptions")
	features.GET("", pushHandler.List)
	features.POST("", pushHandler.Subscribe)
	features.DELETE("/:user_id", pushHandler.Unsubscribe)

	v1.GET("/jobs", statusHandler.Jobs)
	v1.GET("/place-tasks", statusHandler.PlaceTasks)
	v1.GET("/api/status", statusHandler.APIStatus)
	v1.PUT("/api/mode", statusHandler.SetMode)

	v1.POST("/broadcasts", broadcastHandler.Create)
	v1.GET("/broadcasts", broadcastHandler.List)

	return r
}
