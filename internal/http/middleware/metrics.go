package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and counts per route template, so
// /v1/features/:feature/subscriptions stays one series regardless of feature.
// Unmatched paths share the "unmatched" label.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}

		metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
	}
}
