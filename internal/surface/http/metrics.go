package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/memoryd/pkg/observability/metrics"
)

var (
	httpRequestsTotal = metrics.NewCounterVec("memoryd_http_requests_total", "Total HTTP requests handled, by route and status.")
	httpRequestLatency = metrics.NewHistogramVec("memoryd_http_request_duration_seconds", "HTTP request latency in seconds, by route.",
		[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
)

func init() {
	metrics.Register(httpRequestsTotal)
	metrics.Register(httpRequestLatency)
}

// metricsMiddleware records request count and latency for every route this
// surface serves, exported in Prometheus text format at GET /metrics.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{
			"route":  route,
			"method": c.Request.Method,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestLatency.With(labels).Observe(time.Since(start).Seconds())
	}
}

// handleMetrics serves the process's accumulated metrics in Prometheus text
// exposition format.
func handleMetrics(c *gin.Context) {
	c.String(http.StatusOK, metrics.Export())
}
