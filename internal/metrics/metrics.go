package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "conversations",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "conversations",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Store operations issued by the conversation service.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "conversations",
			Name:      "store_operations_total",
			Help:      "Total conversation store operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "conversations",
			Name:      "store_operation_duration_seconds",
			Help:      "Conversation store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "conversations",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordOperation records a store operation. A nil err counts as success.
func RecordOperation(operation string, err error, durationSec float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordRateLimited counts a rejected request.
func RecordRateLimited() {
	RateLimitedTotal.Inc()
}

// Middleware records HTTP request metrics
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
