package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReserveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_reserve_attempts_total",
			Help: "Reserve calls by result (reserved, unavailable, duplicate, error)",
		},
		[]string{"result"},
	)
	ConfirmAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_confirm_attempts_total",
			Help: "Confirm calls by result (confirmed, not_found, insufficient_stock, mismatch, error)",
		},
		[]string{"result"},
	)
	ReservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_reservation_transitions_total",
			Help: "Reservations leaving the active state, by outcome",
		},
		[]string{"outcome"},
	)
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stock_sweep_duration_seconds",
			Help:    "Duration of expired reservation sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)
	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_sweep_failures_total",
			Help: "Reservations the sweeper failed to expire, plus failed sweep queries",
		},
	)
)

func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.Index(p, "/"); idx >= 0 {
		p = p[:idx]
	}
	if p == "" {
		return "root"
	}
	return p
}

func Middleware(c *gin.Context) {
	if c.Request.URL.Path == "/metrics" {
		c.Next()
		return
	}
	start := time.Now()
	c.Next()
	duration := time.Since(start).Seconds()
	path := NormalizePath(c.Request.URL.Path)
	status := strconv.Itoa(c.Writer.Status())
	RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	RequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
