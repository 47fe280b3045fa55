package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by surface, method, route, and status
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"surface", "method", "route", "status"},
	)

	// Request duration in seconds. The storefront endpoints sit on the
	// shopper's critical path, so the buckets skew toward low latencies.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"surface", "method", "route"},
	)

	// In-flight HTTP requests
	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// requestSurface buckets a route into the traffic class it serves. The
// widget, the merchant dashboard, and platform webhooks have very
// different latency and error profiles, so mixing them in one series
// hides regressions.
func requestSurface(route string) string {
	switch {
	case strings.Contains(route, "/storefront"):
		return "storefront"
	case strings.Contains(route, "/webhooks"):
		return "webhook"
	case strings.Contains(route, "/auth"):
		return "auth"
	default:
		return "dashboard"
	}
}

// Metrics returns a Fiber v3 middleware that records request metrics.
// The matched route template is used instead of the raw path to keep
// label cardinality bounded.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		surface := requestSurface(route)
		method := c.Method()
		status := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(surface, method, route, status).Inc()
		httpRequestDuration.WithLabelValues(surface, method, route).Observe(time.Since(start).Seconds())

		return err
	}
}
