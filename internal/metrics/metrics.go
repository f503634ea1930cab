// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"backend-safetrack/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_http_requests_total",
			Help: "HTTP requests by method, route template and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safety_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route template.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EventsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_events_triggered_total",
			Help: "Anti-theft events created, by trigger source and test flag.",
		},
		[]string{"source", "test"},
	)

	PointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_points_ingested_total",
			Help: "Location points committed, by parent kind.",
		},
		[]string{"parent"},
	)

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safety_sessions_started_total",
		Help: "Path-tracking sessions started.",
	})

	ShareResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_share_resolutions_total",
			Help: "Share token resolutions by result (ok, not_found, expired, error).",
		},
		[]string{"result"},
	)
)

// Middleware records request count and latency. Routes are labelled by
// their template (/paths/:id) so ids do not explode cardinality.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = apperr.HTTPStatus(err)
			}
		}

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
