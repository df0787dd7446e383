// Package metrics exposes Prometheus instrumentation for the HTTP server and
// the render pipeline.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docx-renderer/internal/infra/logging"
)

const namespace = "docx_renderer"

// Render outcomes reported by ObserveRender.
const (
	OutcomeRendered = "rendered"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reqCounter     *prometheus.CounterVec
	reqHistogram   *prometheus.HistogramVec
	reqInFlight    *prometheus.GaugeVec
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reqCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count all http requests by status code, method and path.",
		}, []string{"status_code", "method", "path"}),
		reqHistogram: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of all HTTP requests by status code, method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status_code", "method", "path"}),
		reqInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_progress_total",
			Help:      "All the requests in progress",
		}, []string{"method"}),
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Render requests by outcome.",
		}, []string{"outcome"}),
		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent loading, rendering and serializing documents.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// Middleware records count, latency and concurrency of every request.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		m.reqInFlight.WithLabelValues(method).Inc()
		defer m.reqInFlight.WithLabelValues(method).Dec()

		err := c.Next()
		status := fiber.StatusInternalServerError
		if err != nil {
			var ferr *fiber.Error
			if errors.As(err, &ferr) {
				status = ferr.Code
			}
		} else {
			status = c.Response().StatusCode()
		}

		path := c.Route().Path
		code := strconv.Itoa(status)
		m.reqCounter.WithLabelValues(code, method, path).Inc()
		m.reqHistogram.WithLabelValues(code, method, path).Observe(time.Since(start).Seconds())

		return err
	}
}

// ObserveRender counts one render with outcome. Cached renders do not
// contribute to the duration histogram.
func (m *Metrics) ObserveRender(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCached {
		m.renderDuration.Observe(d.Seconds())
	}
}

type errLogger struct{}

func (errLogger) Println(v ...interface{}) {
	logging.Error("Failed to serve metrics", "error", v)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      errLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	}))
}
