package insights

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/rasac/internal/telemetry"
)

// Metrics holds the Prometheus metrics of the insights service.
//
// Metrics:
//   - rasac_insights_requests_total{transport,outcome}
//   - rasac_insights_compute_duration_seconds{transport}
//   - rasac_insights_best_epoch_ratio: best epoch divided by epoch count
//   - rasac_insights_default_patience
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	bestEpochRatio  prometheus.Histogram
	defaultPatience prometheus.Gauge
}

// NewMetrics registers the service metrics, plus Go and process
// collectors, on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rasac_insights_requests_total",
				Help: "Insights requests by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rasac_insights_compute_duration_seconds",
				Help:    "Time to answer an insights request, including curve fetches",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"transport"},
		),
		bestEpochRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rasac_insights_best_epoch_ratio",
			Help:    "Selected epoch as a fraction of the trained epochs; low values suggest overtraining",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		defaultPatience: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rasac_insights_default_patience",
			Help: "Patience interval applied when a request has none",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.duration,
		m.bestEpochRatio,
		m.defaultPatience,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observe(transport, outcome string, elapsed time.Duration, resp *Response) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(transport, outcome).Inc()
	m.duration.WithLabelValues(transport).Observe(elapsed.Seconds())
	if resp != nil && resp.Available && resp.Insights != nil && resp.Insights.Epochs > 0 {
		m.bestEpochRatio.Observe(float64(resp.BestEpoch) / float64(resp.Insights.Epochs))
	}
}

func (m *Metrics) setDefaultPatience(p int) {
	if m == nil {
		return
	}
	m.defaultPatience.Set(float64(p))
}

// HTTPMetrics records OpenTelemetry metrics for every HTTP request.
type HTTPMetrics struct {
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the telemetry meter.
func NewHTTPMetrics(tel *telemetry.Telemetry) *HTTPMetrics {
	meter := tel.Meter(instrumentationName)
	m := &HTTPMetrics{}
	m.requestsTotal, _ = meter.Int64Counter(
		"rasac.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"),
	)
	m.requestDur, _ = meter.Float64Histogram(
		"rasac.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.responseSize, _ = meter.Int64Histogram(
		"rasac.http.response_size_bytes",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	m.activeRequests, _ = meter.Int64UpDownCounter(
		"rasac.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	return m
}

// Middleware records the request metrics. Routes are labelled with their
// pattern, e.g. /api/v1/insights/:model_id.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			m.activeRequests.Add(ctx, 1)
			defer m.activeRequests.Add(ctx, -1)

			err := next(c)
			if err != nil {
				// Commit the error response before reading its status.
				c.Error(err)
				err = nil
			}

			route := c.Path()
			if route == "" {
				route = "/"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", c.Response().Status),
			)
			m.requestsTotal.Add(ctx, 1, attrs)
			m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			m.responseSize.Record(ctx, c.Response().Size, attrs)
			return err
		}
	}
}
