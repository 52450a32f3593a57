package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

const meterName = "github.com/fyrsmithlabs/accdd/internal/http"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HTTPMetrics records request counts, latency and in-flight requests of the
// status server.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	bytes    metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on meter, or on the global meter
// when nil. Instruments that fail to register are skipped.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var m HTTPMetrics
	var errs []error
	var err error

	m.requests, err = meter.Int64Counter("accdd.http.requests_total",
		metric.WithDescription("Status API requests by route, method and status code."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.latency, err = meter.Float64Histogram("accdd.http.request_duration_seconds",
		metric.WithDescription("Status API request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = append(errs, err)

	m.bytes, err = meter.Int64Histogram("accdd.http.response_size_bytes",
		metric.WithDescription("Status API response body size."),
		metric.WithUnit("By"))
	errs = append(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("accdd.http.active_requests",
		metric.WithDescription("Status API requests in flight."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "failed to create some HTTP instruments", zap.Error(err))
	}
	return &m
}

// MetricsMiddleware records one data point per request, labelled by the
// route template (/api/v1/cycles/:id) rather than the raw path.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "/"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", route),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.bytes != nil {
				m.bytes.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}
