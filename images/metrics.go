package images

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/testagram/image-service/images"

// Outcome values attached to operation metrics.
const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

type serviceMetrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func newServiceMetrics(mp metric.MeterProvider) (*serviceMetrics, error) {
	meter := mp.Meter(instrumentationName)

	operations, err := meter.Int64Counter("images.operations",
		metric.WithDescription("Image service operations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("images.operation.duration",
		metric.WithDescription("Image service operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &serviceMetrics{operations: operations, duration: duration}, nil
}

func (m *serviceMetrics) observe(ctx context.Context, op string, start time.Time, err error) {
	outcome := outcomeOK
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = outcomeNotFound
	case err != nil:
		outcome = outcomeError
	}

	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
