package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nasdf/glyco/core"

// metrics holds the collectors of a single store.
type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	records    prometheus.Gauge
}

// newMetrics creates the store collectors and registers them with the given
// registerer. A nil registerer creates unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "glyco_store_operations_total",
			Help: "Total store operations by operation and result",
		}, []string{"op", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glyco_store_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glyco_store_records",
			Help: "Number of records in the last committed root",
		}),
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStorageIO):
		return "storage"
	default:
		return "error"
	}
}

// instrument starts a span for the given store operation and returns a
// function that ends it and records its metrics.
func (s *Store) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "Store."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.operations.WithLabelValues(op, resultLabel(err)).Inc()
		s.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
