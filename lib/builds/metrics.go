package builds

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics provides OpenTelemetry metrics for the build coordinator
type Metrics struct {
	buildDuration metric.Float64Histogram
	buildTotal    metric.Int64Counter
	dedupedTotal  metric.Int64Counter
}

// NewMetrics creates the coordinator metrics and registers the queue gauges.
func NewMetrics(meter metric.Meter, queue *BuildQueue) (*Metrics, error) {
	buildDuration, err := meter.Float64Histogram(
		"imagehub_build_duration_seconds",
		metric.WithDescription("Duration of builds in seconds, queue wait excluded"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildTotal, err := meter.Int64Counter(
		"imagehub_builds_total",
		metric.WithDescription("Total number of builds"),
	)
	if err != nil {
		return nil, err
	}

	dedupedTotal, err := meter.Int64Counter(
		"imagehub_builds_deduplicated_total",
		metric.WithDescription("Submissions joined to a build already in flight for the same tag"),
	)
	if err != nil {
		return nil, err
	}

	queueLength, err := meter.Int64ObservableGauge(
		"imagehub_build_queue_length",
		metric.WithDescription("Number of builds by queue state"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(queueLength, int64(queue.PendingCount()),
				metric.WithAttributes(attribute.String("state", "pending")))
			o.ObserveInt64(queueLength, int64(queue.ActiveCount()),
				metric.WithAttributes(attribute.String("state", "building")))
			return nil
		},
		queueLength,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		buildDuration: buildDuration,
		buildTotal:    buildTotal,
		dedupedTotal:  dedupedTotal,
	}, nil
}

// RecordBuild records metrics for a completed build
func (m *Metrics) RecordBuild(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}

	m.buildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.buildTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDeduplicated counts a submission that joined an in-flight build.
func (m *Metrics) RecordDeduplicated(ctx context.Context) {
	m.dedupedTotal.Add(ctx, 1)
}
