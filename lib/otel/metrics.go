package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// ImageMetrics holds metrics for image builds and pulls.
type ImageMetrics struct {
	BuildDuration metric.Float64Histogram
	PullsTotal    metric.Int64Counter
	PullDuration  metric.Float64Histogram
}

// NewImageMetrics creates metrics for the image builder and puller.
func NewImageMetrics(meter metric.Meter) (*ImageMetrics, error) {
	buildDuration, err := meter.Float64Histogram(
		"imagehub_images_build_duration_seconds",
		metric.WithDescription("Time spent in the runtime building an image"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pullsTotal, err := meter.Int64Counter(
		"imagehub_images_pulls_total",
		metric.WithDescription("Total number of image pulls from registries"),
	)
	if err != nil {
		return nil, err
	}

	pullDuration, err := meter.Float64Histogram(
		"imagehub_images_pull_duration_seconds",
		metric.WithDescription("Time to pull an image"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ImageMetrics{
		BuildDuration: buildDuration,
		PullsTotal:    pullsTotal,
		PullDuration:  pullDuration,
	}, nil
}

// RegistryMetrics holds metrics for the registry client.
type RegistryMetrics struct {
	RequestsTotal   metric.Int64Counter
	RetriesTotal    metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// NewRegistryMetrics creates metrics for the registry client.
func NewRegistryMetrics(meter metric.Meter) (*RegistryMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"imagehub_registry_requests_total",
		metric.WithDescription("Total number of registry HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	retriesTotal, err := meter.Int64Counter(
		"imagehub_registry_retries_total",
		metric.WithDescription("Total number of retried registry requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"imagehub_registry_request_duration_seconds",
		metric.WithDescription("Registry request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistryMetrics{
		RequestsTotal:   requestsTotal,
		RetriesTotal:    retriesTotal,
		RequestDuration: requestDuration,
	}, nil
}

// SyncMetrics holds metrics for template synchronization.
type SyncMetrics struct {
	PassesTotal    metric.Int64Counter
	PassDuration   metric.Float64Histogram
	TemplatesTotal metric.Int64ObservableGauge
	PrunedTotal    metric.Int64Counter
}

// NewSyncMetrics creates metrics for the template synchronizer. count, when
// non-nil, reports the catalog size for the templates gauge.
func NewSyncMetrics(meter metric.Meter, count func(ctx context.Context) (int64, error)) (*SyncMetrics, error) {
	passesTotal, err := meter.Int64Counter(
		"imagehub_sync_passes_total",
		metric.WithDescription("Total number of template sync passes by outcome"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"imagehub_sync_duration_seconds",
		metric.WithDescription("Duration of a template sync pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	templatesTotal, err := meter.Int64ObservableGauge(
		"imagehub_templates_total",
		metric.WithDescription("Number of templates in the catalog"),
	)
	if err != nil {
		return nil, err
	}

	if count != nil {
		_, err = meter.RegisterCallback(
			func(ctx context.Context, o metric.Observer) error {
				n, err := count(ctx)
				if err != nil {
					return nil
				}
				o.ObserveInt64(templatesTotal, n)
				return nil
			},
			templatesTotal,
		)
		if err != nil {
			return nil, err
		}
	}

	prunedTotal, err := meter.Int64Counter(
		"imagehub_templates_pruned_total",
		metric.WithDescription("Total number of templates removed by sync"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		PassesTotal:    passesTotal,
		PassDuration:   passDuration,
		TemplatesTotal: templatesTotal,
		PrunedTotal:    prunedTotal,
	}, nil
}
