package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// ExtentMetrics holds the metric instruments for extent tracking.
type ExtentMetrics struct {
	PagesRecordedCounter metric.Int64Counter
	ActiveExtentsUpDown  metric.Int64UpDownCounter
	OpLatencyHistogram   metric.Float64Histogram
	OpErrorsCounter      metric.Int64Counter
	AddressSpacesUpDown  metric.Int64UpDownCounter
}

// NewExtentMetrics creates and registers all the metrics for extent tracking.
func NewExtentMetrics(meter metric.Meter) (*ExtentMetrics, error) {
	pagesRecordedCounter, err := meter.Int64Counter(
		"mmextents.pages.recorded_total",
		metric.WithDescription("Pages recorded, by coalescing outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	activeExtentsUpDown, err := meter.Int64UpDownCounter(
		"mmextents.extents.active",
		metric.WithDescription("Number of extents currently indexed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Float64Histogram(
		"mmextents.op.duration",
		metric.WithDescription("The latency of extent index operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	opErrorsCounter, err := meter.Int64Counter(
		"mmextents.op.errors_total",
		metric.WithDescription("Extent index operations that returned an error."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	addressSpacesUpDown, err := meter.Int64UpDownCounter(
		"mmextents.address_spaces.active",
		metric.WithDescription("Number of live address spaces."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &ExtentMetrics{
		PagesRecordedCounter: pagesRecordedCounter,
		ActiveExtentsUpDown:  activeExtentsUpDown,
		OpLatencyHistogram:   opLatencyHistogram,
		OpErrorsCounter:      opErrorsCounter,
		AddressSpacesUpDown:  addressSpacesUpDown,
	}, nil
}
