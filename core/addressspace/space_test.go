package addressspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

type testTelemetry struct {
	tel    *telemetry.Telemetry
	reader *sdkmetric.ManualReader
	spans  *tracetest.SpanRecorder
}

func newTestTelemetry() *testTelemetry {
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	return &testTelemetry{
		tel: &telemetry.Telemetry{
			TracerProvider: tp,
			MeterProvider:  mp,
			Tracer:         tp.Tracer("test"),
			Meter:          mp.Meter("test"),
		},
		reader: reader,
		spans:  spans,
	}
}

// sum returns the int64 sum data point for name matching attr (or the
// attribute-less point when attr is empty).
func (tt *testTelemetry) sum(t *testing.T, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tt.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				if attr.Key == "" {
					if dp.Attributes.Len() == 0 {
						return dp.Value
					}
					continue
				}
				if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func newTestSpace(t *testing.T, tt *testTelemetry, opts ...extents.Option) *AddressSpace {
	t.Helper()
	s, err := New("test", tt.tel, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return s
}

// --- Test Cases ---

func TestAddressSpace_RecordPageMetrics(t *testing.T) {
	tt := newTestTelemetry()
	s := newTestSpace(t, tt)
	ctx := context.Background()

	_, err := s.RecordPage(ctx, 0x1000, 0x2000)
	require.NoError(t, err)
	_, err = s.RecordPage(ctx, 0x2000, 0x3000)
	require.NoError(t, err)
	_, err = s.RecordPage(ctx, 0x4000, 0x5000)
	require.NoError(t, err)
	ext, err := s.RecordPage(ctx, 0x3000, 0x4000)
	require.NoError(t, err)
	require.Equal(t, uint64(4), ext.NumPages())
	_, err = s.RecordPage(ctx, 0x3000, 0x4000)
	require.ErrorIs(t, err, extents.ErrPageOverlap)

	require.Equal(t, int64(2), tt.sum(t, "mmextents.pages.recorded_total", attribute.String("outcome", "new")))
	require.Equal(t, int64(1), tt.sum(t, "mmextents.pages.recorded_total", attribute.String("outcome", "append")))
	require.Equal(t, int64(1), tt.sum(t, "mmextents.pages.recorded_total", attribute.String("outcome", "merge")))
	require.Equal(t, int64(1), tt.sum(t, "mmextents.pages.recorded_total", attribute.String("outcome", "error")))
	require.Equal(t, int64(1), tt.sum(t, "mmextents.extents.active", attribute.KeyValue{}))
	require.Equal(t, int64(1), tt.sum(t, "mmextents.op.errors_total", attribute.String("op", "RecordPage")))

	ended := tt.spans.Ended()
	require.Len(t, ended, 5)
	require.Equal(t, "addressspace.RecordPage", ended[0].Name())
}

func TestAddressSpace_QueriesAndRemove(t *testing.T) {
	tt := newTestTelemetry()
	s := newTestSpace(t, tt)
	ctx := context.Background()

	a, err := s.RecordPage(ctx, 0x1000, 0x1000)
	require.NoError(t, err)
	b, err := s.RecordPage(ctx, 0x9000, 0x9000)
	require.NoError(t, err)

	floor, err := s.Floor(ctx, 0x8000)
	require.NoError(t, err)
	require.Same(t, a, floor)

	ceil, err := s.Ceiling(ctx, 0x1001)
	require.NoError(t, err)
	require.Same(t, b, ceil)

	hit, err := s.Lookup(ctx, 0x9ABC)
	require.NoError(t, err)
	require.Same(t, b, hit)

	require.ErrorIs(t, s.RemoveAt(ctx, 0x9001), extents.ErrExtentNotFound)
	require.NoError(t, s.RemoveAt(ctx, 0x9000))
	require.ErrorIs(t, s.RemoveExtent(ctx, b), extents.ErrExtentNotFound)

	snap, err := s.Dump(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Count)
	require.Equal(t, int64(1), tt.sum(t, "mmextents.extents.active", attribute.KeyValue{}))

	require.NoError(t, s.Close())
	require.Equal(t, int64(0), tt.sum(t, "mmextents.extents.active", attribute.KeyValue{}))
	require.Equal(t, int64(0), tt.sum(t, "mmextents.address_spaces.active", attribute.KeyValue{}))
	require.True(t, a.Released())

	_, err = s.Floor(ctx, 0x1000)
	require.ErrorIs(t, err, extents.ErrIndexClosed)
}

func TestAddressSpace_CloseTwiceCountsOnce(t *testing.T) {
	tt := newTestTelemetry()
	s := newTestSpace(t, tt)
	ctx := context.Background()

	_, err := s.RecordPage(ctx, 0x1000, 0x1000)
	require.NoError(t, err)
	_, err = s.RecordPage(ctx, 0x8000, 0x8000)
	require.NoError(t, err)
	require.Equal(t, int64(2), tt.sum(t, "mmextents.extents.active", attribute.KeyValue{}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, int64(0), tt.sum(t, "mmextents.extents.active", attribute.KeyValue{}))
	require.Equal(t, int64(0), tt.sum(t, "mmextents.address_spaces.active", attribute.KeyValue{}))
}

func TestAddressSpace_DefaultsAndLabel(t *testing.T) {
	s, err := New("", nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, s.ID().String(), s.Label())
	require.False(t, s.Created().IsZero())
	require.Equal(t, extents.DefaultPageSize, s.Index().PageSize())
}

func TestAddressSpace_QuotaExhaustion(t *testing.T) {
	tt := newTestTelemetry()
	s := newTestSpace(t, tt, extents.WithAllocator(extents.NewQuotaAllocator(1)))
	defer s.Close()

	_, err := s.RecordPage(context.Background(), 0x1000, 0x1000)
	require.ErrorIs(t, err, extents.ErrAllocationFailure)
	require.Equal(t, 0, s.Index().Count())
}
