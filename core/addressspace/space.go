// Package addressspace owns one extent index per address space and wraps
// its operations with tracing, metrics and logging.
package addressspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/mmextents/core/extents"
	internaltelemetry "github.com/sushant-115/mmextents/internal/telemetry"
	"github.com/sushant-115/mmextents/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AddressSpace is the context that owns one ExtentIndex. The index lives
// exactly as long as the address space.
type AddressSpace struct {
	id      uuid.UUID
	label   string
	created time.Time

	index   *extents.ExtentIndex
	tracer  trace.Tracer
	metrics *internaltelemetry.ExtentMetrics
	logger  *zap.Logger
}

// New creates an address space with an empty index built from opts.
func New(label string, tel *telemetry.Telemetry, logger *zap.Logger, opts ...extents.Option) (*AddressSpace, error) {
	if tel == nil {
		tel = telemetry.Noop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics, err := internaltelemetry.NewExtentMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create extent metrics: %w", err)
	}

	id := uuid.New()
	if label == "" {
		label = id.String()
	}
	spaceLogger := logger.With(zap.String("address_space", label))

	index, err := extents.NewExtentIndex(append(opts, extents.WithLogger(spaceLogger))...)
	if err != nil {
		return nil, err
	}

	s := &AddressSpace{
		id:      id,
		label:   label,
		created: time.Now(),
		index:   index,
		tracer:  tel.Tracer,
		metrics: metrics,
		logger:  spaceLogger,
	}
	s.metrics.AddressSpacesUpDown.Add(context.Background(), 1)
	s.logger.Info("address space created", zap.String("id", id.String()))
	return s, nil
}

// ID returns the address space identity.
func (s *AddressSpace) ID() uuid.UUID { return s.id }

// Label returns the human readable name, the id string when none was given.
func (s *AddressSpace) Label() string { return s.label }

// Created returns the creation time.
func (s *AddressSpace) Created() time.Time { return s.created }

// Index exposes the underlying index for read-only diagnostics.
func (s *AddressSpace) Index() *extents.ExtentIndex { return s.index }

// RecordPage records a newly established mapping of phys at virt.
func (s *AddressSpace) RecordPage(ctx context.Context, phys extents.PhysAddr, virt extents.VirtAddr) (*extents.Extent, error) {
	ctx, span, start := s.startOp(ctx, "RecordPage",
		attribute.String("phys", phys.String()),
		attribute.String("virt", virt.String()),
	)

	ext, outcome, err := s.index.RecordPageOutcome(phys, virt)
	if err != nil {
		s.metrics.PagesRecordedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		s.endOp(ctx, span, start, "RecordPage", err)
		return nil, err
	}

	s.metrics.PagesRecordedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	switch outcome {
	case extents.OutcomeNew:
		s.metrics.ActiveExtentsUpDown.Add(ctx, 1)
	case extents.OutcomeMerge:
		s.metrics.ActiveExtentsUpDown.Add(ctx, -1)
	}
	span.SetAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.Int64("extent_id", int64(ext.ID())),
	)
	s.endOp(ctx, span, start, "RecordPage", nil)
	return ext, nil
}

// Floor returns the extent with the greatest start <= addr, or nil.
func (s *AddressSpace) Floor(ctx context.Context, addr extents.PhysAddr) (*extents.Extent, error) {
	ctx, span, start := s.startOp(ctx, "Floor", attribute.String("addr", addr.String()))
	ext, err := s.index.Floor(addr)
	s.endOp(ctx, span, start, "Floor", err)
	return ext, err
}

// Ceiling returns the extent with the least start >= addr, or nil.
func (s *AddressSpace) Ceiling(ctx context.Context, addr extents.PhysAddr) (*extents.Extent, error) {
	ctx, span, start := s.startOp(ctx, "Ceiling", attribute.String("addr", addr.String()))
	ext, err := s.index.Ceiling(addr)
	s.endOp(ctx, span, start, "Ceiling", err)
	return ext, err
}

// Lookup returns the extent covering addr, or nil.
func (s *AddressSpace) Lookup(ctx context.Context, addr extents.PhysAddr) (*extents.Extent, error) {
	ctx, span, start := s.startOp(ctx, "Lookup", attribute.String("addr", addr.String()))
	ext, err := s.index.Lookup(addr)
	s.endOp(ctx, span, start, "Lookup", err)
	return ext, err
}

// RemoveExtent tears down a whole mapping run.
func (s *AddressSpace) RemoveExtent(ctx context.Context, ext *extents.Extent) error {
	ctx, span, start := s.startOp(ctx, "RemoveExtent")
	err := s.index.Remove(ext)
	if err == nil {
		s.metrics.ActiveExtentsUpDown.Add(ctx, -1)
	}
	s.endOp(ctx, span, start, "RemoveExtent", err)
	return err
}

// RemoveAt removes the extent starting exactly at start.
func (s *AddressSpace) RemoveAt(ctx context.Context, start extents.PhysAddr) error {
	ext, err := s.index.Floor(start)
	if err != nil {
		return err
	}
	if ext == nil || ext.StartPhys() != start {
		return fmt.Errorf("%w: no extent starts at %s", extents.ErrExtentNotFound, start)
	}
	return s.RemoveExtent(ctx, ext)
}

// Dump returns a diagnostic snapshot of the index.
func (s *AddressSpace) Dump(ctx context.Context) (*extents.Snapshot, error) {
	ctx, span, start := s.startOp(ctx, "Dump")
	snap, err := s.index.Dump()
	s.endOp(ctx, span, start, "Dump", err)
	return snap, err
}

// Close drains the index. The address space is unusable afterwards and
// closing it again does nothing.
func (s *AddressSpace) Close() error {
	drained, err := s.index.Drain()
	if errors.Is(err, extents.ErrIndexClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	ctx := context.Background()
	s.metrics.ActiveExtentsUpDown.Add(ctx, -int64(drained))
	s.metrics.AddressSpacesUpDown.Add(ctx, -1)
	s.logger.Info("address space closed",
		zap.Int("extents_drained", drained),
		zap.Uint64("pages_recorded", s.index.PagesRecorded()),
	)
	return nil
}

// startOp begins the span and latency measurement for one operation.
func (s *AddressSpace) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	attrs = append(attrs,
		attribute.String("address_space", s.label),
		attribute.String("op", op),
	)
	ctx, span := s.tracer.Start(ctx, "addressspace."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

// endOp completes the span and records latency and errors.
func (s *AddressSpace) endOp(ctx context.Context, span trace.Span, start time.Time, op string, err error) {
	latency := float64(time.Since(start).Microseconds()) / 1000

	code := otelcodes.Ok
	if err != nil {
		code = otelcodes.Error
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.metrics.OpErrorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	s.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(attribute.NewSet(
		attribute.String("op", op),
		attribute.String("code", code.String()),
	)))
}
