package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("gatekeeper/storage")
	meter := otel.Meter("gatekeeper/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of security event storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of security event storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	recordOperation(ctx, span, s.duration, s.errors, start, err,
		attribute.String("operation", operation))
}

func (s *InstrumentedStorage) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	ctx, span := s.startSpan(ctx, "SaveEvent", attribute.String("event.name", event.Name))
	start := time.Now()
	err := s.inner.SaveEvent(ctx, event)
	s.record(ctx, span, "SaveEvent", start, err)
	return err
}

func (s *InstrumentedStorage) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	ctx, span := s.startSpan(ctx, "GetEvent", attribute.String("event.id", id))
	start := time.Now()
	result, err := s.inner.GetEvent(ctx, id)
	s.record(ctx, span, "GetEvent", start, err)
	return result, err
}

func (s *InstrumentedStorage) RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	ctx, span := s.startSpan(ctx, "RecentEvents",
		attribute.String("event.name", filter.Name),
		attribute.Int("limit", filter.EffectiveLimit()),
	)
	start := time.Now()
	result, err := s.inner.RecentEvents(ctx, filter)
	s.record(ctx, span, "RecentEvents", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountEvents(ctx context.Context, since time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "CountEvents")
	start := time.Now()
	result, err := s.inner.CountEvents(ctx, since)
	s.record(ctx, span, "CountEvents", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

// recordOperation ends span and records its latency and outcome.
func recordOperation(ctx context.Context, span trace.Span, duration metric.Float64Histogram, errs metric.Int64Counter, start time.Time, err error, attrs ...attribute.KeyValue) {
	opt := metric.WithAttributes(attrs...)

	duration.Record(ctx, time.Since(start).Seconds(), opt)

	if err != nil {
		errs.Add(ctx, 1, opt)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
