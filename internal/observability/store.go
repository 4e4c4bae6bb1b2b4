package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/store"
)

// InstrumentedStore wraps a store.Store with spans, a latency histogram and
// an error counter, labelled by namespace and operation. Stores that report
// their size, such as store.MemoryStore, also get an entry gauge.
type InstrumentedStore[V any] struct {
	inner     store.Store[V]
	namespace string
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
}

var _ store.Store[int] = (*InstrumentedStore[int])(nil)

// NewInstrumentedStore decorates inner. namespace is the store's logical
// name (ratelimit, violations, bruteforce).
func NewInstrumentedStore[V any](inner store.Store[V], namespace string) (*InstrumentedStore[V], error) {
	meter := otel.Meter("gatekeeper/store")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of record store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of record store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	if sized, ok := inner.(interface{ Len() int }); ok {
		attrs := metric.WithAttributes(attribute.String("namespace", namespace))
		_, err := meter.Int64ObservableGauge(
			"store.entries",
			metric.WithDescription("Number of records held by an in-process store, expired or not"),
			metric.WithUnit("{entry}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(sized.Len()), attrs)
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return &InstrumentedStore[V]{
		inner:     inner,
		namespace: namespace,
		tracer:    otel.Tracer("gatekeeper/store"),
		duration:  duration,
		errors:    errCounter,
	}, nil
}

func (s *InstrumentedStore[V]) start(ctx context.Context, operation string) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithAttributes(
			attribute.String("store.namespace", s.namespace),
			attribute.String("store.operation", operation),
		),
	)
	return ctx, span, time.Now()
}

func (s *InstrumentedStore[V]) done(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	recordOperation(ctx, span, s.duration, s.errors, start, err,
		attribute.String("namespace", s.namespace),
		attribute.String("operation", operation),
	)
}

func (s *InstrumentedStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	ctx, span, start := s.start(ctx, "Get")
	v, ok, err := s.inner.Get(ctx, key)
	s.done(ctx, span, "Get", start, err)
	return v, ok, err
}

func (s *InstrumentedStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	ctx, span, start := s.start(ctx, "Set")
	err := s.inner.Set(ctx, key, value, ttl)
	s.done(ctx, span, "Set", start, err)
	return err
}

func (s *InstrumentedStore[V]) Update(ctx context.Context, key string, fn store.UpdateFunc[V]) (V, error) {
	ctx, span, start := s.start(ctx, "Update")
	v, err := s.inner.Update(ctx, key, fn)
	s.done(ctx, span, "Update", start, err)
	return v, err
}

func (s *InstrumentedStore[V]) Delete(ctx context.Context, keys ...string) error {
	ctx, span, start := s.start(ctx, "Delete")
	err := s.inner.Delete(ctx, keys...)
	s.done(ctx, span, "Delete", start, err)
	return err
}

func (s *InstrumentedStore[V]) Range(ctx context.Context, fn func(key string, value V) bool) error {
	ctx, span, start := s.start(ctx, "Range")
	err := s.inner.Range(ctx, fn)
	s.done(ctx, span, "Range", start, err)
	return err
}

func (s *InstrumentedStore[V]) Sweep(ctx context.Context) (int, error) {
	ctx, span, start := s.start(ctx, "Sweep")
	n, err := s.inner.Sweep(ctx)
	span.SetAttributes(attribute.Int("store.swept", n))
	s.done(ctx, span, "Sweep", start, err)
	return n, err
}

func (s *InstrumentedStore[V]) Ping(ctx context.Context) error {
	ctx, span, start := s.start(ctx, "Ping")
	err := s.inner.Ping(ctx)
	s.done(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore[V]) Close() error {
	return s.inner.Close()
}
