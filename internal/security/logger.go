// Package security records security events: block decisions, exceeded
// quotas, detected bots and admin actions. Every event is persisted to the
// configured sink by a background writer, off the request path; log lines
// are throttled per event name so a flood of identical denials cannot drown
// the application log.
package security

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gatekeeper/internal/clientid"
	"gatekeeper/internal/models"
)

const (
	defaultRatePerSecond = 10
	defaultBurst         = 20
	defaultQueueSize     = 1024
	saveTimeout          = 5 * time.Second
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("security logger closed")

// EventSink persists security events.
type EventSink interface {
	SaveEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Logger emits security events to slog and an EventSink.
type Logger struct {
	logger *slog.Logger
	sink   EventSink
	now    func() time.Time

	limit rate.Limit
	burst int

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]int

	// queueMu guards closed and sends on queue against Close.
	queueMu sync.RWMutex
	closed  bool
	queue   chan queued
	done    chan struct{}
	dropped atomic.Int64
}

// queued is either an event to save or a flush marker.
type queued struct {
	ctx   context.Context
	event *models.SecurityEvent
	flush chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides time.Now for timestamps and throttling.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger creates a Logger and starts its writer. sink may be nil. A zero
// rate or burst in cfg falls back to 10 lines per second with a burst of 20
// per event name; a zero queue size falls back to 1024 events. Call Close to
// drain the queue on shutdown.
func NewLogger(logger *slog.Logger, sink EventSink, cfg models.EventLogConfig, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	l := &Logger{
		logger:     logger,
		sink:       sink,
		now:        time.Now,
		limit:      rate.Limit(perSecond),
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
		suppressed: make(map[string]int),
		queue:      make(chan queued, queueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.write()
	return l
}

// Emit records e. Missing ID and Timestamp are filled in. Emit never waits
// on the sink: the event is queued for the writer, or dropped and counted
// when the queue is full.
func (l *Logger) Emit(ctx context.Context, e models.SecurityEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = models.SeverityLow
	}

	if l.sink != nil {
		saved := e
		l.enqueue(queued{ctx: context.WithoutCancel(ctx), event: &saved})
	}

	suppressed, ok := l.allow(e.Name)
	if !ok {
		return
	}

	attrs := []slog.Attr{
		slog.String("event", e.Name),
		slog.String("event_id", e.ID),
		slog.String("severity", string(e.Severity)),
	}
	if e.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", MaskIdentifier(e.Identifier)))
	}
	if e.IP != "" {
		attrs = append(attrs, slog.String("ip", e.IP))
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}
	if e.UserAgent != "" {
		ua := clientid.ParseUserAgent(e.UserAgent)
		attrs = append(attrs,
			slog.String("user_agent", e.UserAgent),
			slog.Group("client",
				slog.String("browser", ua.Browser),
				slog.String("os", ua.OS),
				slog.String("device", ua.Device),
				slog.Bool("bot", ua.Bot),
			),
		)
	}
	if len(e.Details) > 0 {
		details := make([]any, 0, len(e.Details)*2)
		for k, v := range e.Details {
			details = append(details, k, v)
		}
		attrs = append(attrs, slog.Group("details", details...))
	}
	if suppressed > 0 {
		attrs = append(attrs, slog.Int("suppressed", suppressed))
	}

	l.logger.LogAttrs(ctx, levelFor(e), "security event", attrs...)
}

func (l *Logger) enqueue(q queued) {
	l.queueMu.RLock()
	defer l.queueMu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- q:
	default:
		l.dropped.Add(1)
	}
}

// write saves queued events in order until the queue is closed.
func (l *Logger) write() {
	defer close(l.done)

	for q := range l.queue {
		if q.flush != nil {
			close(q.flush)
			continue
		}

		if n := l.dropped.Swap(0); n > 0 {
			l.logger.Warn("security events dropped, event queue full", "dropped", n)
		}

		ctx, cancel := context.WithTimeout(q.ctx, saveTimeout)
		if err := l.sink.SaveEvent(ctx, q.event); err != nil {
			l.logger.Error("failed to persist security event",
				"event", q.event.Name,
				"error", err,
			)
		}
		cancel()
	}
}

// Dropped returns how many events were discarded because the queue was full
// and have not yet been reported in a log line.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Flush waits until every event queued before the call has been saved.
func (l *Logger) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	l.queueMu.RLock()
	if l.closed {
		l.queueMu.RUnlock()
		return ErrClosed
	}
	select {
	case l.queue <- queued{flush: marker}:
		l.queueMu.RUnlock()
	case <-ctx.Done():
		l.queueMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the writer to save what is
// already queued. Later Emits still log but are not persisted.
func (l *Logger) Close(ctx context.Context) error {
	l.queueMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.queueMu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allow consumes a token for name. It returns how many lines for name were
// dropped since the last one that got through.
func (l *Logger) allow(name string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[name]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[name] = lim
	}

	if !lim.AllowN(l.now(), 1) {
		l.suppressed[name]++
		return 0, false
	}

	n := l.suppressed[name]
	delete(l.suppressed, name)
	return n, true
}

func levelFor(e models.SecurityEvent) slog.Level {
	if e.Name == models.EventAdmissionDegraded {
		return slog.LevelError
	}
	switch e.Severity {
	case models.SeverityHigh, models.SeverityCritical:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
