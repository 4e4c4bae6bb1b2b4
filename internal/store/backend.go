package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/models"
)

// Backend opens namespaced stores on one configured backend. Redis stores
// share a single client; memory stores each get their own sweeper.
type Backend struct {
	cfg    models.StoreConfig
	client redis.UniversalClient
	logger *slog.Logger
	clock  Clock

	mu      sync.Mutex
	closers []func() error
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithBackendClock overrides the clock handed to memory stores.
func WithBackendClock(clock Clock) BackendOption {
	return func(b *Backend) {
		b.clock = clock
	}
}

// WithRedisClient reuses an existing client instead of dialing cfg.Redis.
func WithRedisClient(client redis.UniversalClient) BackendOption {
	return func(b *Backend) {
		b.client = client
	}
}

// NewBackend validates cfg and, for redis, connects and pings the server.
func NewBackend(ctx context.Context, cfg models.StoreConfig, logger *slog.Logger, opts ...BackendOption) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backend{cfg: cfg, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}

	switch cfg.Type {
	case models.StoreTypeMemory:
		return b, nil
	case models.StoreTypeRedis:
		if b.client == nil {
			b.client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
			})
		}
		if err := b.client.Ping(ctx).Err(); err != nil {
			_ = b.client.Close()
			return nil, fmt.Errorf("%w: connect to redis at %s: %v", ErrUnavailable, cfg.Redis.Addr, err)
		}
		b.logger.Info("connected to redis store", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// Type returns the configured backend type.
func (b *Backend) Type() string {
	return b.cfg.Type
}

// Open returns a Store for values of type V whose keys live under namespace.
func Open[V any](b *Backend, namespace string) Store[V] {
	if b.cfg.Type == models.StoreTypeRedis {
		return NewRedisStore[V](b.client, b.cfg.Redis.KeyPrefix+namespace+":")
	}

	m := NewMemoryStore[V](
		WithClock(b.clock),
		WithSweepInterval(b.cfg.SweepInterval),
		WithLogger(b.logger.With("store", namespace)),
	)
	b.mu.Lock()
	b.closers = append(b.closers, m.Close)
	b.mu.Unlock()
	return m
}

// Ping reports backend health.
func (b *Backend) Ping(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// Close stops memory sweepers and closes the redis client.
func (b *Backend) Close() error {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	for _, c := range closers {
		_ = c()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
