package store

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const (
	shardCount           = 32
	defaultSweepInterval = 5 * time.Minute
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]item[V]
}

type memoryConfig struct {
	clock         Clock
	sweepInterval time.Duration
	logger        *slog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

// WithClock overrides time.Now.
func WithClock(clock Clock) MemoryOption {
	return func(c *memoryConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSweepInterval sets how often expired entries are compacted. Zero
// disables the background sweeper; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		c.sweepInterval = d
	}
}

// WithLogger sets the logger used by the background sweeper.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(c *memoryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// MemoryStore is an in-process Store. Keys are spread over fixed shards,
// each guarded by its own mutex, so unrelated keys never contend and the
// sweeper only ever holds one shard at a time.
type MemoryStore[V any] struct {
	shards [shardCount]*shard[V]
	now    Clock
	logger *slog.Logger

	sweepInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryStore creates a MemoryStore and, unless disabled, starts its
// background sweeper. Call Close to stop it.
func NewMemoryStore[V any](opts ...MemoryOption) *MemoryStore[V] {
	cfg := memoryConfig{
		clock:         time.Now,
		sweepInterval: defaultSweepInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &MemoryStore[V]{
		now:           cfg.clock,
		logger:        cfg.logger,
		sweepInterval: cfg.sweepInterval,
		done:          make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]item[V])}
	}

	if m.sweepInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

func (m *MemoryStore[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Get returns the live value for key, deleting it if it has expired.
func (m *MemoryStore[V]) Get(_ context.Context, key string) (V, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false, nil
	}
	if !m.now().Before(it.expiresAt) {
		delete(s.items, key)
		var zero V
		return zero, false, nil
	}
	return it.value, true, nil
}

// Set writes value for ttl. A ttl <= 0 deletes the key.
func (m *MemoryStore[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		delete(s.items, key)
		return nil
	}
	s.items[key] = item[V]{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Update applies fn under the shard lock.
func (m *MemoryStore[V]) Update(_ context.Context, key string, fn UpdateFunc[V]) (V, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	it, exists := s.items[key]
	if exists && !now.Before(it.expiresAt) {
		exists = false
		it = item[V]{}
	}

	next, ttl, err := fn(it.value, exists)
	if err != nil {
		var zero V
		return zero, err
	}

	if ttl <= 0 {
		delete(s.items, key)
	} else {
		s.items[key] = item[V]{value: next, expiresAt: now.Add(ttl)}
	}
	return next, nil
}

// Delete removes keys.
func (m *MemoryStore[V]) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := m.shardFor(key)
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
	}
	return nil
}

// Range visits live entries shard by shard. Each shard is snapshotted under
// its lock and fn runs unlocked, so fn may call back into the store.
func (m *MemoryStore[V]) Range(ctx context.Context, fn func(key string, value V) bool) error {
	type kv struct {
		key   string
		value V
	}

	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := m.now()
		s.mu.Lock()
		batch := make([]kv, 0, len(s.items))
		for k, it := range s.items {
			if now.Before(it.expiresAt) {
				batch = append(batch, kv{key: k, value: it.value})
			}
		}
		s.mu.Unlock()

		for _, e := range batch {
			if !fn(e.key, e.value) {
				return nil
			}
		}
	}
	return nil
}

// Sweep removes expired entries one shard at a time.
func (m *MemoryStore[V]) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		now := m.now()
		s.mu.Lock()
		for k, it := range s.items {
			if !now.Before(it.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Ping always succeeds for the in-process store.
func (m *MemoryStore[V]) Ping(context.Context) error {
	return nil
}

// Close stops the background sweeper. It is safe to call more than once.
func (m *MemoryStore[V]) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

func (m *MemoryStore[V]) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			removed, err := m.Sweep(context.Background())
			if err != nil {
				m.logger.Error("store sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				m.logger.Debug("store sweep completed", "removed", removed)
			}
		}
	}
}
