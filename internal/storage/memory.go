package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// MemoryStorage implements the Storage interface as a bounded in-memory log.
// Once MaxEvents is reached the oldest event is overwritten. Data is lost on
// restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []*models.SecurityEvent // ring buffer
	next   int                     // slot for the next write
	full   bool
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		events: make([]*models.SecurityEvent, config.maxEvents()),
	}, nil
}

// SaveEvent appends a copy of event
func (m *MemoryStorage) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	eventCopy := copyEvent(event)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = eventCopy
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// newestFirst calls fn for stored events from newest to oldest until fn
// returns false. Callers hold the read lock.
func (m *MemoryStorage) newestFirst(fn func(e *models.SecurityEvent) bool) {
	n := m.next
	if m.full {
		n = len(m.events)
	}
	for i := 0; i < n; i++ {
		idx := (m.next - 1 - i + len(m.events)) % len(m.events)
		if !fn(m.events[idx]) {
			return
		}
	}
}

// GetEvent retrieves an event by its ID
func (m *MemoryStorage) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.SecurityEvent
	m.newestFirst(func(e *models.SecurityEvent) bool {
		if e.ID == id {
			found = copyEvent(e)
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

// RecentEvents returns events matching filter, newest first
func (m *MemoryStorage) RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	limit := filter.EffectiveLimit()

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*models.SecurityEvent, 0, min(limit, len(m.events)))
	m.newestFirst(func(e *models.SecurityEvent) bool {
		if filter.Matches(e) {
			events = append(events, copyEvent(e))
		}
		return len(events) < limit
	})
	return events, nil
}

// CountEvents returns how many stored events occurred at or after since
func (m *MemoryStorage) CountEvents(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	m.newestFirst(func(e *models.SecurityEvent) bool {
		if !e.Timestamp.Before(since) {
			count++
		}
		return true
	})
	return count, nil
}

// Ping always succeeds for memory storage
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
