package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
)

func TestMemoryStorage_Contract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		s, err := NewMemoryStorage(Config{})
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStorage_DropsOldest(t *testing.T) {
	s, err := NewMemoryStorage(Config{MaxEvents: 3})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveEvent(ctx, testEvent(i, models.EventBotDetected)))
	}

	events, err := s.RecentEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-004", events[0].ID)
	assert.Equal(t, "evt-002", events[2].ID)

	_, err = s.GetEvent(ctx, "evt-000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	ctx := context.Background()

	in := testEvent(1, models.EventBotDetected)
	require.NoError(t, s.SaveEvent(ctx, in))
	in.Details["block_type"] = "mutated"

	got, err := s.GetEvent(ctx, in.ID)
	require.NoError(t, err)
	got.Details["block_type"] = "also mutated"

	again, err := s.GetEvent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "account", again.Details["block_type"])
}

func TestMemoryStorage_RejectsNil(t *testing.T) {
	s, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	assert.Error(t, s.SaveEvent(context.Background(), nil))
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	s, err := NewMemoryStorage(Config{MaxEvents: 50})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				e := testEvent(j, models.EventRateLimitExceeded)
				e.ID = fmt.Sprintf("w%d-%d", worker, j)
				assert.NoError(t, s.SaveEvent(ctx, e))
				_, err := s.RecentEvents(ctx, models.EventFilter{Limit: 5})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	events, err := s.RecentEvents(ctx, models.EventFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, events, 50)
}
