package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
)

var baseTime = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func testEvent(i int, name string) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:         fmt.Sprintf("evt-%03d", i),
		Name:       name,
		Severity:   models.SeverityHigh,
		Identifier: fmt.Sprintf("user%d@example.com", i),
		IP:         "203.0.113.10",
		Path:       "/api/auth/login",
		UserAgent:  "Mozilla/5.0",
		Details:    map[string]string{"block_type": "account"},
		Timestamp:  baseTime.Add(time.Duration(i) * time.Minute),
	}
}

// runStorageContract exercises the behavior every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		in := testEvent(1, models.EventBruteForceBlock)
		require.NoError(t, s.SaveEvent(ctx, in))

		got, err := s.GetEvent(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.Name, got.Name)
		assert.Equal(t, in.Severity, got.Severity)
		assert.Equal(t, in.Identifier, got.Identifier)
		assert.Equal(t, in.IP, got.IP)
		assert.Equal(t, in.Path, got.Path)
		assert.Equal(t, in.UserAgent, got.UserAgent)
		assert.Equal(t, in.Details, got.Details)
		assert.True(t, in.Timestamp.Equal(got.Timestamp))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStorage(t)

		_, err := s.GetEvent(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RecentEventsNewestFirst", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.SaveEvent(ctx, testEvent(i, models.EventRateLimitExceeded)))
		}

		events, err := s.RecentEvents(ctx, models.EventFilter{Limit: 3})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "evt-004", events[0].ID)
		assert.Equal(t, "evt-003", events[1].ID)
		assert.Equal(t, "evt-002", events[2].ID)
	})

	t.Run("RecentEventsFilters", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		for i := 0; i < 6; i++ {
			name := models.EventRateLimitExceeded
			if i%2 == 0 {
				name = models.EventBotDetected
			}
			require.NoError(t, s.SaveEvent(ctx, testEvent(i, name)))
		}

		events, err := s.RecentEvents(ctx, models.EventFilter{Name: models.EventBotDetected})
		require.NoError(t, err)
		require.Len(t, events, 3)
		for _, e := range events {
			assert.Equal(t, models.EventBotDetected, e.Name)
		}

		events, err = s.RecentEvents(ctx, models.EventFilter{Since: baseTime.Add(4 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("CountEvents", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			require.NoError(t, s.SaveEvent(ctx, testEvent(i, models.EventBotDetected)))
		}

		n, err := s.CountEvents(ctx, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.CountEvents(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("EmptyDetails", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		e := testEvent(7, models.EventAdminUnblock)
		e.Details = nil
		require.NoError(t, s.SaveEvent(ctx, e))

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Details)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStorage(t).Ping(context.Background()))
	})
}
