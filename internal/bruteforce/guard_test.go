package bruteforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (n *recordingNotifier) Emit(_ context.Context, e models.SecurityEvent) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) Events() []models.SecurityEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SecurityEvent(nil), n.events...)
}

var errStoreDown = errors.New("store down")

type failingStore struct{}

func (failingStore) Get(context.Context, string) (Attempt, bool, error) {
	return Attempt{}, false, errStoreDown
}
func (failingStore) Set(context.Context, string, Attempt, time.Duration) error { return errStoreDown }
func (failingStore) Update(context.Context, string, store.UpdateFunc[Attempt]) (Attempt, error) {
	return Attempt{}, errStoreDown
}
func (failingStore) Delete(context.Context, ...string) error { return errStoreDown }
func (failingStore) Range(context.Context, func(string, Attempt) bool) error {
	return errStoreDown
}
func (failingStore) Sweep(context.Context) (int, error) { return 0, errStoreDown }
func (failingStore) Ping(context.Context) error         { return errStoreDown }
func (failingStore) Close() error                       { return nil }

func newTestGuard(t *testing.T, clock *testClock, opts ...Option) *Guard {
	t.Helper()
	s := store.NewMemoryStore[Attempt](store.WithClock(clock.Now), store.WithSweepInterval(0))
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig(), append([]Option{WithClock(clock.Now)}, opts...)...)
}

func loginRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = ip + ":51000"
	req.Header.Set("User-Agent", "Mozilla/5.0")
	return req
}

func failN(g *Guard, n int, ip, account string) {
	for i := 0; i < n; i++ {
		g.RecordFailure(context.Background(), loginRequest(ip), account)
	}
}

func TestGuard_AccountBlockScenario(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 4, "1.1.1.1", "a@b.com")
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com").Outcome)

	failN(g, 1, "1.1.1.1", "a@b.com")

	d := g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com")
	assert.Equal(t, Denied, d.Outcome)
	assert.False(t, d.Admitted())
	assert.Equal(t, KeyAccount, d.BlockType)
	assert.Equal(t, 300, d.RetryAfterSeconds)
	assert.NotEmpty(t, d.Reason)

	before, ok, err := g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	require.True(t, ok)

	// A failure while blocked neither shortens nor extends the block.
	clock.Advance(10 * time.Second)
	failN(g, 1, "1.1.1.1", "a@b.com")

	after, _, err := g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	assert.Equal(t, before.BlockUntil, after.BlockUntil)
	assert.Equal(t, before.ProgressivePenalty, after.ProgressivePenalty)

	d = g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com")
	assert.Equal(t, 290, d.RetryAfterSeconds)
}

func TestGuard_AccountBlockAppliesFromAnyIP(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)

	failN(g, 5, "1.1.1.1", "victim@example.com")

	d := g.CheckAllowed(context.Background(), loginRequest("2.2.2.2"), "Victim@Example.com ")
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, KeyAccount, d.BlockType)
}

func TestGuard_EscalationLadder(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	want := []time.Duration{
		5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute,
		120 * time.Minute, 240 * time.Minute, 480 * time.Minute, 960 * time.Minute,
		960 * time.Minute, 960 * time.Minute,
	}

	for round, expected := range want {
		failN(g, 5, "1.1.1.1", "a@b.com")

		a, ok, err := g.Lookup(ctx, "a@b.com", KeyAccount)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, a.BlockedAt(clock.Now()), "round %d", round+1)
		assert.Equal(t, expected, a.BlockUntil.Sub(clock.Now()), "round %d", round+1)
		assert.Equal(t, round+1, a.ProgressivePenalty)

		clock.Set(a.BlockUntil.Add(time.Second))
	}
}

func TestGuard_PenaltyDecay(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 5, "1.1.1.1", "a@b.com")
	a, _, err := g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	require.Equal(t, 1, a.ProgressivePenalty)

	clock.Set(a.BlockUntil.Add(time.Second))
	failN(g, 3, "1.1.1.1", "a@b.com")

	a, _, err = g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Count)

	clock.Advance(DefaultConfig().TimeWindow + time.Second)
	failN(g, 1, "1.1.1.1", "a@b.com")

	a, _, err = g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, 0, a.ProgressivePenalty)
	assert.Equal(t, clock.Now(), a.FirstAttempt)
}

func TestGuard_PenaltyDecayFloorsAtZero(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 3, "1.1.1.1", "a@b.com")
	clock.Advance(16 * time.Minute)
	failN(g, 1, "1.1.1.1", "a@b.com")

	a, _, err := g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, 0, a.ProgressivePenalty)
}

func TestGuard_SuccessResetsAllKeys(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 5, "1.1.1.1", "a@b.com")
	for _, k := range []struct {
		id  string
		typ KeyType
	}{{"1.1.1.1", KeyIP}, {"a@b.com", KeyAccount}, {"1.1.1.1_a@b.com", KeyCombined}} {
		_, ok, err := g.Lookup(ctx, k.id, k.typ)
		require.NoError(t, err)
		require.True(t, ok, k.typ)
	}

	g.RecordSuccess(ctx, loginRequest("1.1.1.1"), "a@b.com")
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com").Outcome)

	failN(g, 1, "1.1.1.1", "a@b.com")
	for _, k := range []struct {
		id  string
		typ KeyType
	}{{"1.1.1.1", KeyIP}, {"a@b.com", KeyAccount}, {"1.1.1.1_a@b.com", KeyCombined}} {
		a, ok, err := g.Lookup(ctx, k.id, k.typ)
		require.NoError(t, err)
		require.True(t, ok, k.typ)
		assert.Equal(t, 1, a.Count, k.typ)
		assert.Equal(t, 0, a.ProgressivePenalty, k.typ)
		assert.False(t, a.IsBlocked, k.typ)
	}
}

func TestGuard_IPThresholdIndependence(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	for i := 0; i < 19; i++ {
		failN(g, 1, "9.9.9.9", fmt.Sprintf("user%d@example.com", i))
	}
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("9.9.9.9"), "new@example.com").Outcome)

	failN(g, 1, "9.9.9.9", "user19@example.com")

	d := g.CheckAllowed(ctx, loginRequest("9.9.9.9"), "new@example.com")
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, KeyIP, d.BlockType)
	assert.Equal(t, 300, d.RetryAfterSeconds)

	// Without an account only the IP key is consulted.
	assert.Equal(t, Denied, g.CheckAllowed(ctx, loginRequest("9.9.9.9"), "").Outcome)
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("9.9.9.8"), "").Outcome)
}

func TestGuard_IPBlockTakesPrecedence(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)

	for i := 0; i < 4; i++ {
		failN(g, 5, "3.3.3.3", fmt.Sprintf("u%d@example.com", i))
	}

	d := g.CheckAllowed(context.Background(), loginRequest("3.3.3.3"), "u0@example.com")
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, KeyIP, d.BlockType)
}

func TestGuard_BlockExpires(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 5, "1.1.1.1", "a@b.com")
	clock.Advance(5*time.Minute + time.Millisecond)

	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com").Outcome)
}

func TestGuard_RetentionDropsIdleRecords(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 2, "1.1.1.1", "a@b.com")
	clock.Advance(24*time.Hour + time.Second)

	_, ok, err := g.Lookup(ctx, "a@b.com", KeyAccount)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_EmitsBlockEvent(t *testing.T) {
	clock := newTestClock()
	n := &recordingNotifier{}
	g := newTestGuard(t, clock, WithNotifier(n))

	failN(g, 5, "1.1.1.1", "a@b.com")

	events := n.Events()
	require.Len(t, events, 2, "account and combined keys trip together")
	for _, e := range events {
		assert.Equal(t, models.EventBruteForceBlock, e.Name)
		assert.Equal(t, models.SeverityHigh, e.Severity)
		assert.Equal(t, "1.1.1.1", e.IP)
		assert.Equal(t, "/api/auth/login", e.Path)
		assert.Equal(t, "300", e.Details["block_seconds"])
	}
	assert.Equal(t, "a@b.com", events[0].Identifier)
	assert.Equal(t, "account", events[0].Details["block_type"])
	assert.Equal(t, "1.1.1.1_a@b.com", events[1].Identifier)

	// No second event while the block holds.
	failN(g, 5, "1.1.1.1", "a@b.com")
	assert.Len(t, n.Events(), 2)
}

func TestGuard_FailsOpen(t *testing.T) {
	g := New(failingStore{}, DefaultConfig())
	ctx := context.Background()

	d := g.CheckAllowed(ctx, loginRequest("1.1.1.1"), "a@b.com")
	assert.Equal(t, Degraded, d.Outcome)
	assert.True(t, d.Admitted())
	assert.ErrorIs(t, d.Err, errStoreDown)

	assert.NotPanics(t, func() {
		g.RecordFailure(ctx, loginRequest("1.1.1.1"), "a@b.com")
		g.RecordSuccess(ctx, loginRequest("1.1.1.1"), "a@b.com")
	})

	_, err := g.Stats(ctx)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestGuard_Unblock(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		failN(g, 1, "4.4.4.4", fmt.Sprintf("x%d@example.com", i))
	}
	require.Equal(t, Denied, g.CheckAllowed(ctx, loginRequest("4.4.4.4"), "").Outcome)

	require.NoError(t, g.Unblock(ctx, "4.4.4.4", KeyIP))
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("4.4.4.4"), "").Outcome)

	failN(g, 5, "5.5.5.5", "locked@example.com")
	require.NoError(t, g.Unblock(ctx, "LOCKED@example.com", KeyAccount))
	d := g.CheckAllowed(ctx, loginRequest("6.6.6.6"), "locked@example.com")
	assert.Equal(t, Allowed, d.Outcome)

	// The combined key is independent of the account key.
	d = g.CheckAllowed(ctx, loginRequest("5.5.5.5"), "locked@example.com")
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, KeyCombined, d.BlockType)
	require.NoError(t, g.Unblock(ctx, "5.5.5.5_locked@example.com", KeyCombined))
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("5.5.5.5"), "locked@example.com").Outcome)

	assert.ErrorIs(t, g.Unblock(ctx, "x", KeyType("device")), ErrInvalidKeyType)
}

func TestGuard_UnblockCombinedNormalizesIdentifier(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	failN(g, 5, "9.9.9.9", "Alice_Smith@Example.com")
	require.NoError(t, g.Unblock(ctx, "alice_smith@example.com", KeyAccount))

	a, ok, err := g.Lookup(ctx, "9.9.9.9_ALICE_SMITH@example.com", KeyCombined)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.BlockedAt(clock.Now()))

	// The operator types the address the way the shopper did.
	require.NoError(t, g.Unblock(ctx, " 9.9.9.9_Alice_Smith@Example.com ", KeyCombined))

	_, ok, err = g.Lookup(ctx, "9.9.9.9_alice_smith@example.com", KeyCombined)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Allowed, g.CheckAllowed(ctx, loginRequest("9.9.9.9"), "alice_smith@example.com").Outcome)
}

func TestGuard_LookupNormalizesIP(t *testing.T) {
	g := newTestGuard(t, newTestClock())
	ctx := context.Background()

	failN(g, 1, "10.1.1.1", "")

	a, ok, err := g.Lookup(ctx, "::ffff:10.1.1.1", KeyIP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, a.Count)

	_, _, err = g.Lookup(ctx, "10.1.1.1", KeyType("device"))
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}

func TestGuard_Stats(t *testing.T) {
	clock := newTestClock()
	g := newTestGuard(t, clock)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		failN(g, 1, "7.7.7.7", fmt.Sprintf("s%d@example.com", i))
	}
	failN(g, 5, "8.8.8.8", "target@example.com")
	failN(g, 1, "8.8.4.4", "")

	s, err := g.Stats(ctx)
	require.NoError(t, err)

	// 7.7.7.7: 1 ip + 20 account + 20 combined; 8.8.8.8: 3; 8.8.4.4: 1.
	assert.Equal(t, 45, s.TotalAttempts)
	assert.Equal(t, 1, s.BlockedIPs)
	assert.Equal(t, 1, s.BlockedAccounts)
	assert.Equal(t, 3, s.ActiveBlocks)
}

func TestParseKeyType(t *testing.T) {
	for _, s := range []string{"ip", "account", "combined"} {
		typ, err := ParseKeyType(s)
		require.NoError(t, err)
		assert.Equal(t, KeyType(s), typ)
	}

	_, err := ParseKeyType("email")
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(models.BruteForceConfig{MaxAttempts: 3, BlockDurations: []time.Duration{time.Minute}})

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 20, cfg.IPBlockAttempts)
	assert.Equal(t, 15*time.Minute, cfg.TimeWindow)
	assert.Equal(t, []time.Duration{time.Minute}, cfg.BlockDurations)
	assert.Equal(t, time.Minute, cfg.blockDuration(7))
}

func TestGuard_ConcurrentFailuresTripOnce(t *testing.T) {
	clock := newTestClock()
	n := &recordingNotifier{}
	g := newTestGuard(t, clock, WithNotifier(n))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.RecordFailure(context.Background(), loginRequest("2.2.2.2"), fmt.Sprintf("c%d@example.com", i))
		}(i)
	}
	wg.Wait()

	ipEvents := 0
	for _, e := range n.Events() {
		if e.Details["block_type"] == string(KeyIP) {
			ipEvents++
		}
	}
	assert.Equal(t, 1, ipEvents)
}
