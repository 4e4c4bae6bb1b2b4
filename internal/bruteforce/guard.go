// Package bruteforce implements a progressive brute-force guard for
// authentication routes.
//
// Every failed login is tracked under three independent keys: the client IP,
// the account, and the IP+account pair. Each key trips its own block when it
// reaches its threshold; the block length is taken from an escalation ladder
// indexed by the key's penalty level, which grows by one per block and
// decays by one each time a quiet tracking window rolls over.
package bruteforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/clientid"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

// ErrInvalidKeyType is returned by Unblock for an unknown key type.
var ErrInvalidKeyType = errors.New("invalid key type")

// KeyType identifies one of the three tracked keyspaces.
type KeyType string

const (
	KeyIP       KeyType = "ip"
	KeyAccount  KeyType = "account"
	KeyCombined KeyType = "combined"
)

// ParseKeyType validates s as a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch t := KeyType(s); t {
	case KeyIP, KeyAccount, KeyCombined:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKeyType, s)
}

func (t KeyType) prefix() string {
	switch t {
	case KeyIP:
		return "ip:"
	case KeyAccount:
		return "email:"
	default:
		return "combined:"
	}
}

// Attempt is the per-key failure record.
type Attempt struct {
	Count              int       `json:"count"`
	FirstAttempt       time.Time `json:"firstAttempt"`
	LastAttempt        time.Time `json:"lastAttempt"`
	IsBlocked          bool      `json:"isBlocked"`
	BlockUntil         time.Time `json:"blockUntil,omitempty"`
	ProgressivePenalty int       `json:"progressivePenalty"`
}

// BlockedAt reports whether the record holds a block that is still active.
func (a Attempt) BlockedAt(now time.Time) bool {
	return a.IsBlocked && now.Before(a.BlockUntil)
}

// Outcome tags a guard decision.
type Outcome int

const (
	Allowed Outcome = iota
	Denied
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Decision is the result of CheckAllowed.
type Decision struct {
	Outcome           Outcome
	Reason            string
	BlockType         KeyType
	RetryAfterSeconds int
	Err               error
}

// Admitted reports whether the request may proceed.
func (d Decision) Admitted() bool {
	return d.Outcome != Denied
}

// Notifier receives the high-severity event emitted when a key is blocked.
type Notifier interface {
	Emit(ctx context.Context, e models.SecurityEvent)
}

// Stats summarizes guard state for the admin API.
type Stats struct {
	TotalAttempts   int `json:"totalAttempts"`
	BlockedIPs      int `json:"blockedIPs"`
	BlockedAccounts int `json:"blockedAccounts"`
	ActiveBlocks    int `json:"activeBlocks"`
}

// Guard is the progressive brute-force guard. It is safe for concurrent use.
type Guard struct {
	store    store.Store[Attempt]
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	notifier Notifier
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithLogger sets the logger for store faults.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithNotifier sets where block events are sent.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) {
		g.notifier = n
	}
}

// New creates a Guard backed by s. An empty ladder falls back to the
// default one.
func New(s store.Store[Attempt], cfg Config, opts ...Option) *Guard {
	if len(cfg.BlockDurations) == 0 {
		cfg.BlockDurations = models.DefaultBlockDurations()
	}
	g := &Guard{
		store:  s,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type trackedKey struct {
	typ KeyType
	key string
}

// keysFor lists the keys a request touches, in check order.
func keysFor(ip, account string) []trackedKey {
	keys := []trackedKey{{KeyIP, KeyIP.prefix() + ip}}
	if account == "" {
		return keys
	}
	return append(keys,
		trackedKey{KeyAccount, KeyAccount.prefix() + account},
		trackedKey{KeyCombined, KeyCombined.prefix() + ip + "_" + account},
	)
}

// CheckAllowed reports whether r (and account, if known) is currently
// blocked. It never modifies state. IP blocks are reported first, then
// account blocks, then combined blocks.
func (g *Guard) CheckAllowed(ctx context.Context, r *http.Request, account string) Decision {
	ip := clientid.ClientIP(r)
	account = clientid.NormalizeAccount(account)
	now := g.now()

	for _, k := range keysFor(ip, account) {
		a, ok, err := g.store.Get(ctx, k.key)
		if err != nil {
			g.logger.Error("brute force check failed, allowing request",
				"key_type", k.typ,
				"ip", ip,
				"error", err,
			)
			return Decision{Outcome: Degraded, Err: err}
		}
		if !ok || !a.BlockedAt(now) {
			continue
		}
		return Decision{
			Outcome:           Denied,
			Reason:            blockReason(k.typ),
			BlockType:         k.typ,
			RetryAfterSeconds: int(math.Ceil(a.BlockUntil.Sub(now).Seconds())),
		}
	}

	return Decision{Outcome: Allowed}
}

func blockReason(t KeyType) string {
	switch t {
	case KeyIP:
		return "Too many failed attempts from this IP address"
	case KeyAccount:
		return "Account temporarily locked due to repeated failed login attempts"
	default:
		return "Too many failed attempts for this account from this IP address"
	}
}

// RecordFailure counts a failed authentication against every key r and
// account map to. Store faults are logged and otherwise ignored.
func (g *Guard) RecordFailure(ctx context.Context, r *http.Request, account string) {
	ip := clientid.ClientIP(r)
	account = clientid.NormalizeAccount(account)

	for _, k := range keysFor(ip, account) {
		a, tripped, err := g.recordFailure(ctx, k)
		if err != nil {
			g.logger.Error("failed to record authentication failure",
				"key_type", k.typ,
				"ip", ip,
				"error", err,
			)
			continue
		}
		if tripped {
			g.emitBlock(ctx, r, k, ip, account, a)
		}
	}
}

func (g *Guard) recordFailure(ctx context.Context, k trackedKey) (Attempt, bool, error) {
	now := g.now()
	var tripped bool

	a, err := g.store.Update(ctx, k.key, func(cur Attempt, exists bool) (Attempt, time.Duration, error) {
		tripped = false

		switch {
		case !exists:
			cur = Attempt{FirstAttempt: now}
		case now.Sub(cur.FirstAttempt) > g.cfg.TimeWindow:
			cur.Count = 0
			cur.FirstAttempt = now
			cur.ProgressivePenalty = max(0, cur.ProgressivePenalty-1)
		}

		cur.Count++
		cur.LastAttempt = now

		if cur.IsBlocked && !cur.BlockedAt(now) {
			cur.IsBlocked = false
		}

		if !cur.IsBlocked && cur.Count >= g.cfg.threshold(k.typ) {
			cur.IsBlocked = true
			cur.BlockUntil = now.Add(g.cfg.blockDuration(cur.ProgressivePenalty))
			cur.ProgressivePenalty++
			cur.Count = 0
			// The next tracking window starts when the block ends, so
			// failures right after it keep the penalty level.
			cur.FirstAttempt = cur.BlockUntil
			tripped = true
		}

		return cur, g.ttl(cur, now), nil
	})
	return a, tripped, err
}

// ttl keeps a record for Retention after its last failure, and at least
// until its block ends.
func (g *Guard) ttl(a Attempt, now time.Time) time.Duration {
	until := a.LastAttempt.Add(g.cfg.Retention)
	if a.BlockUntil.After(until) {
		until = a.BlockUntil
	}
	return until.Sub(now)
}

func (g *Guard) emitBlock(ctx context.Context, r *http.Request, k trackedKey, ip, account string, a Attempt) {
	duration := a.BlockUntil.Sub(g.now())

	g.logger.Warn("brute force block applied",
		"key_type", k.typ,
		"ip", ip,
		"penalty", a.ProgressivePenalty,
		"block_until", a.BlockUntil,
	)

	if g.notifier == nil {
		return
	}

	identifier := ip
	switch k.typ {
	case KeyAccount:
		identifier = account
	case KeyCombined:
		identifier = ip + "_" + account
	}

	g.notifier.Emit(ctx, models.SecurityEvent{
		Name:       models.EventBruteForceBlock,
		Severity:   models.SeverityHigh,
		Identifier: identifier,
		IP:         ip,
		Path:       r.URL.Path,
		UserAgent:  r.UserAgent(),
		Details: map[string]string{
			"block_type":    string(k.typ),
			"block_seconds": strconv.Itoa(int(duration.Seconds())),
			"penalty":       strconv.Itoa(a.ProgressivePenalty),
			"block_until":   a.BlockUntil.UTC().Format(time.RFC3339),
		},
	})
}

// RecordSuccess clears all three keys for r and account.
func (g *Guard) RecordSuccess(ctx context.Context, r *http.Request, account string) {
	ip := clientid.ClientIP(r)
	account = clientid.NormalizeAccount(account)

	keys := keysFor(ip, account)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.key
	}

	if err := g.store.Delete(ctx, names...); err != nil {
		g.logger.Error("failed to clear brute force records",
			"ip", ip,
			"error", err,
		)
	}
}

// Unblock deletes the record for identifier in the given keyspace. For
// KeyCombined the identifier is "<ip>_<account>".
func (g *Guard) Unblock(ctx context.Context, identifier string, typ KeyType) error {
	key, err := keyFor(identifier, typ)
	if err != nil {
		return err
	}

	if err := g.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to unblock %s: %w", typ, err)
	}
	g.logger.Info("brute force record cleared", "key_type", typ)
	return nil
}

// Lookup returns the record for identifier in the given keyspace.
func (g *Guard) Lookup(ctx context.Context, identifier string, typ KeyType) (Attempt, bool, error) {
	key, err := keyFor(identifier, typ)
	if err != nil {
		return Attempt{}, false, err
	}
	return g.store.Get(ctx, key)
}

// keyFor builds the store key for an operator-supplied identifier, applying
// the same normalization as the request path. IPs never contain "_", so a
// combined identifier splits on the first one.
func keyFor(identifier string, typ KeyType) (string, error) {
	switch typ {
	case KeyIP:
		return KeyIP.prefix() + normalizeIP(identifier), nil
	case KeyAccount:
		return KeyAccount.prefix() + clientid.NormalizeAccount(identifier), nil
	case KeyCombined:
		ip, account, ok := strings.Cut(strings.TrimSpace(identifier), "_")
		if !ok {
			return KeyCombined.prefix() + identifier, nil
		}
		return KeyCombined.prefix() + normalizeIP(ip) + "_" + clientid.NormalizeAccount(account), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKeyType, typ)
	}
}

func normalizeIP(s string) string {
	if ip, ok := clientid.NormalizeIP(s); ok {
		return ip
	}
	return strings.TrimSpace(s)
}

// Stats counts tracked records and active blocks.
func (g *Guard) Stats(ctx context.Context) (Stats, error) {
	now := g.now()
	var s Stats

	err := g.store.Range(ctx, func(key string, a Attempt) bool {
		s.TotalAttempts++
		if !a.BlockedAt(now) {
			return true
		}
		s.ActiveBlocks++
		switch {
		case strings.HasPrefix(key, KeyIP.prefix()):
			s.BlockedIPs++
		case strings.HasPrefix(key, KeyAccount.prefix()):
			s.BlockedAccounts++
		}
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to collect brute force stats: %w", err)
	}
	return s, nil
}
