package bruteforce

import (
	"time"

	"gatekeeper/internal/models"
)

// Config holds the guard thresholds and the escalation ladder.
type Config struct {
	MaxAttempts     int             // trip point for account and combined keys
	IPBlockAttempts int             // trip point for IP keys
	TimeWindow      time.Duration   // failures older than this roll the window
	BlockDurations  []time.Duration // escalation ladder indexed by penalty
	Retention       time.Duration   // idle time after which a record is dropped
}

// DefaultConfig returns the built-in thresholds: 5 account failures or 20
// IP failures in 15 minutes, blocks escalating from 5 minutes to 16 hours.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		IPBlockAttempts: 20,
		TimeWindow:      15 * time.Minute,
		BlockDurations:  models.DefaultBlockDurations(),
		Retention:       24 * time.Hour,
	}
}

// ConfigFrom converts the YAML section, keeping defaults for zero fields.
func ConfigFrom(c models.BruteForceConfig) Config {
	cfg := DefaultConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.IPBlockAttempts > 0 {
		cfg.IPBlockAttempts = c.IPBlockAttempts
	}
	if c.TimeWindow > 0 {
		cfg.TimeWindow = c.TimeWindow
	}
	if len(c.BlockDurations) > 0 {
		cfg.BlockDurations = append([]time.Duration(nil), c.BlockDurations...)
	}
	if c.Retention > 0 {
		cfg.Retention = c.Retention
	}
	return cfg
}

func (c Config) threshold(t KeyType) int {
	if t == KeyIP {
		return c.IPBlockAttempts
	}
	return c.MaxAttempts
}

func (c Config) blockDuration(penalty int) time.Duration {
	return c.BlockDurations[min(penalty, len(c.BlockDurations)-1)]
}
