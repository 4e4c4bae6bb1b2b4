package storage

import (
	"context"
	"time"

	"gatekeeper/internal/models"
)

// Storage defines the interface for security event persistence and retrieval.
// It provides a clean abstraction that can be implemented by different backends
// such as JSON files or databases.
type Storage interface {
	// SaveEvent stores a security event
	SaveEvent(ctx context.Context, event *models.SecurityEvent) error

	// GetEvent retrieves an event by its ID
	GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error)

	// RecentEvents returns events matching filter, newest first
	RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)

	// CountEvents returns how many events occurred at or after since
	CountEvents(ctx context.Context, since time.Time) (int, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxEvents bounds the memory and JSON backends; oldest events are dropped
	MaxEvents int `json:"max_events,omitempty" yaml:"max_events,omitempty"`

	// Pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}

const defaultMaxEvents = 10000

func (c Config) maxEvents() int {
	if c.MaxEvents <= 0 {
		return defaultMaxEvents
	}
	return c.MaxEvents
}
