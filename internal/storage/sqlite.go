package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"gatekeeper/internal/models"
)

// Timestamps are stored as Unix nanoseconds so ordering and range queries
// stay numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	identifier  TEXT NOT NULL DEFAULT '',
	ip          TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_occurred_at ON security_events (occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_security_events_name ON security_events (name, occurred_at DESC);
`

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveEvent inserts event; saving the same ID twice is a no-op.
func (ss *SQLiteStorage) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	details, err := marshalDetails(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO security_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Name, string(event.Severity), event.Identifier,
		event.IP, event.Path, event.UserAgent, string(details), event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by its ID
func (ss *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM security_events WHERE id = ?`, id)

	event, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// RecentEvents returns events matching filter, newest first
func (ss *SQLiteStorage) RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM security_events
		WHERE (? = '' OR name = ?) AND occurred_at >= ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		filter.Name, filter.Name, sinceOrEpoch(filter.Since).UnixNano(), filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// CountEvents returns how many events occurred at or after since
func (ss *SQLiteStorage) CountEvents(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= ?`,
		sinceOrEpoch(since).UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Ping checks the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row rowScanner) (*models.SecurityEvent, error) {
	var (
		e          models.SecurityEvent
		severity   string
		details    string
		occurredAt int64
	)
	if err := row.Scan(&e.ID, &e.Name, &severity, &e.Identifier, &e.IP, &e.Path, &e.UserAgent, &details, &occurredAt); err != nil {
		return nil, err
	}
	e.Severity = models.Severity(severity)
	e.Timestamp = time.Unix(0, occurredAt).UTC()

	d, err := unmarshalDetails([]byte(details))
	if err != nil {
		return nil, err
	}
	e.Details = d
	return &e, nil
}
