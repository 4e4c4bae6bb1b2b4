package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gatekeeper/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	identifier  TEXT NOT NULL DEFAULT '',
	ip          TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	details     JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_occurred_at ON security_events (occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_security_events_name ON security_events (name, occurred_at DESC);
`

const eventColumns = `id, name, severity, identifier, ip, path, user_agent, details, occurred_at`

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and makes
// sure the events table exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveEvent inserts event; saving the same ID twice is a no-op.
func (ps *PostgresStorage) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	details, err := marshalDetails(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO security_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Name, string(event.Severity), event.Identifier,
		event.IP, event.Path, event.UserAgent, details, event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by its ID.
func (ps *PostgresStorage) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id)

	event, err := scanPgEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// RecentEvents returns events matching filter, newest first.
func (ps *PostgresStorage) RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM security_events
		WHERE ($1 = '' OR name = $1) AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		filter.Name, sinceOrEpoch(filter.Since), filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanPgEvent(rows)
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

// CountEvents returns how many events occurred at or after since.
func (ps *PostgresStorage) CountEvents(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1`,
		sinceOrEpoch(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func scanPgEvent(row pgx.Row) (*models.SecurityEvent, error) {
	var (
		e        models.SecurityEvent
		severity string
		details  []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &severity, &e.Identifier, &e.IP, &e.Path, &e.UserAgent, &details, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Severity = models.Severity(severity)
	e.Timestamp = e.Timestamp.UTC()

	d, err := unmarshalDetails(details)
	if err != nil {
		return nil, err
	}
	e.Details = d
	return &e, nil
}

// sinceOrEpoch maps the zero time to the Unix epoch so range filters stay
// within what every backend can represent.
func sinceOrEpoch(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
