package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE raised when (aggregate_id, version) collides.
const pgUniqueViolation = "23505"

// PostgresEventStore stores events in PostgreSQL
type PostgresEventStore struct {
	db   *sql.DB
	opts options
}

func NewPostgresEventStore(db *sql.DB, opts ...Option) *PostgresEventStore {
	return &PostgresEventStore{
		db:   db,
		opts: newOptions(opts),
	}
}

// Commit writes the batch in one transaction. Every touched stream is
// locked with a transaction-scoped advisory lock before its head version
// is read, so concurrent commits to the same stream serialize.
func (es *PostgresEventStore) Commit(ctx context.Context, pending ...PendingEvent) ([]Event, error) {
	if len(pending) == 0 {
		return nil, ErrEmptyCommit
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	// Lock in a stable order to avoid deadlocks between overlapping batches.
	ids := streamIDs(pending)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", id); err != nil {
			return nil, fmt.Errorf("lock stream %s: %w", id, err)
		}
	}

	events, err := buildEvents(pending, func(aggregateID string) (int, error) {
		var v int
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
			aggregateID,
		).Scan(&v)
		return v, err
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.AggregateID, e.AggregateType, e.EventType, []byte(e.Data), e.Version, e.Timestamp); err != nil {
			return nil, mapPostgresError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPostgresError(err)
	}

	publishAll(ctx, es.opts.logger, es.opts.publisher, events)
	return events, nil
}

func mapPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrVersionConflict, pqErr.Message)
	}
	return err
}

func streamIDs(pending []PendingEvent) []string {
	seen := make(map[string]bool, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if !seen[p.AggregateID] {
			seen[p.AggregateID] = true
			ids = append(ids, p.AggregateID)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetEvents returns all events for an aggregate from PostgreSQL
func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events for an aggregate after fromVersion
func (es *PostgresEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.queryEvents(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events
		 WHERE aggregate_id = $1 AND version > $2
		 ORDER BY version ASC`,
		aggregateID, fromVersion,
	)
}

// GetAllEvents returns all events in commit order
func (es *PostgresEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.queryEvents(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events
		 ORDER BY seq ASC`,
	)
}

func (es *PostgresEventStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Data = data
		events = append(events, e)
	}
	return events, rows.Err()
}

func (es *PostgresEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := es.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&s.AggregateID, &s.AggregateType, &s.Version, &state, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	s.State = state
	return &s, nil
}

// SaveSnapshot upserts the snapshot unless a newer one is already stored.
func (es *PostgresEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	_, err := es.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = EXCLUDED.aggregate_type,
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
		 WHERE snapshots.version < EXCLUDED.version`,
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, []byte(snapshot.State), snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
