package store

import "context"

// EventStoreInterface defines the interface for event stores.
//
// Commit appends every pending event in one atomic unit. Each pending event
// names the version its stream must be at; if any stream has moved on,
// nothing is written and ErrVersionConflict is returned.
type EventStoreInterface interface {
	Commit(ctx context.Context, pending ...PendingEvent) ([]Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}

// Publisher receives every event after it has been committed.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
