package store

import (
	"context"
	"sync"
	"time"
)

// EventStore keeps events in memory.
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	log       []Event
	snapshots map[string]Snapshot
	opts      options
}

func NewEventStore(opts ...Option) *EventStore {
	return &EventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
		opts:      newOptions(opts),
	}
}

// Commit appends the batch under a single lock and publishes it afterwards.
func (es *EventStore) Commit(ctx context.Context, pending ...PendingEvent) ([]Event, error) {
	es.mu.Lock()
	events, err := buildEvents(pending, func(aggregateID string) (int, error) {
		return len(es.events[aggregateID]), nil
	}, time.Now().UTC())
	if err != nil {
		es.mu.Unlock()
		return nil, err
	}
	for _, event := range events {
		es.events[event.AggregateID] = append(es.events[event.AggregateID], event)
	}
	es.log = append(es.log, events...)
	es.mu.Unlock()

	publishAll(ctx, es.opts.logger, es.opts.publisher, events)
	return events, nil
}

// GetEvents returns all events for an aggregate
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events with a version greater than fromVersion.
func (es *EventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	stream := es.events[aggregateID]
	if fromVersion >= len(stream) {
		return nil, nil
	}
	if fromVersion < 0 {
		fromVersion = 0
	}
	out := make([]Event, len(stream)-fromVersion)
	copy(out, stream[fromVersion:])
	return out, nil
}

// GetAllEvents returns all events in commit order
func (es *EventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	out := make([]Event, len(es.log))
	copy(out, es.log)
	return out, nil
}

func (es *EventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	s, ok := es.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (es *EventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if current, ok := es.snapshots[snapshot.AggregateID]; ok && current.Version >= snapshot.Version {
		return nil
	}
	es.snapshots[snapshot.AggregateID] = *snapshot
	return nil
}
