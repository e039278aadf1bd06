// Package aggregate holds the helpers shared by the event-sourced aggregates.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// LoadAggregate loads an aggregate by replaying events, using snapshot if available
// Returns the aggregate, a boolean indicating if data was found, and any error
func LoadAggregate[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	snapshot, err := eventStore.GetSnapshot(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var events []store.Event
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			return zero, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		agg.SetVersion(snapshot.Version)
		events, err = eventStore.GetEventsFromVersion(ctx, id, snapshot.Version)
	} else {
		events, err = eventStore.GetEvents(ctx, id)
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to load events: %w", err)
	}

	hasData := snapshot != nil || len(events) > 0

	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply event: %w", err)
		}
	}

	return agg, hasData, nil
}

// ErrStale is returned by ApplyCommitted when the committed events do not
// directly follow the aggregate's version.
var ErrStale = errors.New("aggregate is behind its stream")

// ApplyCommitted applies the events just committed for agg, in order.
// Events for other aggregates are ignored.
func ApplyCommitted(agg Aggregate, events []store.Event) error {
	for _, e := range events {
		if e.AggregateID != agg.GetID() {
			continue
		}
		if e.Version != agg.GetVersion()+1 {
			return fmt.Errorf("%w: %s at %d, got %d", ErrStale, agg.GetID(), agg.GetVersion(), e.Version)
		}
		if err := agg.ApplyEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// MaybeCreateSnapshot creates a snapshot when the aggregate has crossed a
// threshold boundary since fromVersion.
func MaybeCreateSnapshot(
	ctx context.Context,
	eventStore store.EventStoreInterface,
	agg Aggregate,
	aggregateType string,
	fromVersion int,
) error {
	version := agg.GetVersion()
	if version == 0 || version/store.SnapshotThreshold == fromVersion/store.SnapshotThreshold {
		return nil
	}

	state, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate state: %w", err)
	}

	snapshot := &store.Snapshot{
		AggregateID:   agg.GetID(),
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}

	if err := eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
