package aggregate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	ID      string `json:"id"`
	Total   int    `json:"total"`
	Version int    `json:"version"`
}

func (c *counter) GetID() string    { return c.ID }
func (c *counter) GetVersion() int  { return c.Version }
func (c *counter) SetVersion(v int) { c.Version = v }

func (c *counter) ApplyEvent(e store.Event) error {
	var d struct {
		By int `json:"by"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return err
	}
	c.ID = e.AggregateID
	c.Total += d.By
	c.Version = e.Version
	return nil
}

func add(id string, expected, by int) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     id,
		AggregateType:   "Counter",
		EventType:       "Added",
		ExpectedVersion: expected,
		Data:            map[string]int{"by": by},
	}
}

func newCounter() *counter { return &counter{} }

func TestLoadAggregate_NotFound(t *testing.T) {
	es := store.NewEventStore()

	_, found, err := LoadAggregate(context.Background(), es, "missing", newCounter)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadAggregate_ReplaysFromSnapshot(t *testing.T) {
	es := store.NewEventStore()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := es.Commit(ctx, add("c", i, 1))
		require.NoError(t, err)
	}
	// Snapshot deliberately disagrees with the replayed history so the test
	// can tell it was used.
	require.NoError(t, es.SaveSnapshot(ctx, &store.Snapshot{
		AggregateID: "c",
		Version:     10,
		State:       json.RawMessage(`{"id":"c","total":100,"version":10}`),
	}))

	c, found, err := LoadAggregate(ctx, es, "c", newCounter)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 102, c.Total)
	assert.Equal(t, 12, c.Version)
}

func TestApplyCommitted(t *testing.T) {
	es := store.NewEventStore()
	ctx := context.Background()

	c := &counter{ID: "c"}
	events, err := es.Commit(ctx, add("c", 0, 2), add("other", 0, 5), add("c", 1, 3))
	require.NoError(t, err)

	require.NoError(t, ApplyCommitted(c, events))
	assert.Equal(t, 5, c.Total)
	assert.Equal(t, 2, c.Version)
}

func TestApplyCommitted_Stale(t *testing.T) {
	es := store.NewEventStore()
	ctx := context.Background()

	_, err := es.Commit(ctx, add("c", 0, 1))
	require.NoError(t, err)
	events, err := es.Commit(ctx, add("c", store.AnyVersion, 1))
	require.NoError(t, err)

	err = ApplyCommitted(&counter{ID: "c"}, events)
	assert.ErrorIs(t, err, ErrStale)
}

func TestMaybeCreateSnapshot_OnlyWhenCrossingThreshold(t *testing.T) {
	es := store.NewEventStore()
	ctx := context.Background()

	require.NoError(t, MaybeCreateSnapshot(ctx, es, &counter{ID: "c", Version: 9}, "Counter", 8))
	snap, err := es.GetSnapshot(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, snap)

	// A batch that jumps over the boundary still snapshots.
	require.NoError(t, MaybeCreateSnapshot(ctx, es, &counter{ID: "c", Version: 11, Total: 4}, "Counter", 9))
	snap, err = es.GetSnapshot(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 11, snap.Version)
	assert.Equal(t, "Counter", snap.AggregateType)
}
