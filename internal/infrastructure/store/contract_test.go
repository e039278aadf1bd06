package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N int `json:"n"`
}

func pendingFor(aggregateID string, expected int, n int) PendingEvent {
	return PendingEvent{
		AggregateID:     aggregateID,
		AggregateType:   "Test",
		EventType:       "Happened",
		ExpectedVersion: expected,
		Data:            payload{N: n},
	}
}

// runEventStoreContract exercises the behaviour every backend must share.
func runEventStoreContract(t *testing.T, newStore func(t *testing.T) EventStoreInterface) {
	ctx := context.Background()

	t.Run("commit assigns consecutive versions", func(t *testing.T) {
		es := newStore(t)

		events, err := es.Commit(ctx, pendingFor("a", 0, 1), pendingFor("a", 1, 2))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 1, events[0].Version)
		assert.Equal(t, 2, events[1].Version)

		stored, err := es.GetEvents(ctx, "a")
		require.NoError(t, err)
		require.Len(t, stored, 2)
		var p payload
		require.NoError(t, json.Unmarshal(stored[1].Data, &p))
		assert.Equal(t, 2, p.N)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		es := newStore(t)

		_, err := es.Commit(ctx, pendingFor("a", 0, 1))
		require.NoError(t, err)

		_, err = es.Commit(ctx, pendingFor("a", 0, 2))
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("conflict in one stream writes nothing", func(t *testing.T) {
		es := newStore(t)

		_, err := es.Commit(ctx, pendingFor("a", 0, 1))
		require.NoError(t, err)

		_, err = es.Commit(ctx, pendingFor("b", 0, 1), pendingFor("a", 0, 2))
		assert.ErrorIs(t, err, ErrVersionConflict)

		b, err := es.GetEvents(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, b)
	})

	t.Run("any version appends", func(t *testing.T) {
		es := newStore(t)

		for i := 0; i < 3; i++ {
			_, err := es.Commit(ctx, pendingFor("ledger", AnyVersion, i))
			require.NoError(t, err)
		}

		events, err := es.GetEvents(ctx, "ledger")
		require.NoError(t, err)
		assert.Len(t, events, 3)
		assert.Equal(t, 3, events[2].Version)
	})

	t.Run("events from version", func(t *testing.T) {
		es := newStore(t)

		_, err := es.Commit(ctx, pendingFor("a", 0, 1), pendingFor("a", 1, 2), pendingFor("a", 2, 3))
		require.NoError(t, err)

		events, err := es.GetEventsFromVersion(ctx, "a", 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 2, events[0].Version)
	})

	t.Run("all events in commit order", func(t *testing.T) {
		es := newStore(t)

		_, err := es.Commit(ctx, pendingFor("x", 0, 1))
		require.NoError(t, err)
		_, err = es.Commit(ctx, pendingFor("y", 0, 2), pendingFor("x", 1, 3))
		require.NoError(t, err)

		all, err := es.GetAllEvents(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "x", all[0].AggregateID)
		assert.Equal(t, 2, all[2].Version)
	})

	t.Run("concurrent commits on one stream serialize", func(t *testing.T) {
		es := newStore(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if _, err := es.Commit(ctx, pendingFor("hot", 0, n)); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		events, err := es.GetEvents(ctx, "hot")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("snapshots keep the newest version", func(t *testing.T) {
		es := newStore(t)

		snap, err := es.GetSnapshot(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, snap)

		require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "a", AggregateType: "Test", Version: 10, State: json.RawMessage(`{"v":10}`)}))
		require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "a", AggregateType: "Test", Version: 5, State: json.RawMessage(`{"v":5}`)}))

		snap, err = es.GetSnapshot(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, 10, snap.Version)
		assert.JSONEq(t, `{"v":10}`, string(snap.State))
	})

	t.Run("empty commit is rejected", func(t *testing.T) {
		es := newStore(t)

		_, err := es.Commit(ctx)
		assert.ErrorIs(t, err, ErrEmptyCommit)
	})
}
