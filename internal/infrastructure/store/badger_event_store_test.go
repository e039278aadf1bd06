package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T, dir string) *BadgerEventStore {
	t.Helper()
	es, err := OpenBadgerEventStore(dir)
	require.NoError(t, err)
	return es
}

func TestBadgerEventStore_Contract(t *testing.T) {
	runEventStoreContract(t, func(t *testing.T) EventStoreInterface {
		es := openTestBadger(t, t.TempDir())
		t.Cleanup(func() { es.Close() })
		return es
	})
}

func TestBadgerEventStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	es := openTestBadger(t, dir)
	_, err := es.Commit(ctx, pendingFor("a", 0, 1), pendingFor("a", 1, 2))
	require.NoError(t, err)
	require.NoError(t, es.Close())

	es = openTestBadger(t, dir)
	defer es.Close()

	events, err := es.GetEvents(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = es.Commit(ctx, pendingFor("a", 1, 3))
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = es.Commit(ctx, pendingFor("a", 2, 3))
	assert.NoError(t, err)

	all, err := es.GetAllEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
