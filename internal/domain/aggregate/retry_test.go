package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/stretchr/testify/assert"
)

func TestRetryOnConflict_RetriesOnlyConflicts(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 5, func(attempt int) error {
		calls++
		if attempt < 3 {
			return store.ErrVersionConflict
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflict_StorageErrorNotRetried(t *testing.T) {
	boom := errors.New("disk full")
	calls := 0
	err := RetryOnConflict(context.Background(), 5, func(int) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_GivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func(int) error {
		calls++
		return store.ErrVersionConflict
	})

	assert.ErrorIs(t, err, ErrTooManyConflicts)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflict_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryOnConflict(ctx, 3, func(int) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
