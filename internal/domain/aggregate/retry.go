package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
)

// DefaultMaxAttempts bounds load-decide-commit loops when no limit is configured.
const DefaultMaxAttempts = 8

// ErrTooManyConflicts is returned when every attempt lost a version race.
var ErrTooManyConflicts = errors.New("gave up after repeated version conflicts")

// RetryOnConflict runs fn until it succeeds, fails with anything other than
// store.ErrVersionConflict, or attempts are used up. fn must reload the
// state it decides on; a conflicting commit wrote nothing.
func RetryOnConflict(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(attempt)
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrTooManyConflicts, attempts, err)
}
