package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/example/ticket-ledger/internal/infrastructure/store/migrations"
	"github.com/stretchr/testify/require"
)

// newTestDB connects to TEST_DATABASE_URL and skips when it is unset or
// unreachable.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(ctx, db))
	return db
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE events, snapshots, read_listings, read_transactions, read_commission_stats`)
	require.NoError(t, err)
}

func TestPostgresEventStore_Contract(t *testing.T) {
	db := newTestDB(t)

	runEventStoreContract(t, func(t *testing.T) EventStoreInterface {
		resetTables(t, db)
		return NewPostgresEventStore(db)
	})
}
