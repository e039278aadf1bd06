package listing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListingService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore, WithMaxAttempts(64))
	return service, eventStore
}

func gaTier(quantity int) TierSpec {
	return TierSpec{TierID: "ga", Name: "General", Price: decimal.NewFromInt(500), Quantity: quantity}
}

func approve(t *testing.T, s *Service, tiers ...TierSpec) *Listing {
	t.Helper()
	l, err := s.Approve(context.Background(), Submission{SellerID: "seller-1", Title: "Concert", Tiers: tiers}, "admin-1")
	require.NoError(t, err)
	return l
}

// ============================================
// Listing Struct Tests
// ============================================

func TestListing_IsSoldOut(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
		want  bool
	}{
		{"no tiers", nil, false},
		{"nothing sold", []Tier{{ID: "a", Total: 5}}, false},
		{"one of two tiers full", []Tier{{ID: "a", Total: 5, Sold: 5}, {ID: "b", Total: 2, Sold: 1}}, false},
		{"every tier full", []Tier{{ID: "a", Total: 5, Sold: 5}, {ID: "b", Total: 2, Sold: 2}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Listing{Tiers: tt.tiers}
			assert.Equal(t, tt.want, l.IsSoldOut())
			assert.Equal(t, !tt.want, l.IsActive())
		})
	}
}

func TestListing_PlanReservation(t *testing.T) {
	base := Listing{ID: "l-1", Version: 3, Tiers: []Tier{{ID: "ga", Total: 10, Sold: 8}}}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		l := base
		pending, err := l.PlanReservation("ga", 2, "tx-1", at)
		require.NoError(t, err)
		assert.Equal(t, 3, pending.ExpectedVersion)
		assert.Equal(t, EventTicketsReserved, pending.EventType)
		assert.Equal(t, "tx-1", pending.Data.(TicketsReserved).TransactionID)
	})

	t.Run("insufficient reports available", func(t *testing.T) {
		l := base
		_, err := l.PlanReservation("ga", 3, "", at)
		assert.ErrorIs(t, err, ErrInsufficientInventory)
		assert.ErrorIs(t, err, domain.ErrRejected)
		available, ok := AvailableFrom(err)
		assert.True(t, ok)
		assert.Equal(t, 2, available)
	})

	t.Run("unknown tier", func(t *testing.T) {
		l := base
		_, err := l.PlanReservation("vip", 1, "", at)
		assert.ErrorIs(t, err, ErrTierNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("zero quantity", func(t *testing.T) {
		l := base
		_, err := l.PlanReservation("ga", 0, "", at)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("deactivated", func(t *testing.T) {
		l := base
		l.Deactivated = true
		_, err := l.PlanReservation("ga", 1, "", at)
		assert.ErrorIs(t, err, ErrListingInactive)
	})
}

// ============================================
// Approve Tests
// ============================================

func TestService_Approve(t *testing.T) {
	service, eventStore := newTestListingService()

	l := approve(t, service, gaTier(10), TierSpec{Name: "VIP", Price: decimal.NewFromInt(2000), Quantity: 2})

	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "seller-1", l.SellerID)
	require.Len(t, l.Tiers, 2)
	assert.Equal(t, "VIP", l.Tiers[1].ID, "tier id defaults to its name")
	assert.True(t, l.IsActive())
	assert.Equal(t, 1, l.Version)
	require.Len(t, eventStore.CommitCalls, 1)
	assert.Equal(t, EventListingApproved, eventStore.CommitCalls[0][0].EventType)
}

func TestService_Approve_ReturnsCommittedState(t *testing.T) {
	eventStore := store.NewEventStore()
	service := NewService(eventStore)

	l, err := service.Approve(context.Background(), Submission{
		ListingID: "L1",
		SellerID:  "seller-1",
		Title:     "Concert",
		Tiers:     []TierSpec{gaTier(10)},
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "L1", l.ID)
	assert.Equal(t, "admin-1", l.ApprovedBy)
	require.Len(t, l.Tiers, 1)
	assert.Equal(t, 10, l.Tiers[0].Available())
	assert.Equal(t, 1, l.Version)
}

func TestService_Approve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"no seller", Submission{Tiers: []TierSpec{gaTier(1)}}, ErrMissingSeller},
		{"no tiers", Submission{SellerID: "s"}, ErrNoTiers},
		{"zero price", Submission{SellerID: "s", Tiers: []TierSpec{{TierID: "a", Quantity: 1}}}, ErrInvalidTier},
		{"zero quantity", Submission{SellerID: "s", Tiers: []TierSpec{{TierID: "a", Price: decimal.NewFromInt(1)}}}, ErrInvalidTier},
		{"duplicate tier", Submission{SellerID: "s", Tiers: []TierSpec{gaTier(1), gaTier(2)}}, ErrDuplicateTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, eventStore := newTestListingService()

			_, err := service.Approve(context.Background(), tt.sub, "admin")

			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, eventStore.CommitCalls)
		})
	}
}

func TestService_Approve_DuplicateID(t *testing.T) {
	service, _ := newTestListingService()
	ctx := context.Background()
	sub := Submission{ListingID: "l-1", SellerID: "s", Tiers: []TierSpec{gaTier(1)}}

	_, err := service.Approve(ctx, sub, "admin")
	require.NoError(t, err)

	_, err = service.Approve(ctx, sub, "admin")
	assert.ErrorIs(t, err, ErrListingExists)
}

// ============================================
// Reserve Tests
// ============================================

func TestService_Reserve(t *testing.T) {
	service, _ := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(3))

	updated, err := service.Reserve(ctx, l.ID, "ga", 2)
	require.NoError(t, err)
	tier, _ := updated.Tier("ga")
	assert.Equal(t, 2, tier.Sold)
	assert.False(t, updated.IsSoldOut())

	updated, err = service.Reserve(ctx, l.ID, "ga", 1)
	require.NoError(t, err)
	assert.True(t, updated.IsSoldOut())
	assert.False(t, updated.IsActive())

	_, err = service.Reserve(ctx, l.ID, "ga", 1)
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	available, _ := AvailableFrom(err)
	assert.Equal(t, 0, available)
}

func TestService_Reserve_NoPartialReservation(t *testing.T) {
	service, _ := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(3))

	_, err := service.Reserve(ctx, l.ID, "ga", 4)
	require.ErrorIs(t, err, ErrInsufficientInventory)

	status, err := service.InventoryStatus(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status[0].Sold)
	assert.Equal(t, 3, status[0].Remaining)
}

func TestService_Reserve_NotFound(t *testing.T) {
	service, _ := newTestListingService()

	_, err := service.Reserve(context.Background(), "missing", "ga", 1)

	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestService_Reserve_StorageErrorNotRetried(t *testing.T) {
	service, eventStore := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(3))
	eventStore.CommitErr = errors.New("connection reset")

	_, err := service.Reserve(ctx, l.ID, "ga", 1)

	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 2, eventStore.CommitCount())
}

func TestService_Reserve_ConcurrentNoOversell(t *testing.T) {
	service, _ := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(10))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, rejections int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Reserve(ctx, l.ID, "ga", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientInventory):
				rejections++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, successes)
	assert.Equal(t, 10, rejections)

	final, err := service.Get(ctx, l.ID)
	require.NoError(t, err)
	tier, _ := final.Tier("ga")
	assert.Equal(t, 10, tier.Sold)
	assert.True(t, final.IsSoldOut())
}

func TestService_Reserve_SnapshotsAfterThreshold(t *testing.T) {
	service, eventStore := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(50))

	for i := 0; i < store.SnapshotThreshold; i++ {
		_, err := service.Reserve(ctx, l.ID, "ga", 1)
		require.NoError(t, err)
	}

	snap, err := eventStore.GetSnapshot(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, store.SnapshotThreshold, snap.Version)

	loaded, err := service.Get(ctx, l.ID)
	require.NoError(t, err)
	tier, _ := loaded.Tier("ga")
	assert.Equal(t, store.SnapshotThreshold, tier.Sold)
}

// ============================================
// Deactivate Tests
// ============================================

func TestService_Deactivate(t *testing.T) {
	service, _ := newTestListingService()
	ctx := context.Background()
	l := approve(t, service, gaTier(5))

	updated, err := service.Deactivate(ctx, l.ID, "event cancelled")
	require.NoError(t, err)
	assert.False(t, updated.IsActive())

	_, err = service.Reserve(ctx, l.ID, "ga", 1)
	assert.ErrorIs(t, err, ErrListingInactive)

	_, err = service.Deactivate(ctx, l.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyDeactivated)
}
