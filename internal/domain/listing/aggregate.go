// Package listing is the inventory ledger: per-tier sold counters and the
// sold-out state derived from them.
package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const AggregateType = "Listing"

var (
	ErrListingNotFound       = fmt.Errorf("%w: listing not found", domain.ErrNotFound)
	ErrTierNotFound          = fmt.Errorf("%w: ticket tier not found", domain.ErrNotFound)
	ErrListingInactive       = fmt.Errorf("%w: listing is not active", domain.ErrRejected)
	ErrInsufficientInventory = fmt.Errorf("%w: insufficient inventory", domain.ErrRejected)
	ErrListingExists         = fmt.Errorf("%w: listing already exists", domain.ErrRejected)
	ErrAlreadyDeactivated    = fmt.Errorf("%w: listing already deactivated", domain.ErrRejected)
	ErrInvalidQuantity       = fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	ErrNoTiers               = fmt.Errorf("%w: listing needs at least one tier", domain.ErrInvalidInput)
	ErrInvalidTier           = fmt.Errorf("%w: tier needs a name, a positive price and a positive quantity", domain.ErrInvalidInput)
	ErrDuplicateTier         = fmt.Errorf("%w: duplicate tier id", domain.ErrInvalidInput)
	ErrMissingSeller         = fmt.Errorf("%w: seller is required", domain.ErrInvalidInput)
)

// InsufficientInventoryError reports how many tickets were left.
// It matches ErrInsufficientInventory with errors.Is.
type InsufficientInventoryError struct {
	TierID    string
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for tier %s: %d available, %d requested", e.TierID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// AvailableFrom extracts the available count from an inventory rejection.
func AvailableFrom(err error) (int, bool) {
	var ie *InsufficientInventoryError
	if errors.As(err, &ie) {
		return ie.Available, true
	}
	return 0, false
}

type Tier struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Total int             `json:"total"`
	Sold  int             `json:"sold"`
}

func (t Tier) Available() int {
	return t.Total - t.Sold
}

func (t Tier) IsSoldOut() bool {
	return t.Sold >= t.Total
}

type Listing struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Title       string    `json:"title"`
	Tiers       []Tier    `json:"tiers"`
	Deactivated bool      `json:"deactivated"`
	ApprovedBy  string    `json:"approved_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// Aggregate interface implementation
func (l *Listing) GetID() string    { return l.ID }
func (l *Listing) GetVersion() int  { return l.Version }
func (l *Listing) SetVersion(v int) { l.Version = v }

// IsSoldOut is derived from the tiers on every call, never stored.
func (l *Listing) IsSoldOut() bool {
	if len(l.Tiers) == 0 {
		return false
	}
	for _, t := range l.Tiers {
		if !t.IsSoldOut() {
			return false
		}
	}
	return true
}

func (l *Listing) IsActive() bool {
	return !l.Deactivated && !l.IsSoldOut()
}

func (l *Listing) Tier(tierID string) (*Tier, bool) {
	for i := range l.Tiers {
		if l.Tiers[i].ID == tierID {
			return &l.Tiers[i], true
		}
	}
	return nil, false
}

// ApplyEvent applies a single event to the listing state (implements aggregate.Aggregate)
func (l *Listing) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventListingApproved:
		var data ListingApproved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.ID = data.ListingID
		l.SellerID = data.SellerID
		l.Title = data.Title
		l.ApprovedBy = data.ApprovedBy
		l.Tiers = make([]Tier, 0, len(data.Tiers))
		for _, t := range data.Tiers {
			l.Tiers = append(l.Tiers, Tier{ID: t.TierID, Name: t.Name, Price: t.Price, Total: t.Quantity})
		}
		l.CreatedAt = data.ApprovedAt
		l.UpdatedAt = data.ApprovedAt
	case EventTicketsReserved:
		var data TicketsReserved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		tier, ok := l.Tier(data.TierID)
		if !ok {
			return fmt.Errorf("reservation for unknown tier %s on listing %s", data.TierID, l.ID)
		}
		tier.Sold += data.Quantity
		l.UpdatedAt = data.ReservedAt
	case EventListingDeactivated:
		var data ListingDeactivated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.Deactivated = true
		l.UpdatedAt = data.DeactivatedAt
	}
	l.Version = event.Version
	return nil
}

// PlanReservation checks a reservation against the current state and
// returns the event that records it. The event carries the listing's
// version, so committing it fails if another reservation landed first.
func (l *Listing) PlanReservation(tierID string, quantity int, transactionID string, at time.Time) (store.PendingEvent, error) {
	if quantity < 1 {
		return store.PendingEvent{}, ErrInvalidQuantity
	}
	if l.Deactivated {
		return store.PendingEvent{}, ErrListingInactive
	}
	tier, ok := l.Tier(tierID)
	if !ok {
		return store.PendingEvent{}, ErrTierNotFound
	}
	// A sold-out listing has nothing available in any tier, so it is
	// rejected here with Available == 0.
	if available := tier.Available(); available < quantity {
		return store.PendingEvent{}, &InsufficientInventoryError{TierID: tierID, Available: available, Requested: quantity}
	}

	return store.PendingEvent{
		AggregateID:     l.ID,
		AggregateType:   AggregateType,
		EventType:       EventTicketsReserved,
		ExpectedVersion: l.Version,
		Data: TicketsReserved{
			ListingID:     l.ID,
			TierID:        tierID,
			Quantity:      quantity,
			TransactionID: transactionID,
			ReservedAt:    at,
		},
	}, nil
}

// TierStatus is the inventory view of one tier.
type TierStatus struct {
	TierID    string `json:"tier_id"`
	Total     int    `json:"total"`
	Sold      int    `json:"sold"`
	Remaining int    `json:"remaining"`
	IsSoldOut bool   `json:"is_sold_out"`
}

func (l *Listing) InventoryStatus() []TierStatus {
	out := make([]TierStatus, 0, len(l.Tiers))
	for _, t := range l.Tiers {
		out = append(out, TierStatus{
			TierID:    t.ID,
			Total:     t.Total,
			Sold:      t.Sold,
			Remaining: t.Available(),
			IsSoldOut: t.IsSoldOut(),
		})
	}
	return out
}

func validateTiers(tiers []TierSpec) ([]TierSpec, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	seen := make(map[string]bool, len(tiers))
	out := make([]TierSpec, 0, len(tiers))
	for _, t := range tiers {
		if t.TierID == "" {
			t.TierID = t.Name
		}
		if t.TierID == "" || !t.Price.IsPositive() || t.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTier, t.TierID)
		}
		if seen[t.TierID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTier, t.TierID)
		}
		seen[t.TierID] = true
		out = append(out, t)
	}
	return out, nil
}
