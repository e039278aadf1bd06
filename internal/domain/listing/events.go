package listing

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventListingApproved    = "ListingApproved"
	EventTicketsReserved    = "TicketsReserved"
	EventListingDeactivated = "ListingDeactivated"
)

type TierSpec struct {
	TierID   string          `json:"tier_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type ListingApproved struct {
	ListingID  string     `json:"listing_id"`
	SellerID   string     `json:"seller_id"`
	Title      string     `json:"title"`
	Tiers      []TierSpec `json:"tiers"`
	ApprovedBy string     `json:"approved_by"`
	ApprovedAt time.Time  `json:"approved_at"`
}

type TicketsReserved struct {
	ListingID     string    `json:"listing_id"`
	TierID        string    `json:"tier_id"`
	Quantity      int       `json:"quantity"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ReservedAt    time.Time `json:"reserved_at"`
}

type ListingDeactivated struct {
	ListingID     string    `json:"listing_id"`
	Reason        string    `json:"reason"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}
