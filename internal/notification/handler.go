package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/email"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/sirupsen/logrus"
)

type ReceiptSender interface {
	SendSettlementReceipt(to string, r email.Receipt) error
}

// Handler mails a receipt to the operator for every settled transaction.
// Delivery is at least once, so a redelivered event can produce a second
// receipt.
type Handler struct {
	sender    ReceiptSender
	readStore store.ReadStoreInterface
	operator  string
	currency  string
	logger    *logrus.Logger
}

// NewHandler creates a new notification handler. readStore is optional and
// only used to enrich the receipt.
func NewHandler(sender ReceiptSender, readStore store.ReadStoreInterface, operator, currency string, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		sender:    sender,
		readStore: readStore,
		operator:  operator,
		currency:  currency,
		logger:    logger,
	}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.WithError(err).Warn("[Notifier] Failed to unmarshal event")
		return nil
	}
	return h.Apply(ctx, event)
}

// Apply handles a decoded event. Events other than TransactionSettled are
// ignored.
func (h *Handler) Apply(ctx context.Context, event store.Event) error {
	if event.EventType != transaction.EventTransactionSettled {
		return nil
	}

	var e transaction.TransactionSettled
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Warn("[Notifier] Malformed TransactionSettled event")
		return nil
	}

	receipt := email.Receipt{
		TransactionID: e.TransactionID,
		ListingID:     e.ListingID,
		BuyerID:       e.BuyerID,
		TicketCode:    e.TicketCode,
		Currency:      h.currency,
		Breakdown:     e.Breakdown,
		SettledAt:     e.SettledAt,
	}
	h.enrich(ctx, &receipt)

	log := h.logger.WithFields(logrus.Fields{
		"transaction_id": e.TransactionID,
		"to":             h.operator,
	})
	if err := h.sender.SendSettlementReceipt(h.operator, receipt); err != nil {
		log.WithError(err).Error("[Notifier] Failed to send settlement receipt")
		return fmt.Errorf("send receipt for %s: %w", e.TransactionID, err)
	}
	log.Info("[Notifier] Settlement receipt sent")
	return nil
}

func (h *Handler) enrich(ctx context.Context, r *email.Receipt) {
	if h.readStore == nil {
		return
	}
	if data, ok, err := h.readStore.Get(ctx, readmodel.CollectionListings, r.ListingID); err == nil && ok {
		if l, ok := data.(*readmodel.ListingReadModel); ok {
			r.ListingTitle = l.Title
		}
	}
	if data, ok, err := h.readStore.Get(ctx, readmodel.CollectionTransactions, r.TransactionID); err == nil && ok {
		if tx, ok := data.(*readmodel.TransactionReadModel); ok {
			r.TierID = tx.TierID
			r.Quantity = tx.Quantity
		}
	}
}
