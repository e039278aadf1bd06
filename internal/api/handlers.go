package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/example/ticket-ledger/internal/api/middleware"
	"github.com/example/ticket-ledger/internal/command"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/payment"
	"github.com/example/ticket-ledger/internal/query"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       *logrus.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Listing Handlers

func (h *Handlers) ApproveListing(w http.ResponseWriter, r *http.Request) {
	var cmd command.ApproveListing
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	cmd.ApprovedBy = middleware.CallerID(r.Context())

	l, err := h.cmdHandler.ApproveListing(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

func (h *Handlers) DeactivateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, err.Error())
			return
		}
	}

	l, err := h.cmdHandler.DeactivateListing(r.Context(), command.DeactivateListing{
		ListingID: mux.Vars(r)["id"],
		Reason:    req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (h *Handlers) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.queryHandler.ListActiveListings(r.Context())
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, listings)
}

func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.queryHandler.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (h *Handlers) GetInventory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := h.queryHandler.GetInventoryStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"listing_id": id,
		"tiers":      status,
	})
}

// Transaction Handlers

// InitiateResponse is returned when a purchase starts.
type InitiateResponse struct {
	TransactionID string               `json:"transaction_id"`
	Status        transaction.Status   `json:"status"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	ExpiresAt     time.Time            `json:"expires_at"`
	PaymentIntent payment.Intent       `json:"payment_intent"`
}

func (h *Handlers) InitiateTransaction(w http.ResponseWriter, r *http.Request) {
	var cmd command.InitiateTransaction
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	cmd.BuyerID = middleware.CallerID(r.Context())

	res, err := h.cmdHandler.InitiateTransaction(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, InitiateResponse{
		TransactionID: res.Transaction.ID,
		Status:        res.Transaction.Status,
		Breakdown:     res.Transaction.Breakdown,
		ExpiresAt:     res.Transaction.ExpiresAt,
		PaymentIntent: res.Payment,
	})
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.queryHandler.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	if !middleware.IsPartyOrAdmin(r.Context(), tx.BuyerID, tx.SellerID) {
		forbidden(w)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// ConfirmResponse carries the outcome of a payment confirmation.
type ConfirmResponse struct {
	TransactionID string                    `json:"transaction_id"`
	Status        transaction.Status        `json:"status"`
	FailureReason transaction.FailureReason `json:"failure_reason,omitempty"`
	TicketCode    string                    `json:"ticket_code,omitempty"`
	SettledAt     *time.Time                `json:"settled_at,omitempty"`
}

func confirmResponse(tx *transaction.Transaction) ConfirmResponse {
	return ConfirmResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		FailureReason: tx.FailureReason,
		TicketCode:    tx.TicketCode,
		SettledAt:     tx.SettledAt,
	}
}

// ConfirmTransaction records the payment outcome. Inventory running out
// while the buyer paid is an ordinary failed outcome, not an error.
func (h *Handlers) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Outcome command.Outcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	current, err := h.queryHandler.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	if !middleware.IsPartyOrAdmin(r.Context(), current.BuyerID) {
		forbidden(w)
		return
	}

	tx, err := h.cmdHandler.ConfirmTransaction(r.Context(), command.ConfirmTransaction{
		TransactionID: id,
		Outcome:       req.Outcome,
	})
	if err != nil {
		var body any
		if tx != nil {
			body = confirmResponse(tx)
		}
		h.respondError(w, r, err, body)
		return
	}
	respondJSON(w, http.StatusOK, confirmResponse(tx))
}

func (h *Handlers) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	tx, err := h.cmdHandler.RefundTransaction(r.Context(), command.RefundTransaction{
		TransactionID: mux.Vars(r)["id"],
		Reason:        req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, query.FromTransaction(tx))
}

func (h *Handlers) MyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.queryHandler.ListTransactionsByBuyer(r.Context(), middleware.CallerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

func (h *Handlers) MyListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.queryHandler.ListListingsBySeller(r.Context(), middleware.CallerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, listings)
}

func (h *Handlers) MySales(w http.ResponseWriter, r *http.Request) {
	txs, err := h.queryHandler.ListTransactionsBySeller(r.Context(), middleware.CallerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

func (h *Handlers) MySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queryHandler.UserSummary(r.Context(), middleware.CallerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Admin Handlers

// CommissionsResponse pairs the dashboard stats with the ledger totals.
type CommissionsResponse struct {
	Stats  *query.CommissionStats  `json:"stats"`
	Ledger *query.CommissionLedger `json:"ledger"`
}

func (h *Handlers) Commissions(w http.ResponseWriter, r *http.Request) {
	withEntries := false
	if v := r.URL.Query().Get("entries"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.badRequest(w, "entries must be a boolean")
			return
		}
		withEntries = b
	}

	stats, err := h.queryHandler.CommissionStats(r.Context())
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	ledger, err := h.queryHandler.GetCommissionLedger(r.Context(), withEntries)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, CommissionsResponse{Stats: stats, Ledger: ledger})
}

func (h *Handlers) ExpireStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.cmdHandler.ExpireStale(r.Context())
	if err != nil && n == 0 {
		h.respondError(w, r, err, nil)
		return
	}
	resp := map[string]any{"expired": n}
	if err != nil {
		resp["errors"] = len(unwrapAll(err))
	}
	respondJSON(w, http.StatusOK, resp)
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	if err == nil {
		return nil
	}
	return []error{err}
}
