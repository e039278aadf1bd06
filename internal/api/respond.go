package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/domain/aggregate"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Available *int   `json:"available,omitempty"`
	// Transaction is set when the request changed the transaction anyway,
	// e.g. an expired confirmation that marked it failed.
	Transaction any `json:"transaction,omitempty"`
}

var errorCodes = []struct {
	err  error
	code string
}{
	{listing.ErrInsufficientInventory, "InsufficientInventory"},
	{listing.ErrListingInactive, "ListingInactive"},
	{listing.ErrListingNotFound, "ListingNotFound"},
	{listing.ErrTierNotFound, "TierNotFound"},
	{listing.ErrListingExists, "ListingExists"},
	{transaction.ErrTransactionNotFound, "TransactionNotFound"},
	{transaction.ErrAlreadyFinalized, "AlreadyFinalized"},
	{transaction.ErrTransactionExpired, "TransactionExpired"},
	{transaction.ErrNotSettled, "NotSettled"},
	{aggregate.ErrTooManyConflicts, "Contention"},
	{domain.ErrInvalidInput, "InvalidInput"},
	{domain.ErrNotFound, "NotFound"},
	{domain.ErrRejected, "Rejected"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, aggregate.ErrTooManyConflicts):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error, txn any) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error(), Code: errorCode(err), Transaction: txn}
	if available, ok := listing.AvailableFrom(err); ok {
		body.Available = &available
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("[API] Request failed")
		body.Error = http.StatusText(status)
	}
	respondJSON(w, status, body)
}

func (h *Handlers) badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "InvalidInput"})
}

func forbidden(w http.ResponseWriter) {
	respondJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Code: "Forbidden"})
}
