package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"FundLedger/internal/allocation"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/waterfall"
)

// badRequestError marks malformed input caught before reaching the engines.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var br *badRequestError
	switch {
	case errors.As(err, &br),
		errors.Is(err, allocation.ErrInvalidAllocationInput),
		errors.Is(err, waterfall.ErrInvalidDateRange),
		errors.Is(err, waterfall.ErrInvalidCatchupRate),
		errors.Is(err, waterfall.ErrInvalidInput),
		errors.Is(err, ledger.ErrUnknownTransactionCode),
		errors.Is(err, ledger.ErrInvalidBatch),
		errors.Is(err, ledger.ErrInvalidInvestor),
		errors.Is(err, ledger.ErrInvalidCommitment):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrBatchNotFound),
		errors.Is(err, ledger.ErrInvestorNotFound),
		errors.Is(err, ledger.ErrCommitmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidStateTransition),
		errors.Is(err, ledger.ErrDuplicateKey),
		errors.Is(err, core.ErrStaleProposal),
		errors.Is(err, core.ErrIdempotencyConflict),
		errors.Is(err, core.ErrNoCommitments):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the metrics label for a failed request.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
