package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/server/middleware"
)

const maxRequestBody = 1 << 20

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error with an explicit status and code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// StatusFor maps a ledger error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case "invalid_parameters", "invalid_amount":
		return http.StatusBadRequest
	case "wish_not_found":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusForbidden
	case "wish_closed", "too_early", "target_not_met", "target_met",
		"already_finalized", "insufficient_funds", "balance_overflow":
		return http.StatusConflict
	case "rate_limited":
		return http.StatusTooManyRequests
	case "bad_signature":
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps err onto the error taxonomy. Unknown errors are
// logged and reported as an opaque 500.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(code)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, op+" failed")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON reads a JSON body into v, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, domain.ErrInvalidParameters)
	}
	if dec.More() {
		return fmt.Errorf("decode body: trailing data: %w", domain.ErrInvalidParameters)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

func parseWishID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("wish id %q: %w", raw, domain.ErrInvalidParameters)
	}
	return id, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("address %q: %w", raw, domain.ErrInvalidParameters)
	}
	return common.HexToAddress(raw), nil
}

// requireCaller returns the authenticated caller set by the caller
// middleware.
func requireCaller(r *http.Request) (common.Address, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, errors.New("no authenticated caller")
	}
	return caller, nil
}

// amountRequest is the body of fund, withdraw and deposit.
type amountRequest struct {
	Amount int64 `json:"amount"`
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
