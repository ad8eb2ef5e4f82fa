package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountService defines the balance operations the account handler needs.
type AccountService interface {
	Balance(ctx context.Context, account common.Address) (int64, error)
	Deposit(ctx context.Context, account common.Address, amount int64) (int64, error)
	Withdraw(ctx context.Context, account common.Address, amount int64) (int64, error)
}

// AccountHandler serves balance endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logHandler(logger, "account")}
}

type balanceResponse struct {
	Account common.Address `json:"account"`
	Balance int64          `json:"balance"`
}

// Balance returns an account's spendable balance.
// GET /api/accounts/{address}
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	bal, err := h.accounts.Balance(r.Context(), acct)
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: acct, Balance: bal})
}

// Withdraw debits the caller's balance.
// POST /api/accounts/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}
	bal, err := h.accounts.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: caller, Balance: bal})
}

// Deposit credits an account. Mounted behind the admin key.
// POST /api/admin/accounts/{address}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}
	bal, err := h.accounts.Deposit(r.Context(), acct, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: acct, Balance: bal})
}
