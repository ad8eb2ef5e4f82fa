package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/server/middleware"
	"github.com/alanyoungcy/wishledger/internal/service"
)

// WishService defines the methods that the wish handler requires from the
// service layer.
type WishService interface {
	CreateWish(ctx context.Context, owner common.Address, description string, target int64, deadline time.Time) (domain.Wish, error)
	FundWish(ctx context.Context, id uint64, funder common.Address, amount int64) (domain.Wish, error)
	Claim(ctx context.Context, id uint64, caller common.Address) (service.ClaimResult, error)
	Settle(ctx context.Context, id uint64, caller common.Address) (service.SettleResult, error)
	Wish(ctx context.Context, id uint64) (domain.Wish, error)
	ListWishes(ctx context.Context, filter domain.WishFilter) ([]domain.Wish, error)
}

// WishHandler serves the wish endpoints.
type WishHandler struct {
	wishes WishService
	logger *slog.Logger
}

// NewWishHandler creates a WishHandler.
func NewWishHandler(wishes WishService, logger *slog.Logger) *WishHandler {
	return &WishHandler{wishes: wishes, logger: logHandler(logger, "wish")}
}

type createWishRequest struct {
	Description string    `json:"description"`
	Target      int64     `json:"target"`
	Deadline    time.Time `json:"deadline"`
}

type createWishResponse struct {
	ID   uint64      `json:"id"`
	Wish domain.Wish `json:"wish"`
}

type listWishesResponse struct {
	Wishes []domain.Wish `json:"wishes"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// CreateWish creates a wish owned by the caller.
// POST /api/wishes
func (h *WishHandler) CreateWish(w http.ResponseWriter, r *http.Request) {
	owner, err := requireCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var req createWishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "create wish", err)
		return
	}

	wish, err := h.wishes.CreateWish(r.Context(), owner, req.Description, req.Target, req.Deadline)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create wish", err)
		return
	}
	writeJSON(w, http.StatusCreated, createWishResponse{ID: wish.ID, Wish: wish})
}

// ListWishes returns wishes filtered by owner and status.
// GET /api/wishes?owner=0x..&status=open&limit=50&offset=0
func (h *WishHandler) ListWishes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.WishFilter{ListOpts: parseListOpts(r)}

	if raw := q.Get("owner"); raw != "" {
		owner, err := parseAddress(raw)
		if err != nil {
			writeLedgerError(w, r, h.logger, "list wishes", err)
			return
		}
		filter.Owner = &owner
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.WishStatus(raw)
		if !status.Valid() {
			writeLedgerError(w, r, h.logger, "list wishes",
				fmt.Errorf("status %q: %w", raw, domain.ErrInvalidParameters))
			return
		}
		filter.Status = status
	}

	wishes, err := h.wishes.ListWishes(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list wishes", err)
		return
	}
	if wishes == nil {
		wishes = []domain.Wish{}
	}
	writeJSON(w, http.StatusOK, listWishesResponse{
		Wishes: wishes,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetWish returns a single wish.
// GET /api/wishes/{id}
func (h *WishHandler) GetWish(w http.ResponseWriter, r *http.Request) {
	id, err := parseWishID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get wish", err)
		return
	}
	wish, err := h.wishes.Wish(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get wish", err)
		return
	}
	writeJSON(w, http.StatusOK, wish)
}

// FundWish moves the caller's funds into a wish.
// POST /api/wishes/{id}/fund
func (h *WishHandler) FundWish(w http.ResponseWriter, r *http.Request) {
	funder, err := requireCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	id, err := parseWishID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "fund wish", err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "fund wish", err)
		return
	}

	wish, err := h.wishes.FundWish(r.Context(), id, funder, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "fund wish", err)
		return
	}
	writeJSON(w, http.StatusOK, wish)
}

// Claim pays the raised amount to the owner.
// POST /api/wishes/{id}/claim
func (h *WishHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	id, err := parseWishID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim wish", err)
		return
	}

	res, err := h.wishes.Claim(r.Context(), id, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim wish", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Settle refunds contributors of a wish that missed its target. Anonymous
// callers are recorded as the zero address.
// POST /api/wishes/{id}/settle
func (h *WishHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	id, err := parseWishID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "settle wish", err)
		return
	}

	res, err := h.wishes.Settle(r.Context(), id, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "settle wish", err)
		return
	}
	if res.Payouts == nil {
		res.Payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, res)
}
