package domain

import "errors"

// Ledger error taxonomy. Every failed ledger call returns one of these
// (possibly wrapped) and leaves state unchanged.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrWishNotFound      = errors.New("wish not found")
	ErrWishClosed        = errors.New("wish closed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTooEarly          = errors.New("deadline not reached")
	ErrTargetNotMet      = errors.New("target not met")
	ErrTargetMet         = errors.New("target met")
	ErrAlreadyFinalized  = errors.New("already finalized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceOverflow refuses a payout that would push the recipient's
	// balance past int64. The wish stays open; once the recipient withdraws
	// enough, the claim or settle can be retried.
	ErrBalanceOverflow = errors.New("balance would overflow")
)

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("bad signature")
	ErrReplay       = errors.New("nonce already used")
)

// ErrorCode returns the stable machine-readable code for err, or "internal"
// when err is not part of the ledger taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrWishNotFound):
		return "wish_not_found"
	case errors.Is(err, ErrWishClosed):
		return "wish_closed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTooEarly):
		return "too_early"
	case errors.Is(err, ErrTargetNotMet):
		return "target_not_met"
	case errors.Is(err, ErrTargetMet):
		return "target_met"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrReplay):
		return "bad_signature"
	default:
		return "internal"
	}
}

var codeErrors = map[string]error{
	"invalid_parameters": ErrInvalidParameters,
	"invalid_amount":     ErrInvalidAmount,
	"wish_not_found":     ErrWishNotFound,
	"wish_closed":        ErrWishClosed,
	"unauthorized":       ErrUnauthorized,
	"too_early":          ErrTooEarly,
	"target_not_met":     ErrTargetNotMet,
	"target_met":         ErrTargetMet,
	"already_finalized":  ErrAlreadyFinalized,
	"insufficient_funds": ErrInsufficientFunds,
	"balance_overflow":   ErrBalanceOverflow,
	"rate_limited":       ErrRateLimited,
	"bad_signature":      ErrBadSignature,
}

// ErrorForCode is the inverse of ErrorCode. It returns nil for unknown codes.
func ErrorForCode(code string) error {
	return codeErrors[code]
}
