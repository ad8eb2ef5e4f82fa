package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/crypto"
	"github.com/alanyoungcy/wishledger/internal/domain"
)

// MaxBodyBytes caps request bodies read by the caller middleware.
const MaxBodyBytes = 1 << 20

// CallVerifier checks a signed call. *crypto.Verifier satisfies it.
type CallVerifier interface {
	Verify(ctx context.Context, call crypto.WishCall, signatureHex string) error
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(common.Address)
	return a, ok
}

// CallerAuth resolves the account making the request and stores it in the
// request context.
//
// When verifier is nil the X-Wish-Caller header is trusted as-is. Otherwise
// the request must carry a signature over method, path, body hash, timestamp
// and nonce that recovers to the claimed caller.
type CallerAuth struct {
	verifier CallVerifier
	logger   *slog.Logger
}

// NewCallerAuth creates a CallerAuth. Pass a nil verifier to disable signature
// checks.
func NewCallerAuth(verifier CallVerifier, logger *slog.Logger) *CallerAuth {
	return &CallerAuth{verifier: verifier, logger: logger}
}

// Required rejects requests without a valid caller.
func (a *CallerAuth) Required(next http.Handler) http.Handler {
	return a.handler(next, true)
}

// Optional resolves the caller when headers are present and passes anonymous
// requests through unchanged. Invalid credentials are still rejected.
func (a *CallerAuth) Optional(next http.Handler) http.Handler {
	return a.handler(next, false)
}

func (a *CallerAuth) handler(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(crypto.HeaderCaller)
		if raw == "" {
			if required {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+crypto.HeaderCaller)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed "+crypto.HeaderCaller)
			return
		}
		caller := common.HexToAddress(raw)

		if a.verifier != nil {
			if status, code, err := a.verify(r, caller); err != nil {
				a.logger.WarnContext(r.Context(), "caller rejected",
					slog.String("caller", caller.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, status, code, err.Error())
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// verify reads the body (restoring it for the next handler) and checks the
// signature headers.
func (a *CallerAuth) verify(r *http.Request, caller common.Address) (int, string, error) {
	ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
	if err != nil {
		return http.StatusUnauthorized, "bad_signature", errors.New("malformed " + crypto.HeaderTimestamp)
	}
	nonceHex := r.Header.Get(crypto.HeaderNonce)
	nonceBytes, err := hexBytes(nonceHex)
	if err != nil || len(nonceBytes) != common.HashLength {
		return http.StatusUnauthorized, "bad_signature", errors.New("malformed " + crypto.HeaderNonce)
	}
	sig := r.Header.Get(crypto.HeaderSignature)
	if sig == "" {
		return http.StatusUnauthorized, "bad_signature", errors.New("missing " + crypto.HeaderSignature)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return http.StatusBadRequest, "invalid_parameters", errors.New("reading body failed")
		}
		if len(body) > MaxBodyBytes {
			return http.StatusRequestEntityTooLarge, "invalid_parameters", errors.New("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	call := crypto.WishCall{
		Caller:    caller,
		Method:    r.Method,
		Path:      r.URL.Path,
		BodyHash:  crypto.BodyHash(body),
		Timestamp: ts,
		Nonce:     common.BytesToHash(nonceBytes),
	}
	if err := a.verifier.Verify(r.Context(), call, sig); err != nil {
		if errors.Is(err, domain.ErrBadSignature) || errors.Is(err, domain.ErrReplay) {
			return http.StatusUnauthorized, "bad_signature", err
		}
		return http.StatusServiceUnavailable, "internal", errors.New("signature check unavailable")
	}
	return 0, "", nil
}

func hexBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
