package crypto

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// Verifier checks WishCall signatures. A call passes when its timestamp is
// within maxSkew of now, the signature recovers to call.Caller, and its
// nonce has not been seen before.
type Verifier struct {
	domainSep []byte
	maxSkew   time.Duration
	nonces    domain.NonceGuard
	now       func() time.Time
}

// NewVerifier creates a Verifier for chainID. nonces may be nil, which
// disables replay protection.
func NewVerifier(chainID int64, maxSkew time.Duration, nonces domain.NonceGuard) *Verifier {
	return &Verifier{
		domainSep: domainSeparator(chainID),
		maxSkew:   maxSkew,
		nonces:    nonces,
		now:       time.Now,
	}
}

// Verify returns nil for an authentic, fresh call. Failures wrap
// domain.ErrBadSignature or domain.ErrReplay.
func (v *Verifier) Verify(ctx context.Context, call WishCall, signatureHex string) error {
	ts := time.Unix(call.Timestamp, 0)
	skew := v.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("crypto/verifier: timestamp %d outside %s skew: %w",
			call.Timestamp, v.maxSkew, domain.ErrBadSignature)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("crypto/verifier: malformed signature: %w", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return fmt.Errorf("crypto/verifier: invalid recovery id: %w", domain.ErrBadSignature)
	}

	pub, err := ethcrypto.SigToPub(eip712Hash(v.domainSep, call.structHash()), sig)
	if err != nil {
		return fmt.Errorf("crypto/verifier: recover signer: %w", domain.ErrBadSignature)
	}
	if signer := ethcrypto.PubkeyToAddress(*pub); signer != call.Caller {
		return fmt.Errorf("crypto/verifier: signed by %s, not %s: %w",
			signer.Hex(), call.Caller.Hex(), domain.ErrBadSignature)
	}

	// Nonces are claimed only after the signature checks out, so forged
	// requests cannot burn a caller's nonces.
	if v.nonces != nil {
		fresh, err := v.nonces.Claim(ctx, call.Caller.Hex()+":"+call.Nonce.Hex(), 2*v.maxSkew)
		if err != nil {
			return fmt.Errorf("crypto/verifier: claim nonce: %w", err)
		}
		if !fresh {
			return fmt.Errorf("crypto/verifier: nonce %s: %w", call.Nonce.Hex(), domain.ErrReplay)
		}
	}
	return nil
}
