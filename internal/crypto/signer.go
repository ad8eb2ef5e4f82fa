package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain values for every wishledger signature.
const (
	DomainName    = "WishLedger"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// WishCall(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp,bytes32 nonce)
	wishCallTypeHash = ethcrypto.Keccak256(
		[]byte("WishCall(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp,bytes32 nonce)"),
	)
)

// WishCall is the typed message a caller signs for every mutating request.
// It binds the signature to one HTTP method, path and body.
type WishCall struct {
	Caller    common.Address
	Method    string
	Path      string
	BodyHash  common.Hash
	Timestamp int64
	Nonce     common.Hash
}

// BodyHash returns keccak256(body).
func BodyHash(body []byte) common.Hash {
	return ethcrypto.Keccak256Hash(body)
}

// structHash encodes c per EIP-712. Dynamic strings are hashed in place.
func (c WishCall) structHash() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			wishCallTypeHash,
			common.LeftPadBytes(c.Caller.Bytes(), 32),
			ethcrypto.Keccak256([]byte(c.Method)),
			ethcrypto.Keccak256([]byte(c.Path)),
			c.BodyHash.Bytes(),
			bigIntTo32Bytes(big.NewInt(c.Timestamp)),
			c.Nonce.Bytes(),
		),
	)
}

// Digest returns the EIP-712 digest of c under the wishledger domain for
// chainID.
func (c WishCall) Digest(chainID int64) []byte {
	return eip712Hash(domainSeparator(chainID), c.structHash())
}

// Signer signs WishCall messages with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(chainID),
	}, nil
}

// GenerateKey creates a fresh private key and returns it hex-encoded
// together with its address.
func GenerateKey() (string, common.Address, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", common.Address{}, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

// Address returns the account the signer acts for.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignCall signs call as the signer's address and returns a 0x-prefixed
// 65-byte signature. call.Caller is overwritten.
func (s *Signer) SignCall(call WishCall) (string, error) {
	call.Caller = s.address
	return s.signDigest(eip712Hash(s.domainSep, call.structHash()))
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes([]byte{0x19, 0x01}, domainSep, structHash),
	)
}

// signDigest signs a 32-byte digest and returns r || s || v with v in
// {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
