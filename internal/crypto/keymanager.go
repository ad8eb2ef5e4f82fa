// Package crypto provides caller identity for the ledger API: EIP-712
// signing and verification of WishCall messages, and password-encrypted key
// files for the CLI.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion = 1
	kdfName        = "pbkdf2-sha256"
	cipherName     = "aes-256-gcm"

	// defaultIterations follows the OWASP minimum for PBKDF2-HMAC-SHA256.
	defaultIterations = 480_000
	saltLen           = 16
)

// keyFile is the on-disk layout of an encrypted account key. The address is
// stored in clear so a file can be identified without the password, and is
// bound to the ciphertext as GCM additional data.
type keyFile struct {
	Version int            `json:"version"`
	Address common.Address `json:"address"`
	KDF     keyFileKDF     `json:"kdf"`
	Cipher  keyFileCipher  `json:"cipher"`
}

type keyFileKDF struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
}

type keyFileCipher struct {
	Name       string `json:"name"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the sources LoadKey resolves a private key from. The
// CLI fills it from --key, --key-file and --key-password.
type KeyConfig struct {
	// RawPrivateKey is a hex key, with or without 0x. It wins when set.
	RawPrivateKey string

	// EncryptedKeyPath points at a file written by WriteKeyFile.
	EncryptedKeyPath string
	KeyPassword      string
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: invalid private key: %w", err)
	}
	return pk, nil
}

func (k *keyFile) aead(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, k.KDF.Iterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex private key under password and returns the JSON key
// file contents.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keys: password must not be empty")
	}
	pk, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keys: salt: %w", err)
	}
	kf := keyFile{
		Version: keyFileVersion,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		KDF:     keyFileKDF{Name: kdfName, Iterations: defaultIterations, Salt: hex.EncodeToString(salt)},
	}

	gcm, err := kf.aead(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keys: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), kf.Address.Bytes())

	kf.Cipher = keyFileCipher{
		Name:       cipherName,
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed),
	}
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the hex
// private key without 0x. The recovered key must match the recorded address.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/keys: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto/keys: parse key file: %w", err)
	}
	switch {
	case kf.Version != keyFileVersion:
		return "", fmt.Errorf("crypto/keys: unsupported key file version %d", kf.Version)
	case kf.KDF.Name != kdfName || kf.Cipher.Name != cipherName:
		return "", fmt.Errorf("crypto/keys: unsupported scheme %s/%s", kf.KDF.Name, kf.Cipher.Name)
	case kf.KDF.Iterations <= 0:
		return "", errors.New("crypto/keys: key file has no kdf iterations")
	}

	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"salt", kf.KDF.Salt, &salt},
		{"nonce", kf.Cipher.Nonce, &nonce},
		{"ciphertext", kf.Cipher.Ciphertext, &sealed},
	} {
		b, err := hex.DecodeString(f.src)
		if err != nil {
			return "", fmt.Errorf("crypto/keys: decode %s: %w", f.name, err)
		}
		*f.dst = b
	}

	gcm, err := kf.aead(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto/keys: nonce is %d bytes", len(nonce))
	}
	raw, err := gcm.Open(nil, nonce, sealed, kf.Address.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto/keys: wrong password or corrupt key file: %w", err)
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decrypted key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != kf.Address {
		return "", fmt.Errorf("crypto/keys: key is for %s, file says %s", got.Hex(), kf.Address.Hex())
	}
	return hex.EncodeToString(raw), nil
}

// WriteKeyFile encrypts privateKeyHex with password and writes it to path
// with owner-only permissions. It refuses to overwrite an existing file.
func WriteKeyFile(path, privateKeyHex, password string) error {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto/keys: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("crypto/keys: write %s: %w", path, err)
	}
	return f.Close()
}

// LoadKey resolves a hex private key (without 0x) from cfg. A raw key wins
// over a key file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		pk, err := parsePrivateKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil

	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto/keys: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)

	default:
		return "", errors.New("crypto/keys: no key configured (use a raw key or a key file)")
	}
}
