// Package keys decodes wallet secret keys from their textual export formats.
//
// Two historical export formats are accepted: base58 (Bitcoin alphabet, the
// usual wallet export) and standard base64. Both decode to the 64-byte
// ed25519 secret key layout used by the chain: a 32-byte seed followed by
// the 32-byte public key.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brojonat/swapper/service/swaperr"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// SecretKeySize is the decoded length of a wallet secret key.
const SecretKeySize = 64

// base64Pattern is the heuristic used to tell base64 exports from base58
// ones. Every base58 string of a length divisible by 4 matches it as well.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// WalletKey is a decoded wallet keypair. The secret half is unexported and
// never rendered by String, GoString or slog.
type WalletKey struct {
	secret  solana.PrivateKey
	Address solana.PublicKey
}

// Decode parses a secret key in base64 or base58 form.
func Decode(secretKeyText string) (WalletKey, error) {
	text := strings.TrimSpace(secretKeyText)
	if text == "" {
		return WalletKey{}, fmt.Errorf("%w: empty key", swaperr.ErrInvalidKeyFormat)
	}

	if LooksLikeBase64(text) {
		raw, err := base64.StdEncoding.DecodeString(text)
		if err == nil && len(raw) == SecretKeySize {
			return FromBytes(raw)
		}
		// A base58 export of 64 bytes is usually 88 characters and passes the
		// base64 pattern; it decodes to 66 bytes here, so fall through.
	}

	raw, err := base58.Decode(text)
	if err != nil {
		return WalletKey{}, fmt.Errorf("%w: neither base64 nor base58: %v", swaperr.ErrInvalidKeyFormat, err)
	}

	return FromBytes(raw)
}

// LooksLikeBase64 reports whether text passes the base64 heuristic Decode
// tries first.
func LooksLikeBase64(text string) bool {
	return len(text)%4 == 0 && base64Pattern.MatchString(text)
}

// FromBytes builds a WalletKey from the raw 64-byte secret key. The bytes
// are copied; the caller may zero its slice afterwards.
func FromBytes(raw []byte) (WalletKey, error) {
	if len(raw) != SecretKeySize {
		return WalletKey{}, fmt.Errorf("%w: expected %d bytes, got %d",
			swaperr.ErrInvalidKeyFormat, SecretKeySize, len(raw))
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return WalletKey{}, fmt.Errorf("%w: public key does not match seed", swaperr.ErrInvalidKeyFormat)
	}

	secret := make(solana.PrivateKey, SecretKeySize)
	copy(secret, raw)

	return WalletKey{
		secret:  secret,
		Address: secret.PublicKey(),
	}, nil
}

// Sign signs payload with the wallet's secret key.
func (k WalletKey) Sign(payload []byte) (solana.Signature, error) {
	if len(k.secret) != SecretKeySize {
		return solana.Signature{}, fmt.Errorf("%w: key not initialised", swaperr.ErrInvalidKeyFormat)
	}
	return k.secret.Sign(payload)
}

// IsZero reports whether k holds no key.
func (k WalletKey) IsZero() bool {
	return len(k.secret) == 0
}

// EncodeBase58 exports the secret key in the base58 wallet format.
func EncodeBase58(k WalletKey) string {
	return base58.Encode(k.secret)
}

// EncodeBase64 exports the secret key in the base64 format.
func EncodeBase64(k WalletKey) string {
	return base64.StdEncoding.EncodeToString(k.secret)
}

func (k WalletKey) String() string {
	return k.Address.String()
}

func (k WalletKey) GoString() string {
	return fmt.Sprintf("keys.WalletKey{Address: %q}", k.Address.String())
}

// LogValue keeps the secret out of structured logs.
func (k WalletKey) LogValue() slog.Value {
	return slog.StringValue(k.Address.String())
}
