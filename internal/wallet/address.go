package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidAddress  = errors.New("invalid wallet address")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// ValidateAddress checks that s is base58 encoding of a 32-byte public key
// and returns it trimmed.
func ValidateAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not base58", ErrInvalidAddress, s)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	return s, nil
}

// DeriveAddress returns the address for a BIP-39 mnemonic: the ed25519 key
// built from the first 32 bytes of the seed, base58-encoded. The private key
// is zeroed before returning.
func DeriveAddress(mnemonic, passphrase string) (string, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer zero(seed)
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	defer zero(priv)
	pub := priv.Public().(ed25519.PublicKey)
	return base58.Encode(pub), nil
}

// NewMnemonic returns a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	defer zero(entropy)
	return bip39.NewMnemonic(entropy)
}

func normalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(m), " ")
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
