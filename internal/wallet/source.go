package wallet

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"solana-mcp/go-backend/internal/securestore"
)

// Spec configures one wallet. Exactly one of Address, Mnemonic or Keystore
// must be set.
type Spec struct {
	Name          string `yaml:"name"`
	Address       string `yaml:"address,omitempty"`
	Mnemonic      string `yaml:"mnemonic,omitempty"`
	Keystore      string `yaml:"keystore,omitempty"`
	PassphraseEnv string `yaml:"passphraseEnv,omitempty"`
	Default       bool   `yaml:"default,omitempty"`
}

// Loader resolves specs into a Registry. BaseDir anchors relative keystore
// paths; Getenv defaults to os.Getenv.
type Loader struct {
	BaseDir string
	Getenv  func(string) string
}

func (l Loader) Load(specs []Spec) (*Registry, error) {
	infos := make([]Info, 0, len(specs))
	for _, s := range specs {
		addr, err := l.address(s)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", strings.TrimSpace(s.Name), err)
		}
		infos = append(infos, Info{Name: s.Name, Address: addr, IsDefault: s.Default})
	}
	return NewRegistry(infos)
}

func (l Loader) address(s Spec) (string, error) {
	set := 0
	for _, v := range []string{s.Address, s.Mnemonic, s.Keystore} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return "", errors.New("exactly one of address, mnemonic or keystore is required")
	}
	switch {
	case strings.TrimSpace(s.Address) != "":
		return ValidateAddress(s.Address)
	case strings.TrimSpace(s.Mnemonic) != "":
		return DeriveAddress(s.Mnemonic, "")
	default:
		return l.keystoreAddress(s)
	}
}

// keystoreAddress decrypts the keystore when a passphrase is available and
// cross-checks the recorded address. Without one, the recorded address is
// used as-is.
func (l Loader) keystoreAddress(s Spec) (string, error) {
	path := securestore.ResolvePath(l.BaseDir, s.Keystore)
	passphrase := ""
	if env := strings.TrimSpace(s.PassphraseEnv); env != "" {
		passphrase = l.getenv(env)
	}
	if passphrase == "" {
		env, err := securestore.ReadEnvelope(path)
		if err != nil {
			return "", fmt.Errorf("read keystore: %w", err)
		}
		if env.Address == "" {
			return "", errors.New("keystore records no address and no passphrase is set")
		}
		return ValidateAddress(env.Address)
	}
	env, secret, err := securestore.ReadSecret(path, passphrase)
	if err != nil {
		return "", fmt.Errorf("open keystore: %w", err)
	}
	addr, err := DeriveAddress(secret.Value, "")
	if err != nil {
		return "", err
	}
	if env.Address != "" && env.Address != addr {
		return "", fmt.Errorf("keystore address %s does not match its key material", env.Address)
	}
	return addr, nil
}

func (l Loader) getenv(key string) string {
	if l.Getenv != nil {
		return l.Getenv(key)
	}
	return os.Getenv(key)
}

// SealMnemonic writes a keystore for mnemonic at path and returns the
// derived address.
func SealMnemonic(path, passphrase, mnemonic string) (string, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	addr, err := DeriveAddress(mnemonic, "")
	if err != nil {
		return "", err
	}
	secret := securestore.Secret{Kind: securestore.KeyKindMnemonic, Value: mnemonic}
	if err := securestore.WriteSecret(path, passphrase, addr, secret); err != nil {
		return "", err
	}
	return addr, nil
}
