package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyKindMnemonic is the only secret kind a keystore currently carries.
const KeyKindMnemonic = "mnemonic"

// Secret is the sealed payload of a keystore file.
type Secret struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// ResolvePath joins relative keystore paths onto baseDir.
func ResolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ReadEnvelope loads a keystore file without decrypting it.
func ReadEnvelope(path string) (*Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEnvelope(raw)
}

// ReadSecret reads and decrypts a keystore file.
func ReadSecret(path, passphrase string) (*Envelope, Secret, error) {
	env, err := ReadEnvelope(path)
	if err != nil {
		return nil, Secret{}, err
	}
	plain, err := DecryptEnvelope(passphrase, env)
	if err != nil {
		return nil, Secret{}, err
	}
	defer zeroBytes(plain)
	var s Secret
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, Secret{}, ErrInvalid
	}
	if s.Kind != KeyKindMnemonic || strings.TrimSpace(s.Value) == "" {
		return nil, Secret{}, fmt.Errorf("%w: unsupported secret kind %q", ErrInvalid, s.Kind)
	}
	return env, s, nil
}

// WriteSecret seals s under passphrase and writes it to path with owner-only
// permissions. An existing file is never overwritten.
func WriteSecret(path, passphrase, address string, s Secret) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	defer zeroBytes(payload)
	env, err := EncryptEnvelope(passphrase, payload)
	if err != nil {
		return err
	}
	env.Address = strings.TrimSpace(address)
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("keystore %s already exists", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
