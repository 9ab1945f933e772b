// Package securestore seals wallet key material at rest with a passphrase:
// argon2id derives the key and XChaCha20-Poly1305 encrypts the payload.
package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "SOLKEY1\n"

	kdfName        = "argon2id"
	defaultTime    = 2
	defaultMemory  = 64 * 1024
	defaultThreads = 1
	maxMemoryKB    = 1024 * 1024
	maxTime        = 16
)

var (
	ErrAuthFailed   = errors.New("securestore authentication failed")
	ErrInvalid      = errors.New("securestore envelope is invalid")
	ErrNotEncrypted = errors.New("securestore data is not an encrypted envelope")
)

// Envelope is the on-disk keystore shape. Address is public metadata
// recorded at sealing time so a keystore can be listed without its
// passphrase.
type Envelope struct {
	Version     uint32 `json:"version"`
	Address     string `json:"address,omitempty"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	env, err := EncryptEnvelope(passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	return MarshalEnvelope(env)
}

func MarshalEnvelope(env *Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func EncryptEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	if passphrase == "" {
		return nil, errors.New("securestore passphrase is empty")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, defaultTime, defaultMemory, defaultThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     defaultTime,
		KDFMemoryKB: defaultMemory,
		KDFThreads:  defaultThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// ParseEnvelope decodes an envelope without decrypting it.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if !strings.HasPrefix(string(data), filePrefix) {
		return nil, ErrNotEncrypted
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func Decrypt(passphrase string, data []byte) ([]byte, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return DecryptEnvelope(passphrase, env)
}

func DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrInvalid
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// validate bounds the KDF cost so a crafted file cannot exhaust memory.
func (e *Envelope) validate() error {
	switch {
	case e.Version != envelopeVersion, e.KDF != kdfName:
		return ErrInvalid
	case e.KDFTime == 0 || e.KDFTime > maxTime:
		return ErrInvalid
	case e.KDFMemoryKB == 0 || e.KDFMemoryKB > maxMemoryKB:
		return ErrInvalid
	case e.KDFThreads == 0:
		return ErrInvalid
	case len(e.Salt) != saltSize || len(e.Nonce) != chacha20poly1305.NonceSizeX:
		return ErrInvalid
	}
	return nil
}

func deriveKey(passphrase string, salt []byte, time, memoryKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memoryKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
