package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"solana-mcp/go-backend/internal/securestore"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	addrSystem   = "11111111111111111111111111111111"
	addrToken    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	addrWSOL     = "So11111111111111111111111111111111111111112"
)

func TestValidateAddress(t *testing.T) {
	for _, ok := range []string{addrSystem, addrToken, " " + addrWSOL + " "} {
		if _, err := ValidateAddress(ok); err != nil {
			t.Fatalf("expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "not-base58-0OIl", "abc", addrToken + "1111"} {
		if _, err := ValidateAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}
}

func TestDeriveAddressIsDeterministic(t *testing.T) {
	a, err := DeriveAddress(testMnemonic, "")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveAddress("  abandon abandon abandon abandon abandon abandon\nabandon abandon abandon abandon abandon about ", "")
	if err != nil {
		t.Fatalf("derive with extra whitespace: %v", err)
	}
	if a != b {
		t.Fatalf("expected whitespace-insensitive derivation: %s vs %s", a, b)
	}
	if _, err := ValidateAddress(a); err != nil {
		t.Fatalf("derived address invalid: %v", err)
	}
	c, err := DeriveAddress(testMnemonic, "extra")
	if err != nil {
		t.Fatalf("derive with passphrase: %v", err)
	}
	if c == a {
		t.Fatal("bip39 passphrase must change the derived address")
	}
	if _, err := DeriveAddress("abandon abandon", ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected invalid mnemonic, got %v", err)
	}
}

func TestRegistryDefaultSelection(t *testing.T) {
	r, err := NewRegistry([]Info{{Name: "ops", Address: addrSystem}, {Name: "main", Address: addrToken, IsDefault: true}})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	def, err := r.Default()
	if err != nil || def.Name != "main" || !def.IsDefault {
		t.Fatalf("unexpected default: %+v %v", def, err)
	}

	r, err = NewRegistry([]Info{{Name: "first", Address: addrSystem}, {Name: "second", Address: addrToken}})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	def, _ = r.Default()
	if def.Name != "first" {
		t.Fatalf("expected first entry as default, got %+v", def)
	}
	list := r.List()
	if len(list) != 2 || list[1].IsDefault {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRegistryErrors(t *testing.T) {
	if _, err := NewRegistry([]Info{
		{Name: "a", Address: addrSystem, IsDefault: true},
		{Name: "b", Address: addrToken, IsDefault: true},
	}); !errors.Is(err, ErrDuplicateDefault) {
		t.Fatalf("expected duplicate default error, got %v", err)
	}
	if _, err := NewRegistry([]Info{{Name: "a", Address: addrSystem}, {Name: "a", Address: addrToken}}); !errors.Is(err, ErrDuplicateWallet) {
		t.Fatalf("expected duplicate wallet error, got %v", err)
	}
	if _, err := NewRegistry([]Info{{Name: "a", Address: "bogus"}}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address error, got %v", err)
	}

	empty, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("empty registry: %v", err)
	}
	if _, err := empty.Resolve(""); !errors.Is(err, ErrNoDefault) {
		t.Fatalf("expected no default, got %v", err)
	}
	if _, err := empty.Resolve("nonexistent"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestLoaderSources(t *testing.T) {
	dir := t.TempDir()
	derived, err := SealMnemonic(filepath.Join(dir, "vault.key"), "pw", testMnemonic)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	loader := Loader{
		BaseDir: dir,
		Getenv: func(key string) string {
			if key == "VAULT_PASS" {
				return "pw"
			}
			return ""
		},
	}
	r, err := loader.Load([]Spec{
		{Name: "watch", Address: addrWSOL},
		{Name: "seed", Mnemonic: testMnemonic, Default: true},
		{Name: "vault", Keystore: "vault.key", PassphraseEnv: "VAULT_PASS"},
		{Name: "locked", Keystore: "vault.key"},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, _ := r.Default()
	if def.Name != "seed" || def.Address != derived {
		t.Fatalf("unexpected default: %+v (derived %s)", def, derived)
	}
	for _, name := range []string{"vault", "locked"} {
		info, err := r.Get(name)
		if err != nil || info.Address != derived {
			t.Fatalf("%s: unexpected info %+v %v", name, info, err)
		}
	}
}

func TestLoaderRejectsBadSpecs(t *testing.T) {
	dir := t.TempDir()
	if _, err := SealMnemonic(filepath.Join(dir, "vault.key"), "pw", testMnemonic); err != nil {
		t.Fatalf("seal: %v", err)
	}
	loader := Loader{BaseDir: dir, Getenv: func(string) string { return "wrong" }}
	cases := [][]Spec{
		{{Name: "none"}},
		{{Name: "both", Address: addrSystem, Mnemonic: testMnemonic}},
		{{Name: "badseed", Mnemonic: "abandon abandon"}},
		{{Name: "missing", Keystore: "missing.key"}},
		{{Name: "wrongpw", Keystore: "vault.key", PassphraseEnv: "VAULT_PASS"}},
	}
	for i, specs := range cases {
		if _, err := loader.Load(specs); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	_, err := loader.Load([]Spec{{Name: "wrongpw", Keystore: "vault.key", PassphraseEnv: "VAULT_PASS"}})
	if !errors.Is(err, securestore.ErrAuthFailed) {
		t.Fatalf("expected auth failure to be wrapped, got %v", err)
	}
}

func TestLoaderRejectsTamperedKeystoreAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.key")
	secret := securestore.Secret{Kind: securestore.KeyKindMnemonic, Value: testMnemonic}
	if err := securestore.WriteSecret(path, "pw", addrSystem, secret); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader := Loader{Getenv: func(string) string { return "pw" }}
	if _, err := loader.Load([]Spec{{Name: "v", Keystore: path, PassphraseEnv: "P"}}); err == nil {
		t.Fatal("expected address mismatch to be rejected")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("keystore should remain: %v", err)
	}
}
