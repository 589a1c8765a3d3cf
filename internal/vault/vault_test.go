package vault

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/store"
)

func newTestVault(t *testing.T, passphrase string) *Vault {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "vault.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(passphrase, st)
}

func TestPutGetRoundTrip(t *testing.T) {
	v := newTestVault(t, "correct horse battery staple")

	secret := []byte("tok_live_abcdef123456")
	if err := v.Put("podcast-api", secret); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := v.Get("podcast-api")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestGetUnknownSecret(t *testing.T) {
	v := newTestVault(t, "pass")
	if _, err := v.Get("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestPutReplaces(t *testing.T) {
	v := newTestVault(t, "pass")

	if err := v.Put("key", []byte("old")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := v.Put("key", []byte("new")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := v.Get("key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("expected replacement, got %q", got)
	}
}

func TestWrongPassphraseFailsToUnseal(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "vault.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := New("right", st).Put("key", []byte("secret")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := New("wrong", st).Get("key"); err == nil {
		t.Error("expected unseal failure with the wrong passphrase")
	}
}

func TestSamePassphraseUnsealsAcrossInstances(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "vault.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := New("stable", st).Put("key", []byte("secret")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := New("stable", st).Get("key")
	if err != nil {
		t.Fatalf("get with fresh instance: %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("unexpected plaintext: %q", got)
	}
}

func TestNamesAndDelete(t *testing.T) {
	v := newTestVault(t, "pass")
	_ = v.Put("a", []byte("1"))
	_ = v.Put("b", []byte("2"))

	names, err := v.Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 names, got %v", names)
	}

	if err := v.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Get("a"); !errors.Is(err, ErrSecretNotFound) {
		t.Error("expected deleted secret gone")
	}
}
