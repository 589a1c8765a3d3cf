// Package vault seals tool credentials with AES-256-GCM under a
// passphrase-derived key and stores the sealed blobs in sqlite. Agents
// receive plaintext only at startup; the store never does.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/mkelaidis/agora/internal/store"
)

var ErrSecretNotFound = errors.New("secret not found")

// Vault couples the sealing key with the secrets table.
type Vault struct {
	key   [32]byte
	store *store.Store
}

// New derives an AES-256 key from the passphrase via Argon2id. The salt is
// deterministic (SHA-256 of the passphrase) so the same passphrase unseals
// across restarts.
func New(passphrase string, st *store.Store) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{store: st}
	copy(v.key[:], key)
	return v
}

// Put seals a credential and stores it under the given name, replacing
// any previous value.
func (v *Vault) Put(name string, plaintext []byte) error {
	ciphertext, nonce, err := v.seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal secret %s: %w", name, err)
	}
	return v.store.SaveSecret(&store.Secret{
		Name:       name,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
}

// Get unseals a stored credential.
func (v *Vault) Get(name string) ([]byte, error) {
	sec, err := v.store.GetSecret(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	plaintext, err := v.open(sec.Ciphertext, sec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("unseal secret %s: %w", name, err)
	}
	return plaintext, nil
}

// Names lists the stored secret names.
func (v *Vault) Names() ([]string, error) {
	return v.store.ListSecretNames()
}

// Delete removes a stored credential.
func (v *Vault) Delete(name string) error {
	return v.store.DeleteSecret(name)
}

func (v *Vault) seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (v *Vault) open(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
