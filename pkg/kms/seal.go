package kms

import (
	"context"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"zerobin/svc/util"
)

const dekSize = chacha20poly1305.KeySize

func GenerateDEK() ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, err
	}
	return dek, nil
}

// AEADSeal encrypts with XChaCha20-Poly1305 and prepends the nonce.
func AEADSeal(plaintext, dek, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}
func AEADOpen(ciphertext, dek, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func dekContext(pasteID string) EncryptionContext {
	return EncryptionContext{"purpose": "paste-dek", "paste_id": pasteID}
}

// Sealer seals stored paste and comment envelopes under a per-paste DEK.
// The wrapped DEK is stored next to the paste; unwrapping goes through the cache.
type Sealer struct {
	adapter *Adapter
	cache   *DEKCache
}

func NewSealer(adapter *Adapter, cache *DEKCache) *Sealer {
	return &Sealer{adapter: adapter, cache: cache}
}

// NewDEK returns a fresh DEK and its wrapped form bound to pasteID.
func (s *Sealer) NewDEK(ctx context.Context, pasteID string) (dek, wrapped []byte, err error) {
	dek, err = GenerateDEK()
	if err != nil {
		return nil, nil, err
	}
	wrapped, err = s.adapter.EncryptWithContext(ctx, dek, dekContext(pasteID))
	if err != nil {
		util.Wipe(dek)
		return nil, nil, err
	}
	return dek, wrapped, nil
}

// DEK unwraps the stored DEK of pasteID. The caller owns the returned slice.
func (s *Sealer) DEK(ctx context.Context, pasteID string, wrapped []byte) ([]byte, error) {
	return s.cache.DecryptDEK(ctx, wrapped, dekContext(pasteID))
}

// Label is the associated data for one sealed field, so sealed blobs cannot
// be moved between records or fields.
func Label(kind, id string) []byte {
	return []byte("zerobin:" + kind + ":" + id)
}
