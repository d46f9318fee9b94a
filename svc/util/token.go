package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

const tokenBytes = 10

var (
	ErrTokenForged    = errors.New("delete token invalid")
	ErrTokenMalformed = errors.New("delete token malformed")
)

// DeleteTokens issues and checks paste delete tokens: the first ten bytes of
// HMAC-SHA256(secret, paste id), hex encoded to twenty characters.
type DeleteTokens struct {
	mu  sync.RWMutex
	key []byte
}

func NewDeleteTokens(secret []byte) (*DeleteTokens, error) {
	if err := validateKeyEntropy(secret); err != nil {
		return nil, err
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &DeleteTokens{key: key}, nil
}

// Rotate replaces the secret. Tokens issued under the old secret stop verifying.
func (d *DeleteTokens) Rotate(secret []byte) error {
	if err := validateKeyEntropy(secret); err != nil {
		return err
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	d.mu.Lock()
	Wipe(d.key)
	d.key = key
	d.mu.Unlock()
	return nil
}

func (d *DeleteTokens) Issue(pasteID string) string {
	return hex.EncodeToString(d.mac(pasteID))
}

func (d *DeleteTokens) Verify(pasteID, token string) error {
	provided, err := hex.DecodeString(token)
	if err != nil || len(provided) != tokenBytes {
		// keep the work constant for malformed input
		d.mac(pasteID)
		return ErrTokenMalformed
	}
	if !hmac.Equal(provided, d.mac(pasteID)) {
		return ErrTokenForged
	}
	return nil
}

func (d *DeleteTokens) Wipe() {
	d.mu.Lock()
	Wipe(d.key)
	d.mu.Unlock()
}

func (d *DeleteTokens) mac(pasteID string) []byte {
	d.mu.RLock()
	m := hmac.New(sha256.New, d.key)
	d.mu.RUnlock()
	m.Write([]byte("zerobin-delete:"))
	m.Write([]byte(pasteID))
	return m.Sum(nil)[:tokenBytes]
}

func validateKeyEntropy(secret []byte) error {
	if len(secret) < 32 {
		return errors.New("delete token key must be at least 32 bytes")
	}
	unique := make(map[byte]struct{})
	for _, b := range secret {
		unique[b] = struct{}{}
	}
	if len(unique) < 16 {
		return errors.New("delete token key has insufficient entropy (too many repeating bytes)")
	}
	return nil
}
