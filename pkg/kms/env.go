package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// envProvider wraps with AES-GCM under KMS_LOCAL_KEY and reads secrets from the environment.
type envProvider struct {
	aead cipher.AEAD
}

func newEnvProvider(key string) (*envProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("KMS_LOCAL_KEY environment variable is required")
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("KMS_LOCAL_KEY must be base64-encoded: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("KMS_LOCAL_KEY must be exactly 32 bytes when decoded (got %d bytes)", len(decoded))
	}
	block, err := aes.NewCipher(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &envProvider{aead: aead}, nil
}
func (e *envProvider) EncryptWithContext(ctx context.Context, plaintext []byte, encContext []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, encContext), nil
}

func (e *envProvider) DecryptWithContext(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	encrypted := ciphertext[nonceSize:]
	return e.aead.Open(nil, nonce, encrypted, encContext)
}
func (e *envProvider) GetSecret(ctx context.Context, key string) (string, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}
