// Package kms wraps the per-paste data keys the server uses to seal stored
// envelopes at rest. Keys are wrapped by Vault transit, AWS KMS or a local key.
package kms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

var (
	ErrProviderUnavailable = errors.New("kms provider unavailable")
	ErrDecryptionFailed    = errors.New("decryption failed")
)

const providerTimeout = 10 * time.Second

// EncryptionContext is bound to every wrap as associated data.
type EncryptionContext map[string]string

type Provider interface {
	EncryptWithContext(ctx context.Context, plaintext []byte, encContext []byte) (ciphertext []byte, err error)
	DecryptWithContext(ctx context.Context, ciphertext []byte, encContext []byte) (plaintext []byte, err error)
	GetSecret(ctx context.Context, key string) (value string, err error)
}

type Adapter struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
}

// NewAdapter picks providers from the environment: Vault when VAULT_ADDR is
// set, else AWS when AWS_REGION is set, with KMS_LOCAL_KEY as fallback.
func NewAdapter(ctx context.Context) (*Adapter, error) {
	requirePrimary := strings.ToLower(os.Getenv("KMS_REQUIRE_PRIMARY")) == "true"
	var primary, fallback Provider
	if os.Getenv("VAULT_ADDR") != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil && os.Getenv("AWS_REGION") != "" {
		if ap, err := newAWSProvider(ctx); err == nil {
			primary = ap
		}
	}
	if !requirePrimary && primary == nil {
		if envKey := os.Getenv("KMS_LOCAL_KEY"); envKey != "" {
			ep, err := newEnvProvider(envKey)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize env provider: %w", err)
			}
			fallback = ep
		}
	}
	if primary == nil && fallback == nil {
		if requirePrimary {
			return nil, fmt.Errorf("KMS_REQUIRE_PRIMARY=true but no primary provider available (checked Vault, AWS KMS)")
		}
		return nil, fmt.Errorf("no KMS providers available (checked Vault, AWS KMS, env)")
	}
	return NewAdapterFromProviders(primary, fallback, os.Getenv("KMS_FAIL_CLOSED") != "false", requirePrimary), nil
}

func NewAdapterFromProviders(primary, fallback Provider, failClosed, requirePrimary bool) *Adapter {
	return &Adapter{
		primary:        primary,
		fallback:       fallback,
		failClosed:     failClosed,
		requirePrimary: requirePrimary,
	}
}

// NewLocalAdapter builds an adapter over a single base64 32-byte key.
func NewLocalAdapter(key string) (*Adapter, error) {
	ep, err := newEnvProvider(key)
	if err != nil {
		return nil, err
	}
	return NewAdapterFromProviders(nil, ep, true, false), nil
}

func (a *Adapter) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return a.EncryptWithContext(ctx, plaintext, nil)
}
func (a *Adapter) EncryptWithContext(ctx context.Context, plaintext []byte, encContext EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	contextBytes := serializeEncryptionContext(encContext)
	if a.primary != nil {
		ciphertext, err := a.primary.EncryptWithContext(ctx, plaintext, contextBytes)
		if err == nil {
			return ciphertext, nil
		}
		if a.requirePrimary {
			return nil, fmt.Errorf("primary KMS encrypt failed (KMS_REQUIRE_PRIMARY=true): %w", err)
		}
		if a.failClosed {
			return nil, fmt.Errorf("kms encrypt failed (fail-closed): %w", err)
		}
	}
	if a.fallback != nil {
		return a.fallback.EncryptWithContext(ctx, plaintext, contextBytes)
	}
	return nil, ErrProviderUnavailable
}
func (a *Adapter) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return a.DecryptWithContext(ctx, ciphertext, nil)
}
func (a *Adapter) DecryptWithContext(ctx context.Context, ciphertext []byte, encContext EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	contextBytes := serializeEncryptionContext(encContext)
	if a.primary != nil {
		plaintext, err := a.primary.DecryptWithContext(ctx, ciphertext, contextBytes)
		if err == nil {
			return plaintext, nil
		}
		if a.requirePrimary {
			return nil, fmt.Errorf("primary KMS decrypt failed (KMS_REQUIRE_PRIMARY=true): %w", err)
		}
		if a.failClosed {
			return nil, fmt.Errorf("kms decrypt failed (fail-closed): %w", err)
		}
	}
	if a.fallback != nil {
		return a.fallback.DecryptWithContext(ctx, ciphertext, contextBytes)
	}
	return nil, ErrProviderUnavailable
}
func serializeEncryptionContext(ctx EncryptionContext) []byte {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(ctx[k])
		buf.WriteByte(';')
	}
	return buf.Bytes()
}
func (a *Adapter) GetSecret(ctx context.Context, key string) (string, error) {
	if a.primary != nil {
		val, err := a.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if a.requirePrimary {
			return "", fmt.Errorf("primary KMS GetSecret failed (KMS_REQUIRE_PRIMARY=true): %w", err)
		}
		if a.failClosed {
			return "", fmt.Errorf("get secret failed (fail-closed): %w", err)
		}
	}
	if a.fallback != nil {
		return a.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
