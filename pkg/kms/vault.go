package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// vaultProvider wraps keys with the transit engine and reads secrets from KV v2.
type vaultProvider struct {
	client     *vault.Client
	mountPath  string
	keyID      string
	secretPath string
}
func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		mountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "transit"),
		keyID:      getEnvOrDefault("VAULT_KEY_ID", "zerobin-master"),
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/zerobin"),
	}, nil
}
func (v *vaultProvider) EncryptWithContext(ctx context.Context, plaintext []byte, encContext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", v.mountPath, v.keyID)
	data := map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}
	if len(encContext) > 0 {
		data["context"] = base64.StdEncoding.EncodeToString(encContext)
	}
	secret, err := v.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, err
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, errors.New("vault: ciphertext not found")
	}
	return []byte(ciphertext), nil
}

func (v *vaultProvider) DecryptWithContext(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", v.mountPath, v.keyID)
	data := map[string]interface{}{
		"ciphertext": string(ciphertext),
	}
	if len(encContext) > 0 {
		data["context"] = base64.StdEncoding.EncodeToString(encContext)
	}
	secret, err := v.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, err
	}
	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, errors.New("vault: plaintext not found")
	}
	return base64.StdEncoding.DecodeString(plaintextB64)
}

func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	path := fmt.Sprintf("%s/%s", v.secretPath, key)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}
