package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
)

func TestEnvProviderIsPlainGCM(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	p, err := newEnvProvider(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	plaintext := []byte("wrapped data key")

	block, _ := aes.NewCipher(key)
	gcm, _ := cipher.NewGCM(block)
	nonce := make([]byte, gcm.NonceSize())
	io.ReadFull(rand.Reader, nonce)
	external := gcm.Seal(nonce, nonce, plaintext, nil)

	decrypted, err := p.DecryptWithContext(context.Background(), external, nil)
	if err != nil {
		t.Fatalf("Failed to open standard GCM output: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("mismatch: got %q, want %q", decrypted, plaintext)
	}

	ours, err := p.EncryptWithContext(context.Background(), plaintext, nil)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := gcm.Open(nil, ours[:gcm.NonceSize()], ours[gcm.NonceSize():], nil)
	if err != nil || string(opened) != string(plaintext) {
		t.Fatalf("standard GCM cannot open provider output: %v", err)
	}
}

func TestEnvProviderCancelled(t *testing.T) {
	p, err := newEnvProvider(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.EncryptWithContext(ctx, []byte("x"), nil); err == nil {
		t.Error("encrypt ignored cancelled context")
	}
}

func TestEnvProviderGetSecret(t *testing.T) {
	p, _ := newEnvProvider(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	t.Setenv("DELETE_TOKEN_SECRET", "from-env")
	v, err := p.GetSecret(context.Background(), "DELETE_TOKEN_SECRET")
	if err != nil || v != "from-env" {
		t.Errorf("GetSecret = %q, %v", v, err)
	}
	if _, err := p.GetSecret(context.Background(), "ZEROBIN_SURELY_UNSET"); err == nil {
		t.Error("missing secret returned no error")
	}
}
