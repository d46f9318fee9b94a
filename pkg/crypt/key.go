package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const KeySize = 32

// Key is the symmetric paste key in its URL-safe text form.
type Key struct {
	text string
}

func GenerateKey() (Key, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return Key{}, fmt.Errorf("read random key: %w", err)
	}
	return Key{text: base64.RawURLEncoding.EncodeToString(buf)}, nil
}

// ParseKey validates key text taken from a fragment or typed by a user.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, ErrKeyNotFound
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != KeySize {
		return Key{}, ErrInvalidKey
	}
	return Key{text: s}, nil
}

// KeyFromFragment extracts the key from the fragment of rawURL. Only the text after the first
// '#' is read; path and query are ignored.
func KeyFromFragment(rawURL string) (Key, error) {
	_, frag, ok := strings.Cut(rawURL, "#")
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	return ParseKey(frag)
}

// Encode returns the fragment text. Callers must only place it after '#'.
func (k Key) Encode() string {
	return k.text
}

func (k Key) IsZero() bool {
	return k.text == ""
}

func (k Key) String() string {
	if k.text == "" {
		return ""
	}
	return "***REDACTED***"
}

func (k Key) GoString() string {
	return "crypt.Key{" + k.String() + "}"
}
