package crypt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.Encode())
		if err != nil {
			t.Fatalf("key is not base64url: %v", err)
		}
		if len(raw) != KeySize {
			t.Fatalf("key length = %d, want %d", len(raw), KeySize)
		}
		if strings.ContainsAny(k.Encode(), "+/=") {
			t.Errorf("key %q is not URL safe", k.Encode())
		}
		if seen[k.Encode()] {
			t.Fatal("duplicate key generated")
		}
		seen[k.Encode()] = true
	}
}

func TestKeyFromFragment(t *testing.T) {
	k := mustKeyNoT()
	tests := []struct {
		name string
		url  string
		want Key
		err  error
	}{
		{"share url", "https://zb.example/abc123#" + k.Encode(), k, nil},
		{"with query", "https://zb.example/abc123?x=1#" + k.Encode(), k, nil},
		{"no fragment", "https://zb.example/abc123", Key{}, ErrKeyNotFound},
		{"empty fragment", "https://zb.example/abc123#", Key{}, ErrKeyNotFound},
		{"key in query only", "https://zb.example/abc123?key=" + k.Encode(), Key{}, ErrKeyNotFound},
		{"key in path only", "https://zb.example/" + k.Encode(), Key{}, ErrKeyNotFound},
		{"garbage fragment", "https://zb.example/abc#not-a-key", Key{}, ErrInvalidKey},
		{"short fragment", "https://zb.example/abc#AAAA", Key{}, ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyFromFragment(tt.url)
			if !errors.Is(err, tt.err) {
				t.Fatalf("KeyFromFragment() error = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("KeyFromFragment() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestKey_Redacted(t *testing.T) {
	k := mustKeyNoT()
	for _, s := range []string{fmt.Sprint(k), fmt.Sprintf("%v", k), fmt.Sprintf("%+v", k), fmt.Sprintf("%#v", k)} {
		if strings.Contains(s, k.Encode()) {
			t.Errorf("formatted key %q leaks key text", s)
		}
	}
	if (Key{}).String() != "" {
		t.Error("zero key should format empty")
	}
}

func mustKeyNoT() Key {
	k, err := GenerateKey()
	if err != nil {
		panic(err)
	}
	return k
}
