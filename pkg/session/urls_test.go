package session

import (
	"errors"
	"fmt"
	"testing"

	"zerobin/pkg/crypt"
)

func TestShareURLRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		key := newKey(t)
		id := fmt.Sprintf("Ab%018d", i)
		for _, origin := range []string{"https://zb.example", "http://localhost:8080/"} {
			raw := ShareURL(origin, id, key)
			gotOrigin, gotID, gotKey, err := ParseShareURL(raw)
			if err != nil {
				t.Fatalf("ParseShareURL(%q) error = %v", raw, err)
			}
			if gotID != id || gotKey != key {
				t.Fatalf("round trip of %q gave id=%q", raw, gotID)
			}
			if gotOrigin+"/" != origin && gotOrigin != origin {
				t.Errorf("origin = %q, want %q", gotOrigin, origin)
			}
			k2, err := crypt.KeyFromFragment(raw)
			if err != nil || k2 != key {
				t.Errorf("KeyFromFragment(%q) = %v", raw, err)
			}
		}
	}
}

func TestParseShareURL_Errors(t *testing.T) {
	key := newKey(t)
	tests := []struct {
		raw  string
		want error
	}{
		{"https://zb.example/abc", crypt.ErrKeyNotFound},
		{"https://zb.example/abc#bad", crypt.ErrInvalidKey},
		{"https://zb.example/#" + key.Encode(), ErrBadShareURL},
		{"https://zb.example/a/b#" + key.Encode(), ErrBadShareURL},
		{"/abc#" + key.Encode(), ErrBadShareURL},
	}
	for _, tt := range tests {
		if _, _, _, err := ParseShareURL(tt.raw); !errors.Is(err, tt.want) {
			t.Errorf("ParseShareURL(%q) error = %v, want %v", tt.raw, err, tt.want)
		}
	}
}

func TestParseDeleteURL(t *testing.T) {
	origin, id, token, err := ParseDeleteURL(DeleteURL("https://zb.example/", "abc123", "tok1"))
	if err != nil || origin != "https://zb.example" || id != "abc123" || token != "tok1" {
		t.Fatalf("ParseDeleteURL = %q %q %q %v", origin, id, token, err)
	}
	for _, raw := range []string{"https://zb.example/abc123", "https://zb.example/delete/abc123", "https://zb.example/remove/a/b"} {
		if _, _, _, err := ParseDeleteURL(raw); !errors.Is(err, ErrBadDeleteURL) {
			t.Errorf("ParseDeleteURL(%q) error = %v", raw, err)
		}
	}
}
