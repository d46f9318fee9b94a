package avatar

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"
)

func TestStreamSequence(t *testing.T) {
	s := newStream([]byte("awesome data"))
	for i, want := range []byte{140, 66, 202} {
		if got := s.next(); got != want {
			t.Errorf("next()[%d] = %d, want %d", i, got, want)
		}
	}
	for i, want := range []int{0, 1, 3} {
		if got := s.scaled(10); got != want {
			t.Errorf("scaled(10)[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestStreamWraps(t *testing.T) {
	s := newStream(nil)
	first := s.next()
	for i := 1; i < len(s.data); i++ {
		s.next()
	}
	if s.next() != first {
		t.Error("stream did not wrap around")
	}
}

func TestRenderDeterministic(t *testing.T) {
	a := New()
	one, err := a.Render([]byte("seed-1"))
	if err != nil {
		t.Fatal(err)
	}
	again, _ := a.Render([]byte("seed-1"))
	other, _ := a.Render([]byte("seed-2"))
	if one != again {
		t.Error("same seed produced different avatars")
	}
	if one == other {
		t.Error("different seeds produced the same avatar")
	}
}

func TestRenderIsPNG(t *testing.T) {
	b64, err := New().Render([]byte("10.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("not base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, DefaultSize, DefaultSize) {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestRenderManySeeds(t *testing.T) {
	a := &Identicon{Width: 16, Height: 24}
	for i := 0; i < 256; i++ {
		if _, err := a.Render([]byte{byte(i)}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func TestRenderInvalidSize(t *testing.T) {
	if _, err := (&Identicon{}).Render([]byte("x")); err == nil {
		t.Error("zero size accepted")
	}
}
