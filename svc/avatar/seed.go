package avatar

import (
	"crypto/sha1"
	"crypto/sha256"
	"image"
	"image/color"
)

// stream is a deterministic byte source expanded from a seed. The same seed
// always yields the same sequence, which is what keeps avatars stable.
type stream struct {
	data []byte
	i    int
}

func newStream(seed []byte) *stream {
	s1 := sha1.Sum(seed)
	s256 := sha256.Sum256(seed)
	s224 := sha256.Sum224(seed)
	data := make([]byte, 0, len(s1)+len(s256)+len(s224))
	data = append(data, s1[:]...)
	data = append(data, s256[:]...)
	data = append(data, s224[:]...)
	return &stream{data: data}
}

func (s *stream) next() byte {
	s.i = (s.i + 1) % len(s.data)
	return s.data[s.i]
}

// scaled maps the next byte onto [0, n].
func (s *stream) scaled(n int) int {
	return int(float32(s.next()) / 255 * float32(n))
}

func (s *stream) point(w, h int) image.Point {
	return image.Point{X: s.scaled(w), Y: s.scaled(h)}
}

func (s *stream) rect(w, h int) image.Rectangle {
	a, b := s.point(w, h), s.point(w, h)
	return image.Rect(a.X, a.Y, b.X, b.Y)
}

func (s *stream) flip() bool {
	return s.next()%2 == 0
}

func (s *stream) color() color.RGBA {
	return color.RGBA{R: s.next(), G: s.next(), B: s.next(), A: 255}
}
