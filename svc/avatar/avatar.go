// Package avatar draws the small identicons attached to discussion comments.
package avatar

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"

	"github.com/pkg/errors"
)

const (
	DefaultSize = 32
	shapes      = 3
)

type Identicon struct {
	Width  int
	Height int
}

func New() *Identicon {
	return &Identicon{Width: DefaultSize, Height: DefaultSize}
}

// Render draws the identicon for seed and returns it as base64 PNG.
func (a *Identicon) Render(seed []byte) (string, error) {
	if a.Width <= 0 || a.Height <= 0 {
		return "", errors.Errorf("invalid avatar size %dx%d", a.Width, a.Height)
	}
	s := newStream(seed)
	img := image.NewRGBA(image.Rect(0, 0, a.Width, a.Height))
	a.gradient(img, s.color(), s.color(), s.flip())
	for i := 0; i < shapes; i++ {
		a.shape(img, s)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", errors.Wrap(err, "encode avatar")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (a *Identicon) shape(img *image.RGBA, s *stream) {
	kind := int(s.next()) % 7
	switch kind {
	case 0:
		fillRect(img, s.rect(a.Width, a.Height), s.color())
	case 1:
		fillCircle(img, s.point(a.Width, a.Height), s.scaled(a.Width/2), s.color())
	case 2:
		fillEllipse(img, s.point(a.Width, a.Height), s.point(a.Width/2, a.Height/2), s.color())
	default:
		pts := make([]image.Point, kind)
		for i := range pts {
			pts[i] = s.point(a.Width, a.Height)
		}
		a.fillPolygon(img, pts, s.color())
	}
}

func (a *Identicon) gradient(img *image.RGBA, from, to color.RGBA, horizontal bool) {
	span := a.Width
	if horizontal {
		span = a.Height
	}
	step := func(f, t uint8) float32 { return (float32(t) - float32(f)) / float32(span) }
	sr, sg, sb := step(from.R, to.R), step(from.G, to.G), step(from.B, to.B)
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			i := x
			if horizontal {
				i = y
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float32(from.R) + float32(i)*sr),
				G: uint8(float32(from.G) + float32(i)*sg),
				B: uint8(float32(from.B) + float32(i)*sb),
				A: 255,
			})
		}
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X; x <= r.Max.X; x++ {
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func fillCircle(img *image.RGBA, center image.Point, r int, c color.RGBA) {
	limit := float64(r*r) + float64(r)*0.8
	for x := center.X - r; x <= center.X+r; x++ {
		for y := center.Y - r; y <= center.Y+r; y++ {
			dx, dy := float64(x-center.X), float64(y-center.Y)
			if dx*dx+dy*dy <= limit {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func fillEllipse(img *image.RGBA, center, r image.Point, c color.RGBA) {
	if r.X == 0 || r.Y == 0 {
		return
	}
	for x := center.X - r.X; x <= center.X+r.X; x++ {
		for y := center.Y - r.Y; y <= center.Y+r.Y; y++ {
			nx := float64(x-center.X) / float64(r.X)
			ny := float64(y-center.Y) / float64(r.Y)
			if math.Pow(nx, 2)+math.Pow(ny, 2) <= 1.1 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// fillPolygon is an even-odd scanline fill.
func (a *Identicon) fillPolygon(img *image.RGBA, pts []image.Point, c color.RGBA) {
	for y := 0; y <= a.Height; y++ {
		xs := make([]int, 0, len(pts))
		prev := len(pts) - 1
		for i, p := range pts {
			q := pts[prev]
			if (y > p.Y && y <= q.Y) || (y > q.Y && y <= p.Y) {
				t := float64(y-p.Y) / float64(q.Y-p.Y)
				xs = append(xs, int(float64(p.X)+t*float64(q.X-p.X)))
			}
			prev = i
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			for x := xs[i]; x < xs[i+1]; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
