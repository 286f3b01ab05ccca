package tilestore

import (
	"image"

	"github.com/abworrall/pano-composite/pkg/emath"
)

// A Buffer is a rectangle of pixels in raster coordinates, channels
// interleaved, rows top to bottom. Buffers handed out by the Store
// belong to the caller.
type Buffer struct {
	Rect     image.Rectangle
	Channels int
	Pix      []float32
}

func NewBuffer(r image.Rectangle, channels int) *Buffer {
	return &Buffer{
		Rect:     r,
		Channels: channels,
		Pix:      make([]float32, r.Dx()*r.Dy()*channels),
	}
}

// Offset is the index of channel 0 of the pixel at absolute (x,y).
func (b *Buffer) Offset(x, y int) int {
	return ((y-b.Rect.Min.Y)*b.Rect.Dx() + (x - b.Rect.Min.X)) * b.Channels
}

func (b *Buffer) At(x, y, c int) float32     { return b.Pix[b.Offset(x, y)+c] }
func (b *Buffer) Set(x, y, c int, v float32) { b.Pix[b.Offset(x, y)+c] = v }

func (b *Buffer) Fill(v float32) {
	for i := range b.Pix {
		b.Pix[i] = v
	}
}

// SubBuffer copies out the part of b inside r.
func (b *Buffer) SubBuffer(r image.Rectangle) *Buffer {
	r = r.Intersect(b.Rect)
	out := NewBuffer(r, b.Channels)
	out.CopyFrom(b)
	return out
}

// CopyFrom copies the overlapping part of src into b.
func (b *Buffer) CopyFrom(src *Buffer) {
	r := b.Rect.Intersect(src.Rect)
	if r.Empty() {
		return
	}
	n := r.Dx() * b.Channels
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(b.Pix[b.Offset(r.Min.X, y):b.Offset(r.Min.X, y)+n], src.Pix[src.Offset(r.Min.X, y):])
	}
}

// Grid returns one channel as a FloatGrid, indexed from b.Rect.Min.
func (b *Buffer) Grid(c int) emath.FloatGrid {
	g := emath.NewFloatGrid(b.Rect.Dx(), b.Rect.Dy())
	vals := g.Values()
	for i := range vals {
		vals[i] = float64(b.Pix[i*b.Channels+c])
	}
	return g
}

// SetGrid is the inverse of Grid. g must be the same size as b.Rect.
func (b *Buffer) SetGrid(c int, g emath.FloatGrid) {
	for i, v := range g.Values() {
		b.Pix[i*b.Channels+c] = float32(v)
	}
}
