package pano

import (
	"image"

	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

// A Source supplies one warped input image and its validity mask, a
// rectangle at a time. Rectangles are in image-local coords.
type Source interface {
	Name() string
	Offset() image.Point // top-left of the image in the panorama
	Size() image.Point
	MaskSize() image.Point
	Channels() int
	ReadPixels(r image.Rectangle) (*tilestore.Buffer, error)
	ReadMask(r image.Rectangle) (*tilestore.Buffer, error) // one channel
}

// GridSource is a Source held in memory as float grids.
type GridSource struct {
	ID    string
	At    image.Point
	Color []emath.FloatGrid
	Mask  emath.FloatGrid
}

func NewGridSource(name string, offset image.Point, color []emath.FloatGrid, mask emath.FloatGrid) *GridSource {
	return &GridSource{ID: name, At: offset, Color: color, Mask: mask}
}

func (gs *GridSource) Name() string          { return gs.ID }
func (gs *GridSource) Offset() image.Point   { return gs.At }
func (gs *GridSource) MaskSize() image.Point { return image.Pt(gs.Mask.Dx(), gs.Mask.Dy()) }
func (gs *GridSource) Channels() int         { return len(gs.Color) }

func (gs *GridSource) Size() image.Point {
	if len(gs.Color) == 0 {
		return image.Point{}
	}
	return image.Pt(gs.Color[0].Dx(), gs.Color[0].Dy())
}

func (gs *GridSource) read(grids []emath.FloatGrid, size image.Point, r image.Rectangle) (*tilestore.Buffer, error) {
	if !r.In(image.Rectangle{Max: size}) {
		return nil, perr.New(perr.IOFailure, "%s: read %v outside %v", gs.ID, r, size)
	}
	buf := tilestore.NewBuffer(r, len(grids))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for c, g := range grids {
				buf.Set(x, y, c, float32(g.Get(x, y)))
			}
		}
	}
	return buf, nil
}

func (gs *GridSource) ReadPixels(r image.Rectangle) (*tilestore.Buffer, error) {
	return gs.read(gs.Color, gs.Size(), r)
}

func (gs *GridSource) ReadMask(r image.Rectangle) (*tilestore.Buffer, error) {
	return gs.read([]emath.FloatGrid{gs.Mask}, gs.MaskSize(), r)
}
