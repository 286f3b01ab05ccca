// Package blend composites the inputs overlapping one region of the
// panorama into a single result.
//
// A region is processed with a halo around it (Rect is the padded area,
// Core the part that is kept), so that pyramid operations near the edge
// of the core see the same neighbourhood they would in a full-panorama
// computation.
package blend

import (
	"image"
	"io"

	"github.com/charmbracelet/log"

	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/seams"
)

// Empty is the value written where no input covers a pixel.
const Empty = 0.0

// A Layer is one input image, cut to the padded region.
type Layer struct {
	Label int
	Color []emath.FloatGrid
	Valid emath.FloatGrid
}

func (l *Layer) validAt(x, y int) bool { return l.Valid.Get(x, y) > 0 }

type Region struct {
	Rect   image.Rectangle // padded, panorama coords; every grid is this size
	Core   image.Rectangle // panorama coords, inside Rect
	Layers []Layer
	Labels seams.Labels    // owners; only read by multiband and replace
	Inside emath.FloatGrid // 1 where the pixel lies within the panorama
	Levels int
}

// Result covers the core only.
type Result struct {
	Color    []emath.FloatGrid
	Coverage emath.FloatGrid // 1 where at least one input is valid
}

type Compositer interface {
	Composite(r Region) (Result, error)
}

// GetCompositer maps a compositer name to a strategy.
func GetCompositer(name string, featherPasses int, alphaRadius float64, logger *log.Logger) (Compositer, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	switch name {
	case "multiband":
		return Multiband{FeatherPasses: featherPasses, Logger: logger}, nil
	case "replace":
		return Replace{}, nil
	case "alpha":
		return Alpha{Radius: alphaRadius}, nil
	default:
		return nil, perr.New(perr.InputError, "no compositer named %q", name)
	}
}

func (r *Region) channels() int {
	if len(r.Layers) == 0 {
		return 3
	}
	return len(r.Layers[0].Color)
}

// coreOffset is the position of the core inside the padded grids.
func (r *Region) coreOffset() image.Point { return r.Core.Min.Sub(r.Rect.Min) }

func (r *Region) layerByLabel(label int) *Layer {
	for i := range r.Layers {
		if r.Layers[i].Label == label {
			return &r.Layers[i]
		}
	}
	return nil
}

func (r *Region) validate() error {
	if !r.Core.In(r.Rect) {
		return perr.New(perr.InputError, "core %v not inside region %v", r.Core, r.Rect)
	}
	w, h := r.Rect.Dx(), r.Rect.Dy()
	for _, l := range r.Layers {
		if l.Valid.Dx() != w || l.Valid.Dy() != h {
			return perr.New(perr.InputError, "layer %d mask is %dx%d, region is %dx%d", l.Label, l.Valid.Dx(), l.Valid.Dy(), w, h)
		}
		if len(l.Color) != r.channels() {
			return perr.New(perr.InputError, "layer %d has %d channels, want %d", l.Label, len(l.Color), r.channels())
		}
	}
	return nil
}

func newResult(core image.Rectangle, channels int) Result {
	res := Result{Coverage: emath.NewFloatGrid(core.Dx(), core.Dy())}
	for c := 0; c < channels; c++ {
		g := emath.NewFloatGrid(core.Dx(), core.Dy())
		g.Fill(Empty)
		res.Color = append(res.Color, g)
	}
	return res
}

// copyPixel copies layer l's raw pixel at padded (px,py) into the result
// at core (x,y).
func (res *Result) copyPixel(l *Layer, x, y, px, py int) {
	for c := range res.Color {
		res.Color[c].Set(x, y, l.Color[c].Get(px, py))
	}
	res.Coverage.Set(x, y, 1)
}

// Replace writes the owner's raw pixel.
type Replace struct{}

func (Replace) Composite(r Region) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	res := newResult(r.Core, r.channels())
	off := r.coreOffset()
	for y := 0; y < r.Core.Dy(); y++ {
		for x := 0; x < r.Core.Dx(); x++ {
			px, py := x+off.X, y+off.Y
			l := r.layerByLabel(r.Labels.At(px, py))
			if l == nil || !l.validAt(px, py) {
				continue
			}
			res.copyPixel(l, x, y, px, py)
		}
	}
	return res, nil
}

// Alpha is a plain weighted average of every valid input. Weights grow
// linearly with distance from the edge of each footprint, up to Radius.
type Alpha struct {
	Radius float64
}

func (a Alpha) Composite(r Region) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	radius := a.Radius
	if radius < 1 {
		radius = 1
	}

	weights := make([]emath.FloatGrid, len(r.Layers))
	for i := range r.Layers {
		weights[i] = emath.DistanceToEdge(r.Layers[i].Valid, r.Inside, radius)
	}

	res := newResult(r.Core, r.channels())
	off := r.coreOffset()
	for y := 0; y < r.Core.Dy(); y++ {
		for x := 0; x < r.Core.Dx(); x++ {
			px, py := x+off.X, y+off.Y

			n, only := 0, -1
			for i := range r.Layers {
				if r.Layers[i].validAt(px, py) {
					n++
					only = i
				}
			}
			switch n {
			case 0:
				continue
			case 1:
				res.copyPixel(&r.Layers[only], x, y, px, py)
				continue
			}

			sum := 0.0
			for i := range r.Layers {
				if r.Layers[i].validAt(px, py) {
					sum += weights[i].Get(px, py)
				}
			}
			for c := range res.Color {
				v := 0.0
				for i := range r.Layers {
					if r.Layers[i].validAt(px, py) {
						v += weights[i].Get(px, py) * r.Layers[i].Color[c].Get(px, py)
					}
				}
				res.Color[c].Set(x, y, v/sum)
			}
			res.Coverage.Set(x, y, 1)
		}
	}
	return res, nil
}
