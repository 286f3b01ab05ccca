// Package seams decides which input image owns each pixel of the
// panorama. The owner supplies the finest detail band when blending.
package seams

import (
	"image"
	"math"

	"github.com/fogleman/gg"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/emath"
)

// None marks a pixel no input covers.
const None = -1

// A Candidate is one input image as seen from inside a region. Every grid
// is the size of the region.
type Candidate struct {
	Label  int
	Color  []emath.FloatGrid
	Valid  emath.FloatGrid
	Center [2]float64 // footprint centre, region-local coords
}

func (c *Candidate) validAt(x, y int) bool { return c.Valid.Get(x, y) > 0 }

type Region struct {
	Rect       image.Rectangle // in panorama coords; the grids are this size
	Candidates []Candidate

	// Labels already settled by neighbouring regions, or nil. Cells
	// holding None are free.
	Fixed *emath.FloatGrid
}

// Labels is a raster of owner labels.
type Labels struct {
	W, H int
	L    []int
}

func NewLabels(w, h int) Labels {
	l := Labels{W: w, H: h, L: make([]int, w*h)}
	for i := range l.L {
		l.L[i] = None
	}
	return l
}

func (l *Labels) At(x, y int) int     { return l.L[y*l.W+x] }
func (l *Labels) Set(x, y int, v int) { l.L[y*l.W+x] = v }

// Grid converts labels to floats, for storing in a tile raster.
func (l *Labels) Grid() emath.FloatGrid {
	g := emath.NewFloatGrid(l.W, l.H)
	for i, v := range l.L {
		g.Values()[i] = float64(v)
	}
	return g
}

// LabelsFromGrid is the inverse of Grid.
func LabelsFromGrid(g emath.FloatGrid) Labels {
	l := Labels{W: g.Dx(), H: g.Dy(), L: make([]int, len(g.Values()))}
	for i, v := range g.Values() {
		l.L[i] = int(math.Round(v))
		if l.L[i] < 0 {
			l.L[i] = None
		}
	}
	return l
}

// ToImg writes the labels as a false-color PNG.
func (l *Labels) ToImg(filename string) error {
	dc := gg.NewContext(l.W, l.H)
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			dc.SetColor(ecolor.LabelColor(l.At(x, y)))
			dc.SetPixel(x, y)
		}
	}
	return dc.SavePNG(filename)
}

// Heuristic gives each pixel to the valid candidate whose footprint
// centre is nearest, lowest label on a tie. The centres are global, so
// neighbouring regions agree along their shared edges.
func Heuristic(r Region) Labels {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	out := NewLabels(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			best, bestD := None, math.Inf(1)
			for i := range r.Candidates {
				c := &r.Candidates[i]
				if !c.validAt(x, y) {
					continue
				}
				dx := float64(x) + 0.5 - c.Center[0]
				dy := float64(y) + 0.5 - c.Center[1]
				d := dx*dx + dy*dy
				if d < bestD || (d == bestD && c.Label < best) {
					best, bestD = c.Label, d
				}
			}
			out.Set(x, y, best)
		}
	}
	return out
}
