// Package overlay draws diagnostic markings over a finished panorama:
// the outline of each input's footprint, and the seams between owners.
package overlay

import (
	"image"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/seams"
)

type Mode int

const (
	None Mode = iota
	Borders
	Seams
	All
)

var names = []string{"none", "borders", "seams", "all"}

func (m Mode) String() string { return names[m] }

func ParseMode(s string) (Mode, error) {
	for i, n := range names {
		if n == s {
			return Mode(i), nil
		}
	}
	return None, perr.New(perr.InputError, "unknown overlay type %q", s)
}

func (m Mode) drawBorders() bool { return m == Borders || m == All }
func (m Mode) drawSeams() bool   { return m == Seams || m == All }

// A Region is a core area of the panorama plus a one pixel halo, so that
// neighbours across the core's edge can be checked.
type Region struct {
	Rect   image.Rectangle   // padded, panorama coords; every grid is this size
	Core   image.Rectangle   // panorama coords
	Valid  []emath.FloatGrid // one mask per input
	Inside emath.FloatGrid   // 1 within the panorama
	Labels seams.Labels
}

var neighbours = []image.Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// BorderMask marks valid pixels that have an invalid 4-neighbour within
// the panorama.
func BorderMask(valid, inside emath.FloatGrid) emath.FloatGrid {
	w, h := valid.Dx(), valid.Dy()
	out := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if valid.Get(x, y) <= 0 {
				continue
			}
			for _, d := range neighbours {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h || inside.Get(nx, ny) <= 0 {
					continue
				}
				if valid.Get(nx, ny) <= 0 {
					out.Set(x, y, 1)
					break
				}
			}
		}
	}
	return out
}

// SeamMask marks owned pixels next to a pixel with a different owner.
func SeamMask(l seams.Labels) emath.FloatGrid {
	out := emath.NewFloatGrid(l.W, l.H)
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			v := l.At(x, y)
			if v == seams.None {
				continue
			}
			for _, d := range neighbours {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= l.W || ny >= l.H {
					continue
				}
				if n := l.At(nx, ny); n != seams.None && n != v {
					out.Set(x, y, 1)
					break
				}
			}
		}
	}
	return out
}

// Apply paints markers into color, which covers r.Core, and returns how
// many pixels it marked. Seams are painted over borders. Unmarked pixels
// are not touched.
func Apply(mode Mode, r Region, color []emath.FloatGrid) int {
	if mode == None {
		return 0
	}
	w, h := r.Rect.Dx(), r.Rect.Dy()
	marks := emath.NewFloatGrid(w, h) // 0 none, 1 border, 2 seam

	if mode.drawBorders() {
		for _, v := range r.Valid {
			b := BorderMask(v, r.Inside)
			for i, m := range b.Values() {
				if m > 0 {
					marks.Values()[i] = 1
				}
			}
		}
	}
	if mode.drawSeams() {
		sm := SeamMask(r.Labels)
		for i, m := range sm.Values() {
			if m > 0 {
				marks.Values()[i] = 2
			}
		}
	}

	off := r.Core.Min.Sub(r.Rect.Min)
	n := 0
	for y := 0; y < r.Core.Dy(); y++ {
		for x := 0; x < r.Core.Dx(); x++ {
			var marker emath.Vec3
			switch marks.Get(x+off.X, y+off.Y) {
			case 1:
				marker = ecolor.BorderMarker
			case 2:
				marker = ecolor.SeamMarker
			default:
				continue
			}
			for c := 0; c < 3 && c < len(color); c++ {
				color[c].Set(x, y, marker[c])
			}
			n++
		}
	}
	return n
}
