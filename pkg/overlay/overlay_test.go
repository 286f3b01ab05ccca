package overlay

import (
	"image"
	"testing"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/seams"
)

// Two inputs over a 20x6 panorama: A covers x<12, B covers x>=8; the
// owner switches at x=10.
func twoInputs() (Region, []emath.FloatGrid) {
	w, h := 20, 6
	r := Region{
		Rect:   image.Rect(0, 0, w, h),
		Core:   image.Rect(0, 0, w, h),
		Inside: emath.NewFloatGrid(w, h),
		Labels: seams.NewLabels(w, h),
	}
	r.Inside.Fill(1)
	a, b := emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < 12 {
				a.Set(x, y, 1)
			}
			if x >= 8 {
				b.Set(x, y, 1)
			}
			if x < 10 {
				r.Labels.Set(x, y, 0)
			} else {
				r.Labels.Set(x, y, 1)
			}
		}
	}
	r.Valid = []emath.FloatGrid{a, b}

	color := make([]emath.FloatGrid, 4)
	for c := range color {
		color[c] = emath.NewFloatGrid(w, h)
		color[c].Fill(0.25 * float64(c+1))
	}
	return r, color
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"none", "borders", "seams", "all"} {
		m, err := ParseMode(s)
		if err != nil || m.String() != s {
			t.Errorf("%q -> %v, %v", s, m, err)
		}
	}
	if _, err := ParseMode("grid"); !perr.Is(err, perr.InputError) {
		t.Errorf("bad mode: %v", err)
	}
}

func TestBorderMask(t *testing.T) {
	r, _ := twoInputs()
	b := BorderMask(r.Valid[0], r.Inside)
	if b.Get(11, 2) != 1 {
		t.Errorf("last valid column not marked")
	}
	if b.Get(10, 2) != 0 || b.Get(12, 2) != 0 {
		t.Errorf("marks off the edge")
	}
	// The panorama edge is not a footprint edge
	if b.Get(0, 0) != 0 {
		t.Errorf("panorama corner marked")
	}
}

func TestSeamMask(t *testing.T) {
	r, _ := twoInputs()
	s := SeamMask(r.Labels)
	for x := 0; x < 20; x++ {
		want := 0.0
		if x == 9 || x == 10 {
			want = 1
		}
		if s.Get(x, 3) != want {
			t.Errorf("x=%d marked %v, want %v", x, s.Get(x, 3), want)
		}
	}
}

func TestApplyOnlyTouchesMarkedPixels(t *testing.T) {
	for _, mode := range []Mode{None, Borders, Seams, All} {
		r, color := twoInputs()
		n := Apply(mode, r, color)

		marked := 0
		for y := 0; y < 6; y++ {
			for x := 0; x < 20; x++ {
				changed := color[0].Get(x, y) != 0.25 || color[1].Get(x, y) != 0.5 || color[2].Get(x, y) != 0.75
				if changed {
					marked++
				}
				if color[3].Get(x, y) != 1 {
					t.Fatalf("%v: alpha changed at (%d,%d)", mode, x, y)
				}
				// Columns away from every border and seam never change
				if (x < 7 || (x > 12)) && changed {
					t.Errorf("%v: (%d,%d) changed", mode, x, y)
				}
			}
		}
		if marked != n {
			t.Errorf("%v: Apply reported %d, %d pixels changed", mode, n, marked)
		}
		if mode == None && n != 0 {
			t.Errorf("none marked %d pixels", n)
		}
	}
}

func TestSeamsDrawnOverBorders(t *testing.T) {
	r, color := twoInputs()
	// Move the seam onto A's border column
	for y := 0; y < 6; y++ {
		r.Labels.Set(11, y, 0)
		r.Labels.Set(10, y, 0)
	}
	Apply(All, r, color)
	if got := color[0].Get(11, 2); got != ecolor.SeamMarker[0] {
		t.Errorf("(11,2) red = %v, want the seam marker", got)
	}
	if got := color[1].Get(8, 2); got != ecolor.BorderMarker[1] {
		t.Errorf("(8,2) green = %v, want the border marker", got)
	}
}
