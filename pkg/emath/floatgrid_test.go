package emath

import (
	"image"
	"math"
	"path/filepath"
	"testing"
)

func rampGrid(w, h int) FloatGrid {
	g := NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, math.Sin(float64(x)*0.7)+0.3*float64(y)+float64((x*7+y*13)%5))
		}
	}
	return g
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	g := NewFloatGrid(9, 5)
	g.Fill(2.5)
	b := g.GaussianBlur()
	for i, v := range b.Values() {
		if math.Abs(v-2.5) > 1e-12 {
			t.Fatalf("value %d = %f, want 2.5", i, v)
		}
	}
}

func TestGaussianBlurSinglePixelWide(t *testing.T) {
	g := NewFloatGrid(1, 4)
	g.Set(0, 1, 4)
	b := g.GaussianBlur()
	if b.Dx() != 1 || b.Dy() != 4 {
		t.Fatalf("size %dx%d", b.Dx(), b.Dy())
	}
	if got := b.Get(0, 1); got != 2 {
		t.Errorf("center = %f, want 2", got)
	}
}

func TestPyramidRoundTrip(t *testing.T) {
	g := rampGrid(64, 32)
	levels := MaxLevels(64, 32, 4)
	if levels != 3 {
		t.Fatalf("MaxLevels = %d, want 3", levels)
	}

	lp := NewLaplacianPyramid(g, levels)
	if len(lp) != levels+1 {
		t.Fatalf("pyramid has %d levels", len(lp))
	}
	if lp[levels].Dx() != 8 || lp[levels].Dy() != 4 {
		t.Errorf("coarsest is %dx%d", lp[levels].Dx(), lp[levels].Dy())
	}

	r := lp.Reconstruct()
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if d := math.Abs(r.Get(x, y) - g.Get(x, y)); d > 1e-9 {
				t.Fatalf("(%d,%d) off by %g", x, y, d)
			}
		}
	}
}

func TestCrop(t *testing.T) {
	g := rampGrid(10, 6)
	c := g.Crop(image.Rect(2, 1, 7, 4))
	if c.Dx() != 5 || c.Dy() != 3 {
		t.Fatalf("size %dx%d", c.Dx(), c.Dy())
	}
	if c.Get(0, 0) != g.Get(2, 1) || c.Get(4, 2) != g.Get(6, 3) {
		t.Errorf("crop values do not line up")
	}
}

func TestFillInvalidKeepsValid(t *testing.T) {
	g := rampGrid(13, 7)
	valid := NewFloatGrid(13, 7)
	for y := 0; y < 7; y++ {
		for x := 0; x < 6; x++ {
			valid.Set(x, y, 1)
		}
	}

	f := g.FillInvalid(valid)
	for y := 0; y < 7; y++ {
		for x := 0; x < 13; x++ {
			v := f.Get(x, y)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("(%d,%d) not finite", x, y)
			}
			if x < 6 && v != g.Get(x, y) {
				t.Fatalf("valid pixel (%d,%d) changed: %f -> %f", x, y, g.Get(x, y), v)
			}
		}
	}
}

func TestFillInvalidConstantExtends(t *testing.T) {
	g := NewFloatGrid(8, 8)
	valid := NewFloatGrid(8, 8)
	g.Set(1, 1, 3)
	valid.Set(1, 1, 1)

	f := g.FillInvalid(valid)
	for i, v := range f.Values() {
		if v != 3 {
			t.Fatalf("value %d = %f, want 3", i, v)
		}
	}
}

func TestDistanceToEdge(t *testing.T) {
	valid := NewFloatGrid(20, 3)
	inside := NewFloatGrid(20, 3)
	inside.Fill(1)
	for y := 0; y < 3; y++ {
		for x := 0; x < 12; x++ {
			valid.Set(x, y, 1)
		}
	}

	d := DistanceToEdge(valid, inside, 8)
	if got := d.Get(11, 1); got != 1 {
		t.Errorf("next to edge: %f, want 1", got)
	}
	if got := d.Get(8, 1); got != 4 {
		t.Errorf("four away: %f, want 4", got)
	}
	if got := d.Get(0, 1); got != 8 {
		t.Errorf("far away: %f, want capped 8", got)
	}
	if got := d.Get(15, 1); got != 0 {
		t.Errorf("invalid pixel: %f, want 0", got)
	}

	// Off-panorama pixels are not edges
	inside.Fill(0)
	d = DistanceToEdge(valid, inside, 8)
	if got := d.Get(11, 1); got != 8 {
		t.Errorf("without inside seeds: %f, want 8", got)
	}
}

func TestToImg(t *testing.T) {
	g := rampGrid(32, 32)
	if err := g.ToImg("ramp", filepath.Join(t.TempDir(), "ramp.png")); err != nil {
		t.Fatalf("ToImg: %v", err)
	}
}

func TestGammaRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 0.001, 0.2, 0.5, 1} {
		if got := GammaLinearize_F64(GammaExpand_F64(f)); math.Abs(got-f) > 1e-9 {
			t.Errorf("%f -> %f", f, got)
		}
	}
}

func TestFillInvalidWithinStaysInBlock(t *testing.T) {
	g := NewFloatGrid(8, 4)
	valid := NewFloatGrid(8, 4)
	g.Set(1, 1, 3)
	valid.Set(1, 1, 1)
	g.Set(6, 2, 5)
	valid.Set(6, 2, 1)

	f := g.FillInvalidWithin(valid, 2)
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			want := 3.0
			if x >= 4 {
				want = 5
			}
			if f.Get(x, y) != want {
				t.Fatalf("(%d,%d) = %f, want %f", x, y, f.Get(x, y), want)
			}
		}
	}

	// A block with nothing valid is left at zero
	valid.Set(6, 2, 0)
	f = g.FillInvalidWithin(valid, 2)
	if f.Get(5, 0) != 0 || f.Get(2, 3) != 3 {
		t.Errorf("empty block filled: %f, %f", f.Get(5, 0), f.Get(2, 3))
	}
}

func TestDilate(t *testing.T) {
	g := NewFloatGrid(20, 9)
	g.Set(10, 4, 1)
	d := Dilate(g, 3)
	for y := 0; y < 9; y++ {
		for x := 0; x < 20; x++ {
			in := x >= 7 && x <= 13 && y >= 1 && y <= 7
			if (d.Get(x, y) > 0) != in {
				t.Fatalf("(%d,%d) = %f", x, y, d.Get(x, y))
			}
		}
	}
}
