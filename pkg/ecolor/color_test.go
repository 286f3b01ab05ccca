package ecolor

import (
	"image/color"
	"math"
	"testing"

	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/pano-composite/pkg/emath"
)

func TestSixteenBitRoundTrip(t *testing.T) {
	for _, in := range []color.RGBA64{
		{0, 0, 0, 0xFFFF},
		{0xFFFF, 0x8000, 0x1234, 0xFFFF},
		{0x0101, 0xFEFE, 0x7777, 0xFFFF},
	} {
		v, a := FromColor(in)
		if a != 1 {
			t.Fatalf("alpha = %f", a)
		}
		if out := ToRGBA64(v, a); out != in {
			t.Errorf("%v -> %v -> %v", in, v, out)
		}
	}
}

func TestFromColorTransparent(t *testing.T) {
	v, a := FromColor(color.RGBA{0, 0, 0, 0})
	if a != 0 || v != (emath.Vec3{}) {
		t.Errorf("transparent gave %v, %f", v, a)
	}
}

func TestFromHDRIsLinear(t *testing.T) {
	v, a := FromColor(hdrcolor.RGB{R: 12.5, G: 0.25, B: 0})
	if v != (emath.Vec3{12.5, 0.25, 0}) || a != 1 {
		t.Errorf("hdr color changed: %v %f", v, a)
	}
}

func TestToRGBAClamps(t *testing.T) {
	c := ToRGBA(emath.Vec3{4, -1, 1}, 1)
	if c != (color.RGBA{255, 0, 255, 255}) {
		t.Errorf("got %v", c)
	}
}

func TestMarkersAndLabels(t *testing.T) {
	if BorderMarker == SeamMarker {
		t.Errorf("markers are the same color")
	}
	if math.Abs(SeamMarker[0]-1) > 1e-9 {
		t.Errorf("seam marker red = %f", SeamMarker[0])
	}
	if LabelColor(-1) != color.Black {
		t.Errorf("no-owner label is not black")
	}
	if LabelColor(0) == LabelColor(1) {
		t.Errorf("labels 0 and 1 share a color")
	}
}

func TestToHDRFloors(t *testing.T) {
	c := ToHDR(emath.Vec3{-1, math.NaN(), 3})
	if c.R != 0 || c.G != 0 || c.B != 3 {
		t.Errorf("got %+v", c)
	}
}
