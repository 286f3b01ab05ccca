package ecolor

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/pano-composite/pkg/emath"
)

// All pixel values inside the engine are linear light floats. These
// helpers convert to and from the display-referred forms used by the
// 8 and 16 bit file codecs.

var (
	// Marker colors for the diagnostic overlay, in linear light
	BorderMarker = hexLinear("#00ff40")
	SeamMarker   = hexLinear("#ff2020")
)

func hexLinear(s string) emath.Vec3 {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	r, g, b := c.LinearRgb()
	return emath.Vec3{r, g, b}
}

// LabelColor returns a distinct color for a seam label; -1 (no owner)
// is black. Used in debug dumps of label rasters.
func LabelColor(label int) color.Color {
	if label < 0 {
		return color.Black
	}
	// Golden angle steps keep adjacent labels far apart in hue
	h := math.Mod(float64(label)*137.508, 360)
	return colorful.Hsv(h, 0.75, 0.9).Clamped()
}

// FromColor converts a display-referred color (8 or 16 bit, sRGB) into
// linear light, plus alpha in [0,1]. HDR colors are taken as already
// linear.
func FromColor(c color.Color) (emath.Vec3, float64) {
	if hc, ok := c.(hdrcolor.Color); ok {
		// HDRRGBA reports alpha on the 16 bit scale
		r, g, b, a := hc.HDRRGBA()
		return emath.Vec3{r, g, b}, clamp01(a / 0xFFFF)
	}

	r, g, b, a := c.RGBA()
	if a == 0 {
		return emath.Vec3{}, 0
	}
	// Undo premultiplication before linearizing
	alpha := float64(a) / 0xFFFF
	v := emath.Vec3{
		float64(r) / float64(a),
		float64(g) / float64(a),
		float64(b) / float64(a),
	}
	return emath.GammaLinearize_sRGB(v), alpha
}

// ToRGBA64 converts linear light into a 16 bit sRGB color. Values are
// clamped to [0,1] first; alpha is not premultiplied into a zero pixel.
func ToRGBA64(v emath.Vec3, alpha float64) color.RGBA64 {
	s := emath.GammaExpand_sRGB(v.FloorAt(0).CeilingAt(1))
	a := clamp01(alpha)
	return color.RGBA64{
		R: uint16(math.Round(s[0] * a * 0xFFFF)),
		G: uint16(math.Round(s[1] * a * 0xFFFF)),
		B: uint16(math.Round(s[2] * a * 0xFFFF)),
		A: uint16(math.Round(a * 0xFFFF)),
	}
}

// ToRGBA is the 8 bit version of ToRGBA64, for codecs with no alpha; the
// color is composited over black.
func ToRGBA(v emath.Vec3, alpha float64) color.RGBA {
	s := emath.GammaExpand_sRGB(v.FloorAt(0).CeilingAt(1))
	a := clamp01(alpha)
	return color.RGBA{
		R: uint8(math.Round(s[0] * a * 0xFF)),
		G: uint8(math.Round(s[1] * a * 0xFF)),
		B: uint8(math.Round(s[2] * a * 0xFF)),
		A: 0xFF,
	}
}

// ToHDR wraps a linear value for the Radiance codec.
func ToHDR(v emath.Vec3) hdrcolor.RGB {
	return HDRRGBFloorAt(hdrcolor.RGB{R: v[0], G: v[1], B: v[2]}, 0.0)
}

func HDRRGBFloorAt(c1 hdrcolor.RGB, min float64) hdrcolor.RGB {
	c2 := c1
	if c2.R < min || math.IsNaN(c2.R) {
		c2.R = min
	}
	if c2.G < min || math.IsNaN(c2.G) {
		c2.G = min
	}
	if c2.B < min || math.IsNaN(c2.B) {
		c2.B = min
	}
	return c2
}

func clamp01(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
