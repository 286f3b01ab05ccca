package emath

import (
	"math"

	"golang.org/x/image/math/f64"
)

// Some functions that only operate on basic types, that are useful

// Vec3 is an RGB triple in linear light.
type Vec3 f64.Vec3

func (v Vec3) FloorAt(min float64) Vec3 {
	for i := range v {
		if v[i] < min {
			v[i] = min
		}
	}
	return v
}

func (v Vec3) CeilingAt(max float64) Vec3 {
	for i := range v {
		if v[i] > max {
			v[i] = max
		}
	}
	return v
}

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// Each channel in `v` is assumed to be in the range [0,1]
func GammaExpand_sRGB(v Vec3) Vec3 {
	return Vec3{
		GammaExpand_F64(v[0]),
		GammaExpand_F64(v[1]),
		GammaExpand_F64(v[2]),
	}
}

func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055*math.Pow(f, 1.0/2.4) - 0.055
}

// GammaLinearize_F64 is the inverse of GammaExpand_F64: sRGB to linear.
func GammaLinearize_F64(f float64) float64 {
	if f <= 0.04045 {
		return f / 12.92
	}
	return math.Pow((f+0.055)/1.055, 2.4)
}

func GammaLinearize_sRGB(v Vec3) Vec3 {
	return Vec3{
		GammaLinearize_F64(v[0]),
		GammaLinearize_F64(v[1]),
		GammaLinearize_F64(v[2]),
	}
}
