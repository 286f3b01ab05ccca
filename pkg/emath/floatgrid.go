package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/floats"
)

// A FloatGrid is a grid of floats, with some operations. One channel
// of a raster, or a weight map, or a mask (1.0 valid, 0.0 invalid).
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 *FloatGrid) NewFromThis() FloatGrid { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Values() []float64       { return fg.values }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

func (fg *FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// Crop copies out the sub-rectangle r, given in grid coordinates.
func (fg *FloatGrid) Crop(r image.Rectangle) FloatGrid {
	out := NewFloatGrid(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		copy(out.values[y*out.stride:(y+1)*out.stride], fg.values[(r.Min.Y+y)*fg.stride+r.Min.X:])
	}
	return out
}

// GaussianBlur applies a separable 1-2-1 kernel. At the edges the
// missing neighbour is replaced by the edge value, so constant grids
// stay constant.
func (g1 FloatGrid) GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		if width == 1 {
			T.Set(0, y, g1.Get(0, y))
			continue
		}
		for x := 1; x < width-1; x++ {
			t := 2.0 * g1.Get(x, y)
			t += g1.Get(x-1, y)
			t += g1.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*g1.Get(0, y)+g1.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1, y)+g1.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		if height == 1 {
			g2.Set(x, 0, T.Get(x, 0))
			continue
		}
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// DownSample returns a grid that is 1/4 of the size, averaging the values from the
// original. Odd trailing rows and columns are dropped.
func (g1 *FloatGrid) DownSample() FloatGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewFloatGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := g1.Get(2*x, 2*y)
			p += g1.Get(2*x+1, 2*y)
			p += g1.Get(2*x, 2*y+1)
			p += g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4.0)
		}
	}

	return g2
}

// UpSampleInto populates a grid `B`, which is assumed be 2x as big,
// by simply copying each value from `A` four times into a 2x2 block
// of values in `B`
func (A *FloatGrid) UpSampleInto(B *FloatGrid) {
	awidth := A.Dx()
	aheight := A.Dy()
	width := B.Dx()
	height := B.Dy()

	for y := 0; y < height; y++ {
		ay := y / 2
		if ay >= aheight {
			ay = aheight - 1
		}
		for x := 0; x < width; x++ {
			ax := x / 2
			if ax >= awidth {
				ax = awidth - 1
			}
			B.Set(x, y, A.Get(ax, ay))
		}
	}
}

// Reduce is one step down a Gaussian pyramid.
func (g1 FloatGrid) Reduce() FloatGrid {
	blurred := g1.GaussianBlur()
	return blurred.DownSample()
}

// Expand is the inverse direction of Reduce: upsample to w x h, then
// smooth out the blockiness.
func (g1 *FloatGrid) Expand(w, h int) FloatGrid {
	big := NewFloatGrid(w, h)
	g1.UpSampleInto(&big)
	return big.GaussianBlur()
}

// Add adds g2 into g1, in place.
func (g1 *FloatGrid) Add(g2 FloatGrid) { floats.Add(g1.values, g2.values) }

// Sub subtracts g2 from g1, in place.
func (g1 *FloatGrid) Sub(g2 FloatGrid) { floats.Sub(g1.values, g2.values) }

// AddProduct accumulates a*b into g1, in place.
func (g1 *FloatGrid) AddProduct(a, b FloatGrid) {
	tmp := make([]float64, len(g1.values))
	floats.MulTo(tmp, a.values, b.values)
	floats.Add(g1.values, tmp)
}

// Mul multiplies g1 by g2 elementwise, in place.
func (g1 *FloatGrid) Mul(g2 FloatGrid) { floats.Mul(g1.values, g2.values) }

func (fg *FloatGrid) Sum() float64 { return floats.Sum(fg.values) }

func (fg *FloatGrid) Stats() string {
	if len(fg.values) == 0 {
		return fmt.Sprintf("fg[%dx%d, empty]", fg.Dx(), fg.Dy())
	}
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), floats.Min(fg.values), floats.Max(fg.values))
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, v := range fg.values {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	if max <= min {
		max = min + 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			gray := GammaExpand_F64((fg.Get(x, y) - min) / (max - min))
			v := uint16(gray * 65535.0)
			img.Set(x, y, color.RGBA64{v, v, v, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 1)
	dc.DrawString(title, 5, 15)
	return dc.SavePNG(filename)
}
