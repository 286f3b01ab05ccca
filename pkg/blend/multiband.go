package blend

import (
	"math"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abworrall/pano-composite/pkg/emath"
)

// accFillDepth is how far the accumulated bands are filled past the
// cells some input reaches, in halvings of each level.
const accFillDepth = 1

// Alignment is the grid that padded regions must sit on, and be sized in
// multiples of, for a multiband result to be the same whichever way the
// panorama is cut into regions.
func Alignment(levels int) int { return 1 << (levels + accFillDepth) }

// Reach bounds how far from a pixel, in pixels, the inputs can affect its
// multiband result. It covers the colour fill, the Laplacian
// decomposition and reconstruction, the band fill and the feathering.
func Reach(levels, featherPasses int) int { return 7<<levels + featherPasses }

// Multiband blends each frequency band separately: coarse bands are
// averaged across every input near a seam, fine bands come from the owner
// alone. Pixels with only one input within Reach are copied from it.
type Multiband struct {
	FeatherPasses int // blurs applied to each owner mask before its pyramid is built
	Logger        *log.Logger
}

// accumulator holds the running weighted sums for every level.
type accumulator struct {
	mu     sync.Mutex
	bands  [][]emath.FloatGrid // [level][channel] sum of w*L
	weight []emath.FloatGrid   // [level] sum of w
}

func newAccumulator(w, h, levels, channels int) *accumulator {
	a := &accumulator{
		bands:  make([][]emath.FloatGrid, levels+1),
		weight: make([]emath.FloatGrid, levels+1),
	}
	for k := 0; k <= levels; k++ {
		a.weight[k] = emath.NewFloatGrid(w, h)
		for c := 0; c < channels; c++ {
			a.bands[k] = append(a.bands[k], emath.NewFloatGrid(w, h))
		}
		w, h = w/2, h/2
	}
	return a
}

func (a *accumulator) add(color []emath.Pyramid, weight emath.Pyramid) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.weight {
		a.weight[k].Add(weight[k])
		for c := range a.bands[k] {
			a.bands[k][c].AddProduct(color[c][k], weight[k])
		}
	}
}

// normalize divides each level by its weight sum, and fills the cells no
// input reaches so that reconstruction doesn't pull zeros in at the edges
// of the covered area.
func (a *accumulator) normalize() {
	for k := range a.weight {
		ws := a.weight[k].Values()
		covered := a.weight[k].NewFromThis()
		for i, w := range ws {
			if w > 0 {
				covered.Values()[i] = 1
			}
		}
		for c := range a.bands[k] {
			vals := a.bands[k][c].Values()
			for i, w := range ws {
				if w > 0 {
					vals[i] /= w
				}
			}
			a.bands[k][c] = a.bands[k][c].FillInvalidWithin(covered, accFillDepth)
		}
	}
}

func (m Multiband) Composite(r Region) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	res := newResult(r.Core, r.channels())
	off := r.coreOffset()

	present := []int{}
	for i := range r.Layers {
		if r.Layers[i].Valid.Sum() > 0 {
			present = append(present, i)
		}
	}

	w, h := r.Rect.Dx(), r.Rect.Dy()
	levels := min(r.Levels, emath.MaxLevels(w, h, 1))
	reach := Reach(levels, m.FeatherPasses)

	// sole[y*w+x] is the only input within reach of the pixel, or -1
	sole := make([]int, w*h)
	for i := range sole {
		sole[i] = -1
	}
	if len(present) > 1 {
		seen := make([]int, w*h)
		for _, i := range present {
			near := emath.Dilate(r.Layers[i].Valid, reach)
			for j, v := range near.Values() {
				if v > 0 {
					seen[j]++
					sole[j] = i
				}
			}
		}
		for j, n := range seen {
			if n != 1 {
				sole[j] = -1
			}
		}
	} else if len(present) == 1 {
		for j := range sole {
			sole[j] = present[0]
		}
	}

	blended := false
	for y := 0; y < r.Core.Dy(); y++ {
		for x := 0; x < r.Core.Dx(); x++ {
			px, py := x+off.X, y+off.Y
			if !anyValid(r.Layers, px, py) {
				continue
			}
			if i := sole[py*w+px]; i >= 0 {
				res.copyPixel(&r.Layers[i], x, y, px, py)
			} else {
				blended = true
			}
		}
	}
	if !blended {
		return res, nil
	}

	acc := newAccumulator(w, h, levels, r.channels())

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, i := range present {
		l := &r.Layers[i]
		g.Go(func() error {
			weight := m.ownerWeight(r, l)
			wp := emath.NewGaussianPyramid(weight, levels)

			color := make([]emath.Pyramid, len(l.Color))
			for c := range l.Color {
				filled := l.Color[c].FillInvalidWithin(l.Valid, levels+accFillDepth)
				color[c] = emath.NewLaplacianPyramid(filled, levels)
			}
			acc.add(color, wp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	acc.normalize()

	if m.Logger != nil {
		m.Logger.Debug("multiband", "region", r.Rect, "layers", len(present), "levels", levels)
	}

	for c := range res.Color {
		lp := make(emath.Pyramid, levels+1)
		for k := range lp {
			lp[k] = acc.bands[k][c]
		}
		full := lp.Reconstruct()

		for y := 0; y < r.Core.Dy(); y++ {
			for x := 0; x < r.Core.Dx(); x++ {
				px, py := x+off.X, y+off.Y
				if !anyValid(r.Layers, px, py) || sole[py*w+px] >= 0 {
					continue
				}
				v := full.Get(px, py)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = fallback(&r, px, py, c)
				}
				res.Color[c].Set(x, y, v)
				res.Coverage.Set(x, y, 1)
			}
		}
	}
	return res, nil
}

// ownerWeight is 1 where l owns the pixel, softened across the seam by a
// few blurs, and cut back to zero wherever l is invalid.
func (m Multiband) ownerWeight(r Region, l *Layer) emath.FloatGrid {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	weight := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if r.Labels.At(x, y) == l.Label {
				weight.Set(x, y, 1)
			}
		}
	}
	for i := 0; i < m.FeatherPasses; i++ {
		weight = weight.GaussianBlur()
	}
	weight.Mul(l.Valid)
	return weight
}

func anyValid(layers []Layer, x, y int) bool {
	for i := range layers {
		if layers[i].validAt(x, y) {
			return true
		}
	}
	return false
}

// fallback is the owner's raw value, or failing that the first valid input.
func fallback(r *Region, x, y, c int) float64 {
	if l := r.layerByLabel(r.Labels.At(x, y)); l != nil && l.validAt(x, y) {
		return l.Color[c].Get(x, y)
	}
	for i := range r.Layers {
		if r.Layers[i].validAt(x, y) {
			return r.Layers[i].Color[c].Get(x, y)
		}
	}
	return Empty
}
