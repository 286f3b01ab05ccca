package emath

// A Pyramid is an ordered list of grids, finest first, each level half
// the size of the one before it. For a Laplacian pyramid every level but
// the last holds a band (detail) grid, and the last holds the coarsest
// Gaussian level.
type Pyramid []FloatGrid

// MaxLevels is how many times a w x h grid can be halved while both sides
// stay even and at least minSide.
func MaxLevels(w, h, minSide int) int {
	n := 0
	for w%2 == 0 && h%2 == 0 && w/2 >= minSide && h/2 >= minSide {
		w, h = w/2, h/2
		n++
	}
	return n
}

// NewGaussianPyramid returns levels+1 grids: g itself and then each
// successive Reduce.
func NewGaussianPyramid(g FloatGrid, levels int) Pyramid {
	p := make(Pyramid, levels+1)
	p[0] = g
	for k := 1; k <= levels; k++ {
		p[k] = p[k-1].Reduce()
	}
	return p
}

// NewLaplacianPyramid decomposes g into levels band grids plus a residual.
// Band k is G_k - Expand(G_k+1), so Reconstruct is exact by construction.
func NewLaplacianPyramid(g FloatGrid, levels int) Pyramid {
	gp := NewGaussianPyramid(g, levels)
	return gp.ToLaplacian()
}

// ToLaplacian turns a Gaussian pyramid into a Laplacian one.
func (gp Pyramid) ToLaplacian() Pyramid {
	lp := make(Pyramid, len(gp))
	last := len(gp) - 1
	lp[last] = *gp[last].Copy()
	for k := 0; k < last; k++ {
		band := *gp[k].Copy()
		up := gp[k+1].Expand(gp[k].Dx(), gp[k].Dy())
		band.Sub(up)
		lp[k] = band
	}
	return lp
}

// Reconstruct collapses a Laplacian pyramid back into a single grid.
func (lp Pyramid) Reconstruct() FloatGrid {
	last := len(lp) - 1
	acc := *lp[last].Copy()
	for k := last - 1; k >= 0; k-- {
		up := acc.Expand(lp[k].Dx(), lp[k].Dy())
		up.Add(lp[k])
		acc = up
	}
	return acc
}
