package emath

import "math"

// FillInvalid returns a copy of g where every pixel that is invalid
// (valid <= 0) has been filled in with a smooth extrapolation of the
// valid pixels around it, using push-pull. Valid pixels are unchanged.
// If nothing is valid the result is all zeros.
//
// Pyramids built over the filled grid don't drag the zeros under the
// mask into the bands of the valid pixels nearby.
func (g *FloatGrid) FillInvalid(valid FloatGrid) FloatGrid {
	return g.pushPull(valid, -1)
}

// FillInvalidWithin is FillInvalid with the push stopped after depth
// halvings. An invalid pixel only takes values from the aligned
// 2^depth x 2^depth block that contains it, and stays zero if that block
// has no valid pixel, so the result at a pixel does not depend on
// anything outside its block.
func (g *FloatGrid) FillInvalidWithin(valid FloatGrid, depth int) FloatGrid {
	return g.pushPull(valid, max(depth, 0))
}

// pushPull fills invalid pixels; depth < 0 pushes all the way to 1x1.
func (g *FloatGrid) pushPull(valid FloatGrid, depth int) FloatGrid {
	type level struct{ c, w FloatGrid }

	w, h := g.Dx(), g.Dy()
	base := level{c: NewFloatGrid(w, h), w: NewFloatGrid(w, h)}
	for i, v := range valid.values {
		if v > 0 {
			base.c.values[i] = g.values[i]
			base.w.values[i] = 1
		}
	}

	// Push: sum 2x2 blocks down
	levels := []level{base}
	for (w > 1 || h > 1) && (depth < 0 || len(levels) <= depth) {
		nw, nh := (w+1)/2, (h+1)/2
		prev := levels[len(levels)-1]
		next := level{c: NewFloatGrid(nw, nh), w: NewFloatGrid(nw, nh)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (y/2)*nw + x/2
				next.c.values[i] += prev.c.Get(x, y)
				next.w.values[i] += prev.w.Get(x, y)
			}
		}
		levels = append(levels, next)
		w, h = nw, nh
	}

	// Pull: resolve the coarsest level, then take values from the coarser
	// level wherever a pixel has no weight of its own
	top := levels[len(levels)-1]
	filled := NewFloatGrid(top.c.Dx(), top.c.Dy())
	for i := range filled.values {
		if top.w.values[i] > 0 {
			filled.values[i] = top.c.values[i] / top.w.values[i]
		}
	}
	for k := len(levels) - 2; k >= 0; k-- {
		l := levels[k]
		out := NewFloatGrid(l.c.Dx(), l.c.Dy())
		for y := 0; y < out.Dy(); y++ {
			for x := 0; x < out.Dx(); x++ {
				i := y*out.stride + x
				if l.w.values[i] > 0 {
					out.values[i] = l.c.values[i] / l.w.values[i]
				} else {
					out.values[i] = filled.Get(x/2, y/2)
				}
			}
		}
		filled = out
	}

	return filled
}

// Dilate returns a grid that is 1 wherever some pixel of g within the
// (2r+1) x (2r+1) square around it is > 0, and 0 elsewhere.
func Dilate(g FloatGrid, r int) FloatGrid {
	w, h := g.Dx(), g.Dy()

	// Sliding window counts, rows then columns
	rows := NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		n := 0
		for x := 0; x < min(r, w); x++ {
			if g.Get(x, y) > 0 {
				n++
			}
		}
		for x := 0; x < w; x++ {
			if x+r < w && g.Get(x+r, y) > 0 {
				n++
			}
			if x-r-1 >= 0 && g.Get(x-r-1, y) > 0 {
				n--
			}
			if n > 0 {
				rows.Set(x, y, 1)
			}
		}
	}

	out := NewFloatGrid(w, h)
	for x := 0; x < w; x++ {
		n := 0
		for y := 0; y < min(r, h); y++ {
			if rows.Get(x, y) > 0 {
				n++
			}
		}
		for y := 0; y < h; y++ {
			if y+r < h && rows.Get(x, y+r) > 0 {
				n++
			}
			if y-r-1 >= 0 && rows.Get(x, y-r-1) > 0 {
				n--
			}
			if n > 0 {
				out.Set(x, y, 1)
			}
		}
	}
	return out
}

// DistanceToEdge returns, for every valid pixel, the approximate distance
// to the nearest pixel that is inside but invalid, capped at limit.
// Invalid pixels get zero. Pixels where inside is zero (off the edge of
// the panorama) are neither seeds nor barriers.
func DistanceToEdge(valid, inside FloatGrid, limit float64) FloatGrid {
	w, h := valid.Dx(), valid.Dy()
	d := NewFloatGrid(w, h)
	for i := range d.values {
		switch {
		case valid.values[i] <= 0 && inside.values[i] > 0:
			d.values[i] = 0
		default:
			d.values[i] = math.Inf(1)
		}
	}

	relax := func(x, y, nx, ny int, cost float64) {
		if nx < 0 || ny < 0 || nx >= w || ny >= h {
			return
		}
		if v := d.Get(nx, ny) + cost; v < d.Get(x, y) {
			d.Set(x, y, v)
		}
	}

	// Two-pass chamfer with 1 and sqrt(2) steps
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			relax(x, y, x-1, y, 1)
			relax(x, y, x, y-1, 1)
			relax(x, y, x-1, y-1, math.Sqrt2)
			relax(x, y, x+1, y-1, math.Sqrt2)
		}
	}
	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			relax(x, y, x+1, y, 1)
			relax(x, y, x, y+1, 1)
			relax(x, y, x+1, y+1, math.Sqrt2)
			relax(x, y, x-1, y+1, math.Sqrt2)
		}
	}

	for i, v := range d.values {
		if valid.values[i] <= 0 {
			d.values[i] = 0
		} else if v > limit {
			d.values[i] = limit
		}
	}
	return d
}
