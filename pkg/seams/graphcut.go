package seams

import (
	"io"
	"math"

	"github.com/charmbracelet/log"

	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
)

const (
	DefaultMaxIterations = 10
	DefaultMaxNodes      = 1 << 16

	hugeCap = 1e12
	tieBias = 1e-6 // nudges equal-cost labelings towards the heuristic
)

// GraphCut finds seams by minimizing the color mismatch along them, using
// alpha-expansion: for each label in turn, a binary cut decides which
// pixels switch to that label.
type GraphCut struct {
	MaxIterations int // full passes over the labels
	MaxNodes      int // the problem is downsampled until it has at most this many cells
	Logger        *log.Logger
}

// problem is the downsampled labeling problem for one region.
type problem struct {
	sw, sh  int
	f       int
	k       int
	allowed [][]bool          // [cell][candidate]
	color   [][]emath.FloatGrid // [candidate][channel], filled under invalid cells
	init    []int             // heuristic labels, candidate indices
	active  []bool
}

func (p *problem) data(cell, a int) float64 {
	if !p.allowed[cell][a] {
		return hugeCap
	}
	if a != p.init[cell] {
		return tieBias
	}
	return 0
}

// smooth is the cost of cells c1 and c2 taking labels a and b: how
// different the two images are on both sides of the seam.
func (p *problem) smooth(c1, c2, a, b int) float64 {
	if a == b || a < 0 || b < 0 {
		return 0
	}
	x1, y1 := c1%p.sw, c1/p.sw
	x2, y2 := c2%p.sw, c2/p.sw
	cost := 0.0
	for ch := range p.color[a] {
		cost += math.Abs(p.color[a][ch].Get(x1, y1) - p.color[b][ch].Get(x1, y1))
		cost += math.Abs(p.color[a][ch].Get(x2, y2) - p.color[b][ch].Get(x2, y2))
	}
	return cost
}

// neighbours calls fn for every right and down neighbour pair of active cells.
func (p *problem) neighbours(fn func(c1, c2 int)) {
	for y := 0; y < p.sh; y++ {
		for x := 0; x < p.sw; x++ {
			c := y*p.sw + x
			if !p.active[c] {
				continue
			}
			if x+1 < p.sw && p.active[c+1] {
				fn(c, c+1)
			}
			if y+1 < p.sh && p.active[c+p.sw] {
				fn(c, c+p.sw)
			}
		}
	}
}

func (p *problem) energy(lab []int) float64 {
	e := 0.0
	for c, a := range lab {
		if p.active[c] {
			e += p.data(c, a)
		}
	}
	p.neighbours(func(c1, c2 int) { e += p.smooth(c1, c2, lab[c1], lab[c2]) })
	return e
}

func (gc GraphCut) logger() *log.Logger {
	if gc.Logger == nil {
		return log.New(io.Discard)
	}
	return gc.Logger
}

// Solve labels the region. Pixels no candidate covers get None, and no
// pixel is ever given to a candidate that is invalid there. If the
// iteration cap is hit, the best labeling found is returned along with a
// ConvergenceWarning.
func (gc GraphCut) Solve(r Region) (Labels, error) {
	if gc.MaxIterations <= 0 {
		gc.MaxIterations = DefaultMaxIterations
	}
	if gc.MaxNodes <= 0 {
		gc.MaxNodes = DefaultMaxNodes
	}
	lg := gc.logger()

	heur := Heuristic(r)
	if len(r.Candidates) < 2 {
		return applyFixed(r, heur), nil
	}

	p := gc.build(r, heur)
	lab := make([]int, len(p.init))
	copy(lab, p.init)

	// State machine: propose each label in turn, keep strict improvements,
	// stop after a pass with no change or at the cap.
	best := p.energy(lab)
	converged := false
	cycles := 0
	for cycles < gc.MaxIterations && !converged {
		cycles++
		changed := false
		for alpha := 0; alpha < p.k; alpha++ {
			proposal := p.expand(lab, alpha)
			if e := p.energy(proposal); e < best-flowEps {
				lab, best = proposal, e
				changed = true
			}
		}
		converged = !changed
	}
	lg.Debug("graph cut", "region", r.Rect, "cells", p.sw*p.sh, "factor", p.f, "cycles", cycles, "energy", best)

	out := gc.upsample(r, p, lab, heur)
	out = applyFixed(r, out)

	if !converged {
		return out, perr.New(perr.ConvergenceWarning, "graph cut for region %v stopped after %d passes", r.Rect, cycles)
	}
	return out, nil
}

// build downsamples the region into cells of f x f pixels.
func (gc GraphCut) build(r Region, heur Labels) *problem {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	f := 1
	for ((w+f-1)/f)*((h+f-1)/f) > gc.MaxNodes {
		f *= 2
	}
	sw, sh := (w+f-1)/f, (h+f-1)/f
	k := len(r.Candidates)

	p := &problem{
		sw: sw, sh: sh, f: f, k: k,
		allowed: make([][]bool, sw*sh),
		color:   make([][]emath.FloatGrid, k),
		init:    make([]int, sw*sh),
		active:  make([]bool, sw*sh),
	}

	index := map[int]int{}
	for i, c := range r.Candidates {
		index[c.Label] = i
	}

	for i := range r.Candidates {
		cand := &r.Candidates[i]
		validAny := emath.NewFloatGrid(sw, sh)
		sums := make([]emath.FloatGrid, len(cand.Color))
		for ch := range sums {
			sums[ch] = emath.NewFloatGrid(sw, sh)
		}
		counts := emath.NewFloatGrid(sw, sh)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !cand.validAt(x, y) {
					continue
				}
				cx, cy := x/f, y/f
				counts.Set(cx, cy, counts.Get(cx, cy)+1)
				for ch := range sums {
					sums[ch].Set(cx, cy, sums[ch].Get(cx, cy)+cand.Color[ch].Get(x, y))
				}
			}
		}

		p.color[i] = make([]emath.FloatGrid, len(sums))
		for ch := range sums {
			mean := emath.NewFloatGrid(sw, sh)
			for j, n := range counts.Values() {
				if n > 0 {
					mean.Values()[j] = sums[ch].Values()[j] / n
					validAny.Values()[j] = 1
				}
			}
			p.color[i][ch] = mean.FillInvalid(validAny)
		}

		for cy := 0; cy < sh; cy++ {
			for cx := 0; cx < sw; cx++ {
				c := cy*sw + cx
				if p.allowed[c] == nil {
					p.allowed[c] = make([]bool, k)
				}
				full := blockArea(cx, cy, f, w, h)
				p.allowed[c][i] = counts.Get(cx, cy) == float64(full)
			}
		}

		// Cells no candidate fully covers fall back to partial cover
		if i == k-1 {
			for cy := 0; cy < sh; cy++ {
				for cx := 0; cx < sw; cx++ {
					c := cy*sw + cx
					if anyTrue(p.allowed[c]) {
						continue
					}
					for j := range r.Candidates {
						p.allowed[c][j] = cellTouches(&r.Candidates[j], cx, cy, f, w, h)
					}
				}
			}
		}
	}

	for cy := 0; cy < sh; cy++ {
		for cx := 0; cx < sw; cx++ {
			c := cy*sw + cx
			p.active[c] = anyTrue(p.allowed[c])
			p.init[c] = None
			if !p.active[c] {
				continue
			}

			// Settled labels from a neighbour pin the whole cell
			if r.Fixed != nil {
				if l, ok := uniformFixed(r.Fixed, cx, cy, f, w, h); ok {
					if j, known := index[l]; known && p.allowed[c][j] {
						for a := range p.allowed[c] {
							p.allowed[c][a] = a == j
						}
					}
				}
			}

			// Start from the heuristic owner of the cell centre
			mx, my := min(cx*f+f/2, w-1), min(cy*f+f/2, h-1)
			if j, ok := index[heur.At(mx, my)]; ok && p.allowed[c][j] {
				p.init[c] = j
			} else {
				p.init[c] = firstTrue(p.allowed[c])
			}
		}
	}

	return p
}

// expand solves the binary problem "keep the current label, or switch to
// alpha" for every active cell, and returns the resulting labeling.
func (p *problem) expand(lab []int, alpha int) []int {
	n := len(lab)
	s, t := n, n+1
	g := NewMaxFlow(n + 2)

	// Source side means keep, sink side means switch to alpha. An s->v
	// edge is cut when v switches; a v->t edge is cut when v keeps.
	addUnary := func(v int, keep, swap float64) {
		if keep < swap {
			g.AddEdge(s, v, swap-keep, 0)
		} else if swap < keep {
			g.AddEdge(v, t, keep-swap, 0)
		}
	}

	for c := 0; c < n; c++ {
		if !p.active[c] {
			continue
		}
		keep := p.data(c, lab[c])
		swap := p.data(c, alpha)
		if lab[c] == alpha {
			swap = keep
		}
		addUnary(c, keep, swap)
	}

	p.neighbours(func(c1, c2 int) {
		A := p.smooth(c1, c2, lab[c1], lab[c2])
		B := p.smooth(c1, c2, lab[c1], alpha)
		C := p.smooth(c1, c2, alpha, lab[c2])
		// D, both switching, is always zero
		if A > B+C {
			A = B + C
		}
		// E = A + (C-A)x1 + (0-C)x2 + (B+C-A)(1-x1)x2
		addUnary(c1, 0, C-A)
		addUnary(c2, 0, -C)
		if pair := B + C - A; pair > 0 {
			g.AddEdge(c1, c2, pair, 0)
		}
	})

	g.Solve(s, t)
	keep := g.SourceSide(s)

	out := make([]int, n)
	copy(out, lab)
	for c := 0; c < n; c++ {
		if p.active[c] && !keep[c] && p.allowed[c][alpha] {
			out[c] = alpha
		}
	}
	return out
}

// upsample maps cell labels back onto pixels, falling back to the
// heuristic wherever the cell's label isn't valid at that pixel.
func (gc GraphCut) upsample(r Region, p *problem, lab []int, heur Labels) Labels {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	out := NewLabels(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := heur.At(x, y)
			if j := lab[(y/p.f)*p.sw+x/p.f]; j >= 0 && r.Candidates[j].validAt(x, y) {
				l = r.Candidates[j].Label
			}
			out.Set(x, y, l)
		}
	}
	return out
}

// applyFixed copies settled labels over, where they are valid.
func applyFixed(r Region, l Labels) Labels {
	if r.Fixed == nil {
		return l
	}
	valid := map[int]*Candidate{}
	for i := range r.Candidates {
		valid[r.Candidates[i].Label] = &r.Candidates[i]
	}
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			fl := int(math.Round(r.Fixed.Get(x, y)))
			if c, ok := valid[fl]; ok && c.validAt(x, y) {
				l.Set(x, y, fl)
			}
		}
	}
	return l
}

func blockArea(cx, cy, f, w, h int) int {
	return (min((cx+1)*f, w) - cx*f) * (min((cy+1)*f, h) - cy*f)
}

func cellTouches(c *Candidate, cx, cy, f, w, h int) bool {
	for y := cy * f; y < min((cy+1)*f, h); y++ {
		for x := cx * f; x < min((cx+1)*f, w); x++ {
			if c.validAt(x, y) {
				return true
			}
		}
	}
	return false
}

func uniformFixed(g *emath.FloatGrid, cx, cy, f, w, h int) (int, bool) {
	l := None
	for y := cy * f; y < min((cy+1)*f, h); y++ {
		for x := cx * f; x < min((cx+1)*f, w); x++ {
			v := int(math.Round(g.Get(x, y)))
			if v < 0 || (l != None && v != l) {
				return None, false
			}
			l = v
		}
	}
	return l, l != None
}

func anyTrue(b []bool) bool { return firstTrue(b) >= 0 }

func firstTrue(b []bool) int {
	for i, v := range b {
		if v {
			return i
		}
	}
	return None
}
