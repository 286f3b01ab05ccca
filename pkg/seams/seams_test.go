package seams

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
)

// strip makes a candidate valid over columns [x0,x1) of a w x h region,
// with the given color function.
func strip(label, w, h, x0, x1 int, col func(x, y, c int) float64) Candidate {
	c := Candidate{
		Label:  label,
		Valid:  emath.NewFloatGrid(w, h),
		Center: [2]float64{float64(x0+x1) / 2, float64(h) / 2},
	}
	for ch := 0; ch < 3; ch++ {
		g := emath.NewFloatGrid(w, h)
		for y := 0; y < h; y++ {
			for x := x0; x < x1; x++ {
				g.Set(x, y, col(x, y, ch))
			}
		}
		c.Color = append(c.Color, g)
	}
	for y := 0; y < h; y++ {
		for x := x0; x < x1; x++ {
			c.Valid.Set(x, y, 1)
		}
	}
	return c
}

func redBlue(w, h int) Region {
	red := func(x, y, c int) float64 {
		if c == 0 {
			return 1
		}
		return 0
	}
	blue := func(x, y, c int) float64 {
		if c == 2 {
			return 1
		}
		return 0
	}
	return Region{
		Rect: image.Rect(0, 0, w, h),
		Candidates: []Candidate{
			strip(0, w, h, 0, 60, red),
			strip(1, w, h, 40, w, blue),
		},
	}
}

func TestHeuristicMidline(t *testing.T) {
	r := redBlue(100, 10)
	l := Heuristic(r)
	for y := 0; y < 10; y++ {
		for x := 0; x < 100; x++ {
			want := 0
			if x >= 50 {
				want = 1
			}
			if got := l.At(x, y); got != want {
				t.Fatalf("(%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestHeuristicTieGoesToLowestLabel(t *testing.T) {
	one := func(x, y, c int) float64 { return 1 }
	r := Region{
		Rect: image.Rect(0, 0, 4, 4),
		Candidates: []Candidate{
			strip(3, 4, 4, 0, 4, one),
			strip(1, 4, 4, 0, 4, one),
		},
	}
	l := Heuristic(r)
	for _, v := range l.L {
		if v != 1 {
			t.Fatalf("got label %d, want 1", v)
		}
	}
}

func TestNoCandidateIsNone(t *testing.T) {
	r := redBlue(100, 4)
	r.Candidates[1] = strip(1, 100, 4, 70, 100, func(x, y, c int) float64 { return 0 })
	for _, l := range []Labels{Heuristic(r), mustSolve(t, GraphCut{}, r)} {
		if l.At(65, 2) != None {
			t.Errorf("gap pixel labelled %d", l.At(65, 2))
		}
	}
}

func mustSolve(t *testing.T, gc GraphCut, r Region) Labels {
	t.Helper()
	l, err := gc.Solve(r)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return l
}

func checkValid(t *testing.T, r Region, l Labels) {
	t.Helper()
	byLabel := map[int]*Candidate{}
	for i := range r.Candidates {
		byLabel[r.Candidates[i].Label] = &r.Candidates[i]
	}
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			v := l.At(x, y)
			if v == None {
				for _, c := range r.Candidates {
					if c.validAt(x, y) {
						t.Fatalf("(%d,%d) is None but %d is valid", x, y, c.Label)
					}
				}
				continue
			}
			if c := byLabel[v]; c == nil || !c.validAt(x, y) {
				t.Fatalf("(%d,%d) given to %d, which is invalid there", x, y, v)
			}
		}
	}
}

func TestGraphCutNeverPicksInvalid(t *testing.T) {
	r := redBlue(100, 24)
	// A ragged edge on the blue image
	for y := 0; y < 24; y++ {
		for x := 40; x < 40+y; x++ {
			r.Candidates[1].Valid.Set(x, y, 0)
		}
	}
	for _, maxNodes := range []int{0, 300, 40} {
		l := mustSolve(t, GraphCut{MaxNodes: maxNodes}, r)
		checkValid(t, r, l)
	}
}

func TestGraphCutFindsAgreeingColumns(t *testing.T) {
	w, h := 40, 12
	base := func(x, y, c int) float64 { return float64(x) / 40 }
	other := func(x, y, c int) float64 {
		if x >= 22 && x <= 25 {
			return base(x, y, c)
		}
		return base(x, y, c) + 0.5
	}
	r := Region{
		Rect: image.Rect(0, 0, w, h),
		Candidates: []Candidate{
			strip(0, w, h, 0, 30, base),
			strip(1, w, h, 10, 40, other),
		},
	}

	// The heuristic cuts at 20, where the images disagree
	heur := Heuristic(r)
	if heur.At(19, 0) != 0 || heur.At(20, 0) != 1 {
		t.Fatalf("unexpected heuristic seam")
	}

	l := mustSolve(t, GraphCut{}, r)
	checkValid(t, r, l)
	for y := 0; y < h; y++ {
		seam := -1
		for x := 1; x < w; x++ {
			if l.At(x, y) != l.At(x-1, y) {
				seam = x
			}
		}
		if seam < 23 || seam > 25 {
			t.Errorf("row %d: seam at %d, want inside the agreeing columns", y, seam)
		}
	}
}

func TestGraphCutIterationCap(t *testing.T) {
	r := redBlue(100, 8)
	r.Candidates[1] = strip(1, 100, 8, 40, 100, func(x, y, c int) float64 { return float64((x+3)%7) / 7 })
	l, err := GraphCut{MaxIterations: 1}.Solve(r)
	if !perr.Is(err, perr.ConvergenceWarning) {
		t.Fatalf("want a convergence warning, got %v", err)
	}
	checkValid(t, r, l)
}

func TestGraphCutHonoursFixed(t *testing.T) {
	r := redBlue(100, 6)
	fixed := emath.NewFloatGrid(100, 6)
	fixed.Fill(None)
	for y := 0; y < 6; y++ {
		for x := 0; x < 45; x++ {
			fixed.Set(x, y, 1) // only valid from x=40
		}
	}
	r.Fixed = &fixed

	l := mustSolve(t, GraphCut{}, r)
	checkValid(t, r, l)
	if l.At(42, 3) != 1 {
		t.Errorf("fixed label not kept: %d", l.At(42, 3))
	}
	if l.At(10, 3) != 0 {
		t.Errorf("fixed label applied where invalid: %d", l.At(10, 3))
	}
}

func TestMaxFlow(t *testing.T) {
	g := NewMaxFlow(4)
	g.AddEdge(0, 1, 3, 0)
	g.AddEdge(0, 2, 2, 0)
	g.AddEdge(1, 2, 1, 0)
	g.AddEdge(1, 3, 2, 0)
	g.AddEdge(2, 3, 3, 0)

	if f := g.Solve(0, 3); f != 5 {
		t.Errorf("flow = %f, want 5", f)
	}
	side := g.SourceSide(0)
	if !side[0] || side[1] || side[2] || side[3] {
		t.Errorf("source side = %v", side)
	}
}

func TestMaxFlowBottleneck(t *testing.T) {
	// A chain with a narrow middle; the cut must sit at the narrow edge
	g := NewMaxFlow(5)
	g.AddEdge(0, 1, 10, 0)
	g.AddEdge(1, 2, 10, 10)
	g.AddEdge(2, 3, 0.5, 0.5)
	g.AddEdge(3, 4, 10, 0)

	if f := g.Solve(0, 4); f != 0.5 {
		t.Errorf("flow = %f, want 0.5", f)
	}
	side := g.SourceSide(0)
	if !side[2] || side[3] {
		t.Errorf("source side = %v", side)
	}
}

func TestLabelsGridRoundTrip(t *testing.T) {
	l := Heuristic(redBlue(100, 3))
	l.Set(0, 0, None)
	back := LabelsFromGrid(l.Grid())
	for i := range l.L {
		if back.L[i] != l.L[i] {
			t.Fatalf("label %d: %d != %d", i, back.L[i], l.L[i])
		}
	}
	if err := l.ToImg(filepath.Join(t.TempDir(), "labels.png")); err != nil {
		t.Errorf("ToImg: %v", err)
	}
}
