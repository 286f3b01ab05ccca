package pano

import (
	"fmt"
	"image"
	"math/bits"

	"github.com/abworrall/pano-composite/pkg/blend"
)

// A workRegion is one unit of region-parallel work. The core regions tile
// the panorama without overlap; Rect adds a halo around the core so that
// pyramid and distance computations see past its edges.
type workRegion struct {
	Index int
	Core  image.Rectangle
	Rect  image.Rectangle
}

func (wr workRegion) key(phase string) string {
	return fmt.Sprintf("%s_%d_%d", phase, wr.Core.Min.X, wr.Core.Min.Y)
}

type plan struct {
	Levels  int
	Unit    int // region grid; every padded rect starts and ends on it
	Core    int
	Halo    int
	Regions []workRegion
}

// minHalo keeps the alpha ramp at least this wide on shallow pyramids.
const minHalo = 32

func roundUp(n, unit int) int { return (n + unit - 1) / unit * unit }

// planRegions cuts a w x h panorama into regions. The pyramid depth comes
// from the panorama, so that its coarsest level is at least 8 pixels
// across, and the halo from how far a blend can reach at that depth.
// RegionSize only decides how the work is split.
func planRegions(w, h int, cfg Config) plan {
	levels := min(cfg.MaxLevels, bits.Len(uint(min(w, h)/8))-1)
	levels = max(levels, 1)
	unit := blend.Alignment(levels)

	p := plan{
		Levels: levels,
		Unit:   unit,
		Core:   roundUp(cfg.RegionSize, unit),
		Halo:   roundUp(max(blend.Reach(levels, cfg.FeatherPasses), minHalo), unit),
	}

	for y := 0; y < h; y += p.Core {
		for x := 0; x < w; x += p.Core {
			core := image.Rect(x, y, min(x+p.Core, w), min(y+p.Core, h))
			min := core.Min.Sub(image.Pt(p.Halo, p.Halo))
			rect := image.Rectangle{
				Min: min,
				Max: min.Add(image.Pt(
					roundUp(core.Dx()+2*p.Halo, unit),
					roundUp(core.Dy()+2*p.Halo, unit))),
			}
			p.Regions = append(p.Regions, workRegion{Index: len(p.Regions), Core: core, Rect: rect})
		}
	}
	return p
}
