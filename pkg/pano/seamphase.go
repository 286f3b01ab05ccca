package pano

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/seams"
)

// computeSeams fills the seams raster. The heuristic is pointwise, so its
// regions run in parallel over their cores alone. Graph-cut regions run
// one after another in row-major order; each sees its halo, and any
// labels already settled there by earlier regions are held fixed, so
// seams stay continuous across region edges.
func (p *Panorama) computeSeams(ctx context.Context, pl plan) (warnings []error, err error) {
	if p.store.IsDone(seamsID) {
		p.log.Info("seams already computed, skipping")
		return nil, nil
	}

	if !p.UseGraphCut {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for _, wr := range pl.Regions {
			wr := wr
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				inside := p.inside(wr.Core)
				layers, err := p.loadLayers(wr.Core, inside)
				if err != nil {
					return err
				}
				l := seams.Heuristic(seams.Region{Rect: wr.Core, Candidates: p.candidates(wr.Core, layers)})
				return p.writeLabels(wr.Core, wr.Core, l)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return nil, p.store.MarkDone(seamsID)
	}

	gc := seams.GraphCut{
		MaxIterations: p.GraphCutMaxIterations,
		MaxNodes:      p.GraphCutMaxNodes,
		Logger:        p.log,
	}
	for _, wr := range pl.Regions {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		inside := p.inside(wr.Rect)
		layers, err := p.loadLayers(wr.Rect, inside)
		if err != nil {
			return warnings, err
		}
		settled, err := p.readLabels(wr.Rect)
		if err != nil {
			return warnings, err
		}
		fixed := settled.Grid()

		l, err := gc.Solve(seams.Region{
			Rect:       wr.Rect,
			Candidates: p.candidates(wr.Rect, layers),
			Fixed:      &fixed,
		})
		if err != nil {
			if !perr.IsWarning(err) {
				return warnings, err
			}
			p.log.Warn("seam optimization did not converge", "region", wr.Core, "err", err)
			warnings = append(warnings, err)
		}
		if err := p.writeLabels(wr.Rect, wr.Core, l); err != nil {
			return warnings, err
		}
	}
	return warnings, p.store.MarkDone(seamsID)
}
