package pano

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/abworrall/pano-composite/pkg/blend"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/overlay"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/storage"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

// Result describes a finished run.
type Result struct {
	Width, Height int
	Regions       int
	Resumed       int // regions already done by an earlier run
	Levels        int
	DataType      storage.DataType // as written
	Precision     storage.Report
	Values        storage.Summary
	Marked        int     // pixels painted by the overlay
	Warnings      []error // ConvergenceWarning and PrecisionLoss
	Store         tilestore.Stats
	CacheDir      string
	Elapsed       time.Duration
}

type blendJob struct {
	Region workRegion

	// Output
	Skipped bool
	Err     error
}

// Composite runs every phase and hands the panorama to sink. Failed
// regions are reported together; their neighbours are still written to
// the store, so a run with Resume set only redoes the failures. The sink
// is only called once every region has succeeded.
func (p *Panorama) Composite(ctx context.Context, sink Sink) (Result, error) {
	start := time.Now()
	res := Result{Width: p.Width, Height: p.Height, CacheDir: p.store.Dir()}

	if len(p.Images) == 0 {
		return res, perr.New(perr.InputError, "no input images")
	}
	dt, err := storage.ParseDataType(p.StorageDataType)
	if err != nil {
		return res, err
	}
	mode, err := overlay.ParseMode(p.OverlayType)
	if err != nil {
		return res, err
	}

	pl := planRegions(p.Width, p.Height, p.Config)
	res.Regions, res.Levels = len(pl.Regions), pl.Levels
	p.log.Info("compositing", "images", len(p.Images), "size", p.Bounds().Size(), "regions", len(pl.Regions),
		"levels", pl.Levels, "halo", pl.Halo, "compositer", p.CompositerType, "graphcut", p.UseGraphCut)

	comp, err := blend.GetCompositer(p.CompositerType, p.FeatherPasses, float64(pl.Halo), p.log)
	if err != nil {
		return res, err
	}

	for _, id := range []string{seamsID, panoramaID} {
		if !p.store.Has(id) {
			channels := 1
			if id == panoramaID {
				channels = colorChannels + 1
			}
			if err := p.store.Create(id, p.Width, p.Height, channels); err != nil {
				return res, err
			}
		}
	}

	p.log.Info("phase: seams")
	warnings, err := p.computeSeams(ctx, pl)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		return res, err
	}

	p.log.Info("phase: blend")
	if res.Resumed, err = p.blendRegions(ctx, comp, pl); err != nil {
		return res, err
	}

	p.log.Info("phase: resolve storage")
	resolver := storage.NewResolver(dt, p.HalfTolerance)
	if err := p.observe(pl, resolver); err != nil {
		return res, err
	}
	res.DataType = resolver.Resolve()
	res.Values = resolver.Summary()
	p.log.Info("storage", "requested", dt, "resolved", res.DataType, "values", res.Values.Values,
		"p99", res.Values.P99, "max", res.Values.Max, "overflow", res.Values.Overflow)

	if mode != overlay.None {
		p.log.Info("phase: overlay", "type", mode)
		if res.Marked, err = p.drawOverlay(ctx, pl, mode); err != nil {
			return res, err
		}
	}

	p.log.Info("phase: write")
	if res.Precision, err = p.write(sink, res.DataType); err != nil {
		return res, err
	}
	if w := res.Precision.Err(); w != nil {
		p.log.Warn("lost precision on output", "err", w)
		res.Warnings = append(res.Warnings, w)
	}

	res.Store = p.store.Stats()
	res.Elapsed = time.Since(start)
	p.log.Info("done", "elapsed", res.Elapsed.Round(time.Millisecond), "spills", res.Store.Spills,
		"loads", res.Store.Loads, "warnings", len(res.Warnings))
	return res, nil
}

// blendRegions composites every region with a pool of workers, and
// returns how many were skipped as already done.
func (p *Panorama) blendRegions(ctx context.Context, comp blend.Compositer, pl plan) (int, error) {
	var wg sync.WaitGroup
	jobsChan := make(chan blendJob, len(pl.Regions))
	resultsChan := make(chan blendJob, len(pl.Regions))

	// Kick off worker pool
	nWorkers := p.workers()
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.Skipped, job.Err = p.blendRegion(ctx, comp, pl, job.Region)
				resultsChan <- job
			}
		}()
	}

	// Feed in jobs
	for _, wr := range pl.Regions {
		jobsChan <- blendJob{Region: wr}
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// results processor
	var errs error
	var failed []blendJob
	skipped := 0
	for job := range resultsChan {
		switch {
		case job.Err != nil:
			failed = append(failed, job)
		case job.Skipped:
			skipped++
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Region.Index < failed[j].Region.Index })
	for _, job := range failed {
		p.log.Error("region failed", "region", job.Region.Core, "err", job.Err)
		errs = multierr.Append(errs, job.Err)
	}
	if skipped > 0 {
		p.log.Info("resumed", "regions", skipped)
	}
	return skipped, errs
}

func (p *Panorama) blendRegion(ctx context.Context, comp blend.Compositer, pl plan, wr workRegion) (bool, error) {
	key := wr.key("blend")
	if p.store.IsDone(key) {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	inside := p.inside(wr.Rect)
	layers, err := p.loadLayers(wr.Rect, inside)
	if err != nil {
		return false, err
	}
	labels, err := p.readLabels(wr.Rect)
	if err != nil {
		return false, err
	}

	out, err := comp.Composite(blend.Region{
		Rect:   wr.Rect,
		Core:   wr.Core,
		Layers: layers,
		Labels: labels,
		Inside: inside,
		Levels: pl.Levels,
	})
	if err != nil {
		return false, err
	}

	buf := tilestore.NewBuffer(wr.Core, colorChannels+1)
	for c := 0; c < colorChannels; c++ {
		buf.SetGrid(c, out.Color[c])
	}
	buf.SetGrid(colorChannels, out.Coverage)
	if err := p.store.WriteRegion(panoramaID, buf); err != nil {
		return false, err
	}
	p.log.Debug("blended region", "region", wr.Core, "layers", len(layers))
	return false, p.store.MarkDone(key)
}

// observe feeds every covered color value to the resolver.
func (p *Panorama) observe(pl plan, r *storage.Resolver) error {
	for _, wr := range pl.Regions {
		buf, err := p.store.ReadRegion(panoramaID, wr.Core)
		if err != nil {
			return err
		}
		vals := make([]float32, 0, len(buf.Pix))
		for i := 0; i < len(buf.Pix); i += buf.Channels {
			if buf.Pix[i+colorChannels] > 0 {
				vals = append(vals, buf.Pix[i:i+colorChannels]...)
			}
		}
		r.Observe(vals)
	}
	return nil
}

// drawOverlay marks borders and seams in the panorama raster. Each region
// only repaints its own core, so regions can run in any order.
func (p *Panorama) drawOverlay(ctx context.Context, pl plan, mode overlay.Mode) (int, error) {
	var mu sync.Mutex
	total := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, wr := range pl.Regions {
		wr := wr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rect := wr.Core.Inset(-1)
			inside := p.inside(rect)
			layers, err := p.loadLayers(rect, inside)
			if err != nil {
				return err
			}
			labels, err := p.readLabels(rect)
			if err != nil {
				return err
			}
			buf, err := p.store.ReadRegion(panoramaID, wr.Core)
			if err != nil {
				return err
			}

			region := overlay.Region{Rect: rect, Core: wr.Core, Inside: inside, Labels: labels}
			for _, l := range layers {
				region.Valid = append(region.Valid, l.Valid)
			}
			color := make([]emath.FloatGrid, colorChannels)
			for c := range color {
				color[c] = buf.Grid(c)
			}
			n := overlay.Apply(mode, region, color)
			if n == 0 {
				return nil
			}
			for c := range color {
				buf.SetGrid(c, color[c])
			}

			mu.Lock()
			total += n
			mu.Unlock()
			return p.store.WriteRegion(panoramaID, buf)
		})
	}
	err := g.Wait()
	return total, err
}

// write quantizes the panorama strip by strip into sink.
func (p *Panorama) write(sink Sink, dt storage.DataType) (storage.Report, error) {
	rep := storage.Report{Type: dt}
	if err := sink.Begin(p.Width, p.Height, colorChannels+1, dt); err != nil {
		return rep, perr.Wrap(perr.IOFailure, err, "starting output")
	}

	var errs error
	for y := 0; y < p.Height && errs == nil; y += p.TileSize {
		strip := image.Rect(0, y, p.Width, min(y+p.TileSize, p.Height))
		buf, err := p.store.ReadRegion(panoramaID, strip)
		if err != nil {
			errs = err
			break
		}
		rep.Add(storage.Quantize(dt, buf.Pix))
		if err := sink.Write(buf); err != nil {
			errs = perr.Wrap(perr.IOFailure, err, "writing rows %d-%d", strip.Min.Y, strip.Max.Y)
		}
	}
	if err := sink.Close(); err != nil {
		errs = multierr.Append(errs, perr.Wrap(perr.IOFailure, err, "closing output"))
	}
	return rep, errs
}
