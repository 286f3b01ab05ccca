// Package pano composites a set of warped, overlapping images into one
// panorama. The work is done a region at a time through a tile store, so
// the panorama never has to fit in memory:
//
//  1. seams: every pixel is given an owning input
//  2. blend: each region is composited and written to the panorama raster
//  3. resolve: the storage precision is settled
//  4. overlay: borders and seams are optionally drawn in
//  5. write: the panorama is quantized and handed to a Sink
package pano

import (
	"fmt"
	"image"
	"io"
	"math"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/abworrall/pano-composite/pkg/blend"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/seams"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

const (
	seamsID       = "seams" // owner label + 1; 0 means no owner
	panoramaID    = "panorama"
	colorChannels = 3
)

func imageID(i int) string { return fmt.Sprintf("image_%d", i) }
func maskID(i int) string  { return fmt.Sprintf("mask_%d", i) }

// A WarpedImage is an input after it has been copied into the store.
type WarpedImage struct {
	Name      string
	Offset    image.Point
	Size      image.Point
	Footprint image.Rectangle // bounds of the valid pixels, panorama coords
	Center    [2]float64      // centroid of the valid pixels, panorama coords
	Valid     int             // number of valid pixels
}

func (wi WarpedImage) Bounds() image.Rectangle {
	return image.Rectangle{Min: wi.Offset, Max: wi.Offset.Add(wi.Size)}
}

type Panorama struct {
	Config
	Width, Height int
	Images        []WarpedImage

	RunID string
	store *tilestore.Store
	log   *log.Logger
}

// NewPanorama opens the tile store for a width x height panorama.
func NewPanorama(cfg Config, width, height int, logger *log.Logger) (*Panorama, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, perr.New(perr.InputError, "panorama size %dx%d is empty", width, height)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	runID := uuid.NewString()
	p := &Panorama{
		Config: cfg,
		Width:  width,
		Height: height,
		RunID:  runID,
		log:    logger.With("run", runID[:8]),
	}

	st, err := tilestore.Open(tilestore.Options{
		CacheDir:     cfg.CustomCacheFolder,
		MemoryBudget: int64(cfg.MemoryBudgetMB) << 20,
		TileSize:     cfg.TileSize,
		Resume:       cfg.Resume,
		Logger:       p.log,
	})
	if err != nil {
		return nil, err
	}
	p.store = st

	p.log.Debug("new panorama", "width", width, "height", height, "cache", st.Dir())
	p.log.Debug("config\n" + cfg.AsYaml())
	return p, nil
}

func (p *Panorama) Close() error { return p.store.Close() }

func (p *Panorama) Bounds() image.Rectangle { return image.Rect(0, 0, p.Width, p.Height) }

// AddImage copies one input into the store, a strip at a time. Pixels are
// valid where the mask is positive and every color channel is finite.
func (p *Panorama) AddImage(src Source) (err error) {
	size := src.Size()
	if size.X <= 0 || size.Y <= 0 {
		return perr.New(perr.InputError, "%s: image is empty", src.Name())
	}
	if ms := src.MaskSize(); ms != size {
		return perr.New(perr.InputError, "%s: mask is %dx%d, image is %dx%d", src.Name(), ms.X, ms.Y, size.X, size.Y)
	}
	if src.Channels() < colorChannels {
		return perr.New(perr.InputError, "%s: %d channels, need at least %d", src.Name(), src.Channels(), colorChannels)
	}

	// A failed image leaves no rasters behind, so it can be added again
	i := len(p.Images)
	defer func() {
		if err == nil {
			return
		}
		for _, id := range []string{imageID(i), maskID(i)} {
			if p.store.Has(id) {
				if derr := p.store.Drop(id); derr != nil {
					p.log.Warn("dropping raster", "raster", id, "err", derr)
				}
			}
		}
	}()

	if err := p.store.Create(imageID(i), size.X, size.Y, colorChannels); err != nil {
		return err
	}
	if err := p.store.Create(maskID(i), size.X, size.Y, 1); err != nil {
		return err
	}

	wi := WarpedImage{Name: src.Name(), Offset: src.Offset(), Size: size}
	var sumX, sumY float64
	var foot image.Rectangle

	for y0 := 0; y0 < size.Y; y0 += p.TileSize {
		strip := image.Rect(0, y0, size.X, min(y0+p.TileSize, size.Y))
		pix, err := src.ReadPixels(strip)
		if err != nil {
			return perr.Wrap(perr.IOFailure, err, "%s: reading pixels", src.Name())
		}
		mask, err := src.ReadMask(strip)
		if err != nil {
			return perr.Wrap(perr.IOFailure, err, "%s: reading mask", src.Name())
		}

		color := tilestore.NewBuffer(strip, colorChannels)
		valid := tilestore.NewBuffer(strip, 1)
		for y := strip.Min.Y; y < strip.Max.Y; y++ {
			for x := strip.Min.X; x < strip.Max.X; x++ {
				ok := mask.At(x, y, 0) > 0
				for c := 0; c < colorChannels; c++ {
					v := pix.At(x, y, c)
					if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
						ok = false
						v = 0
					}
					color.Set(x, y, c, v)
				}
				if !ok {
					continue
				}
				valid.Set(x, y, 0, 1)
				wi.Valid++
				sumX += float64(x)
				sumY += float64(y)
				foot = foot.Union(image.Rect(x, y, x+1, y+1))
			}
		}
		if err := p.store.WriteRegion(imageID(i), color); err != nil {
			return err
		}
		if err := p.store.WriteRegion(maskID(i), valid); err != nil {
			return err
		}
	}

	wi.Footprint = foot.Add(wi.Offset).Intersect(p.Bounds())
	if wi.Valid > 0 {
		n := float64(wi.Valid)
		wi.Center = [2]float64{
			float64(wi.Offset.X) + sumX/n + 0.5,
			float64(wi.Offset.Y) + sumY/n + 0.5,
		}
	}
	if wi.Footprint.Empty() {
		p.log.Warn("input contributes nothing", "image", wi.Name, "bounds", wi.Bounds())
	}

	p.Images = append(p.Images, wi)
	p.log.Debug("added image", "image", wi.Name, "label", i, "footprint", wi.Footprint, "valid", wi.Valid)
	return nil
}

// inside is 1 over the part of rect within the panorama.
func (p *Panorama) inside(rect image.Rectangle) emath.FloatGrid {
	g := emath.NewFloatGrid(rect.Dx(), rect.Dy())
	in := rect.Intersect(p.Bounds())
	for y := in.Min.Y; y < in.Max.Y; y++ {
		for x := in.Min.X; x < in.Max.X; x++ {
			g.Set(x-rect.Min.X, y-rect.Min.Y, 1)
		}
	}
	return g
}

// loadLayers cuts every input whose footprint reaches rect down to rect.
// Nothing outside the panorama is ever valid.
func (p *Panorama) loadLayers(rect image.Rectangle, inside emath.FloatGrid) ([]blend.Layer, error) {
	var layers []blend.Layer
	for i, wi := range p.Images {
		if !wi.Footprint.Overlaps(rect) {
			continue
		}
		local := rect.Sub(wi.Offset)
		mb, err := p.store.ReadRegionPadded(maskID(i), local, 0)
		if err != nil {
			return nil, err
		}
		valid := mb.Grid(0)
		valid.Mul(inside)
		if valid.Sum() == 0 {
			continue
		}

		cb, err := p.store.ReadRegionPadded(imageID(i), local, 0)
		if err != nil {
			return nil, err
		}
		l := blend.Layer{Label: i, Valid: valid}
		for c := 0; c < colorChannels; c++ {
			l.Color = append(l.Color, cb.Grid(c))
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func (p *Panorama) candidates(rect image.Rectangle, layers []blend.Layer) []seams.Candidate {
	out := make([]seams.Candidate, len(layers))
	for i, l := range layers {
		c := p.Images[l.Label].Center
		out[i] = seams.Candidate{
			Label:  l.Label,
			Color:  l.Color,
			Valid:  l.Valid,
			Center: [2]float64{c[0] - float64(rect.Min.X), c[1] - float64(rect.Min.Y)},
		}
	}
	return out
}

// readLabels returns the owners over rect; off-panorama and unsettled
// pixels read as None.
func (p *Panorama) readLabels(rect image.Rectangle) (seams.Labels, error) {
	buf, err := p.store.ReadRegionPadded(seamsID, rect, 0)
	if err != nil {
		return seams.Labels{}, err
	}
	g := buf.Grid(0)
	vals := g.Values()
	for i := range vals {
		vals[i]--
	}
	return seams.LabelsFromGrid(g), nil
}

// writeLabels stores the part of l (which covers rect) inside core.
func (p *Panorama) writeLabels(rect, core image.Rectangle, l seams.Labels) error {
	buf := tilestore.NewBuffer(core, 1)
	for y := core.Min.Y; y < core.Max.Y; y++ {
		for x := core.Min.X; x < core.Max.X; x++ {
			buf.Set(x, y, 0, float32(l.At(x-rect.Min.X, y-rect.Min.Y)+1))
		}
	}
	return p.store.WriteRegion(seamsID, buf)
}

// SeamLabels returns the owner of every pixel in rect, after Composite.
func (p *Panorama) SeamLabels(rect image.Rectangle) (seams.Labels, error) {
	return p.readLabels(rect)
}
