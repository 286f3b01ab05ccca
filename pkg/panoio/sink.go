package panoio

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/pfm"
	"github.com/mdouchement/hdr/hdrcolor"
	"golang.org/x/image/tiff"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/storage"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

// hdrImage is a linear float image that the hdr codecs and tone mappers
// can read.
type hdrImage struct {
	rect image.Rectangle
	pix  []hdrcolor.RGB
}

var _ hdr.Image = (*hdrImage)(nil)

func newHDRImage(r image.Rectangle) *hdrImage {
	return &hdrImage{rect: r, pix: make([]hdrcolor.RGB, r.Dx()*r.Dy())}
}

func (h *hdrImage) ColorModel() color.Model       { return hdrcolor.RGBModel }
func (h *hdrImage) Bounds() image.Rectangle       { return h.rect }
func (h *hdrImage) At(x, y int) color.Color       { return h.HDRAt(x, y) }
func (h *hdrImage) HDRAt(x, y int) hdrcolor.Color { return h.pix[y*h.rect.Dx()+x] }
func (h *hdrImage) Size() int                     { return h.rect.Dx() * h.rect.Dy() }

func (h *hdrImage) set(x, y int, c hdrcolor.RGB) { h.pix[y*h.rect.Dx()+x] = c }

// FileSink writes the panorama as <Dir>/panorama.<ext>.
type FileSink struct {
	Dir        string
	Type       string // jpg, png, tif, exr
	ToneMapper string // for jpg, png and tif; "" or "none" clamps
	Logger     *log.Logger

	Path string // set by Begin

	channels int
	rgba64   *image.RGBA64
	rgba     *image.RGBA
	hdr      *hdrImage
	alpha    []float64 // only kept when tone mapping
}

func NewFileSink(dir, fileType, toneMapper string, logger *log.Logger) *FileSink {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FileSink{Dir: dir, Type: fileType, ToneMapper: toneMapper, Logger: logger}
}

func (fs *FileSink) toneMapping() bool {
	return fs.ToneMapper != "" && fs.ToneMapper != "none" && fs.Type != "exr"
}

func (fs *FileSink) Begin(width, height, channels int, dt storage.DataType) error {
	if err := os.MkdirAll(fs.Dir, 0o755); err != nil {
		return perr.Wrap(perr.IOFailure, err, "creating %s", fs.Dir)
	}
	r := image.Rect(0, 0, width, height)
	fs.channels = channels

	ext := fs.Type
	switch fs.Type {
	case "png", "tif", "jpg":
		if !fs.toneMapping() {
			if fs.Type == "jpg" {
				fs.rgba = image.NewRGBA(r)
			} else {
				fs.rgba64 = image.NewRGBA64(r)
			}
			break
		}
		if _, err := getToneMapper(fs.ToneMapper, newHDRImage(image.Rect(0, 0, 1, 1))); err != nil {
			return err
		}
		fs.hdr = newHDRImage(r)
		fs.alpha = make([]float64, width*height)
	case "exr":
		fs.Logger.Warn("no EXR encoder; writing 32 bit PFM instead", "storage", dt)
		ext = "pfm"
		fs.hdr = newHDRImage(r)
	default:
		return perr.New(perr.InputError, "unknown output type %q", fs.Type)
	}
	fs.Path = filepath.Join(fs.Dir, "panorama."+ext)
	return nil
}

func finite(f float32) float64 {
	if math.IsNaN(float64(f)) {
		return 0
	}
	return float64(f)
}

func (fs *FileSink) Write(strip *tilestore.Buffer) error {
	r := strip.Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := emath.Vec3{finite(strip.At(x, y, 0)), finite(strip.At(x, y, 1)), finite(strip.At(x, y, 2))}
			a := 1.0
			if fs.channels > 3 {
				a = finite(strip.At(x, y, 3))
			}
			switch {
			case fs.rgba64 != nil:
				fs.rgba64.SetRGBA64(x, y, ecolor.ToRGBA64(v, a))
			case fs.rgba != nil:
				fs.rgba.SetRGBA(x, y, ecolor.ToRGBA(v, a))
			case fs.hdr != nil:
				fs.hdr.set(x, y, ecolor.ToHDR(v))
				if fs.alpha != nil {
					fs.alpha[y*r.Dx()+x] = a
				}
			default:
				return perr.New(perr.IOFailure, "file sink was not started")
			}
		}
	}
	return nil
}

// Close encodes the image and writes the file.
func (fs *FileSink) Close() error {
	if fs.Path == "" {
		return nil
	}
	if fs.toneMapping() {
		ldr, err := toneMap(fs.ToneMapper, fs.hdr, fs.alpha)
		if err != nil {
			return err
		}
		fs.Logger.Info("tone mapped", "operator", fs.ToneMapper)
		fs.hdr, fs.rgba64 = nil, ldr
	}

	f, err := os.Create(fs.Path)
	if err != nil {
		return perr.Wrap(perr.IOFailure, err, "creating %s", fs.Path)
	}
	defer f.Close()

	switch {
	case fs.rgba64 != nil && fs.Type == "jpg":
		err = jpeg.Encode(f, fs.rgba64, &jpeg.Options{Quality: 95})
	case fs.rgba64 != nil && fs.Type == "png":
		err = png.Encode(f, fs.rgba64)
	case fs.rgba64 != nil:
		err = tiff.Encode(f, fs.rgba64, &tiff.Options{Compression: tiff.Deflate})
	case fs.rgba != nil:
		err = jpeg.Encode(f, fs.rgba, &jpeg.Options{Quality: 95})
	case fs.hdr != nil:
		err = pfm.Encode(f, fs.hdr)
	}
	if err != nil {
		return perr.Wrap(perr.IOFailure, err, "encoding %s", fs.Path)
	}
	if err := f.Close(); err != nil {
		return perr.Wrap(perr.IOFailure, err, "closing %s", fs.Path)
	}
	fs.Logger.Info("wrote panorama", "file", fs.Path)
	return nil
}
