package panoio

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdouchement/hdr/codec/pfm"
	"github.com/mdouchement/hdr/codec/rgbe"
	"golang.org/x/image/tiff"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/emath"
	"github.com/abworrall/pano-composite/pkg/pano"
	"github.com/abworrall/pano-composite/pkg/perr"
)

var decoders = map[string]func(io.Reader) (image.Image, error){
	".png":  png.Decode,
	".jpg":  jpeg.Decode,
	".jpeg": jpeg.Decode,
	".tif":  tiff.Decode,
	".tiff": tiff.Decode,
	".hdr":  rgbe.Decode,
	".pfm":  pfm.Decode,
}

func decodeFile(filename string) (image.Image, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return nil, perr.New(perr.InputError, "%s: unsupported image type", filename)
	}
	f, err := os.Open(filename)
	if err != nil {
		if errIsNotExist(err) {
			return nil, perr.Wrap(perr.InputError, err, "%s is missing", filename)
		}
		return nil, perr.Wrap(perr.IOFailure, err, "opening %s", filename)
	}
	defer f.Close()

	img, err := decode(f)
	if err != nil {
		return nil, perr.Wrap(perr.IOFailure, err, "decoding %s", filename)
	}
	return img, nil
}

// DecodeImage returns the linear RGB channels of an image file, plus its
// alpha. Display formats are taken to be sRGB; .hdr and .pfm are already linear.
func DecodeImage(filename string) ([]emath.FloatGrid, emath.FloatGrid, error) {
	img, err := decodeFile(filename)
	if err != nil {
		return nil, emath.FloatGrid{}, err
	}
	b := img.Bounds()
	color := []emath.FloatGrid{
		emath.NewFloatGrid(b.Dx(), b.Dy()),
		emath.NewFloatGrid(b.Dx(), b.Dy()),
		emath.NewFloatGrid(b.Dx(), b.Dy()),
	}
	alpha := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v, a := ecolor.FromColor(img.At(b.Min.X+x, b.Min.Y+y))
			for c := range color {
				color[c].Set(x, y, v[c])
			}
			alpha.Set(x, y, a)
		}
	}
	return color, alpha, nil
}

// DecodeMask reads a mask image; any pixel that is not black (or
// transparent) is valid.
func DecodeMask(filename string) (emath.FloatGrid, error) {
	color, alpha, err := DecodeImage(filename)
	if err != nil {
		return emath.FloatGrid{}, err
	}
	mask := alpha.NewFromThis()
	for i, a := range alpha.Values() {
		if a > 0 && (color[0].Values()[i] > 0 || color[1].Values()[i] > 0 || color[2].Values()[i] > 0) {
			mask.Values()[i] = 1
		}
	}
	return mask, nil
}

// OpenView decodes one view of a warping folder.
func OpenView(dir string, v View) (*pano.GridSource, error) {
	color, alpha, err := DecodeImage(filepath.Join(dir, v.Image))
	if err != nil {
		return nil, err
	}

	mask := alpha
	if v.Mask != "" {
		if mask, err = DecodeMask(filepath.Join(dir, v.Mask)); err != nil {
			return nil, err
		}
	}

	name := v.Name
	if name == "" {
		name = v.Image
	}
	return pano.NewGridSource(name, image.Pt(v.Offset[0], v.Offset[1]), color, mask), nil
}
