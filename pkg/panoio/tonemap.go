package panoio

import (
	"image"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/tmo"

	"github.com/abworrall/pano-composite/pkg/pano"
	"github.com/abworrall/pano-composite/pkg/perr"
)

// getToneMapper picks one of pano.ToneMappers for developing an HDR
// panorama into a display-referred png, tif or jpg.
func getToneMapper(name string, img hdr.Image) (tmo.ToneMappingOperator, error) {
	switch name {
	case "linear":
		return tmo.NewLinear(img), nil
	case "drago03":
		op := tmo.NewDefaultDrago03(img)
		op.Bias = 1.0 // keeps small bright areas from blowing out
		return op, nil
	case "durand":
		return tmo.NewDefaultDurand(img), nil
	case "icam06":
		op := tmo.NewDefaultICam06(img)
		op.Contrast = 0.65
		return op, nil
	case "reinhard05":
		return tmo.NewDefaultReinhard05(img), nil
	}
	return nil, perr.New(perr.InputError, "tone mapper %q not recognized, wanted one of %v", name, pano.ToneMappers)
}

// toneMap develops img and returns the result as 16 bit sRGB with the
// given alpha (one value per pixel, row-major).
func toneMap(name string, img *hdrImage, alpha []float64) (*image.RGBA64, error) {
	op, err := getToneMapper(name, img)
	if err != nil {
		return nil, err
	}
	ldr := op.Perform()

	r := img.Bounds()
	out := image.NewRGBA64(r)
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			a := alpha[y*r.Dx()+x]
			if a <= 0 {
				continue
			}
			cr, cg, cb, _ := ldr.At(x, y).RGBA()
			i := out.PixOffset(x, y)
			for c, v := range []uint32{cr, cg, cb, 0xffff} {
				p := uint16(float64(v) * min(a, 1))
				out.Pix[i+2*c] = uint8(p >> 8)
				out.Pix[i+2*c+1] = uint8(p)
			}
		}
	}
	return out, nil
}
