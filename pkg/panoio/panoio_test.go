package panoio

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/abworrall/pano-composite/pkg/ecolor"
	"github.com/abworrall/pano-composite/pkg/pano"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/storage"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

func writePNG(t *testing.T, filename string, img image.Image) {
	t.Helper()
	f, err := os.Create(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// flat is a w x h image of one color; the left `clear` columns are
// transparent.
func flat(w, h, clear int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= clear {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	return img
}

func TestManifestValidation(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadManifest(dir); !perr.Is(err, perr.InputError) {
		t.Errorf("missing manifest: %v", err)
	}

	bad := []Manifest{
		{Width: 0, Height: 10, Views: []View{{Image: "a.png"}}},
		{Width: 10, Height: 10},
		{Width: 10, Height: 10, Views: []View{{Name: "a"}}},
		{Width: 10, Height: 10, Views: []View{{Name: "a", Image: "a.png"}, {Name: "a", Image: "b.png"}}},
	}
	for i, m := range bad {
		if err := m.Validate(); !perr.Is(err, perr.InputError) {
			t.Errorf("[%d] got %v", i, err)
		}
	}

	m := Manifest{Width: 30, Height: 20, Views: []View{{Name: "a", Image: "a.png", Offset: [2]int{4, 5}}}}
	if err := m.Save(dir); err != nil {
		t.Fatal(err)
	}
	back, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if back.Width != 30 || back.Views[0].Offset != [2]int{4, 5} || back.Views[0].Mask != "" {
		t.Errorf("round trip: %+v", back)
	}
}

func TestOpenViewUsesAlphaAsMask(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), flat(6, 4, 2, color.NRGBA{255, 0, 0, 255}))

	src, err := OpenView(dir, View{Image: "a.png", Offset: [2]int{3, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "a.png" || src.Offset() != image.Pt(3, 1) || src.Size() != image.Pt(6, 4) {
		t.Errorf("source %s %v %v", src.Name(), src.Offset(), src.Size())
	}
	if src.Mask.Get(1, 0) != 0 || src.Mask.Get(2, 0) != 1 {
		t.Errorf("mask %v %v", src.Mask.Get(1, 0), src.Mask.Get(2, 0))
	}
	if src.Color[0].Get(3, 2) != 1 || src.Color[1].Get(3, 2) != 0 {
		t.Errorf("color %v %v", src.Color[0].Get(3, 2), src.Color[1].Get(3, 2))
	}
}

func TestOpenViewLinearizesAndReadsMask(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), flat(4, 4, 0, color.NRGBA{188, 188, 188, 255}))
	mask := image.NewGray(image.Rect(0, 0, 4, 4))
	mask.SetGray(2, 2, color.Gray{Y: 255})
	writePNG(t, filepath.Join(dir, "a_mask.png"), mask)

	src, err := OpenView(dir, View{Name: "a", Image: "a.png", Mask: "a_mask.png"})
	if err != nil {
		t.Fatal(err)
	}
	// sRGB 188 is close to linear 0.5
	if v := src.Color[0].Get(0, 0); math.Abs(v-0.5) > 0.01 {
		t.Errorf("linear value %v", v)
	}
	if src.Mask.Sum() != 1 || src.Mask.Get(2, 2) != 1 {
		t.Errorf("mask has %v valid pixels", src.Mask.Sum())
	}

	if _, err := OpenView(dir, View{Image: "missing.png"}); !perr.Is(err, perr.InputError) {
		t.Errorf("missing file: %v", err)
	}
	if _, err := OpenView(dir, View{Image: "a.bmp"}); !perr.Is(err, perr.InputError) {
		t.Errorf("unsupported type: %v", err)
	}
}

// strip is a 4x2 buffer: left half linear (1, 0.5, 0) covered, right
// half uncovered.
func strip() *tilestore.Buffer {
	b := tilestore.NewBuffer(image.Rect(0, 0, 4, 2), 4)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			b.Set(x, y, 0, 1)
			b.Set(x, y, 1, 0.5)
			b.Set(x, y, 3, 1)
		}
	}
	return b
}

func writeSink(t *testing.T, fileType string) string {
	t.Helper()
	fs := NewFileSink(t.TempDir(), fileType, "", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write(strip()); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	return fs.Path
}

func TestFileSinkPNG(t *testing.T) {
	path := writeSink(t, "png")
	if filepath.Base(path) != "panorama.png" {
		t.Errorf("path %s", path)
	}
	img, err := decodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if r != 0xffff || b != 0 || a != 0xffff {
		t.Errorf("covered pixel %x %x %x %x", r, g, b, a)
	}
	// linear 0.5 is sRGB ~0.735
	if math.Abs(float64(g)/0xffff-0.735) > 0.01 {
		t.Errorf("green %v", float64(g)/0xffff)
	}
	if _, _, _, a := img.At(3, 1).RGBA(); a != 0 {
		t.Errorf("uncovered pixel alpha %x", a)
	}
}

func TestFileSinkTIFF(t *testing.T) {
	f, err := os.Open(writeSink(t, "tif"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if r, _, _, a := img.At(1, 1).RGBA(); r != 0xffff || a != 0xffff {
		t.Errorf("covered pixel %x %x", r, a)
	}
}

func TestFileSinkJPEG(t *testing.T) {
	f, err := os.Open(writeSink(t, "jpg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Errorf("bounds %v", img.Bounds())
	}
}

func TestFileSinkEXRKeepsFloatPrecision(t *testing.T) {
	b := strip()
	b.Set(1, 1, 2, 0.3)
	b.Set(0, 1, 0, 1234.567)

	fs := NewFileSink(t.TempDir(), "exr", "", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(fs.Path) != "panorama.pfm" {
		t.Fatalf("path %s", fs.Path)
	}

	img, err := decodeFile(fs.Path)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := ecolor.FromColor(img.At(1, 1))
	if v[2] != float64(float32(0.3)) {
		t.Errorf("0.3 came back as %v", v[2])
	}
	v, _ = ecolor.FromColor(img.At(0, 1))
	if v[0] != float64(float32(1234.567)) || v[1] != 0.5 {
		t.Errorf("pixel came back as %v", v)
	}
}

func TestFileSinkRejectsUnknownType(t *testing.T) {
	fs := NewFileSink(t.TempDir(), "gif", "", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); !perr.Is(err, perr.InputError) {
		t.Errorf("got %v", err)
	}
}

func TestFileSinkToneMapsCoveredPixels(t *testing.T) {
	// Every channel needs a spread of values for the linear operator
	b := strip()
	b.Set(1, 0, 0, 0.2)
	b.Set(1, 0, 2, 0.8)

	fs := NewFileSink(t.TempDir(), "png", "linear", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	img, err := decodeFile(fs.Path)
	if err != nil {
		t.Fatal(err)
	}
	if r, _, b, a := img.At(0, 0).RGBA(); a != 0xffff || r <= b {
		t.Errorf("covered pixel %x %x %x", r, b, a)
	}
	if _, _, _, a := img.At(3, 1).RGBA(); a != 0 {
		t.Errorf("uncovered pixel has alpha %x", a)
	}
}

func TestFileSinkRejectsUnknownToneMapper(t *testing.T) {
	fs := NewFileSink(t.TempDir(), "jpg", "mantiuk", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); !perr.Is(err, perr.InputError) {
		t.Errorf("got %v", err)
	}
	// exr keeps linear values, so the tone mapper is never consulted
	fs = NewFileSink(t.TempDir(), "exr", "mantiuk", nil)
	if err := fs.Begin(4, 2, 4, storage.Float); err != nil {
		t.Errorf("exr: %v", err)
	}
}

func TestWarpingFolderToFile(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writePNG(t, filepath.Join(in, "left.png"), flat(30, 20, 0, color.NRGBA{255, 0, 0, 255}))
	writePNG(t, filepath.Join(in, "right.png"), flat(30, 20, 0, color.NRGBA{0, 0, 255, 255}))
	m := Manifest{Width: 50, Height: 20, Views: []View{
		{Name: "left", Image: "left.png"},
		{Name: "right", Image: "right.png", Offset: [2]int{20, 0}},
	}}
	if err := m.Save(in); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(in)
	if err != nil {
		t.Fatal(err)
	}
	cfg := pano.NewConfig()
	cfg.RegionSize = 32
	cfg.OutputFileType = "png"
	p, err := pano.NewPanorama(cfg, m.Width, m.Height, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	for _, v := range m.Views {
		src, err := OpenView(in, v)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.AddImage(src); err != nil {
			t.Fatal(err)
		}
	}

	sink := NewFileSink(out, cfg.OutputFileType, cfg.ToneMapper, nil)
	if _, err := p.Composite(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	img, err := decodeFile(sink.Path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(50, 20) {
		t.Errorf("size %v", img.Bounds().Size())
	}
	if r, _, b, _ := img.At(1, 10).RGBA(); r < 0x8000 || b > r {
		t.Errorf("left edge is not red: %x %x", r, b)
	}
	if r, _, b, _ := img.At(48, 10).RGBA(); b < 0x8000 || r > b {
		t.Errorf("right edge is not blue: %x %x", r, b)
	}
}
