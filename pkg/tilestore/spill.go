package tilestore

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/abworrall/pano-composite/pkg/perr"
)

// Spill file layout: a 12 byte header (magic, channels, tile size, all
// little endian uint32) then the zstd-compressed float32 pixels.
const tileMagic = 0x4c495450 // "PTIL"

func (s *Store) tilePath(r *raster, k tileKey) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d_%d.tile", k.tx, k.ty))
}

func (s *Store) spill(r *raster, t *tile) error {
	raw := make([]byte, 4*len(t.pix))
	for i, v := range t.pix {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	out := make([]byte, 12, 12+len(raw)/4)
	binary.LittleEndian.PutUint32(out[0:], tileMagic)
	binary.LittleEndian.PutUint32(out[4:], uint32(r.channels))
	binary.LittleEndian.PutUint32(out[8:], uint32(s.opts.TileSize))
	out = s.enc.EncodeAll(raw, out)

	// Write then rename, so a crash mid-write never leaves a torn tile
	// behind for a resumed run to adopt
	path := s.tilePath(r, t.key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return perr.Wrap(perr.IOFailure, err, "spilling tile %v of %q", t.key, r.id)
	}
	if err := os.Rename(tmp, path); err != nil {
		return perr.Wrap(perr.IOFailure, err, "spilling tile %v of %q", t.key, r.id)
	}

	r.onDisk[t.key] = true
	t.dirty = false
	s.stats.Spills++
	return nil
}

func (s *Store) load(r *raster, t *tile) error {
	path := s.tilePath(r, t.key)
	b, err := os.ReadFile(path)
	if err != nil {
		return perr.Wrap(perr.IOFailure, err, "loading tile %v of %q", t.key, r.id)
	}
	if len(b) < 12 || binary.LittleEndian.Uint32(b[0:]) != tileMagic {
		return perr.New(perr.IOFailure, "tile file %s is corrupt", path)
	}
	if int(binary.LittleEndian.Uint32(b[4:])) != r.channels || int(binary.LittleEndian.Uint32(b[8:])) != s.opts.TileSize {
		return perr.New(perr.IOFailure, "tile file %s has the wrong shape", path)
	}

	raw, err := s.dec.DecodeAll(b[12:], make([]byte, 0, 4*len(t.pix)))
	if err != nil {
		return perr.Wrap(perr.IOFailure, err, "decompressing %s", path)
	}
	if len(raw) != 4*len(t.pix) {
		return perr.New(perr.IOFailure, "tile file %s is short", path)
	}
	for i := range t.pix {
		t.pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	s.stats.Loads++
	return nil
}
