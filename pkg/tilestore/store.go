// Package tilestore keeps large float rasters out of core. Rasters are
// cut into square tiles; tiles live in memory up to a budget and are
// spilled to zstd-compressed files in a cache directory beyond that.
package tilestore

import (
	"container/list"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/abworrall/pano-composite/pkg/perr"
)

const (
	DefaultTileSize     = 256
	DefaultMemoryBudget = 256 << 20
)

type Options struct {
	CacheDir     string // empty means a fresh temp dir, removed on Close
	MemoryBudget int64  // bytes of resident tile data
	TileSize     int
	Resume       bool // adopt tiles and done-markers left in CacheDir by an earlier run
	Logger       *log.Logger
}

type Stats struct {
	ResidentTiles int
	ResidentBytes int64
	Spills        int
	Loads         int
	PoolReuses    int
	PoolBytes     int64 // free buffers held for reuse, inside the budget
}

type tileKey struct{ tx, ty int }

type tile struct {
	r     *raster
	key   tileKey
	pix   []float32
	dirty bool
	elem  *list.Element
}

type raster struct {
	id       string
	dir      string
	w, h     int
	channels int
	tiles    map[tileKey]*tile
	onDisk   map[tileKey]bool
}

func (r *raster) bounds() image.Rectangle { return image.Rect(0, 0, r.w, r.h) }

// Store is safe for concurrent use; one mutex guards the tile tables and
// the spill files.
type Store struct {
	opts    Options
	dir     string
	ownsDir bool
	log     *log.Logger

	mu       sync.Mutex
	rasters  map[string]*raster
	done     map[string]bool
	lru      *list.List
	resident int64
	pool     *pool
	stats    Stats
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	closed   bool
}

// Open prepares the cache directory and returns an empty store.
func Open(opts Options) (*Store, error) {
	if opts.TileSize <= 0 {
		opts.TileSize = DefaultTileSize
	}
	if opts.MemoryBudget <= 0 {
		opts.MemoryBudget = DefaultMemoryBudget
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	s := &Store{
		opts:    opts,
		log:     opts.Logger,
		rasters: map[string]*raster{},
		done:    map[string]bool{},
		lru:     list.New(),
		pool:    newPool(opts.TileSize, 64),
	}

	if opts.CacheDir == "" {
		s.dir = filepath.Join(os.TempDir(), "panocomp-"+uuid.NewString())
		s.ownsDir = true
	} else {
		s.dir = opts.CacheDir
	}

	if !opts.Resume || s.ownsDir {
		// Only ever clear our own subdirectories of a user supplied dir
		for _, sub := range []string{"rasters", "done"} {
			if err := os.RemoveAll(filepath.Join(s.dir, sub)); err != nil {
				return nil, perr.Wrap(perr.IOFailure, err, "clearing cache dir %s", s.dir)
			}
		}
	}
	for _, sub := range []string{"rasters", "done"} {
		if err := os.MkdirAll(filepath.Join(s.dir, sub), 0o755); err != nil {
			return nil, perr.Wrap(perr.IOFailure, err, "creating cache dir %s", s.dir)
		}
	}

	if opts.Resume && !s.ownsDir {
		entries, err := os.ReadDir(filepath.Join(s.dir, "done"))
		if err != nil {
			return nil, perr.Wrap(perr.IOFailure, err, "reading done markers")
		}
		for _, e := range entries {
			s.done[e.Name()] = true
		}
		s.log.Debug("resuming from cache dir", "dir", s.dir, "done", len(s.done))
	}

	var err error
	if s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
		return nil, perr.Wrap(perr.IOFailure, err, "zstd encoder")
	}
	if s.dec, err = zstd.NewReader(nil); err != nil {
		return nil, perr.Wrap(perr.IOFailure, err, "zstd decoder")
	}

	s.log.Debug("tile store open", "dir", s.dir, "tile", opts.TileSize, "budget", opts.MemoryBudget)
	return s, nil
}

// Dir is the cache directory in use.
func (s *Store) Dir() string { return s.dir }

// Retained is true when the cache directory outlives Close.
func (s *Store) Retained() bool { return !s.ownsDir }

func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(id)
}

// Create registers a new raster of w x h pixels. With Resume set, tiles
// left on disk by an earlier run for a raster of the same shape are
// adopted; otherwise they are discarded.
func (s *Store) Create(id string, w, h, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return perr.New(perr.IOFailure, "store is closed")
	}
	if _, exists := s.rasters[id]; exists {
		return perr.New(perr.IOFailure, "raster %q already exists", id)
	}
	if w <= 0 || h <= 0 || channels <= 0 {
		return perr.New(perr.IOFailure, "raster %q has bad shape %dx%dx%d", id, w, h, channels)
	}

	r := &raster{
		id:       id,
		dir:      filepath.Join(s.dir, "rasters", sanitize(id)),
		w:        w,
		h:        h,
		channels: channels,
		tiles:    map[tileKey]*tile{},
		onDisk:   map[tileKey]bool{},
	}

	meta := fmt.Sprintf("%d %d %d %d\n", w, h, channels, s.opts.TileSize)
	metaFile := filepath.Join(r.dir, "meta")

	if s.opts.Resume {
		if b, err := os.ReadFile(metaFile); err == nil && string(b) == meta {
			if err := s.adopt(r); err != nil {
				return err
			}
			s.rasters[id] = r
			return nil
		}
	}

	if err := os.RemoveAll(r.dir); err != nil {
		return perr.Wrap(perr.IOFailure, err, "clearing %s", r.dir)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return perr.Wrap(perr.IOFailure, err, "creating %s", r.dir)
	}
	if err := os.WriteFile(metaFile, []byte(meta), 0o644); err != nil {
		return perr.Wrap(perr.IOFailure, err, "writing %s", metaFile)
	}

	s.rasters[id] = r
	return nil
}

func (s *Store) adopt(r *raster) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return perr.Wrap(perr.IOFailure, err, "reading %s", r.dir)
	}
	for _, e := range entries {
		var k tileKey
		if !strings.HasSuffix(e.Name(), ".tile") {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "%d_%d.tile", &k.tx, &k.ty); err == nil {
			r.onDisk[k] = true
		}
	}
	s.log.Debug("adopted spilled tiles", "raster", r.id, "tiles", len(r.onDisk))
	return nil
}

// Has reports whether a raster exists.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rasters[id]
	return ok
}

func (s *Store) Bounds(id string) (image.Rectangle, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rasters[id]
	if !ok {
		return image.Rectangle{}, 0, perr.New(perr.IOFailure, "no raster %q", id)
	}
	return r.bounds(), r.channels, nil
}

func (s *Store) lookup(id string, rect image.Rectangle) (*raster, error) {
	if s.closed {
		return nil, perr.New(perr.IOFailure, "store is closed")
	}
	r, ok := s.rasters[id]
	if !ok {
		return nil, perr.New(perr.IOFailure, "no raster %q", id)
	}
	if !rect.In(r.bounds()) {
		return nil, perr.New(perr.IOFailure, "region %v outside raster %q bounds %v", rect, id, r.bounds())
	}
	return r, nil
}

// ReadRegion returns a copy of the pixels of rect, which must lie inside
// the raster. Pixels never written read as zero.
func (s *Store) ReadRegion(id string, rect image.Rectangle) (*Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(id, rect)
	if err != nil {
		return nil, err
	}
	buf := NewBuffer(rect, r.channels)
	err = s.forTiles(r, rect, func(t *tile, tr image.Rectangle) {
		for y := tr.Min.Y; y < tr.Max.Y; y++ {
			n := tr.Dx() * r.channels
			copy(buf.Pix[buf.Offset(tr.Min.X, y):buf.Offset(tr.Min.X, y)+n], t.pix[s.tileOffset(r, t, tr.Min.X, y):])
		}
	})
	s.evict()
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRegionPadded is ReadRegion for a rect that may hang over the edges
// of the raster; pixels outside it are set to fill.
func (s *Store) ReadRegionPadded(id string, rect image.Rectangle, fill float32) (*Buffer, error) {
	b, _, err := s.Bounds(id)
	if err != nil {
		return nil, err
	}
	inner := rect.Intersect(b)
	var src *Buffer
	if !inner.Empty() {
		if src, err = s.ReadRegion(id, inner); err != nil {
			return nil, err
		}
	}
	if inner == rect {
		return src, nil
	}

	_, channels, _ := s.Bounds(id)
	out := NewBuffer(rect, channels)
	out.Fill(fill)
	if src != nil {
		out.CopyFrom(src)
	}
	return out, nil
}

// WriteRegion stores buf at buf.Rect, which must lie inside the raster.
func (s *Store) WriteRegion(id string, buf *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(id, buf.Rect)
	if err != nil {
		return err
	}
	if buf.Channels != r.channels {
		return perr.New(perr.IOFailure, "raster %q has %d channels, buffer has %d", id, r.channels, buf.Channels)
	}
	err = s.forTiles(r, buf.Rect, func(t *tile, tr image.Rectangle) {
		for y := tr.Min.Y; y < tr.Max.Y; y++ {
			n := tr.Dx() * r.channels
			copy(t.pix[s.tileOffset(r, t, tr.Min.X, y):], buf.Pix[buf.Offset(tr.Min.X, y):buf.Offset(tr.Min.X, y)+n])
		}
		t.dirty = true
	})
	s.evict()
	return err
}

func (s *Store) tileOffset(r *raster, t *tile, x, y int) int {
	ts := s.opts.TileSize
	return ((y-t.key.ty*ts)*ts + (x - t.key.tx*ts)) * r.channels
}

// forTiles visits every tile overlapping rect, loading it if need be,
// along with the part of rect that falls in that tile.
func (s *Store) forTiles(r *raster, rect image.Rectangle, fn func(*tile, image.Rectangle)) error {
	ts := s.opts.TileSize
	if rect.Empty() {
		return nil
	}
	for ty := rect.Min.Y / ts; ty <= (rect.Max.Y-1)/ts; ty++ {
		for tx := rect.Min.X / ts; tx <= (rect.Max.X-1)/ts; tx++ {
			t, err := s.fetch(r, tileKey{tx, ty})
			if err != nil {
				return err
			}
			tr := image.Rect(tx*ts, ty*ts, (tx+1)*ts, (ty+1)*ts).Intersect(rect)
			fn(t, tr)
		}
	}
	return nil
}

func (s *Store) tileBytes(r *raster) int64 {
	return int64(s.opts.TileSize*s.opts.TileSize*r.channels) * 4
}

// fetch returns a resident tile, loading it from disk or creating a
// zeroed one.
func (s *Store) fetch(r *raster, k tileKey) (*tile, error) {
	if t, ok := r.tiles[k]; ok {
		s.lru.MoveToFront(t.elem)
		return t, nil
	}

	s.makeRoom(s.tileBytes(r))
	t := &tile{r: r, key: k, pix: s.pool.checkout(r.channels)}
	if r.onDisk[k] {
		if err := s.load(r, t); err != nil {
			s.pool.give(r.channels, t.pix)
			s.pool.trim(s.opts.MemoryBudget - s.resident)
			return nil, err
		}
	}
	t.elem = s.lru.PushFront(t)
	r.tiles[k] = t
	s.resident += s.tileBytes(r)
	s.pool.trim(s.opts.MemoryBudget - s.resident)
	return t, nil
}

// evict spills least recently used tiles until we're back under budget.
func (s *Store) evict() { s.makeRoom(0) }

// makeRoom spills least recently used tiles until need more bytes fit in
// the budget, then trims the pool's free buffers to what is left over.
func (s *Store) makeRoom(need int64) {
	for s.resident+need > s.opts.MemoryBudget && s.lru.Len() > 0 {
		t := s.lru.Back().Value.(*tile)
		if err := s.release(t); err != nil {
			// The tile stays resident; we go over budget rather than lose data
			s.log.Warn("tile spill failed", "raster", t.r.id, "tile", t.key, "err", err)
			s.lru.MoveToFront(t.elem)
			break
		}
	}
	s.pool.trim(s.opts.MemoryBudget - s.resident)
}

// release writes a tile out if dirty and hands its buffer back to the pool.
func (s *Store) release(t *tile) error {
	if t.dirty {
		if err := s.spill(t.r, t); err != nil {
			return err
		}
	}
	s.lru.Remove(t.elem)
	delete(t.r.tiles, t.key)
	s.resident -= s.tileBytes(t.r)
	s.pool.give(t.r.channels, t.pix)
	t.pix = nil
	return nil
}

// MarkDone records that a unit of work (a region, say) has been written
// out in full. Markers survive in a custom cache dir for Resume.
func (s *Store) MarkDone(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key] = true
	if s.ownsDir {
		return nil
	}
	f := filepath.Join(s.dir, "done", sanitize(key))
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		return perr.Wrap(perr.IOFailure, err, "writing marker %s", f)
	}
	return nil
}

func (s *Store) IsDone(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[sanitize(key)] || s.done[key]
}

// Drop forgets a raster and deletes its spill files.
func (s *Store) Drop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rasters[id]
	if !ok {
		return nil
	}
	for _, t := range r.tiles {
		t.dirty = false
		s.release(t)
	}
	delete(s.rasters, id)
	if err := os.RemoveAll(r.dir); err != nil {
		return perr.Wrap(perr.IOFailure, err, "removing %s", r.dir)
	}
	return nil
}

// Flush writes every dirty tile to disk, leaving them resident.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.lru.Front(); e != nil; e = e.Next() {
		t := e.Value.(*tile)
		if t.dirty {
			if err := s.spill(t.r, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.ResidentTiles = s.lru.Len()
	st.ResidentBytes = s.resident
	st.PoolReuses = s.pool.reuses
	st.PoolBytes = s.pool.bytes
	return st
}

// Close releases all tiles. A temp cache dir is deleted; a custom one is
// flushed and kept so a later run can resume from it.
func (s *Store) Close() error {
	if !s.ownsDir {
		if err := s.Flush(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for s.lru.Len() > 0 {
		t := s.lru.Back().Value.(*tile)
		t.dirty = false
		s.release(t)
	}
	s.rasters = map[string]*raster{}
	s.enc.Close()
	s.dec.Close()

	if s.ownsDir {
		if err := os.RemoveAll(s.dir); err != nil {
			return perr.Wrap(perr.IOFailure, err, "removing cache dir %s", s.dir)
		}
		s.log.Debug("removed cache dir", "dir", s.dir)
	}
	return nil
}
