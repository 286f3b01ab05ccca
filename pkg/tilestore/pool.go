package tilestore

// pool hands out fixed-size tile buffers, one size class per channel
// count, so tiles evicted from one raster get reused by the next instead
// of being reallocated. Free buffers count against the store's memory
// budget; the store trims them through trim.
type pool struct {
	tileArea int
	maxFree  int
	free     map[int][][]float32
	bytes    int64
	reuses   int
	allocs   int
}

func newPool(tileSize, maxFree int) *pool {
	return &pool{
		tileArea: tileSize * tileSize,
		maxFree:  maxFree,
		free:     map[int][][]float32{},
	}
}

func bufBytes(buf []float32) int64 { return int64(len(buf)) * 4 }

// checkout returns a zeroed buffer for a tile with the given channel count.
func (p *pool) checkout(channels int) []float32 {
	list := p.free[channels]
	if n := len(list); n > 0 {
		buf := list[n-1]
		p.free[channels] = list[:n-1]
		p.bytes -= bufBytes(buf)
		clear(buf)
		p.reuses++
		return buf
	}
	p.allocs++
	return make([]float32, p.tileArea*channels)
}

// give returns a buffer. Anything beyond maxFree per class is left for the GC.
func (p *pool) give(channels int, buf []float32) {
	if len(buf) != p.tileArea*channels || len(p.free[channels]) >= p.maxFree {
		return
	}
	p.free[channels] = append(p.free[channels], buf)
	p.bytes += bufBytes(buf)
}

// trim drops free buffers, largest class first, until at most limit bytes
// are held.
func (p *pool) trim(limit int64) {
	for p.bytes > max(limit, 0) {
		class := 0
		for c, list := range p.free {
			if len(list) > 0 && c > class {
				class = c
			}
		}
		list := p.free[class]
		n := len(list)
		p.bytes -= bufBytes(list[n-1])
		list[n-1] = nil
		p.free[class] = list[:n-1]
	}
}
