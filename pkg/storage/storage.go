// Package storage decides how precisely the finished panorama is
// serialized. Blending always runs in full precision; only the values
// handed to the output are affected.
package storage

import (
	"math"
	"sync"

	"github.com/codahale/hdrhistogram"
	"github.com/x448/float16"

	"github.com/abworrall/pano-composite/pkg/perr"
)

type DataType int

const (
	Float      DataType = iota // full precision, never changes a value
	Half                       // 16 bit; out of range values become infinite
	HalfFinite                 // 16 bit, clamped to the largest finite half
	Auto                       // Half if the data fits within tolerance, else Float
)

const (
	MaxHalf          = 65504.0
	DefaultTolerance = 1e-3

	// Magnitudes are recorded in the histogram in units of 1/histScale
	histScale = 1 << 16
	histMax   = int64(1) << 50
)

var names = map[DataType]string{
	Float:      "float",
	Half:       "half",
	HalfFinite: "halfFinite",
	Auto:       "auto",
}

func (dt DataType) String() string { return names[dt] }

func ParseDataType(s string) (DataType, error) {
	for dt, name := range names {
		if name == s {
			return dt, nil
		}
	}
	return Float, perr.New(perr.InputError, "unknown storage data type %q", s)
}

// Resolver watches the blended values go by and settles Auto.
type Resolver struct {
	Requested DataType
	Tolerance float64 // largest relative error a value may pick up in Auto

	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	total     int64
	overflow  int64
	nonFinite int64
	lossy     int64
}

func NewResolver(requested DataType, tolerance float64) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Resolver{
		Requested: requested,
		Tolerance: tolerance,
		hist:      hdrhistogram.New(1, histMax, 3),
	}
}

// Observe records a batch of values. The histogram only feeds Summary;
// Auto is settled by the overflow, non-finite and lossy counts.
func (r *Resolver) Observe(vals []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range vals {
		r.total++
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			r.nonFinite++
			continue
		}
		mag := math.Abs(f)
		scaled := histMax
		if mag*histScale < float64(histMax) {
			scaled = int64(mag * histScale)
		}
		r.hist.RecordValue(scaled)

		if mag > MaxHalf {
			r.overflow++
			continue
		}
		if float16.PrecisionFromfloat32(v) == float16.PrecisionExact {
			continue
		}
		if h := float64(float16.Fromfloat32(v).Float32()); math.Abs(h-f) > r.Tolerance*mag {
			r.lossy++
		}
	}
}

// Resolve returns the type to serialize with. Only Auto depends on what
// was observed.
func (r *Resolver) Resolve() DataType {
	if r.Requested != Auto {
		return r.Requested
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overflow == 0 && r.nonFinite == 0 && r.lossy == 0 {
		return Half
	}
	return Float
}

// Summary describes the observed values, for logging.
type Summary struct {
	Values    int64
	Overflow  int64
	NonFinite int64
	Lossy     int64
	P50       float64
	P99       float64
	Max       float64
}

func (r *Resolver) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Values:    r.total,
		Overflow:  r.overflow,
		NonFinite: r.nonFinite,
		Lossy:     r.lossy,
		P50:       float64(r.hist.ValueAtQuantile(50)) / histScale,
		P99:       float64(r.hist.ValueAtQuantile(99)) / histScale,
		Max:       float64(r.hist.Max()) / histScale,
	}
}

// Report counts what quantizing did to the values.
type Report struct {
	Type      DataType
	Values    int64
	Rounded   int64 // changed by rounding to half
	Clamped   int64 // pulled into the finite half range
	Overflow  int64 // became infinite
	NonFinite int64 // NaN or infinite inputs replaced
}

func (r *Report) Add(o Report) {
	r.Values += o.Values
	r.Rounded += o.Rounded
	r.Clamped += o.Clamped
	r.Overflow += o.Overflow
	r.NonFinite += o.NonFinite
}

// Err is a PrecisionLoss error if anything was lost, else nil.
func (r Report) Err() error {
	if r.Rounded+r.Clamped+r.Overflow+r.NonFinite == 0 {
		return nil
	}
	return perr.New(perr.PrecisionLoss,
		"%s storage changed %d of %d values (rounded %d, clamped %d, overflowed %d, non-finite %d)",
		r.Type, r.Rounded+r.Clamped+r.Overflow+r.NonFinite, r.Values, r.Rounded, r.Clamped, r.Overflow, r.NonFinite)
}

// Quantize rewrites vals, in place, as they will be stored. Auto must be
// resolved first; it is treated as Float here.
func Quantize(dt DataType, vals []float32) Report {
	rep := Report{Type: dt, Values: int64(len(vals))}

	switch dt {
	case Half:
		for i, v := range vals {
			h := float16.Fromfloat32(v).Float32()
			switch {
			case h == v || (math.IsNaN(float64(h)) && math.IsNaN(float64(v))):
			case math.IsInf(float64(h), 0) && !math.IsInf(float64(v), 0):
				rep.Overflow++
			default:
				rep.Rounded++
			}
			vals[i] = h
		}

	case HalfFinite:
		for i, v := range vals {
			f := float64(v)
			switch {
			case math.IsNaN(f):
				v = 0
				rep.NonFinite++
			case f > MaxHalf:
				if math.IsInf(f, 0) {
					rep.NonFinite++
				} else {
					rep.Clamped++
				}
				v = MaxHalf
			case f < -MaxHalf:
				if math.IsInf(f, 0) {
					rep.NonFinite++
				} else {
					rep.Clamped++
				}
				v = -MaxHalf
			}
			h := float16.Fromfloat32(v).Float32()
			if h != v {
				rep.Rounded++
			}
			vals[i] = h
		}
	}

	return rep
}
