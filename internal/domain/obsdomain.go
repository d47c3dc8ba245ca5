// ============================================================================
// Observation Domain - Work Unit Decomposition
// ============================================================================
//
// Package: internal/domain
// File: obsdomain.go
// Purpose: Slice a frequency × time range into fixed-size work tiles.
//
// Raster order (fixed, persisted tile indexes depend on it):
//
//        time ▲
//             │  ┌────┬────┬────┐
//             │  │ 3  │ 4  │ 5  │
//             │  ├────┼────┼────┤
//             │  │ 0  │ 1  │ 2  │
//             │  └────┴────┴────┘
//             └─────────────────────► freq
//
//   Frequency is the inner loop, time the outer loop. The last tile along
//   each axis is clipped to the domain edge.
//
// Tile edges are computed from the tile index (start + i*size) rather than
// by accumulating sizes, so neighbouring tiles share the exact same edge
// value and no gap or overlap can appear from rounding.
//
// ============================================================================

package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
)

var (
	// ErrMalformedDomain is returned for ranges with start > end or for
	// non-positive tile sizes.
	ErrMalformedDomain = errors.New("malformed domain")
	// ErrTooManyTiles is returned when a shape is valid but slices the
	// domain into more than maxTiles tiles.
	ErrTooManyTiles = errors.New("too many tiles")
)

const (
	obsDomainName     = "ObsDomain"
	domainShapeName   = "DomainShape"
	domainBlobVersion = 1

	// everything is the open upper edge used by Everything().
	everything = 1e30
	// tileEpsilon absorbs rounding when a size divides a range exactly.
	tileEpsilon = 1e-9
	maxTiles    = 1 << 31
)

// ObsDomain is a half-open rectangle [StartFreq,EndFreq) × [StartTime,EndTime).
type ObsDomain struct {
	StartFreq float64
	EndFreq   float64
	StartTime float64
	EndTime   float64
}

// NewObsDomain validates the ranges.
func NewObsDomain(startFreq, endFreq, startTime, endTime float64) (ObsDomain, error) {
	d := ObsDomain{StartFreq: startFreq, EndFreq: endFreq, StartTime: startTime, EndTime: endTime}
	if err := d.Validate(); err != nil {
		return ObsDomain{}, err
	}
	return d, nil
}

// Everything is the default domain covering all frequencies and times.
func Everything() ObsDomain {
	return ObsDomain{StartFreq: 0, EndFreq: everything, StartTime: 0, EndTime: everything}
}

// NotStarted is the sentinel passed to NextWorkDomain to get the first tile.
func NotStarted() ObsDomain { return ObsDomain{} }

// Validate checks start <= end on both axes.
func (d ObsDomain) Validate() error {
	if math.IsNaN(d.StartFreq) || math.IsNaN(d.EndFreq) || d.StartFreq > d.EndFreq {
		return fmt.Errorf("%w: freq [%g, %g)", ErrMalformedDomain, d.StartFreq, d.EndFreq)
	}
	if math.IsNaN(d.StartTime) || math.IsNaN(d.EndTime) || d.StartTime > d.EndTime {
		return fmt.Errorf("%w: time [%g, %g)", ErrMalformedDomain, d.StartTime, d.EndTime)
	}
	return nil
}

// IsEmpty reports whether the domain has no area.
func (d ObsDomain) IsEmpty() bool {
	return d.StartFreq >= d.EndFreq || d.StartTime >= d.EndTime
}

// Intersect returns the overlap of two domains (possibly empty).
func (d ObsDomain) Intersect(o ObsDomain) ObsDomain {
	r := ObsDomain{
		StartFreq: math.Max(d.StartFreq, o.StartFreq),
		EndFreq:   math.Min(d.EndFreq, o.EndFreq),
		StartTime: math.Max(d.StartTime, o.StartTime),
		EndTime:   math.Min(d.EndTime, o.EndTime),
	}
	if r.IsEmpty() {
		return ObsDomain{}
	}
	return r
}

func (d ObsDomain) String() string {
	return fmt.Sprintf("freq [%g, %g) time [%g, %g)", d.StartFreq, d.EndFreq, d.StartTime, d.EndTime)
}

// DomainShape is the size of one work tile.
type DomainShape struct {
	FreqSize float64
	TimeSize float64
}

// NewDomainShape validates that both sizes are positive.
func NewDomainShape(freqSize, timeSize float64) (DomainShape, error) {
	s := DomainShape{FreqSize: freqSize, TimeSize: timeSize}
	if err := s.Validate(); err != nil {
		return DomainShape{}, err
	}
	return s, nil
}

// Validate checks that both sizes are positive and finite.
func (s DomainShape) Validate() error {
	if !(s.FreqSize > 0) || !(s.TimeSize > 0) || math.IsInf(s.FreqSize, 0) || math.IsInf(s.TimeSize, 0) {
		return fmt.Errorf("%w: shape %g × %g", ErrMalformedDomain, s.FreqSize, s.TimeSize)
	}
	return nil
}

// ============================================================================
// Tiling
// ============================================================================

// tileCount returns ⌈span/size⌉, at least 1 for a non-empty span.
func tileCount(span, size float64) (int, error) {
	if span <= 0 {
		return 0, nil
	}
	ratio := span / size
	if ratio > maxTiles {
		return 0, fmt.Errorf("%w: %g along one axis (limit %d)", ErrTooManyTiles, ratio, maxTiles)
	}
	n := int(math.Ceil(ratio - tileEpsilon))
	if n < 1 {
		n = 1
	}
	return n, nil
}

// tileIndex recovers the index of the tile starting at start.
func tileIndex(origin, start, size float64) int {
	return int(math.Round((start - origin) / size))
}

// TileCount returns the number of tiles along frequency and time.
//
// A shape that slices d into more than maxTiles tiles in total returns
// ErrTooManyTiles; Everything() hits this for any realistic shape.
func (d ObsDomain) TileCount(shape DomainShape) (nFreq, nTime int, err error) {
	mustShape(shape)
	if nFreq, err = tileCount(d.EndFreq-d.StartFreq, shape.FreqSize); err != nil {
		return 0, 0, err
	}
	if nTime, err = tileCount(d.EndTime-d.StartTime, shape.TimeSize); err != nil {
		return 0, 0, err
	}
	if nFreq*nTime > maxTiles {
		return 0, 0, fmt.Errorf("%w: %d x %d (limit %d)", ErrTooManyTiles, nFreq, nTime, maxTiles)
	}
	return nFreq, nTime, nil
}

// tile builds the tile at (freq index fi, time index ti).
func (d ObsDomain) tile(shape DomainShape, fi, ti, nFreq, nTime int) ObsDomain {
	t := ObsDomain{
		StartFreq: d.StartFreq + float64(fi)*shape.FreqSize,
		EndFreq:   d.StartFreq + float64(fi+1)*shape.FreqSize,
		StartTime: d.StartTime + float64(ti)*shape.TimeSize,
		EndTime:   d.StartTime + float64(ti+1)*shape.TimeSize,
	}
	if fi == nFreq-1 {
		t.EndFreq = d.EndFreq
	}
	if ti == nTime-1 {
		t.EndTime = d.EndTime
	}
	return t
}

// NextWorkDomain returns the tile following cur in raster order.
//
// Passing NotStarted() yields the first tile (lowest frequency, lowest time).
// The frequency index advances first; once it is exhausted the time index
// advances and the frequency index wraps to zero. The second return value
// is false when every tile has been produced, when d is empty, or when
// shape yields more tiles than can be enumerated (see TileCount).
//
// A non-positive shape is a programming error and panics.
func (d ObsDomain) NextWorkDomain(cur ObsDomain, shape DomainShape) (ObsDomain, bool) {
	nFreq, nTime, err := d.TileCount(shape)
	if err != nil || nFreq == 0 || nTime == 0 {
		return ObsDomain{}, false
	}
	if cur.IsEmpty() {
		return d.tile(shape, 0, 0, nFreq, nTime), true
	}

	fi := tileIndex(d.StartFreq, cur.StartFreq, shape.FreqSize)
	ti := tileIndex(d.StartTime, cur.StartTime, shape.TimeSize)
	switch {
	case fi+1 < nFreq:
		return d.tile(shape, fi+1, ti, nFreq, nTime), true
	case ti+1 < nTime:
		return d.tile(shape, 0, ti+1, nFreq, nTime), true
	default:
		return ObsDomain{}, false
	}
}

// Tiles returns every tile of d in raster order.
func (d ObsDomain) Tiles(shape DomainShape) ([]ObsDomain, error) {
	nFreq, nTime, err := d.TileCount(shape)
	if err != nil {
		return nil, err
	}
	tiles := make([]ObsDomain, 0, min(nFreq*nTime, 4096))
	for cur, ok := d.NextWorkDomain(NotStarted(), shape); ok; cur, ok = d.NextWorkDomain(cur, shape) {
		tiles = append(tiles, cur)
	}
	return tiles, nil
}

func mustShape(shape DomainShape) {
	if err := shape.Validate(); err != nil {
		panic(err)
	}
}

// ============================================================================
// Blob encoding (step payloads)
// ============================================================================

// ToBlob writes the domain as a framed object.
func (d ObsDomain) ToBlob(w *blob.Writer) {
	w.PutStart(obsDomainName, domainBlobVersion)
	w.PutFloat64(d.StartFreq)
	w.PutFloat64(d.EndFreq)
	w.PutFloat64(d.StartTime)
	w.PutFloat64(d.EndTime)
	w.PutEnd()
}

// ObsDomainFromBlob reads a domain written by ToBlob.
func ObsDomainFromBlob(r *blob.Reader) (ObsDomain, error) {
	if _, err := r.GetStart(obsDomainName); err != nil {
		return ObsDomain{}, err
	}
	d := ObsDomain{
		StartFreq: r.GetFloat64(),
		EndFreq:   r.GetFloat64(),
		StartTime: r.GetFloat64(),
		EndTime:   r.GetFloat64(),
	}
	if err := r.GetEnd(); err != nil {
		return ObsDomain{}, err
	}
	return d, nil
}

// ToBlob writes the shape as a framed object.
func (s DomainShape) ToBlob(w *blob.Writer) {
	w.PutStart(domainShapeName, domainBlobVersion)
	w.PutFloat64(s.FreqSize)
	w.PutFloat64(s.TimeSize)
	w.PutEnd()
}

// DomainShapeFromBlob reads a shape written by ToBlob.
func DomainShapeFromBlob(r *blob.Reader) (DomainShape, error) {
	if _, err := r.GetStart(domainShapeName); err != nil {
		return DomainShape{}, err
	}
	s := DomainShape{FreqSize: r.GetFloat64(), TimeSize: r.GetFloat64()}
	if err := r.GetEnd(); err != nil {
		return DomainShape{}, err
	}
	return s, nil
}
