// Package splat defines the Splat record and the global-ID encoding shared
// by SplatStore, BlobIndex, and Bucketer.
package splat

import (
	"math"

	"github.com/liuxinren/mlsgpu/geom"
)

// Splat is an immutable oriented point-cloud primitive: position, radius,
// normal, and quality weight.
type Splat struct {
	Position geom.Vec3
	Radius   float32
	Normal   geom.Vec3
	Quality  float32
}

// Finite reports whether every component is finite and Radius > 0.
func (s Splat) Finite() bool {
	return s.Position.Finite() && s.Normal.Finite() &&
		!math.IsNaN(float64(s.Radius)) && !math.IsInf(float64(s.Radius), 0) &&
		s.Radius > 0 &&
		!math.IsNaN(float64(s.Quality)) && !math.IsInf(float64(s.Quality), 0)
}

// FileIDShift is the bit position at which the source-file selector begins
// within a splat global ID. This leaves 2^40 (>10^12) addressable splats per file.
const FileIDShift = 40

// GlobalID is the 64-bit splat identifier: high bits select the source
// file, low bits address the splat within that file.
type GlobalID uint64

// MakeGlobalID packs a file index and an in-file splat index into a
// GlobalID.
func MakeGlobalID(file uint32, index uint64) GlobalID {
	return GlobalID(uint64(file)<<FileIDShift | (index & (1<<FileIDShift - 1)))
}

// File returns the source-file selector.
func (id GlobalID) File() uint32 { return uint32(uint64(id) >> FileIDShift) }

// Index returns the in-file splat index.
func (id GlobalID) Index() uint64 { return uint64(id) & (1<<FileIDShift - 1) }

// Range is a half-open range of global IDs [First, Last).
type Range struct {
	First, Last GlobalID
}

// Empty reports whether the range contains no IDs.
func (r Range) Empty() bool { return r.Last <= r.First }

// Len returns the number of IDs in the range.
func (r Range) Len() uint64 { return uint64(r.Last - r.First) }

// FileRange splits a GlobalID range into the sub-ranges it touches within
// individual files. Ranges whose file index changes
// mid-range are split at the boundary.
func FileRange(r Range) []Range {
	if r.Empty() {
		return nil
	}
	var out []Range
	first := r.First
	for first < r.Last {
		file := first.File()
		fileEnd := MakeGlobalID(file+1, 0)
		last := r.Last
		if fileEnd < last {
			last = fileEnd
		}
		out = append(out, Range{First: first, Last: last})
		first = last
	}
	return out
}
