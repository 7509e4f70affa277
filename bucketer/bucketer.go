// Package bucketer implements a recursive spatial partitioner: given a
// Set exposing a blob stream and a splat stream, it emits leaf bins whose
// splat count and cell extent fit configured limits, reused at both the
// host (outer, BlobIndex-backed) and device (inner, in-memory) scales.
package bucketer

import (
	"github.com/liuxinren/mlsgpu/blobindex"
	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/splat"
	"github.com/liuxinren/mlsgpu/stats"
)

// Set is the blob-stream/splat-stream abstraction the Bucketer recurses
// over. blobindex.Index (wrapped by BlobIndexSet) implements it for the
// outer, disk-backed stage; MemSet implements it for the inner,
// in-memory stage over one coarse bin's splats.
type Set interface {
	// BlobStream yields every Blob whose bucket box intersects region, in
	// ID order.
	BlobStream(region geom.Box3i, f func(blobindex.Blob) error) error
	// SplatStream yields every splat in r, in ID order, used to split a
	// blob whose box straddles a query cell.
	SplatStream(r splat.Range, f func(s splat.Splat, id splat.GlobalID) error) error
}

// Recursion tracks where in the recursive partition tree the current bin
// lies, for cycle-free reentry into the Bucketer.
type Recursion struct {
	Depth       int
	TotalRanges int64
	Chunk       [3]int32
}

// Limits bounds one Bucketer invocation.
type Limits struct {
	MaxSplats int64
	MaxCells  int32
	MaxSplit  int32
	Chunk     bool
	// MaxTotalRanges is the soft budget on cumulative emitted ranges
	// across the whole recursion; exceeding it aborts with a
	// DensityError.
	MaxTotalRanges int64
}

// LeafFunc is invoked once per leaf bin with (set, numSplats, ranges,
// binGrid, recursionState); ranges are guaranteed non-overlapping and
// sorted within one callback.
type LeafFunc func(set Set, numSplats int64, ranges []splat.Range, binGrid geom.Grid, rec Recursion) error

// state carries the mutable cross-call recursion counters, threaded by
// pointer through the recursive descent without becoming part of the
// public Recursion value handed to callbacks (which is a per-call
// snapshot).
type state struct {
	totalRanges int64
	reg         *stats.Registry
}

// Run drives the recursive partition of region (spacing/bucketSize
// implied by the Set's bucket boxes) under limits, invoking leaf for
// every emitted leaf bin.
func Run(set Set, region geom.Grid, spacing float32, bucketSize int32, limits Limits, rec Recursion, reg *stats.Registry, leaf LeafFunc) error {
	st := &state{reg: reg}
	return descend(set, region, spacing, bucketSize, limits, rec, st, leaf)
}

func regionBox(region geom.Grid) geom.Box3i {
	var b geom.Box3i
	for i := 0; i < 3; i++ {
		b.Lower[i] = region.Extents[i].Lo
		b.Upper[i] = region.Extents[i].Hi
	}
	return b
}

func descend(set Set, region geom.Grid, spacing float32, bucketSize int32, limits Limits, rec Recursion, st *state, leaf LeafFunc) error {
	box := regionBox(region)
	cells := box.Cells()
	fitsCells := cells[0] <= limits.MaxCells && cells[1] <= limits.MaxCells && cells[2] <= limits.MaxCells

	numSplats, err := countSplats(set, box)
	if err != nil {
		return err
	}

	if fitsCells && numSplats <= limits.MaxSplats {
		ranges, err := collectRanges(set, box, spacing, bucketSize)
		if err != nil {
			return err
		}
		if st.reg != nil {
			st.reg.BucketerLeaves.Add(1)
		}
		st.totalRanges += int64(len(ranges))
		if limits.MaxTotalRanges > 0 && st.totalRanges > limits.MaxTotalRanges {
			return mlserr.DensityErrorf("Bucketer exceeded the total-ranges budget (%d); increase --max-device-splats or --max-host-splats", limits.MaxTotalRanges)
		}
		rec.TotalRanges = st.totalRanges
		return leaf(set, numSplats, ranges, region, rec)
	}

	if cells[0] <= 1 && cells[1] <= 1 && cells[2] <= 1 {
		if st.reg != nil {
			st.reg.BucketerDensitySplits.Add(1)
		}
		return mlserr.DensityErrorf("a single leaf bin has %d splats, exceeding the per-leaf limit of %d; increase the relevant --max-*-splats option", numSplats, limits.MaxSplats)
	}

	axis := splitAxis(cells, limits.MaxCells)
	children, err := splitExtent(region.Extents[axis], limits.MaxSplit)
	if err != nil {
		return err
	}
	if st.reg != nil {
		st.reg.BucketerDensitySplits.Add(1)
	}
	for _, e := range children {
		childExtents := region.Extents
		childExtents[axis] = e
		childRegion := region.SubExtent(childExtents)
		childRec := rec
		childRec.Depth++
		childRec.Chunk[axis] = e.Lo / limits.MaxCells
		if err := descend(set, childRegion, spacing, bucketSize, limits, childRec, st, leaf); err != nil {
			return err
		}
	}
	return nil
}

// splitAxis picks the axis most in need of splitting: the one whose cell
// extent most exceeds maxCells, tie-broken by largest absolute extent, so
// the split reduces the over-dense axis the most.
func splitAxis(cells [3]int32, maxCells int32) int {
	best := 0
	bestOver := cells[0] - maxCells
	for i := 1; i < 3; i++ {
		over := cells[i] - maxCells
		if over > bestOver {
			bestOver = over
			best = i
		}
	}
	if bestOver <= 0 {
		// No axis individually exceeds maxCells; the volume as a whole
		// is still too dense, so split the axis with the largest extent.
		best = 0
		for i := 1; i < 3; i++ {
			if cells[i] > cells[best] {
				best = i
			}
		}
	}
	return best
}

// splitExtent partitions e into at most maxSplit contiguous
// sub-extents, each at least one cell wide.
func splitExtent(e geom.Extent, maxSplit int32) ([]geom.Extent, error) {
	total := e.Cells()
	if total <= 1 {
		return nil, mlserr.DensityErrorf("cannot split a single-cell extent further")
	}
	n := maxSplit
	if int64(n) > int64(total) {
		n = total
	}
	if n < 2 {
		n = 2
	}
	out := make([]geom.Extent, 0, n)
	base := total / n
	rem := total % n
	lo := e.Lo
	for i := int32(0); i < n; i++ {
		width := base
		if i < rem {
			width++
		}
		if width == 0 {
			continue
		}
		out = append(out, geom.Extent{Lo: lo, Hi: lo + width})
		lo += width
	}
	return out, nil
}

// countSplats streams the blobs overlapping box to estimate the splat
// count without decoding splats individually.
func countSplats(set Set, box geom.Box3i) (int64, error) {
	var n int64
	err := set.BlobStream(box, func(b blobindex.Blob) error {
		n += int64(b.Last - b.First)
		return nil
	})
	return n, err
}

// collectRanges gathers the sorted, non-overlapping splat ranges
// belonging to a leaf bin: a blob wholly inside box contributes one
// range; a blob whose box straddles box is split by descending into its
// underlying splat stream, duplicating any splat whose own
// radius-inflated box also touches box.
func collectRanges(set Set, box geom.Box3i, spacing float32, bucketSize int32) ([]splat.Range, error) {
	var ranges []splat.Range
	err := set.BlobStream(box, func(b blobindex.Blob) error {
		if contains(box, b.Box) {
			ranges = append(ranges, splat.Range{First: b.First, Last: b.Last})
			return nil
		}
		var runFirst, runLast splat.GlobalID
		haveRun := false
		flush := func() {
			if haveRun {
				ranges = append(ranges, splat.Range{First: runFirst, Last: runLast})
				haveRun = false
			}
		}
		err := set.SplatStream(splat.Range{First: b.First, Last: b.Last}, func(s splat.Splat, id splat.GlobalID) error {
			sb := geom.WorldToBucketBox(s.Position, s.Radius, spacing, bucketSize)
			if !boxesIntersect(sb, box) {
				flush()
				return nil
			}
			if haveRun && id == runLast {
				runLast = id + 1
			} else {
				flush()
				runFirst, runLast, haveRun = id, id+1, true
			}
			return nil
		})
		flush()
		return err
	})
	return ranges, err
}

func contains(outer, inner geom.Box3i) bool {
	for i := 0; i < 3; i++ {
		if inner.Lower[i] < outer.Lower[i] || inner.Upper[i] > outer.Upper[i] {
			return false
		}
	}
	return true
}

func boxesIntersect(a, b geom.Box3i) bool {
	for i := 0; i < 3; i++ {
		if a.Upper[i] <= b.Lower[i] || b.Upper[i] <= a.Lower[i] {
			return false
		}
	}
	return true
}
