// Package geom holds the small set of geometric primitives shared by every
// pipeline stage: the sampling Grid, axis-aligned extents, and the
// world<->cell<->vertex coordinate transforms.
package geom

import "math"

// Vec3 is a 3-component single-precision vector, used for splat positions,
// normals, and grid reference points.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns the component-wise sum.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns the component-wise difference.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Finite reports whether every component of v is finite (not NaN or Inf).
func (v Vec3) Finite() bool {
	return isFinite32(v.X) && isFinite32(v.Y) && isFinite32(v.Z)
}

func isFinite32(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Extent is a half-open, signed-32-bit integer range [Lo, Hi) along one axis.
type Extent struct {
	Lo, Hi int32
}

// Cells returns hi-lo, the number of cells spanned by the extent.
func (e Extent) Cells() int32 { return e.Hi - e.Lo }

// Vertices returns hi-lo+1, the number of lattice vertices spanned.
func (e Extent) Vertices() int32 { return e.Hi - e.Lo + 1 }

// Box3i is an axis-aligned box of three integer Extents, used both for
// bucket-index boxes and for Bucketer regions.
type Box3i struct {
	Lower, Upper [3]int32 // half-open per axis: [Lower[i], Upper[i])
}

// Equal reports whether two boxes cover exactly the same integer range.
func (b Box3i) Equal(o Box3i) bool {
	return b.Lower == o.Lower && b.Upper == o.Upper
}

// Empty reports whether the box has zero volume on any axis.
func (b Box3i) Empty() bool {
	for i := 0; i < 3; i++ {
		if b.Upper[i] <= b.Lower[i] {
			return true
		}
	}
	return false
}

// Cells returns the per-axis cell counts.
func (b Box3i) Cells() [3]int32 {
	var c [3]int32
	for i := 0; i < 3; i++ {
		c[i] = b.Upper[i] - b.Lower[i]
	}
	return c
}

// AABB is a floating-point axis-aligned bounding box, accumulated while
// scanning splats.
type AABB struct {
	Min, Max Vec3
	valid    bool
}

// Reset clears the box back to empty.
func (b *AABB) Reset() { *b = AABB{} }

// Valid reports whether at least one point has been merged in.
func (b *AABB) Valid() bool { return b.valid }

// MergePoint expands the box to include p.
func (b *AABB) MergePoint(p Vec3) {
	if !b.valid {
		b.Min, b.Max = p, p
		b.valid = true
		return
	}
	b.Min.X, b.Max.X = min32(b.Min.X, p.X), max32(b.Max.X, p.X)
	b.Min.Y, b.Max.Y = min32(b.Min.Y, p.Y), max32(b.Max.Y, p.Y)
	b.Min.Z, b.Max.Z = min32(b.Min.Z, p.Z), max32(b.Max.Z, p.Z)
}

// MergeSphere expands the box to include a sphere of the given center and
// radius, as used when accumulating the bounding box over splat "spheres"
//.
func (b *AABB) MergeSphere(center Vec3, radius float32) {
	b.MergePoint(Vec3{center.X - radius, center.Y - radius, center.Z - radius})
	b.MergePoint(Vec3{center.X + radius, center.Y + radius, center.Z + radius})
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Grid is the regular sampling lattice: a world reference point,
// isotropic spacing, and per-axis integer extents.
type Grid struct {
	Reference Vec3
	Spacing   float32
	Extents   [3]Extent
}

// NumCells returns the per-axis cell counts.
func (g Grid) NumCells() [3]int32 {
	var c [3]int32
	for i := 0; i < 3; i++ {
		c[i] = g.Extents[i].Cells()
	}
	return c
}

// NumVertices returns the per-axis vertex counts.
func (g Grid) NumVertices() [3]int32 {
	var c [3]int32
	for i := 0; i < 3; i++ {
		c[i] = g.Extents[i].Vertices()
	}
	return c
}

// WorldToCell floor-divides a world position by the grid spacing, relative
// to the reference point, yielding the cell index (not offset by Lo).
func (g Grid) WorldToCell(p Vec3) [3]int32 {
	rel := p.Sub(g.Reference)
	return [3]int32{
		int32(math.Floor(float64(rel.X / g.Spacing))),
		int32(math.Floor(float64(rel.Y / g.Spacing))),
		int32(math.Floor(float64(rel.Z / g.Spacing))),
	}
}

// WorldToVertex maps a world position into fractional grid-vertex
// coordinates: an affine transform, not floor-divided, so that the
// DeviceWorker can interpolate within a cell.
func (g Grid) WorldToVertex(p Vec3) Vec3 {
	rel := p.Sub(g.Reference)
	return Vec3{rel.X / g.Spacing, rel.Y / g.Spacing, rel.Z / g.Spacing}
}

// VertexToWorld is the inverse of WorldToVertex, used when emitting final
// mesh vertex positions.
func (g Grid) VertexToWorld(v Vec3) Vec3 {
	return Vec3{
		g.Reference.X + v.X*g.Spacing,
		g.Reference.Y + v.Y*g.Spacing,
		g.Reference.Z + v.Z*g.Spacing,
	}
}

// SubExtent constructs a new Grid sharing this Grid's reference and
// spacing but restricted to the given per-axis sub-extents.
func (g Grid) SubExtent(e [3]Extent) Grid {
	return Grid{Reference: g.Reference, Spacing: g.Spacing, Extents: e}
}

// Low returns the world-space position of the grid's low corner, i.e. the
// origin a sub-grid would use if it started at this grid's low extents.
func (g Grid) Low() Vec3 {
	return Vec3{
		g.Reference.X + float32(g.Extents[0].Lo)*g.Spacing,
		g.Reference.Y + float32(g.Extents[1].Lo)*g.Spacing,
		g.Reference.Z + float32(g.Extents[2].Lo)*g.Spacing,
	}
}

// WorldToBucketBox computes the bucket-index box of a splat at the given
// (spacing, bucketSize): the fixed footprint used to group consecutive
// splats into Blobs.
func WorldToBucketBox(center Vec3, radius, spacing float32, bucketSize int32) Box3i {
	cellLo := [3]int32{
		int32(math.Floor(float64((center.X - radius) / spacing))),
		int32(math.Floor(float64((center.Y - radius) / spacing))),
		int32(math.Floor(float64((center.Z - radius) / spacing))),
	}
	cellHi := [3]int32{
		int32(math.Floor(float64((center.X + radius) / spacing))) + 1,
		int32(math.Floor(float64((center.Y + radius) / spacing))) + 1,
		int32(math.Floor(float64((center.Z + radius) / spacing))) + 1,
	}
	var b Box3i
	for i := 0; i < 3; i++ {
		b.Lower[i] = floorDiv(cellLo[i], bucketSize)
		b.Upper[i] = floorDiv(cellHi[i]-1, bucketSize) + 1
	}
	return b
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// BoundingGrid expands an AABB outward to integer multiples of bucketSize
// grid cells (snapping low extents down, high extents up) at the given
// spacing, producing the run's bounding grid.
func BoundingGrid(box AABB, spacing float32, bucketSize int32) Grid {
	g := Grid{Reference: Vec3{}, Spacing: spacing}
	lo := [3]float32{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float32{box.Max.X, box.Max.Y, box.Max.Z}
	for i := 0; i < 3; i++ {
		loCell := int32(math.Floor(float64(lo[i] / spacing)))
		hiCell := int32(math.Ceil(float64(hi[i] / spacing)))
		loBucket := floorDiv(loCell, bucketSize) * bucketSize
		hiBucket := (floorDiv(hiCell-1, bucketSize) + 1) * bucketSize
		g.Extents[i] = Extent{Lo: loBucket, Hi: hiBucket}
	}
	return g
}
