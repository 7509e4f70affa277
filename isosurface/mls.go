package isosurface

import (
	"math"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/splat"
)

// Field evaluates an implicit moving-least-squares distance field built
// from a fixed set of splats, the CPU stand-in for the accelerator
// evaluator. Nearby-splat lookups use a uniform spatial hash grid keyed
// by cell coordinate rather than a splat octree: with the splats for one
// device work item already resident in memory, a single flat hash keyed
// by cell gives the same O(1)-expected neighbour query a shallow octree
// would, without a tree-building pass; see DESIGN.md.
type Field struct {
	splats   []splat.Splat
	smooth   float32
	cellSize float32
	grid     map[[3]int32][]int
}

// DefaultSmooth is the MLS radius multiplier NewField falls back to when
// given a non-positive smooth, matching the CLI's --fit-smooth default.
const DefaultSmooth = 4

// NewField indexes splats into a uniform grid with cells sized to the
// mean splat radius scaled by smooth (falling back to 1 if splats is
// empty or every splat has zero radius), as a stand-in octree leaf size.
// smooth is the --fit-smooth multiplier: each splat's neighbour search
// and weighting radius in Eval is its own Radius times smooth, so larger
// values pull in more distant splats and produce a smoother surface.
func NewField(splats []splat.Splat, smooth float32) *Field {
	if smooth <= 0 {
		smooth = DefaultSmooth
	}
	f := &Field{splats: splats, smooth: smooth, grid: make(map[[3]int32][]int)}
	f.cellSize = meanRadius(splats) * smooth
	if f.cellSize <= 0 {
		f.cellSize = 1
	}
	for i, s := range splats {
		c := f.cellOf(s.Position)
		f.grid[c] = append(f.grid[c], i)
	}
	return f
}

func meanRadius(splats []splat.Splat) float32 {
	if len(splats) == 0 {
		return 0
	}
	var sum float32
	for _, s := range splats {
		sum += s.Radius
	}
	return sum / float32(len(splats))
}

func (f *Field) cellOf(p geom.Vec3) [3]int32 {
	return [3]int32{
		int32(math.Floor(float64(p.X / f.cellSize))),
		int32(math.Floor(float64(p.Y / f.cellSize))),
		int32(math.Floor(float64(p.Z / f.cellSize))),
	}
}

// neighbours appends the indices of every splat within the 3x3x3 block
// of grid cells around p to dst, a superset of the splats whose support
// radius can reach p for any radius <= cellSize; Eval additionally
// filters by exact distance.
func (f *Field) neighbours(p geom.Vec3, dst []int) []int {
	c := f.cellOf(p)
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				dst = append(dst, f.grid[[3]int32{c[0] + dx, c[1] + dy, c[2] + dz}]...)
			}
		}
	}
	return dst
}

// Density counts the splats within p's smoothing radius, the same
// candidate set Eval itself weighs against, as a coarse local splat
// density a caller can compare against a minimum to decide whether the
// surface is well-enough supported there to keep, e.g. near a region
// boundary where a device work item's own splats thin out. buf is
// reused across calls the way Eval's caller reuses its neighbour buffer.
func (f *Field) Density(p geom.Vec3, buf []int) (count int, rest []int) {
	buf = f.neighbours(p, buf[:0])
	for _, idx := range buf {
		s := f.splats[idx]
		d := p.Sub(s.Position)
		r2 := d.X*d.X + d.Y*d.Y + d.Z*d.Z
		radius := s.Radius * f.smooth
		if s.Radius <= 0 || r2 > radius*radius {
			continue
		}
		count++
	}
	return count, buf
}

// Eval returns the signed MLS distance at p and its (unnormalized)
// gradient direction, weighting each nearby splat's signed plane
// distance by an inverse-square falloff within its radius. It returns
// ok=false when no splat is within range, the "distance field is
// undefined" case a caller treats as outside the surface.
func (f *Field) Eval(p geom.Vec3, buf []int) (dist float32, normal geom.Vec3, ok bool) {
	buf = f.neighbours(p, buf[:0])
	var wsum, dsum float32
	var nsum geom.Vec3
	for _, idx := range buf {
		s := f.splats[idx]
		d := p.Sub(s.Position)
		r2 := d.X*d.X + d.Y*d.Y + d.Z*d.Z
		radius := s.Radius * f.smooth
		if s.Radius <= 0 || r2 > radius*radius {
			continue
		}
		w := 1 / (r2/(radius*radius) + 1e-6)
		signedDist := d.X*s.Normal.X + d.Y*s.Normal.Y + d.Z*s.Normal.Z
		wsum += w
		dsum += w * signedDist
		nsum = nsum.Add(s.Normal.Scale(w))
	}
	if wsum == 0 {
		return 0, geom.Vec3{}, false
	}
	dist = dsum / wsum
	normal = nsum.Scale(1 / wsum)
	return dist, normal, true
}
