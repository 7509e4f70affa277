package isosurface

import "github.com/liuxinren/mlsgpu/geom"

// ShipOutThreshold bounds the vertex count a single DeviceKeyMesh may
// reach before Extract ships it out mid-sweep and starts a fresh one for
// the remaining cells, keeping one work item's mesh fragment bounded
// regardless of how much surface falls inside its grid, matching the
// "ship-out" streaming behaviour of a bounded device vertex buffer.
const ShipOutThreshold = 1 << 18

// cornerSample is one evaluated grid-vertex corner of the current cube:
// its lattice coordinate, world position, field value, and normal.
type cornerSample struct {
	lattice        [3]int32
	position, norm geom.Vec3
	value          float32
	inside         bool
	ok             bool
}

// Extract walks every cube cell of grid, evaluating field at each
// lattice vertex and marching tetrahedra through the six sub-tetrahedra
// of each cube (alternating diagonal orientation by cell parity so that
// neighbouring cubes agree on any shared face's diagonal), calling
// ship whenever the in-progress mesh reaches ShipOutThreshold vertices
// and once more with the final, possibly partial, mesh. ship takes
// ownership of the mesh passed to it (Extract does not reuse it).
func Extract(field *Field, grid geom.Grid, ship func(*DeviceKeyMesh) error) error {
	mesh := NewDeviceKeyMesh()
	cells := grid.NumCells()
	cache := make(map[[3]int32]cornerSample)
	var nbrBuf []int

	sample := func(lattice [3]int32) cornerSample {
		if c, ok := cache[lattice]; ok {
			return c
		}
		world := grid.VertexToWorld(geom.Vec3{
			X: float32(lattice[0]), Y: float32(lattice[1]), Z: float32(lattice[2]),
		})
		dist, normal, ok := field.Eval(world, nbrBuf)
		c := cornerSample{lattice: lattice, position: world, norm: normal, value: dist, inside: ok && dist < 0, ok: ok}
		cache[lattice] = c
		return c
	}

	flush := func() error {
		if len(mesh.Vertices) == 0 && len(mesh.Triangles) == 0 {
			return nil
		}
		mesh.Finish()
		if err := ship(mesh); err != nil {
			return err
		}
		mesh = NewDeviceKeyMesh()
		cache = make(map[[3]int32]cornerSample)
		return nil
	}

	for cz := int32(0); cz < cells[2]; cz++ {
		for cy := int32(0); cy < cells[1]; cy++ {
			for cx := int32(0); cx < cells[0]; cx++ {
				base := [3]int32{grid.Extents[0].Lo + cx, grid.Extents[1].Lo + cy, grid.Extents[2].Lo + cz}
				var corners [8]cornerSample
				anyInside, anyOutside := false, false
				for i, off := range cubeCorner {
					lattice := [3]int32{base[0] + off[0], base[1] + off[1], base[2] + off[2]}
					c := sample(lattice)
					corners[i] = c
					if c.inside {
						anyInside = true
					} else {
						anyOutside = true
					}
				}
				if !anyInside || !anyOutside {
					continue
				}

				external := [3]bool{
					cx == 0 || cx == cells[0]-1,
					cy == 0 || cy == cells[1]-1,
					cz == 0 || cz == cells[2]-1,
				}
				onBoundary := func(lattice [3]int32) bool {
					for i := 0; i < 3; i++ {
						if !external[i] {
							continue
						}
						if lattice[i] == grid.Extents[i].Lo || lattice[i] == grid.Extents[i].Hi {
							return true
						}
					}
					return false
				}

				decomp := tetDecompA
				if (cx+cy+cz)%2 != 0 {
					decomp = tetDecompB
				}

				for _, tet := range decomp {
					mask := 0
					for i, ci := range tet {
						if corners[ci].inside {
							mask |= 1 << i
						}
					}
					tris, ok := tetCase[mask]
					if !ok {
						continue
					}
					for _, tri := range tris {
						var idx [3]uint32
						for j, e := range tri {
							edge := tetEdge[e]
							a, b := corners[tet[edge[0]]], corners[tet[edge[1]]]
							key := EdgeKey(a.lattice, b.lattice)
							ext := onBoundary(a.lattice) && onBoundary(b.lattice)
							idx[j] = mesh.AddVertex(key, ext, func() Vertex {
								return interpolateVertex(a, b)
							})
						}
						mesh.AddTriangle(idx[0], idx[1], idx[2])
					}
				}

				if len(mesh.Vertices) >= ShipOutThreshold {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}
	return flush()
}

// interpolateVertex linearly interpolates the zero crossing between two
// evaluated corners along the field value, the marching-tetrahedra
// analogue of linear interpolation along a marching-cubes edge.
func interpolateVertex(a, b cornerSample) Vertex {
	t := float32(0.5)
	denom := a.value - b.value
	if denom != 0 {
		t = a.value / denom
	}
	pos := geom.Vec3{
		X: a.position.X + t*(b.position.X-a.position.X),
		Y: a.position.Y + t*(b.position.Y-a.position.Y),
		Z: a.position.Z + t*(b.position.Z-a.position.Z),
	}
	norm := geom.Vec3{
		X: a.norm.X + t*(b.norm.X-a.norm.X),
		Y: a.norm.Y + t*(b.norm.Y-a.norm.Y),
		Z: a.norm.Z + t*(b.norm.Z-a.norm.Z),
	}
	return Vertex{Position: pos, Normal: norm}
}
