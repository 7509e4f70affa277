package isosurface

import "github.com/liuxinren/mlsgpu/geom"

// Vertex is one extracted mesh vertex: its world position, its
// (unnormalized) normal direction, and the Key of the tetrahedron edge
// it was interpolated on.
type Vertex struct {
	Position geom.Vec3
	Normal   geom.Vec3
	Key      Key
}

// Triangle indexes three Vertex entries within the same mesh fragment.
type Triangle [3]uint32

// DeviceKeyMesh accumulates one device work item's output. Vertices are
// welded by Key as they are added (AddVertex returns the existing index
// for a repeated edge); Finish() then partitions them so internal
// vertices — those never touched by the work item's own boundary face —
// occupy [0,FirstExternal) and external vertices, the ones a
// neighbouring fragment may re-key against, occupy
// [FirstExternal,len(Vertices)), renumbering Triangles to match. Internal
// vertices never need a cross-fragment key lookup; external ones do, so
// keeping them in a contiguous tail lets the mesher only ever index into
// that tail when stitching fragments together.
type DeviceKeyMesh struct {
	Vertices      []Vertex
	Triangles     []Triangle
	FirstExternal uint32

	external map[Key]struct{}
	keyIndex map[Key]uint32
	finished bool
}

// NewDeviceKeyMesh returns an empty mesh ready to accept AddVertex calls.
func NewDeviceKeyMesh() *DeviceKeyMesh {
	return &DeviceKeyMesh{
		external: make(map[Key]struct{}),
		keyIndex: make(map[Key]uint32),
	}
}

// AddVertex returns the index of the vertex for key in pre-Finish
// insertion order, interpolating and inserting a new one via
// interpolate() on first use. external marks whether the edge lies on
// the work item's own boundary face; a key seen as external even once is
// treated as external for the lifetime of the mesh.
func (m *DeviceKeyMesh) AddVertex(key Key, external bool, interpolate func() Vertex) uint32 {
	if external {
		m.external[key] = struct{}{}
	}
	if idx, ok := m.keyIndex[key]; ok {
		return idx
	}
	v := interpolate()
	v.Key = key
	idx := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, v)
	m.keyIndex[key] = idx
	return idx
}

// AddTriangle appends a triangle referencing three vertex indices already
// returned by AddVertex.
func (m *DeviceKeyMesh) AddTriangle(a, b, c uint32) {
	m.Triangles = append(m.Triangles, Triangle{a, b, c})
}

// Finish partitions Vertices into the internal-then-external layout
// described on DeviceKeyMesh and renumbers Triangles to match. It is
// idempotent; calling it more than once is a no-op.
func (m *DeviceKeyMesh) Finish() {
	if m.finished {
		return
	}
	m.finished = true

	remap := make([]uint32, len(m.Vertices))
	out := make([]Vertex, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		if _, ext := m.external[v.Key]; !ext {
			remap[i] = uint32(len(out))
			out = append(out, v)
		}
	}
	m.FirstExternal = uint32(len(out))
	for i, v := range m.Vertices {
		if _, ext := m.external[v.Key]; ext {
			remap[i] = uint32(len(out))
			out = append(out, v)
		}
	}
	m.Vertices = out
	for i, t := range m.Triangles {
		m.Triangles[i] = Triangle{remap[t[0]], remap[t[1]], remap[t[2]]}
	}
}

// HostKeyMesh is the host-scale counterpart: the type the pipeline
// package threads between DeviceWorker and the mesher's Clump
// accumulation, one fragment at a time. Host-scale assembly never
// materializes a second, larger vertex buffer of its own — that would
// defeat the point of streaming fragments through the mesher instead.
type HostKeyMesh = DeviceKeyMesh
