package isosurface

import (
	"testing"

	"github.com/liuxinren/mlsgpu/geom"
)

func TestAddVertexWeldsRepeatedKeys(t *testing.T) {
	m := NewDeviceKeyMesh()
	calls := 0
	interp := func() Vertex {
		calls++
		return Vertex{Position: geom.Vec3{X: 1}}
	}
	k := EncodeKey(1, 0, 0)
	a := m.AddVertex(k, false, interp)
	b := m.AddVertex(k, false, interp)
	if a != b {
		t.Errorf("repeated key returned different indices: %d vs %d", a, b)
	}
	if calls != 1 {
		t.Errorf("interpolate called %d times, want 1", calls)
	}
}

func TestFinishPartitionsInternalBeforeExternal(t *testing.T) {
	m := NewDeviceKeyMesh()
	internalKey := EncodeKey(1, 0, 0)
	externalKey := EncodeKey(0, 1, 0)

	i := m.AddVertex(internalKey, false, func() Vertex { return Vertex{} })
	e := m.AddVertex(externalKey, true, func() Vertex { return Vertex{} })
	m.AddTriangle(i, e, i)

	m.Finish()

	if m.FirstExternal != 1 {
		t.Fatalf("FirstExternal = %d, want 1", m.FirstExternal)
	}
	if len(m.Vertices) != 2 {
		t.Fatalf("len(Vertices) = %d, want 2", len(m.Vertices))
	}
	if m.Vertices[0].Key != internalKey {
		t.Errorf("internal vertex not first: got key %v", m.Vertices[0].Key)
	}
	if m.Vertices[1].Key != externalKey {
		t.Errorf("external vertex not last: got key %v", m.Vertices[1].Key)
	}
	tri := m.Triangles[0]
	if tri[0] != 0 || tri[1] != 1 || tri[2] != 0 {
		t.Errorf("triangle not remapped correctly: %v", tri)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	m := NewDeviceKeyMesh()
	m.AddVertex(EncodeKey(1, 0, 0), false, func() Vertex { return Vertex{} })
	m.Finish()
	first := append([]Vertex{}, m.Vertices...)
	m.Finish()
	if len(m.Vertices) != len(first) {
		t.Errorf("second Finish() call changed the vertex count")
	}
}

func TestAddVertexKeyBecomesExternalOnFirstExternalSighting(t *testing.T) {
	m := NewDeviceKeyMesh()
	k := EncodeKey(2, 2, 2)
	m.AddVertex(k, false, func() Vertex { return Vertex{} })
	m.AddVertex(k, true, func() Vertex { return Vertex{} })
	m.Finish()
	if m.FirstExternal != 0 {
		t.Errorf("a key seen externally even once should end up in the external tail")
	}
}
