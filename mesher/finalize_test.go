package mesher

import (
	"os"
	"testing"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/isosurface"
)

func TestKeptRootsPrunesSmallComponents(t *testing.T) {
	// Total across the 3 roots is 17 vertices; a 0.15 threshold requires
	// at least 2.55 vertices to survive, pruning only the 2-vertex root.
	m := &Mesher{opts: Options{PruneThreshold: 0.15}}
	m.clumps = []clump{
		{parent: 0, size: 1, vertices: 5},
		{parent: 1, size: 1, vertices: 2},
		{parent: 2, size: 1, vertices: 10},
	}
	roots := m.keptRoots()
	if len(roots) != 2 {
		t.Fatalf("keptRoots() = %v, want 2 surviving roots", roots)
	}
	if roots[0] != 0 || roots[1] != 2 {
		t.Errorf("keptRoots() = %v, want [0 2]", roots)
	}
}

func TestKeptRootsSkipsNonRootClumps(t *testing.T) {
	m := &Mesher{opts: Options{PruneThreshold: 0}}
	m.clumps = []clump{
		{parent: 1, size: 1, vertices: 1}, // merged into 1, not a root
		{parent: 1, size: 2, vertices: 4},
	}
	roots := m.keptRoots()
	if len(roots) != 1 || roots[0] != 1 {
		t.Errorf("keptRoots() = %v, want [1]", roots)
	}
}

func TestPackChunksNeverSplitsAComponent(t *testing.T) {
	m := &Mesher{opts: Options{MaxVerticesPerChunk: 10}}
	m.clumps = []clump{
		{vertices: 6, triangles: 1},
		{vertices: 6, triangles: 1},
		{vertices: 3, triangles: 1},
	}
	chunkOf, verts, tris := m.packChunks([]int32{0, 1, 2})

	if len(verts) != 2 {
		t.Fatalf("packed into %d chunks, want 2", len(verts))
	}
	if chunkOf[0] != 0 {
		t.Errorf("component 0 should start chunk 0")
	}
	if chunkOf[1] == chunkOf[0] {
		t.Errorf("component 1 (6 verts) should not fit alongside component 0 (6 verts) in a 10-vertex chunk")
	}
	if chunkOf[2] != chunkOf[1] {
		t.Errorf("component 2 (3 verts) should pack into the same chunk as component 1")
	}
	if verts[chunkOf[1]] != 9 {
		t.Errorf("second chunk vertex total = %d, want 9", verts[chunkOf[1]])
	}
	_ = tris
}

func TestPackChunksDefaultsLimitWhenUnset(t *testing.T) {
	m := &Mesher{opts: Options{}}
	m.clumps = []clump{{vertices: 1000}}
	chunkOf, verts, _ := m.packChunks([]int32{0})
	if len(verts) != 1 || chunkOf[0] != 0 {
		t.Errorf("a single component should always land in chunk 0")
	}
}

func TestFinalizeWritesOneChunkForASingleFragment(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Options{
		Dir:        dir,
		OutputBase: dir + "/out",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	frag := twoTriangleFragment(isosurface.EncodeKey(7, 7, 7), geom.Vec3{})
	if err := m.AddFragment(frag); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}

	stats, err := m.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("Finalize() produced %d chunks, want 1", len(stats))
	}
	if stats[0].Vertices != 2 {
		t.Errorf("chunk vertex count = %d, want 2", stats[0].Vertices)
	}
	if _, err := os.Stat(stats[0].Path); err != nil {
		t.Errorf("chunk file missing: %v", err)
	}
}

func TestFinalizePrunesComponentsBelowMinimum(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Options{
		Dir:            dir,
		OutputBase:     dir + "/out",
		PruneThreshold: 0.5,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	// Two fragments sharing a key merge into one 3-vertex component; a
	// third, unrelated fragment stays a separate 2-vertex component. Out
	// of 5 total vertices, a 0.5 threshold requires 2.5 to survive, so
	// only the 2-vertex component is pruned.
	shared := isosurface.EncodeKey(7, 7, 7)
	if err := m.AddFragment(twoTriangleFragment(shared, geom.Vec3{})); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	if err := m.AddFragment(twoTriangleFragment(shared, geom.Vec3{})); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	if err := m.AddFragment(twoTriangleFragment(isosurface.EncodeKey(9, 9, 9), geom.Vec3{})); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}

	stats, err := m.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("Finalize() produced %d chunks, want 1", len(stats))
	}
	if stats[0].Vertices != 3 {
		t.Errorf("surviving chunk vertex count = %d, want 3", stats[0].Vertices)
	}
}
