package mesher

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/plyio"
)

// ChunkStats reports one written chunk's contents, for --statistics.
type ChunkStats struct {
	Path      string
	Vertices  uint64
	Triangles uint64
}

// vertexLoc is where one global vertex index landed after pruning: which
// output chunk, and its local index within that chunk's PLY file.
type vertexLoc struct {
	chunk int
	local uint32
}

// Finalize prunes components smaller than opts.PruneThreshold's fraction
// of the total candidate vertex count,
// packs the surviving components into chunk files of at most
// opts.MaxVerticesPerChunk vertices each (a whole component is never
// split across chunks, since a PLY face list's indices are local to one
// file, so a component larger than the limit gets a chunk of its own
// that exceeds it), and writes them via plyio.Writer. It streams the staged
// vertices/triangles twice — once to assign chunk/local indices, once to
// emit them — rather than materializing the kept mesh in memory twice
// over, though the chunk assignment map itself is held in memory for the
// run's lifetime (see DESIGN.md).
func (m *Mesher) Finalize() ([]ChunkStats, error) {
	roots := m.keptRoots()
	chunkOf, chunkVerts, chunkTris := m.packChunks(roots)

	locs := make(map[int64]vertexLoc, len(roots)*64)
	nextLocal := make([]uint32, len(chunkVerts))

	var globalIdx int64
	err := m.vertices.Each(func(rec []byte) error {
		clumpID := int32(binary.LittleEndian.Uint32(rec[12:16]))
		root := m.find(clumpID)
		chunk, kept := chunkOf[root]
		if kept {
			local := nextLocal[chunk]
			if uint64(local) >= uint64(1)<<32-1 {
				return mlserr.OverflowErrorf(chunkName(m.opts.OutputBase, chunk), "exceeds 2^32 vertices")
			}
			locs[globalIdx] = vertexLoc{chunk: chunk, local: local}
			nextLocal[chunk]++
		}
		globalIdx++
		return nil
	})
	if err != nil {
		return nil, err
	}

	writers := make([]*plyio.Writer, len(chunkVerts))
	stats := make([]ChunkStats, len(chunkVerts))
	for c := range chunkVerts {
		path := chunkName(m.opts.OutputBase, c)
		f, err := os.Create(path)
		if err != nil {
			return nil, mlserr.IOErrorf(path, err)
		}
		w := plyio.NewWriter(f)
		if err := w.DeclareTotals(chunkVerts[c], chunkTris[c], []plyio.Comment{plyio.VersionComment()}); err != nil {
			return nil, mlserr.IOErrorf(path, err)
		}
		writers[c] = w
		stats[c] = ChunkStats{Path: path, Vertices: chunkVerts[c], Triangles: chunkTris[c]}
	}

	globalIdx = 0
	err = m.vertices.Each(func(rec []byte) error {
		loc, ok := locs[globalIdx]
		globalIdx++
		if !ok {
			return nil
		}
		p := geom.Vec3{
			X: math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12])),
		}
		return writers[loc.chunk].AppendVertex(p)
	})
	if err != nil {
		return nil, err
	}
	if m.reg != nil {
		m.reg.VerticesWritten.Add(int64(len(locs)))
	}

	var triWritten int64
	err = m.triangles.Each(func(rec []byte) error {
		a := int64(binary.LittleEndian.Uint32(rec[0:4]))
		b := int64(binary.LittleEndian.Uint32(rec[4:8]))
		c := int64(binary.LittleEndian.Uint32(rec[8:12]))
		la, okA := locs[a]
		lb, okB := locs[b]
		lc, okC := locs[c]
		if !okA || !okB || !okC {
			return nil // belongs to a pruned component
		}
		if la.chunk != lb.chunk || la.chunk != lc.chunk {
			return fmt.Errorf("mesher: triangle spans chunks %d/%d/%d; component/chunk packing invariant violated", la.chunk, lb.chunk, lc.chunk)
		}
		triWritten++
		return writers[la.chunk].AppendTriangle(la.local, lb.local, lc.local)
	})
	if err != nil {
		return nil, err
	}
	if m.reg != nil {
		m.reg.TrianglesWritten.Add(triWritten)
		m.reg.ChunksWritten.Add(int64(len(writers)))
	}

	for _, w := range writers {
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// keptRoots returns every clump root surviving PruneThreshold pruning, in
// ascending clump-index order (deterministic chunk packing). A root is
// pruned when its vertex count is less than PruneThreshold times the
// total vertex count summed across all root components, so the same
// --fit-prune value scales with the size of the run rather than naming
// an absolute vertex floor.
func (m *Mesher) keptRoots() []int32 {
	var allRoots []int32
	var total int64
	for i := range m.clumps {
		i32 := int32(i)
		if m.find(i32) != i32 {
			continue
		}
		allRoots = append(allRoots, i32)
		total += m.clumps[i].vertices
	}

	threshold := m.opts.PruneThreshold * float64(total)

	var roots []int32
	var pruned int64
	for _, i32 := range allRoots {
		if float64(m.clumps[i32].vertices) < threshold {
			pruned++
			continue
		}
		roots = append(roots, i32)
	}
	if m.reg != nil {
		m.reg.ClumpsPruned.Add(pruned)
	}
	return roots
}

// packChunks greedily bins kept components into chunks of at most
// MaxVerticesPerChunk vertices, never splitting a component, returning
// the root->chunk assignment and each chunk's totals.
func (m *Mesher) packChunks(roots []int32) (map[int32]int, []uint64, []uint64) {
	chunkOf := make(map[int32]int, len(roots))
	var verts, tris []uint64
	cur := -1
	var curVerts uint64
	limit := m.opts.MaxVerticesPerChunk
	if limit <= 0 {
		limit = 1 << 24
	}
	for _, r := range roots {
		v := uint64(m.clumps[r].vertices)
		if cur == -1 || curVerts+v > uint64(limit) {
			cur++
			verts = append(verts, 0)
			tris = append(tris, 0)
			curVerts = 0
		}
		chunkOf[r] = cur
		verts[cur] += v
		tris[cur] += uint64(m.clumps[r].triangles)
		curVerts += v
	}
	return chunkOf, verts, tris
}

func chunkName(base string, index int) string {
	return fmt.Sprintf("%s_%04d_%04d_%04d.ply", base, index, 0, 0)
}
