// Package mesher assembles the mesh fragments DeviceWorkers produce into
// chunked, pruned output: a persistent key->vertex map reunites vertices
// that two fragments both emitted on a shared boundary (generalizing the
// teacher's storage/badger engine from versioned image blocks to a
// cross-fragment vertex index), a union-find Clump tracks each resulting
// connected component's size so small, likely-spurious components can be
// pruned, and two extvector.Vectors stage the kept vertices/triangles
// before they are streamed out in bounded chunks by plyio.Writer.
package mesher

import (
	"encoding/binary"
	"math"

	"github.com/dgraph-io/badger/v3"
	"github.com/twinj/uuid"

	"github.com/liuxinren/mlsgpu/extvector"
	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/isosurface"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/stats"
)

// clump is one union-find node: a connected component's representative
// tracks its own cumulative vertex/triangle counts. An external vertex
// already seen by an earlier fragment is never counted twice: AddFragment
// reuses its existing global index and clump instead of creating a new
// one, so a union simply adds the two components' counts.
type clump struct {
	parent   int32
	size     int32
	vertices int64
	triangles int64
}

// Options configures Finalize's pruning and chunking behaviour.
type Options struct {
	// PruneThreshold drops any connected component whose vertex count is
	// less than this fraction of the total candidate vertex count across
	// all root components; 0 disables pruning.
	PruneThreshold float64
	// MaxVerticesPerChunk bounds one output chunk.
	MaxVerticesPerChunk int64
	// OutputBase is the filename prefix chunk names are built from.
	OutputBase string
	// Dir is where the badger key map and extvector spill files live.
	Dir string
}

// Mesher accumulates fragments across an entire run, returned by New and
// fed one DeviceKeyMesh at a time via AddFragment.
type Mesher struct {
	opts Options
	reg  *stats.Registry

	keyDB   *badger.DB
	keyPath string

	clumps []clump

	vertices  *extvector.Vector // records: 3*float32 position + int32 clumpID
	triangles *extvector.Vector // records: 3*uint32 global vertex index
}

const vertexRecordSize = 3*4 + 4
const triangleRecordSize = 3 * 4

// New opens the fragment accumulator.
func New(opts Options, reg *stats.Registry) (*Mesher, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "/tmp"
	}
	path := dir + "/mlsgpu-mesher-" + uuid.NewV4().String()
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, mlserr.IOErrorf(path, err)
	}
	return &Mesher{
		opts:      opts,
		reg:       reg,
		keyDB:     db,
		keyPath:   path,
		vertices:  extvector.New(vertexRecordSize, 64<<20, dir),
		triangles: extvector.New(triangleRecordSize, 64<<20, dir),
	}, nil
}

func (m *Mesher) find(i int32) int32 {
	for m.clumps[i].parent != i {
		// path halving
		m.clumps[i].parent = m.clumps[m.clumps[i].parent].parent
		i = m.clumps[i].parent
	}
	return i
}

// union merges the components containing a and b, correcting for a
// vertex both components already counted (sharedVertices) so the merged
// component's vertex count reflects the true distinct-vertex total.
func (m *Mesher) union(a, b int32, sharedVertices int64) {
	ra, rb := m.find(a), m.find(b)
	if ra == rb {
		m.clumps[ra].vertices -= sharedVertices
		return
	}
	if m.clumps[ra].size < m.clumps[rb].size {
		ra, rb = rb, ra
	}
	m.clumps[rb].parent = ra
	m.clumps[ra].size += m.clumps[rb].size
	m.clumps[ra].vertices += m.clumps[rb].vertices - sharedVertices
	m.clumps[ra].triangles += m.clumps[rb].triangles
	if m.reg != nil {
		m.reg.ClumpMerges.Add(1)
	}
}

func (m *Mesher) newClump() int32 {
	id := int32(len(m.clumps))
	m.clumps = append(m.clumps, clump{parent: id, size: 1})
	return id
}

func keyBytes(k isosurface.Key) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

// lookupOrInsert returns the global vertex index and clump for key,
// inserting (globalIndex, clump) if key has not been seen by an earlier
// fragment, and reports whether it was already present.
func (m *Mesher) lookupOrInsert(key isosurface.Key, globalIndex int64, cl int32) (existingIndex int64, existingClump int32, found bool, err error) {
	err = m.keyDB.Update(func(txn *badger.Txn) error {
		item, getErr := txn.Get(keyBytes(key))
		if getErr == nil {
			return item.Value(func(v []byte) error {
				existingIndex = int64(binary.BigEndian.Uint64(v[0:8]))
				existingClump = int32(binary.BigEndian.Uint32(v[8:12]))
				found = true
				return nil
			})
		}
		if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		var v [12]byte
		binary.BigEndian.PutUint64(v[0:8], uint64(globalIndex))
		binary.BigEndian.PutUint32(v[8:12], uint32(cl))
		return txn.Set(keyBytes(key), v[:])
	})
	return
}

// AddFragment appends one DeviceKeyMesh's kept vertices/triangles to the
// staging vectors, reusing and unioning clumps for any external vertex
// already seen by a previous fragment.
func (m *Mesher) AddFragment(mesh *isosurface.DeviceKeyMesh) error {
	localToGlobal := make([]int64, len(mesh.Vertices))
	localToClump := make([]int32, len(mesh.Vertices))

	for i, v := range mesh.Vertices {
		external := uint32(i) >= mesh.FirstExternal
		globalIdx := m.vertices.Len()
		cl := m.newClump()

		if external {
			existingIdx, existingClump, found, err := m.lookupOrInsert(v.Key, globalIdx, cl)
			if err != nil {
				return mlserr.IOErrorf(m.keyPath, err)
			}
			if found {
				localToGlobal[i] = existingIdx
				localToClump[i] = existingClump
				m.clumps = m.clumps[:len(m.clumps)-1] // unused fresh clump, drop it
				continue
			}
		}

		if err := m.appendVertex(v.Position, cl); err != nil {
			return err
		}
		m.clumps[cl].vertices = 1
		localToGlobal[i] = globalIdx
		localToClump[i] = cl
	}

	for _, t := range mesh.Triangles {
		a, b, c := localToGlobal[t[0]], localToGlobal[t[1]], localToGlobal[t[2]]
		ca, cb, cc := localToClump[t[0]], localToClump[t[1]], localToClump[t[2]]
		m.union(ca, cb, 0)
		m.union(m.find(ca), cc, 0)
		root := m.find(ca)
		m.clumps[root].triangles++
		if err := m.appendTriangle(uint32(a), uint32(b), uint32(c)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mesher) appendVertex(p geom.Vec3, clumpID int32) error {
	var rec [vertexRecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(p.X))
	binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(p.Y))
	binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(p.Z))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(clumpID))
	return m.vertices.Append(rec[:])
}

func (m *Mesher) appendTriangle(a, b, c uint32) error {
	var rec [triangleRecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], a)
	binary.LittleEndian.PutUint32(rec[4:8], b)
	binary.LittleEndian.PutUint32(rec[8:12], c)
	return m.triangles.Append(rec[:])
}

// Close releases the key-map store and extvector spill files without
// deleting chunk output.
func (m *Mesher) Close() error {
	m.vertices.Remove()
	m.triangles.Remove()
	return m.keyDB.Close()
}
