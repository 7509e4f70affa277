// Package blobindex implements a precomputed, persistent index that
// groups runs of spatially adjacent splats into Blobs aligned to a
// bucket grid, built with a single full pass over a SplatStore so later
// Bucketer queries can stream O(#blobs) records instead of rescanning
// every splat.
package blobindex

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v3"
	"github.com/twinj/uuid"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/splat"
	"github.com/liuxinren/mlsgpu/splatstore"
	"github.com/liuxinren/mlsgpu/stats"
)

// Blob is a maximal run of consecutive splats sharing the same bucket-box
// footprint at a fixed (spacing, bucketSize).
type Blob struct {
	First, Last splat.GlobalID // half-open
	Box         geom.Box3i
}

const blobRecordSize = 8 + 8 + 4*6 // First, Last, 6 int32 box components

func encodeBlob(b Blob) []byte {
	buf := make([]byte, blobRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(b.First))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(b.Last))
	off := 16
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(b.Box.Lower[i]))
		off += 4
	}
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(b.Box.Upper[i]))
		off += 4
	}
	return buf
}

func decodeBlob(buf []byte) Blob {
	var b Blob
	b.First = splat.GlobalID(binary.LittleEndian.Uint64(buf[0:8]))
	b.Last = splat.GlobalID(binary.LittleEndian.Uint64(buf[8:16]))
	off := 16
	for i := 0; i < 3; i++ {
		b.Box.Lower[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	for i := 0; i < 3; i++ {
		b.Box.Upper[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return b
}

// Index is the built BlobIndex: an ordered sequence of Blobs persisted in
// an embedded badger store, generalized from a versioned-image-block
// engine to spatially-sorted blob records, plus the global bounding grid
// computed in the same pass.
type Index struct {
	db          *badger.DB
	dbPath      string
	count       int64
	BoundingGrid geom.Grid
	Spacing     float32
	BucketSize  int32
}

// Options configures the single full-pass Build.
type Options struct {
	Spacing    float32
	BucketSize int32
	// Dir is the directory in which the badger blob store is created; if
	// empty, /tmp is used.
	Dir string
}

// Build streams store in global-ID order exactly once, merging consecutive
// splats into Blobs and accumulating the bounding box. It fails with a
// ConfigError-tagged EmptyInput condition if no finite splat is seen.
func Build(store *splatstore.Store, reg *stats.Registry, opts Options) (*Index, error) {
	dbPath := tempDBPath(opts.Dir)
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, mlserr.IOErrorf(dbPath, err)
	}

	idx := &Index{db: db, dbPath: dbPath, Spacing: opts.Spacing, BucketSize: opts.BucketSize}

	reader := splatstore.NewReader(store, reg)
	reader.Reset(0, splat.GlobalID(store.Size()))
	defer reader.Close()

	var bbox geom.AABB
	var runFirst, runLast splat.GlobalID
	var runBox geom.Box3i
	haveRun := false

	flushRun := func(wb *badger.WriteBatch) error {
		if !haveRun {
			return nil
		}
		b := Blob{First: runFirst, Last: runLast, Box: runBox}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(idx.count))
		if err := wb.Set(key, encodeBlob(b)); err != nil {
			return err
		}
		idx.count++
		if reg != nil {
			reg.BlobsEmitted.Add(1)
		}
		haveRun = false
		return nil
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()

	for {
		s, id, ok := reader.Next()
		if !ok {
			break
		}
		if err := reader.Err(); err != nil {
			return nil, err
		}
		box := geom.WorldToBucketBox(s.Position, s.Radius, opts.Spacing, opts.BucketSize)
		bbox.MergeSphere(s.Position, s.Radius)

		if haveRun && box.Equal(runBox) && id == runLast {
			runLast = id + 1
			continue
		}
		if err := flushRun(wb); err != nil {
			return nil, mlserr.IOErrorf(dbPath, err)
		}
		runFirst, runLast, runBox, haveRun = id, id+1, box, true
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if err := flushRun(wb); err != nil {
		return nil, mlserr.IOErrorf(dbPath, err)
	}
	if err := wb.Flush(); err != nil {
		return nil, mlserr.IOErrorf(dbPath, err)
	}

	if !bbox.Valid() {
		return nil, mlserr.ConfigErrorf("EmptyInput: no finite splat in input")
	}
	idx.BoundingGrid = geom.BoundingGrid(bbox, opts.Spacing, opts.BucketSize)
	return idx, nil
}

func tempDBPath(dir string) string {
	if dir == "" {
		dir = "/tmp"
	}
	return dir + "/mlsgpu-blobindex-" + uuid.NewV4().String()
}

// Count returns the number of Blobs in the index.
func (idx *Index) Count() int64 { return idx.count }

// Close releases the badger store. It does not delete the on-disk files;
// the caller decides whether the blob index should survive the run.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Each streams every Blob in ID order.
func (idx *Index) Each(f func(Blob) error) error {
	return idx.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var blob Blob
			err := item.Value(func(v []byte) error {
				blob = decodeBlob(v)
				return nil
			})
			if err != nil {
				return err
			}
			if err := f(blob); err != nil {
				return err
			}
		}
		return nil
	})
}

// StreamRegion yields every Blob whose bucket box intersects region, in ID
// order, the O(#blobs) query path that makes a region scan cheap.
func (idx *Index) StreamRegion(region geom.Box3i, f func(Blob) error) error {
	return idx.Each(func(b Blob) error {
		if !boxesIntersect(b.Box, region) {
			return nil
		}
		return f(b)
	})
}

func boxesIntersect(a, b geom.Box3i) bool {
	for i := 0; i < 3; i++ {
		if a.Upper[i] <= b.Lower[i] || b.Upper[i] <= a.Lower[i] {
			return false
		}
	}
	return true
}

