package bucketer

import (
	"github.com/liuxinren/mlsgpu/blobindex"
	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/splat"
	"github.com/liuxinren/mlsgpu/splatstore"
	"github.com/liuxinren/mlsgpu/stats"
)

// BlobIndexSet adapts a (*blobindex.Index, *splatstore.Store) pair to the
// Set interface for the outer, host-scale Bucketer pass.
type BlobIndexSet struct {
	Index *blobindex.Index
	Store *splatstore.Store
	Stats *stats.Registry
}

func (s BlobIndexSet) BlobStream(region geom.Box3i, f func(blobindex.Blob) error) error {
	return s.Index.StreamRegion(region, f)
}

func (s BlobIndexSet) SplatStream(r splat.Range, f func(splat.Splat, splat.GlobalID) error) error {
	reader := splatstore.NewReader(s.Store, s.Stats)
	defer reader.Close()
	reader.Reset(r.First, r.Last)
	for {
		sp, id, ok := reader.Next()
		if !ok {
			break
		}
		if err := reader.Err(); err != nil {
			return err
		}
		if err := f(sp, id); err != nil {
			return err
		}
	}
	return reader.Err()
}

// MemSet adapts an in-memory slice of splats (one coarse bin's worth,
// already loaded by the Loader) to the Set interface for the inner,
// device-scale Bucketer pass. IDs are assigned
// densely starting at Base, one per slice index, all within a single
// synthetic file selector so splat.GlobalID arithmetic still works.
type MemSet struct {
	Splats     []splat.Splat
	Base       splat.GlobalID
	Spacing    float32
	BucketSize int32
}

// Each splat is its own single-element "blob": there is no benefit to
// run-length grouping once the data is already memory-resident, and
// treating every splat as its own blob means BlobStream and SplatStream
// agree exactly, with no straddling-blob case ever triggered.
func (s MemSet) BlobStream(region geom.Box3i, f func(blobindex.Blob) error) error {
	for i, sp := range s.Splats {
		box := geom.WorldToBucketBox(sp.Position, sp.Radius, s.Spacing, s.BucketSize)
		if !boxesIntersect(box, region) {
			continue
		}
		id := s.Base + splat.GlobalID(i)
		if err := f(blobindex.Blob{First: id, Last: id + 1, Box: box}); err != nil {
			return err
		}
	}
	return nil
}

func (s MemSet) SplatStream(r splat.Range, f func(splat.Splat, splat.GlobalID) error) error {
	lo := int(r.First - s.Base)
	hi := int(r.Last - s.Base)
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.Splats) {
		hi = len(s.Splats)
	}
	for i := lo; i < hi; i++ {
		if err := f(s.Splats[i], s.Base+splat.GlobalID(i)); err != nil {
			return err
		}
	}
	return nil
}
