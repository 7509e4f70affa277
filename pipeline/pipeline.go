// Package pipeline wires the host and device work-item queues together:
// a single Loader goroutine drains the outer, BlobIndex-backed Bucketer
// pass and materializes each host bin's splats into memory; a pool of
// DeviceBlock workers re-buckets each host bin at device scale over an
// in-memory Set; a pool of DeviceWorker workers runs the isosurface
// extraction kernel over each device bin and forwards mesh fragments to
// the mesher. Stage concurrency and the bounded queues between stages
// are built on golang.org/x/sync's errgroup and semaphore, the same
// fan-out/fan-in primitives a push-replication pipeline's worker pools
// use for bounded concurrent work.
package pipeline

import (
	"context"

	"github.com/DmitriyVTitov/size"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/liuxinren/mlsgpu/blobindex"
	"github.com/liuxinren/mlsgpu/bucketer"
	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/isosurface"
	"github.com/liuxinren/mlsgpu/splat"
	"github.com/liuxinren/mlsgpu/splatstore"
	"github.com/liuxinren/mlsgpu/stats"
)

// Options configures one pipeline run: the concurrency and bucketing
// knobs, as distinct from I/O or fitting parameters.
type Options struct {
	Spacing          float32
	HostBucketSize   int32
	DeviceBucketSize int32
	MaxHostSplats    int64
	MaxDeviceSplats  int64
	MaxCells         int32
	MaxSplit         int32
	BucketThreads    int
	DeviceThreads    int
	// MaxQueueBytes bounds the total size (via DmitriyVTitov/size) of
	// HostWorkItems in flight between the Loader and the DeviceBlock
	// pool, a byte-budgeted generalization of the fixed 2-slot buffer
	// pool splatstore.Reader uses for raw bytes.
	MaxQueueBytes int64

	// FitSmooth is the MLS radius multiplier (--fit-smooth) passed to
	// isosurface.NewField for every device work item.
	FitSmooth float32
	// FitKeepBoundary, when true, skips the boundary density filter
	// below and keeps every triangle Extract produces near a region
	// boundary regardless of local splat density.
	FitKeepBoundary bool
	// FitBoundaryLimit is the minimum splat count within the smoothing
	// radius of a boundary triangle's centroid (isosurface.Field.Density)
	// that triangle must have to survive, when FitKeepBoundary is false.
	FitBoundaryLimit float32
}

// HostWorkItem is one materialized leaf bin from the outer Bucketer
// pass: its splats loaded into memory, ready for device-scale rebucketing.
type HostWorkItem struct {
	Splats []splat.Splat
	Base   splat.GlobalID
	Grid   geom.Grid
}

// DeviceWorkItem is one leaf bin from the inner, device-scale Bucketer
// pass: a copy of the enclosing HostWorkItem's splats in the leaf's
// ranges, concatenated in range order, ready for isosurface extraction.
type DeviceWorkItem struct {
	Splats []splat.Splat
	Grid   geom.Grid
}

// Run drives the full Loader -> DeviceBlock -> DeviceWorker pipeline over
// region, sending every produced mesh fragment to meshOut. It returns the
// first error from any stage, after every goroutine it started has exited
// (errgroup's standard fail-fast-then-wait contract).
func Run(ctx context.Context, idx *blobindex.Index, store *splatstore.Store, reg *stats.Registry, region geom.Grid, opts Options, meshOut chan<- *isosurface.DeviceKeyMesh) error {
	g, ctx := errgroup.WithContext(ctx)

	hostCh := make(chan HostWorkItem, 1)
	deviceCh := make(chan DeviceWorkItem, 2)
	queueBudget := semaphore.NewWeighted(opts.MaxQueueBytes)
	deviceSlots := semaphore.NewWeighted(int64(opts.DeviceThreads))

	g.Go(func() error {
		defer close(hostCh)
		return runLoader(ctx, idx, store, reg, region, opts, queueBudget, hostCh)
	})

	var blockGroup errgroup.Group
	for i := 0; i < opts.BucketThreads; i++ {
		blockGroup.Go(func() error {
			return runDeviceBlock(ctx, reg, opts, queueBudget, hostCh, deviceCh)
		})
	}
	g.Go(func() error {
		err := blockGroup.Wait()
		close(deviceCh)
		return err
	})

	var workerGroup errgroup.Group
	for i := 0; i < opts.DeviceThreads; i++ {
		workerGroup.Go(func() error {
			return runDeviceWorker(ctx, reg, opts, deviceSlots, deviceCh, meshOut)
		})
	}
	g.Go(workerGroup.Wait)

	return g.Wait()
}

// runLoader is the single Loader thread: it streams the outer Bucketer's
// leaf bins and, for each one, reads its splat ranges into memory before
// handing the materialized HostWorkItem to the DeviceBlock pool.
func runLoader(ctx context.Context, idx *blobindex.Index, store *splatstore.Store, reg *stats.Registry, region geom.Grid, opts Options, budget *semaphore.Weighted, out chan<- HostWorkItem) error {
	outer := bucketer.BlobIndexSet{Index: idx, Store: store, Stats: reg}
	limits := bucketer.Limits{MaxSplats: opts.MaxHostSplats, MaxCells: opts.MaxCells, MaxSplit: opts.MaxSplit}
	reader := splatstore.NewReader(store, reg)
	defer reader.Close()

	return bucketer.Run(outer, region, opts.Spacing, opts.HostBucketSize, limits, bucketer.Recursion{}, reg, func(set bucketer.Set, numSplats int64, ranges []splat.Range, grid geom.Grid, rec bucketer.Recursion) error {
		splats := make([]splat.Splat, 0, numSplats)
		base := splat.GlobalID(0)
		haveBase := false
		for _, r := range ranges {
			reader.Reset(r.First, r.Last)
			for {
				s, id, ok := reader.Next()
				if !ok {
					break
				}
				if err := reader.Err(); err != nil {
					return err
				}
				if !haveBase {
					base, haveBase = id, true
				}
				splats = append(splats, s)
			}
			if err := reader.Err(); err != nil {
				return err
			}
		}
		item := HostWorkItem{Splats: splats, Base: base, Grid: grid}
		n := int64(size.Of(item))
		if n > 0 {
			if err := budget.Acquire(ctx, n); err != nil {
				return err
			}
		}
		if reg != nil {
			reg.HostWorkItems.Add(1)
		}
		select {
		case out <- item:
			return nil
		case <-ctx.Done():
			budget.Release(n)
			return ctx.Err()
		}
	})
}

// runDeviceBlock is one DeviceBlock worker: it rebuckets each incoming
// HostWorkItem's splats at device scale over an in-memory Set and
// forwards every resulting leaf bin as a DeviceWorkItem.
func runDeviceBlock(ctx context.Context, reg *stats.Registry, opts Options, budget *semaphore.Weighted, in <-chan HostWorkItem, out chan<- DeviceWorkItem) error {
	limits := bucketer.Limits{MaxSplats: opts.MaxDeviceSplats, MaxCells: opts.MaxCells, MaxSplit: opts.MaxSplit}
	for {
		var item HostWorkItem
		var ok bool
		select {
		case item, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		mem := bucketer.MemSet{Splats: item.Splats, Base: item.Base, Spacing: opts.Spacing, BucketSize: opts.DeviceBucketSize}
		err := bucketer.Run(mem, item.Grid, opts.Spacing, opts.DeviceBucketSize, limits, bucketer.Recursion{}, reg, func(set bucketer.Set, numSplats int64, ranges []splat.Range, grid geom.Grid, rec bucketer.Recursion) error {
			splats := make([]splat.Splat, 0, numSplats)
			for _, r := range ranges {
				lo := int(r.First - item.Base)
				hi := int(r.Last - item.Base)
				if lo < 0 {
					lo = 0
				}
				if hi > len(item.Splats) {
					hi = len(item.Splats)
				}
				splats = append(splats, item.Splats[lo:hi]...)
			}
			if reg != nil {
				reg.DeviceWorkItems.Add(1)
			}
			select {
			case out <- DeviceWorkItem{Splats: splats, Grid: grid}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		budget.Release(int64(size.Of(item)))
		if err != nil {
			return err
		}
	}
}

// runDeviceWorker is one DeviceWorker: it evaluates the MLS field over
// one device bin and extracts its mesh fragments, acquiring a device
// slot for the duration of Extract the way a real implementation would
// hold one accelerator context per concurrent kernel launch.
func runDeviceWorker(ctx context.Context, reg *stats.Registry, opts Options, slots *semaphore.Weighted, in <-chan DeviceWorkItem, meshOut chan<- *isosurface.DeviceKeyMesh) error {
	for {
		var item DeviceWorkItem
		var ok bool
		select {
		case item, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			return err
		}
		field := isosurface.NewField(item.Splats, opts.FitSmooth)
		var densityBuf []int
		err := isosurface.Extract(field, item.Grid, func(mesh *isosurface.DeviceKeyMesh) error {
			if !opts.FitKeepBoundary {
				var dropped int
				densityBuf = filterBoundaryTriangles(field, mesh, opts.FitBoundaryLimit, densityBuf, &dropped)
				if reg != nil && dropped > 0 {
					reg.BoundaryTrianglesDropped.Add(int64(dropped))
				}
			}
			if reg != nil {
				reg.FragmentsEmitted.Add(1)
			}
			select {
			case meshOut <- mesh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		slots.Release(1)
		if err != nil {
			return err
		}
	}
}

// filterBoundaryTriangles drops triangles that touch one of mesh's
// external vertices (the ones lying on the device work item's own
// boundary face, per DeviceKeyMesh.FirstExternal) when the local splat
// density at the triangle's centroid falls below limit: a device bin's
// own splats thin out near its boundary, and the MLS surface there is
// only as trustworthy as the splats actually available to it, unlike
// the interior where the bin's own splats fully support the fit. limit
// <= 0 disables the filter. buf is the caller's reusable density
// neighbour buffer, returned for reuse on the next call; *dropped is
// incremented by the number of triangles removed.
func filterBoundaryTriangles(field *isosurface.Field, mesh *isosurface.DeviceKeyMesh, limit float32, buf []int, dropped *int) []int {
	if limit <= 0 {
		return buf
	}
	kept := mesh.Triangles[:0]
	for _, tri := range mesh.Triangles {
		boundary := false
		for _, idx := range tri {
			if idx >= mesh.FirstExternal {
				boundary = true
				break
			}
		}
		if !boundary {
			kept = append(kept, tri)
			continue
		}
		a := mesh.Vertices[tri[0]].Position
		b := mesh.Vertices[tri[1]].Position
		c := mesh.Vertices[tri[2]].Position
		centroid := a.Add(b).Add(c).Scale(1.0 / 3)
		var count int
		count, buf = field.Density(centroid, buf)
		if float32(count) >= limit {
			kept = append(kept, tri)
		} else {
			*dropped++
		}
	}
	mesh.Triangles = kept
	return buf
}
