// Command mlsgpu reconstructs a triangle mesh from one or more binary PLY
// point-cloud files: it builds a BlobIndex over the inputs, buckets them
// hierarchically at host and device scale, extracts an isosurface per
// device bin, and streams the welded, pruned result out as chunked PLY
// files.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/liuxinren/mlsgpu/blobindex"
	"github.com/liuxinren/mlsgpu/config"
	"github.com/liuxinren/mlsgpu/isosurface"
	"github.com/liuxinren/mlsgpu/mesher"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/mlslog"
	"github.com/liuxinren/mlsgpu/pipeline"
	"github.com/liuxinren/mlsgpu/splatstore"
	"github.com/liuxinren/mlsgpu/stats"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return mlserr.ExitCode(err)
	}

	logger := mlslog.New(mlslog.Options{Mode: mlslog.InfoMode})
	defer logger.Close()

	reg := stats.New()

	if err := reconstruct(opts, reg, logger); err != nil {
		logger.Criticalf("%v", err)
		if opts.Statistics {
			printStats(opts, reg)
		}
		return mlserr.ExitCode(err)
	}

	if opts.Statistics {
		printStats(opts, reg)
	}
	return 0
}

func reconstruct(opts config.Options, reg *stats.Registry, logger mlslog.Logger) error {
	logger.Infof("opening %d input file(s)", len(opts.Inputs))
	store, err := splatstore.Open(opts.Inputs)
	if err != nil {
		return err
	}

	bucketSize := int32(1) << uint(opts.Subsampling+4)
	deviceBucketSize := int32(1) << uint(opts.Subsampling)

	logger.Infof("building blob index")
	idx, err := blobindex.Build(store, reg, blobindex.Options{Spacing: float32(opts.FitGrid), BucketSize: bucketSize})
	if err != nil {
		return err
	}
	defer idx.Close()

	m, err := mesher.New(mesher.Options{
		PruneThreshold:      opts.FitPrune,
		MaxVerticesPerChunk: 1 << 20,
		OutputBase:          opts.Output,
	}, reg)
	if err != nil {
		return err
	}
	defer m.Close()

	meshCh := make(chan *isosurface.DeviceKeyMesh, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelineErr := make(chan error, 1)
	go func() {
		defer close(meshCh)
		pipelineErr <- pipeline.Run(ctx, idx, store, reg, idx.BoundingGrid, pipeline.Options{
			Spacing:          float32(opts.FitGrid),
			HostBucketSize:   bucketSize,
			DeviceBucketSize: deviceBucketSize,
			MaxHostSplats:    opts.MaxHostSplats,
			MaxDeviceSplats:  opts.MaxDeviceSplats,
			MaxCells:         1 << uint(opts.Levels),
			MaxSplit:         opts.MaxSplit,
			BucketThreads:    opts.BucketThreads,
			DeviceThreads:    opts.DeviceThreads,
			MaxQueueBytes:    1 << 28,
			FitSmooth:        float32(opts.FitSmooth),
			FitKeepBoundary:  opts.FitKeepBoundary,
			FitBoundaryLimit: float32(opts.FitBoundaryLimit),
		}, meshCh)
	}()

	for mesh := range meshCh {
		if err := m.AddFragment(mesh); err != nil {
			cancel()
			for range meshCh {
			}
			<-pipelineErr
			return err
		}
	}
	if err := <-pipelineErr; err != nil {
		return err
	}

	logger.Infof("finalizing output chunks")
	chunks, err := m.Finalize()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		logger.Infof("wrote %s: %d vertices, %d triangles", c.Path, c.Vertices, c.Triangles)
	}
	return nil
}

func printStats(opts config.Options, reg *stats.Registry) {
	snap := reg.Snapshot()
	if opts.StatisticsFile == "" {
		fmt.Fprint(os.Stderr, snap.String())
		return
	}
	if err := os.WriteFile(opts.StatisticsFile, []byte(snap.String()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing statistics file: %v\n", err)
	}
}
