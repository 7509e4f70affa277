// Package stats is the process-wide statistics registry: a thread-safe
// set of counters shared behind a single entry point, in place of a
// context handle threaded through every call. It generalizes a storage
// engine's byte/op rate counters into a fixed set of named,
// monotonically-updated accumulators covering every pipeline stage,
// formatted with github.com/dustin/go-humanize for human consumption.
package stats

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Registry holds every counter mlsgpu updates during a run. Each field is
// safe for concurrent Add/Load from any goroutine; the registry itself has
// no mutable state beyond the counters, so a single *Registry can be
// shared freely across pipeline stages without additional locking.
type Registry struct {
	NonFiniteSplats    atomic.Int64
	BlobsEmitted       atomic.Int64
	BucketerLeaves     atomic.Int64
	BucketerDensitySplits atomic.Int64
	HostWorkItems      atomic.Int64
	DeviceWorkItems    atomic.Int64
	ShipOuts           atomic.Int64
	FragmentsEmitted   atomic.Int64
	ClumpMerges        atomic.Int64
	ClumpsPruned       atomic.Int64
	BoundaryTrianglesDropped atomic.Int64
	VerticesWritten    atomic.Int64
	TrianglesWritten   atomic.Int64
	ChunksWritten      atomic.Int64
	ProgressCellsDone  atomic.Int64
	ProgressCellsTotal atomic.Int64
	BytesRead          atomic.Int64
	BytesWritten       atomic.Int64
}

// New returns an empty Registry.
func New() *Registry { return &Registry{} }

// Snapshot is a point-in-time, ordered copy of every counter, suitable for
// formatting to a log, a --statistics-file dump, or test assertions.
type Snapshot map[string]int64

// Snapshot reads every counter into a Snapshot.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		"non_finite_splats":      r.NonFiniteSplats.Load(),
		"blobs_emitted":          r.BlobsEmitted.Load(),
		"bucketer_leaves":        r.BucketerLeaves.Load(),
		"bucketer_density_splits": r.BucketerDensitySplits.Load(),
		"host_work_items":        r.HostWorkItems.Load(),
		"device_work_items":      r.DeviceWorkItems.Load(),
		"ship_outs":              r.ShipOuts.Load(),
		"fragments_emitted":      r.FragmentsEmitted.Load(),
		"clump_merges":           r.ClumpMerges.Load(),
		"clumps_pruned":          r.ClumpsPruned.Load(),
		"boundary_triangles_dropped": r.BoundaryTrianglesDropped.Load(),
		"vertices_written":       r.VerticesWritten.Load(),
		"triangles_written":      r.TrianglesWritten.Load(),
		"chunks_written":         r.ChunksWritten.Load(),
		"progress_cells_done":    r.ProgressCellsDone.Load(),
		"progress_cells_total":   r.ProgressCellsTotal.Load(),
		"bytes_read":             r.BytesRead.Load(),
		"bytes_written":          r.BytesWritten.Load(),
	}
}

// String renders the snapshot in sorted-by-name "key: human(value)" lines,
// the format --statistics prints to stderr/log.
func (s Snapshot) String() string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	out := ""
	for _, k := range names {
		v := s[k]
		switch k {
		case "bytes_read", "bytes_written":
			out += fmt.Sprintf("%s: %s\n", k, humanize.Bytes(uint64(v)))
		default:
			out += fmt.Sprintf("%s: %s\n", k, humanize.Comma(v))
		}
	}
	return out
}
