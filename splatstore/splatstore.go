// Package splatstore implements a random-access view over one or more
// on-disk point-cloud files that streams decoded, finite splats by global
// ID order, reading ahead through a single background producer thread
// with a two-slot buffer pool so the consumer only blocks on disk when
// the pool is empty.
package splatstore

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/plyio"
	"github.com/liuxinren/mlsgpu/splat"
	"github.com/liuxinren/mlsgpu/stats"
)

// BufferSize is the minimum per-read chunk size: at least 1 MiB, and at
// least one full vertex record.
const BufferSize = 4 << 20

type fileEntry struct {
	path   string
	header *plyio.Header
	base   int64 // byte offset of vertex 0 within the file
}

// Store is a SplatStore over an ordered list of input PLY files.
type Store struct {
	files []fileEntry
	size  uint64 // total splat count across all files
}

// Open opens every input file, parses its PLY header, and validates the
// vertex layout. Files are addressed in the given order by the high bits
// of a splat.GlobalID.
func Open(paths []string) (*Store, error) {
	if len(paths) == 0 {
		return nil, mlserr.ConfigErrorf("no input files given")
	}
	if len(paths) > 1<<24 {
		return nil, mlserr.ConfigErrorf("too many input files (%d) for the global-ID file selector", len(paths))
	}
	s := &Store{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, mlserr.IOErrorf(p, err)
		}
		h, err := plyio.ParseHeader(bufio.NewReaderSize(f, 64<<10), p)
		f.Close()
		if err != nil {
			return nil, err
		}
		if h.VertexSize <= 0 {
			return nil, mlserr.FormatErrorf(p, "vertex record has zero size")
		}
		if BufferSize/h.VertexSize == 0 {
			return nil, mlserr.ConfigErrorf("far too many bytes per vertex")
		}
		s.files = append(s.files, fileEntry{path: p, header: h, base: h.HeaderEnd})
		s.size += h.VertexCount
	}
	return s, nil
}

// Size returns the total splat count across all input files.
func (s *Store) Size() uint64 { return s.size }

// globalRange returns the full [0, size) range as a splat.Range.
func (s *Store) globalRange() splat.Range {
	return splat.Range{First: 0, Last: splat.GlobalID(s.size)}
}

// globalID maps a file-local offset to its global ID.
func (s *Store) globalID(file int, index uint64) splat.GlobalID {
	return splat.MakeGlobalID(uint32(file), index)
}

// rawBuffer is one filled read of raw vertex bytes handed from the reader
// goroutine to the decoding consumer.
type rawBuffer struct {
	fileIdx int
	startID uint64 // index within the file of the first record in data
	data    []byte
}

// Reader streams finite splats from a Store over [first, last) in global
// ID order, restartable via Reset. It owns a single background reader
// goroutine and a two-slot buffer pool.
type Reader struct {
	store *Store
	stats *stats.Registry

	bufs    chan rawBuffer // filled buffers, capacity 2
	free    chan []byte    // returned buffer backing arrays
	errCh   chan error
	done    chan struct{}
	closed  bool
	current rawBuffer
	pos     int // byte offset within current.data

	first, last splat.GlobalID
}

// NewReader creates a Reader over store, not yet positioned at any range;
// call Reset before Next.
func NewReader(store *Store, reg *stats.Registry) *Reader {
	r := &Reader{store: store, stats: reg}
	r.free = make(chan []byte, 2)
	r.free <- make([]byte, BufferSize)
	r.free <- make([]byte, BufferSize)
	return r
}

// Reset restarts the stream over a new half-open range. Any in-flight
// reader goroutine from a previous range is stopped first.
func (r *Reader) Reset(first, last splat.GlobalID) {
	r.stop()
	r.first, r.last = first, last
	r.bufs = make(chan rawBuffer, 2)
	r.errCh = make(chan error, 1)
	r.done = make(chan struct{})
	r.current = rawBuffer{}
	r.pos = 0
	go r.produce()
}

func (r *Reader) stop() {
	if r.done != nil && !r.closed {
		close(r.done)
		// Drain so the producer goroutine is never left blocked on a full
		// channel after we stop consuming it.
		go func(bufs chan rawBuffer) {
			for range bufs {
			}
		}(r.bufs)
	}
	r.closed = true
}

// produce is the single background reader thread: it walks the per-file
// sub-ranges of [first,last), reads raw bytes in BufferSize chunks, and
// emits filled buffers, terminating (rather than sending an empty-range
// sentinel) by closing bufs.
func (r *Reader) produce() {
	defer close(r.bufs)
	fr := splat.FileRange(splat.Range{First: r.first, Last: r.last})
	for _, sub := range fr {
		fileIdx := int(sub.First.File())
		entry := r.store.files[fileIdx]
		if err := r.produceFile(entry, fileIdx, sub); err != nil {
			select {
			case r.errCh <- err:
			default:
			}
			return
		}
		select {
		case <-r.done:
			return
		default:
		}
	}
}

func (r *Reader) produceFile(entry fileEntry, fileIdx int, sub splat.Range) error {
	f, err := os.Open(entry.path)
	if err != nil {
		return mlserr.IOErrorf(entry.path, err)
	}
	defer f.Close()

	recSize := int64(entry.header.VertexSize)
	startIdx := sub.First.Index()
	endIdx := sub.Last.Index()
	if int(sub.Last.File()) != fileIdx {
		// The sub-range ends at the next file's first ID: read this file
		// through to its last record.
		endIdx = entry.header.VertexCount
	}
	offset := entry.base + int64(startIdx)*recSize

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return mlserr.IOErrorf(entry.path, err)
	}
	br := bufio.NewReaderSize(f, BufferSize)

	recordsPerBuf := BufferSize / entry.header.VertexSize
	remaining := endIdx - startIdx
	idx := startIdx
	for remaining > 0 {
		n := recordsPerBuf
		if uint64(n) > remaining {
			n = int(remaining)
		}
		buf := <-r.free
		buf = buf[:n*entry.header.VertexSize]
		if _, err := io.ReadFull(br, buf); err != nil {
			return mlserr.IOErrorf(entry.path, fmt.Errorf("partial read: %w", err))
		}
		select {
		case r.bufs <- rawBuffer{fileIdx: fileIdx, startID: idx, data: buf}:
		case <-r.done:
			return nil
		}
		idx += uint64(n)
		remaining -= uint64(n)
	}
	return nil
}

// Next decodes and returns the next finite splat in the current range, in
// ID order, or ok=false once the range is exhausted. Non-finite records
// are skipped and counted in the stats registry.
func (r *Reader) Next() (s splat.Splat, id splat.GlobalID, ok bool) {
	for {
		if r.pos >= len(r.current.data) {
			next, more := <-r.bufs
			if !more {
				r.returnBuf(r.current.data)
				return splat.Splat{}, 0, false
			}
			r.returnBuf(r.current.data)
			r.current = next
			r.pos = 0
		}
		h := r.store.files[r.current.fileIdx].header
		rec := r.current.data[r.pos : r.pos+h.VertexSize]
		recIdx := r.current.startID + uint64(r.pos/h.VertexSize)
		r.pos += h.VertexSize
		decoded := h.DecodeSplat(rec)
		id = r.store.globalID(r.current.fileIdx, recIdx)
		if !decoded.Finite() {
			if r.stats != nil {
				r.stats.NonFiniteSplats.Add(1)
			}
			continue
		}
		return decoded, id, true
	}
}

func (r *Reader) returnBuf(b []byte) {
	if b == nil {
		return
	}
	select {
	case r.free <- b[:BufferSize]:
	default:
	}
}

// Err returns any fatal error observed by the background reader.
func (r *Reader) Err() error {
	select {
	case err := <-r.errCh:
		return err
	default:
		return nil
	}
}

// Close releases the Reader's background goroutine.
func (r *Reader) Close() { r.stop() }
