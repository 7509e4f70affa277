// Package extvector implements an external-memory vector: an append-only,
// block-structured sequence that can exceed host RAM by spilling to a
// temporary file. The Mesher's staged vertex and triangle vectors are
// built on top of it.
//
// This package wraps one fixed-record-size append log behind a small Go
// interface, backed by a local temp file and snappy-compressed in
// fixed-size blocks, the same way a storage engine compresses values
// before hitting disk.
package extvector

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/twinj/uuid"
)

// Vector is an append-only sequence of fixed-size records, held in memory
// up to a byte budget and then spilled to a temp file in compressed
// blocks. It is not safe for concurrent use; exactly one pipeline stage
// owns a given Vector.
type Vector struct {
	recordSize int
	memBudget  int
	dir        string

	mem []byte // staging buffer, < memBudget bytes

	spillPath string
	spillFile *os.File
	spillW    *bufio.Writer
	spilled   int64 // records flushed to spillFile

	length int64 // total records ever appended
}

// New creates a Vector of fixed-size records, staging up to memBudget
// bytes in RAM before spilling additional records to a compressed temp
// file under dir (os.TempDir() if dir is empty).
func New(recordSize, memBudget int, dir string) *Vector {
	return &Vector{
		recordSize: recordSize,
		memBudget:  memBudget,
		dir:        dir,
	}
}

// Len returns the number of records appended so far.
func (v *Vector) Len() int64 { return v.length }

// Append adds one record. rec must be exactly recordSize bytes; it is
// copied.
func (v *Vector) Append(rec []byte) error {
	if len(rec) != v.recordSize {
		return fmt.Errorf("extvector: record is %d bytes, want %d", len(rec), v.recordSize)
	}
	v.mem = append(v.mem, rec...)
	v.length++
	if len(v.mem) >= v.memBudget {
		if err := v.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vector) flush() error {
	if len(v.mem) == 0 {
		return nil
	}
	if v.spillFile == nil {
		name := uuid.NewV4().String()
		path := v.dir
		if path == "" {
			path = os.TempDir()
		}
		v.spillPath = path + "/mlsgpu-extvector-" + name + ".bin"
		f, err := os.Create(v.spillPath)
		if err != nil {
			return fmt.Errorf("extvector: creating spill file: %w", err)
		}
		v.spillFile = f
		v.spillW = bufio.NewWriterSize(f, 1<<20)
	}
	compressed := snappy.Encode(nil, v.mem)
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := v.spillW.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := v.spillW.Write(compressed); err != nil {
		return err
	}
	v.spilled += int64(len(v.mem) / v.recordSize)
	v.mem = v.mem[:0]
	return nil
}

func putUint32(b []byte, x uint32) {
	b[0] = byte(x)
	b[1] = byte(x >> 8)
	b[2] = byte(x >> 16)
	b[3] = byte(x >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Close flushes any staged records and releases the spill file handle. It
// does not delete the spill file; call Remove for that.
func (v *Vector) Close() error {
	if err := v.flush(); err != nil {
		return err
	}
	if v.spillW != nil {
		if err := v.spillW.Flush(); err != nil {
			return err
		}
	}
	if v.spillFile != nil {
		return v.spillFile.Close()
	}
	return nil
}

// Remove closes the Vector and deletes its spill file, if any.
func (v *Vector) Remove() error {
	path := v.spillPath
	if err := v.Close(); err != nil {
		return err
	}
	if path != "" {
		return os.Remove(path)
	}
	return nil
}

// Each streams every record in append order, spilled records first. f must
// not retain rec past the call.
func (v *Vector) Each(f func(rec []byte) error) error {
	if err := v.flush(); err != nil {
		return err
	}
	if v.spillW != nil {
		if err := v.spillW.Flush(); err != nil {
			return err
		}
	}
	if v.spillPath != "" {
		if err := v.eachSpilled(f); err != nil {
			return err
		}
	}
	for off := 0; off+v.recordSize <= len(v.mem); off += v.recordSize {
		if err := f(v.mem[off : off+v.recordSize]); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vector) eachSpilled(f func(rec []byte) error) error {
	file, err := os.Open(v.spillPath)
	if err != nil {
		return fmt.Errorf("extvector: reopening spill file: %w", err)
	}
	defer file.Close()
	r := bufio.NewReaderSize(file, 1<<20)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		blockLen := getUint32(lenBuf[:])
		compressed := make([]byte, blockLen)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return err
		}
		block, err := snappy.Decode(nil, compressed)
		if err != nil {
			return fmt.Errorf("extvector: decompressing block: %w", err)
		}
		for off := 0; off+v.recordSize <= len(block); off += v.recordSize {
			if err := f(block[off : off+v.recordSize]); err != nil {
				return err
			}
		}
	}
}
