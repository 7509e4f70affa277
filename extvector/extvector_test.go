package extvector

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func recordFor(i int) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(i))
	return b[:]
}

func TestAppendAndEachInMemory(t *testing.T) {
	v := New(8, 1<<20, t.TempDir())
	defer v.Remove()

	const n = 100
	for i := 0; i < n; i++ {
		if err := v.Append(recordFor(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if v.Len() != n {
		t.Fatalf("Len() = %d, want %d", v.Len(), n)
	}

	var got []int
	err := v.Each(func(rec []byte) error {
		got = append(got, int(binary.LittleEndian.Uint64(rec)))
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(got) != n {
		t.Fatalf("Each visited %d records, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("record %d = %d, want %d", i, v, i)
		}
	}
}

func TestAppendWrongSize(t *testing.T) {
	v := New(8, 1<<20, t.TempDir())
	defer v.Remove()
	if err := v.Append([]byte{1, 2, 3}); err == nil {
		t.Errorf("expected an error appending a record of the wrong size")
	}
}

func TestSpillsAndReloadsInOrder(t *testing.T) {
	// A tiny memory budget forces every Append past the first couple of
	// records to spill to disk.
	v := New(8, 32, t.TempDir())
	defer v.Remove()

	const n = 500
	for i := 0; i < n; i++ {
		if err := v.Append(recordFor(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	i := 0
	err := v.Each(func(rec []byte) error {
		if !bytes.Equal(rec, recordFor(i)) {
			t.Errorf("record %d mismatched after spill/reload", i)
		}
		i++
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if i != n {
		t.Fatalf("visited %d records, want %d", i, n)
	}
}

func TestEachPropagatesCallbackError(t *testing.T) {
	v := New(8, 1<<20, t.TempDir())
	defer v.Remove()
	for i := 0; i < 5; i++ {
		v.Append(recordFor(i))
	}
	wantErr := errBoom
	err := v.Each(func(rec []byte) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("Each() error = %v, want %v", err, wantErr)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestRemoveDeletesSpillFile(t *testing.T) {
	dir := t.TempDir()
	v := New(8, 16, dir)
	for i := 0; i < 50; i++ {
		v.Append(recordFor(i))
	}
	path := v.spillPath
	if path == "" {
		t.Fatalf("expected records to have spilled to a file")
	}
	if err := v.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
