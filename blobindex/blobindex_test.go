package blobindex

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/splatstore"
)

func writePLY(t *testing.T, path string, rows [][7]float32) {
	t.Helper()
	var b []byte
	header := "ply\nformat binary_little_endian 1.0\n" +
		"element vertex " + itoa(len(rows)) + "\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"property float nx\nproperty float ny\nproperty float nz\n" +
		"property float radius\nend_header\n"
	b = append(b, header...)
	for _, row := range rows {
		for _, v := range row {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			b = append(b, buf[:]...)
		}
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func openTestStore(t *testing.T, rows [][7]float32) *splatstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.ply")
	writePLY(t, path, rows)
	store, err := splatstore.Open([]string{path})
	if err != nil {
		t.Fatalf("splatstore.Open: %v", err)
	}
	return store
}

func TestBuildMergesConsecutiveSplatsInTheSameBucket(t *testing.T) {
	store := openTestStore(t, [][7]float32{
		{0.1, 0.1, 0.1, 0, 0, 1, 0.01},
		{0.2, 0.1, 0.1, 0, 0, 1, 0.01},
		{9.0, 9.0, 9.0, 0, 0, 1, 0.01}, // different bucket, starts a new run
	})
	idx, err := Build(store, nil, Options{Spacing: 1, BucketSize: 4, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer idx.Close()

	if idx.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 blobs", idx.Count())
	}
	var blobs []Blob
	if err := idx.Each(func(b Blob) error { blobs = append(blobs, b); return nil }); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if blobs[0].Last-blobs[0].First != 2 {
		t.Errorf("first blob spans %d splats, want 2", blobs[0].Last-blobs[0].First)
	}
	if blobs[1].Last-blobs[1].First != 1 {
		t.Errorf("second blob spans %d splats, want 1", blobs[1].Last-blobs[1].First)
	}
}

func TestBuildRejectsAllNonFiniteInput(t *testing.T) {
	nan := float32(math.NaN())
	store := openTestStore(t, [][7]float32{{nan, 0, 0, 0, 0, 1, 0.01}})
	_, err := Build(store, nil, Options{Spacing: 1, BucketSize: 4, Dir: t.TempDir()})
	if err == nil {
		t.Errorf("expected an error when every splat is non-finite")
	}
}

func TestStreamRegionOnlyYieldsIntersectingBlobs(t *testing.T) {
	store := openTestStore(t, [][7]float32{
		{0.1, 0.1, 0.1, 0, 0, 1, 0.01},
		{9.0, 9.0, 9.0, 0, 0, 1, 0.01},
	})
	idx, err := Build(store, nil, Options{Spacing: 1, BucketSize: 4, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer idx.Close()

	region := geom.Box3i{Lower: [3]int32{-1, -1, -1}, Upper: [3]int32{1, 1, 1}}
	var found []Blob
	if err := idx.StreamRegion(region, func(b Blob) error { found = append(found, b); return nil }); err != nil {
		t.Fatalf("StreamRegion: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("StreamRegion found %d blobs, want 1", len(found))
	}
}
