package splat

import (
	"testing"

	"github.com/liuxinren/mlsgpu/geom"
)

func TestSplatFinite(t *testing.T) {
	good := Splat{Position: geom.Vec3{X: 1, Y: 2, Z: 3}, Radius: 0.5, Normal: geom.Vec3{X: 0, Y: 0, Z: 1}, Quality: 1}
	if !good.Finite() {
		t.Errorf("expected well-formed splat to be finite")
	}
	zeroRadius := good
	zeroRadius.Radius = 0
	if zeroRadius.Finite() {
		t.Errorf("expected zero radius to be non-finite")
	}
	negRadius := good
	negRadius.Radius = -1
	if negRadius.Finite() {
		t.Errorf("expected negative radius to be non-finite")
	}
}

func TestGlobalIDRoundTrip(t *testing.T) {
	cases := []struct {
		file  uint32
		index uint64
	}{
		{0, 0},
		{1, 12345},
		{1<<24 - 1, 1<<FileIDShift - 1},
	}
	for _, c := range cases {
		id := MakeGlobalID(c.file, c.index)
		if id.File() != c.file {
			t.Errorf("File() = %d, want %d", id.File(), c.file)
		}
		if id.Index() != c.index {
			t.Errorf("Index() = %d, want %d", id.Index(), c.index)
		}
	}
}

func TestRangeEmptyAndLen(t *testing.T) {
	r := Range{First: 5, Last: 5}
	if !r.Empty() {
		t.Errorf("equal bounds should be empty")
	}
	r = Range{First: 5, Last: 10}
	if r.Empty() {
		t.Errorf("non-equal bounds should not be empty")
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
}

func TestFileRangeSplitsAtFileBoundaries(t *testing.T) {
	first := MakeGlobalID(0, 1<<FileIDShift-3)
	last := MakeGlobalID(2, 5)
	sub := FileRange(Range{First: first, Last: last})
	if len(sub) != 3 {
		t.Fatalf("got %d sub-ranges, want 3", len(sub))
	}
	for i, r := range sub {
		if r.Empty() {
			t.Errorf("sub-range %d is empty", i)
		}
	}
	if sub[0].First.File() != 0 || sub[0].Last.File() != 1 {
		t.Errorf("sub-range 0 crosses file boundary wrongly: %+v", sub[0])
	}
	if sub[1].First.File() != 1 || sub[1].Last.File() != 2 {
		t.Errorf("sub-range 1 wrong: %+v", sub[1])
	}
	if sub[2].First != last-5 || sub[2].Last != last {
		t.Errorf("sub-range 2 wrong: %+v", sub[2])
	}
}

func TestFileRangeEmpty(t *testing.T) {
	if got := FileRange(Range{First: 10, Last: 10}); got != nil {
		t.Errorf("FileRange of an empty range should be nil, got %v", got)
	}
}
