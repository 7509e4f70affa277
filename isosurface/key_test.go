package isosurface

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][3]uint32{
		{0, 0, 0},
		{1, 2, 3},
		{uint32(axisMask), uint32(axisMask), uint32(axisMask)},
		{1, 0, uint32(axisMask)},
	}
	for _, c := range cases {
		k := EncodeKey(c[0], c[1], c[2])
		dx, dy, dz := k.Decode()
		if dx != c[0] || dy != c[1] || dz != c[2] {
			t.Errorf("EncodeKey(%v).Decode() = (%d,%d,%d)", c, dx, dy, dz)
		}
	}
}

func TestEdgeKeySymmetric(t *testing.T) {
	a := [3]int32{2, 4, 6}
	b := [3]int32{3, 5, 7}
	if EdgeKey(a, b) != EdgeKey(b, a) {
		t.Errorf("EdgeKey should not depend on endpoint order")
	}
}

func TestEdgeKeyDistinguishesAxisAlignedEdges(t *testing.T) {
	// Two distinct axis-aligned cube edges must not collide.
	xEdge := EdgeKey([3]int32{0, 0, 0}, [3]int32{1, 0, 0})
	yEdge := EdgeKey([3]int32{0, 0, 0}, [3]int32{0, 1, 0})
	if xEdge == yEdge {
		t.Errorf("distinct edges produced the same key")
	}
}

func TestKeyLess(t *testing.T) {
	a := EncodeKey(1, 0, 0)
	b := EncodeKey(0, 1, 0)
	if !a.Less(b) {
		t.Errorf("expected dx-only key to sort before dy-only key")
	}
}
