package isosurface

// cubeCorner is one of the 8 corners of a unit cube, indexed by the
// standard bit pattern corner = x | y<<1 | z<<2.
var cubeCorner = [8][3]int32{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

// tetDecompA and tetDecompB are the two 6-tetrahedra decompositions of a
// unit cube sharing its two body diagonals (0-7 and 1-6 respectively).
// Each row is a tetrahedron as 4 cube-corner indices. Alternating between
// them by a cell's parity, as worker.go does, makes every cube face's
// diagonal agree with the neighbouring cube that shares it, which is
// exactly the "chosen to guarantee topological consistency between
// neighbouring cells sharing a face" property the 6-tetrahedra
// subdivision exists for.
var tetDecompA = [6][4]int{
	{0, 1, 3, 7},
	{0, 3, 2, 7},
	{0, 2, 6, 7},
	{0, 6, 4, 7},
	{0, 4, 5, 7},
	{0, 5, 1, 7},
}

var tetDecompB = [6][4]int{
	{1, 0, 2, 6},
	{1, 2, 3, 6},
	{1, 3, 7, 6},
	{1, 7, 5, 6},
	{1, 5, 4, 6},
	{1, 4, 0, 6},
}

// tetEdge lists the 6 edges of a tetrahedron as pairs of local corner
// indices 0..3.
var tetEdge = [6][2]int{
	{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3},
}

// tetCase maps a 4-bit mask (bit i set when local corner i is inside the
// surface) to the list of triangles needed to separate inside from
// outside, each triangle given as three tetEdge indices. Masks 0 and 15
// (no crossing) map to nil. The four 1-vs-3 splits (masks with one or
// three bits set) each cut a single corner off with one triangle; the
// three 2-vs-2 splits (masks with two bits set) cut the tetrahedron with
// a quadrilateral, triangulated as two triangles.
var tetCase = map[int][][3]int{
	0b0001: {{0, 1, 2}},
	0b1110: {{0, 2, 1}},
	0b0010: {{0, 3, 4}},
	0b1101: {{0, 4, 3}},
	0b0100: {{1, 3, 5}},
	0b1011: {{1, 5, 3}},
	0b1000: {{2, 4, 5}},
	0b0111: {{2, 5, 4}},

	0b0011: {{1, 3, 4}, {1, 4, 2}},
	0b1100: {{1, 4, 3}, {1, 2, 4}},
	0b0101: {{0, 2, 5}, {0, 5, 3}},
	0b1010: {{0, 5, 2}, {0, 3, 5}},
	0b0110: {{1, 5, 4}, {1, 4, 0}},
	0b1001: {{1, 4, 5}, {1, 0, 4}},
}
