// Package plyio implements a binary PLY reader and writer: a reader that
// gives the element count, per-vertex byte layout, and a raw-byte decode
// path, and a writer that appends vertices/triangles to a declared-size
// chunk file. It handles the binary little/big-endian PLY subset this
// pipeline needs: a single vertex element with float32 x,y,z,nx,ny,nz,radius
// properties (any order, extras tolerated and skipped, list properties
// rejected), and a face element of one uchar(=3) + three uint32 per
// triangle on the way out.
package plyio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/blang/semver"

	"github.com/liuxinren/mlsgpu/geom"
	"github.com/liuxinren/mlsgpu/mlserr"
	"github.com/liuxinren/mlsgpu/splat"
)

// Version is the mesh generator version stamped into every chunk's
// header as a comment line, so a reader can tell which revision of the
// vertex-key/weld scheme produced a given file.
var Version = semver.MustParse("1.0.0")

// VersionComment returns the standard "comment generator-version X.Y.Z"
// line DeclareTotals callers should include first in their comments.
func VersionComment() Comment {
	return Comment("generator-version " + Version.String())
}

// fieldType is a PLY scalar property type.
type fieldType int

const (
	int8T fieldType = iota
	uint8T
	int16T
	uint16T
	int32T
	uint32T
	float32T
	float64T
)

func parseFieldType(t string) (fieldType, bool) {
	switch t {
	case "int8", "char":
		return int8T, true
	case "uint8", "uchar":
		return uint8T, true
	case "int16", "short":
		return int16T, true
	case "uint16", "ushort":
		return uint16T, true
	case "int32", "int":
		return int32T, true
	case "uint32", "uint":
		return uint32T, true
	case "float32", "float":
		return float32T, true
	case "float64", "double":
		return float64T, true
	default:
		return 0, false
	}
}

func (f fieldType) size() int {
	switch f {
	case int8T, uint8T:
		return 1
	case int16T, uint16T:
		return 2
	case int32T, uint32T, float32T:
		return 4
	case float64T:
		return 8
	}
	panic("unreachable")
}

type vertexProperty struct {
	name   string
	typ    fieldType
	offset int
}

// Header describes the parsed vertex element of an input PLY file: enough
// for SplatStore to decode raw bytes into splat.Splat records without
// re-parsing the header per read.
type Header struct {
	BigEndian   bool
	VertexCount uint64
	VertexSize  int // bytes per vertex record
	HeaderEnd   int64
	props       map[string]vertexProperty
}

// requiredFloatProps are the seven float32 fields required in the vertex
// element, any order, extras tolerated.
var requiredFloatProps = []string{"x", "y", "z", "nx", "ny", "nz", "radius"}

// ParseHeader reads and validates the PLY header from r, leaving r
// positioned at the first byte of the vertex data (callers that need
// random access should instead use HeaderEnd with a separate seekable
// handle, which is what SplatStore does with its own seeked *os.File).
func ParseHeader(r *bufio.Reader, fileName string) (*Header, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, mlserr.FormatErrorf(fileName, "reading magic: %v", err)
	}
	if line != "ply" {
		return nil, mlserr.FormatErrorf(fileName, "not a PLY file (got %q)", line)
	}

	h := &Header{props: make(map[string]vertexProperty)}
	var bytesRead int64 = int64(len(line)) + 1
	inVertexElement := false
	var vertexCount uint64
	offset := 0
	sawFormat := false

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, mlserr.FormatErrorf(fileName, "reading header: %v", err)
		}
		bytesRead += int64(len(line)) + 1
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) != 3 {
				return nil, mlserr.FormatErrorf(fileName, "malformed format line %q", line)
			}
			switch fields[1] {
			case "binary_little_endian":
				h.BigEndian = false
			case "binary_big_endian":
				h.BigEndian = true
			case "ascii":
				return nil, mlserr.FormatErrorf(fileName, "ASCII PLY is rejected")
			default:
				return nil, mlserr.FormatErrorf(fileName, "unknown format %q", fields[1])
			}
			sawFormat = true
		case "comment", "obj_info":
			// ignored
		case "element":
			if len(fields) != 3 {
				return nil, mlserr.FormatErrorf(fileName, "malformed element line %q", line)
			}
			count, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return nil, mlserr.FormatErrorf(fileName, "bad element count %q", fields[2])
			}
			inVertexElement = fields[1] == "vertex"
			if inVertexElement {
				vertexCount = count
				offset = 0
			}
		case "property":
			if !inVertexElement {
				continue
			}
			if fields[1] == "list" {
				return nil, mlserr.FormatErrorf(fileName, "list properties in vertex element are rejected")
			}
			ft, ok := parseFieldType(fields[1])
			if !ok {
				return nil, mlserr.FormatErrorf(fileName, "unknown property type %q", fields[1])
			}
			name := fields[2]
			h.props[name] = vertexProperty{name: name, typ: ft, offset: offset}
			offset += ft.size()
		case "end_header":
			h.VertexCount = vertexCount
			h.VertexSize = offset
			h.HeaderEnd = bytesRead
			if !sawFormat {
				return nil, mlserr.FormatErrorf(fileName, "missing format line")
			}
			for _, name := range requiredFloatProps {
				p, ok := h.props[name]
				if !ok {
					return nil, mlserr.FormatErrorf(fileName, "missing required vertex property %q", name)
				}
				if p.typ != float32T {
					return nil, mlserr.FormatErrorf(fileName, "vertex property %q must be float32", name)
				}
			}
			return h, nil
		default:
			// tolerate unrecognized header directives
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && len(line) == 0 {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// DecodeSplat decodes one vertex record (exactly h.VertexSize bytes) into a
// splat.Splat, skipping any tolerated extra properties.
func (h *Header) DecodeSplat(rec []byte) splat.Splat {
	get := func(name string) float32 {
		p := h.props[name]
		return h.decodeFloat32(rec[p.offset : p.offset+4])
	}
	return splat.Splat{
		Position: geom.Vec3{X: get("x"), Y: get("y"), Z: get("z")},
		Normal:   geom.Vec3{X: get("nx"), Y: get("ny"), Z: get("nz")},
		Radius:   get("radius"),
	}
}

func (h *Header) decodeFloat32(b []byte) float32 {
	var bits uint32
	if h.BigEndian {
		bits = binary.BigEndian.Uint32(b)
	} else {
		bits = binary.LittleEndian.Uint32(b)
	}
	return math.Float32frombits(bits)
}

// Writer appends vertex and triangle payloads to one chunked output file
// after the final totals are known. The caller must call DeclareTotals
// before any Append call.
type Writer struct {
	w            *bufio.Writer
	closer       io.Closer
	vertexCount  uint64
	triCount     uint64
	wroteVerts   uint64
	wroteTris    uint64
	headerWriten bool
}

// NewWriter wraps w (typically a *os.File) for one chunk's output.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<20), closer: w}
}

// Comment is one `comment <text>` header line, emitted in the order given.
type Comment string

// DeclareTotals writes the PLY header once a chunk's final vertex and
// triangle counts are known.
func (w *Writer) DeclareTotals(vertexCount, triangleCount uint64, comments []Comment) error {
	if w.headerWriten {
		return fmt.Errorf("plyio: DeclareTotals called twice")
	}
	w.vertexCount = vertexCount
	w.triCount = triangleCount
	var b strings.Builder
	b.WriteString("ply\n")
	b.WriteString("format binary_little_endian 1.0\n")
	for _, c := range comments {
		b.WriteString("comment ")
		b.WriteString(string(c))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "element vertex %d\n", vertexCount)
	b.WriteString("property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(&b, "element face %d\n", triangleCount)
	b.WriteString("property list uchar uint vertex_indices\n")
	b.WriteString("end_header\n")
	_, err := w.w.WriteString(b.String())
	w.headerWriten = true
	return err
}

// AppendVertex writes one vertex position.
func (w *Writer) AppendVertex(p geom.Vec3) error {
	if w.wroteVerts >= w.vertexCount {
		return fmt.Errorf("plyio: vertex count exceeds declared total %d", w.vertexCount)
	}
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.X))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.Y))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.Z))
	if _, err := w.w.Write(buf[:]); err != nil {
		return err
	}
	w.wroteVerts++
	return nil
}

// AppendTriangle writes one triangle's three vertex indices.
func (w *Writer) AppendTriangle(a, b, c uint32) error {
	if w.wroteTris >= w.triCount {
		return fmt.Errorf("plyio: triangle count exceeds declared total %d", w.triCount)
	}
	var buf [13]byte
	buf[0] = 3
	binary.LittleEndian.PutUint32(buf[1:5], a)
	binary.LittleEndian.PutUint32(buf[5:9], b)
	binary.LittleEndian.PutUint32(buf[9:13], c)
	if _, err := w.w.Write(buf[:]); err != nil {
		return err
	}
	w.wroteTris++
	return nil
}

// Close flushes buffered output and closes the underlying writer.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.closer.Close()
}
