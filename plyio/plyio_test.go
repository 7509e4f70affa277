package plyio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/liuxinren/mlsgpu/geom"
)

func buildHeader(props string, count int) string {
	var b strings.Builder
	b.WriteString("ply\nformat binary_little_endian 1.0\n")
	b.WriteString("element vertex ")
	b.WriteString(itoa(count))
	b.WriteByte('\n')
	b.WriteString(props)
	b.WriteString("end_header\n")
	return b.String()
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

const sevenFloatProps = "property float x\nproperty float y\nproperty float z\n" +
	"property float nx\nproperty float ny\nproperty float nz\nproperty float radius\n"

func TestParseHeaderAcceptsRequiredProps(t *testing.T) {
	text := buildHeader(sevenFloatProps, 3)
	h, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.VertexCount != 3 {
		t.Errorf("VertexCount = %d, want 3", h.VertexCount)
	}
	if h.VertexSize != 28 {
		t.Errorf("VertexSize = %d, want 28", h.VertexSize)
	}
	if h.HeaderEnd != int64(len(text)) {
		t.Errorf("HeaderEnd = %d, want %d", h.HeaderEnd, len(text))
	}
}

func TestParseHeaderToleratesExtraProps(t *testing.T) {
	text := buildHeader(sevenFloatProps+"property float confidence\n", 1)
	h, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.VertexSize != 32 {
		t.Errorf("VertexSize = %d, want 32", h.VertexSize)
	}
}

func TestParseHeaderRejectsMissingProperty(t *testing.T) {
	text := buildHeader("property float x\nproperty float y\nproperty float z\n", 1)
	_, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err == nil {
		t.Errorf("expected an error for a vertex element missing required properties")
	}
}

func TestParseHeaderRejectsListProperty(t *testing.T) {
	text := buildHeader("property list uchar uint vertex_indices\n"+sevenFloatProps, 1)
	_, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err == nil {
		t.Errorf("expected an error for a list property in the vertex element")
	}
}

func TestParseHeaderRejectsASCII(t *testing.T) {
	text := "ply\nformat ascii 1.0\n" + sevenFloatProps + "end_header\n"
	_, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err == nil {
		t.Errorf("expected an error for an ASCII-format PLY file")
	}
}

func TestDecodeSplatRoundTrip(t *testing.T) {
	text := buildHeader(sevenFloatProps, 1)
	h, err := ParseHeader(bufio.NewReader(strings.NewReader(text)), "in.ply")
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	rec := make([]byte, h.VertexSize)
	vals := []float32{1, 2, 3, 0, 0, 1, 0.5}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(rec[i*4:i*4+4], math.Float32bits(v))
	}
	s := h.DecodeSplat(rec)
	want := geom.Vec3{X: 1, Y: 2, Z: 3}
	if s.Position != want {
		t.Errorf("Position = %v, want %v", s.Position, want)
	}
	if s.Radius != 0.5 {
		t.Errorf("Radius = %v, want 0.5", s.Radius)
	}
}

func TestWriterDeclareTotalsThenAppend(t *testing.T) {
	var buf closingBuffer
	w := NewWriter(&buf)
	if err := w.DeclareTotals(2, 1, []Comment{VersionComment()}); err != nil {
		t.Fatalf("DeclareTotals: %v", err)
	}
	if err := w.AppendVertex(geom.Vec3{X: 1, Y: 2, Z: 3}); err != nil {
		t.Fatalf("AppendVertex: %v", err)
	}
	if err := w.AppendVertex(geom.Vec3{X: 4, Y: 5, Z: 6}); err != nil {
		t.Fatalf("AppendVertex: %v", err)
	}
	if err := w.AppendVertex(geom.Vec3{}); err == nil {
		t.Errorf("expected an error appending beyond the declared vertex total")
	}
	if err := w.AppendTriangle(0, 1, 0); err != nil {
		t.Fatalf("AppendTriangle: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := buf.Bytes()
	if !bytes.Contains(out, []byte("generator-version")) {
		t.Errorf("expected the header to carry a generator-version comment")
	}
}

type closingBuffer struct {
	bytes.Buffer
}

func (c *closingBuffer) Close() error { return nil }
