package mlserr

import (
	"fmt"
	"testing"
)

func TestConstructorsTagTheRightKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"config", ConfigErrorf("bad option"), Config},
		{"format", FormatErrorf("in.ply", "bad header"), Format},
		{"density", DensityErrorf("cannot split further"), Density},
		{"accelerator", AcceleratorErrorf("extract", "out of memory"), Accelerator},
		{"io", IOErrorf("out.ply", fmt.Errorf("disk full")), IO},
		{"overflow", OverflowErrorf("chunk0000.ply", "exceeds 2^32 vertices"), Overflow},
	}
	for _, c := range cases {
		got, ok := KindOf(c.err)
		if !ok {
			t.Errorf("%s: KindOf did not recognize the error", c.name)
			continue
		}
		if got != c.want {
			t.Errorf("%s: KindOf = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestErrorMessageIncludesFileWhenPresent(t *testing.T) {
	err := FormatErrorf("splats.ply", "missing property %q", "radius")
	msg := err.Error()
	if !contains(msg, "splats.ply") {
		t.Errorf("error message %q should mention the file", msg)
	}

	err = DensityErrorf("too dense")
	msg = err.Error()
	if contains(msg, ": : ") {
		t.Errorf("error message %q should not have an empty file segment", msg)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Errorf("ExitCode(nil) should be 0")
	}
	if ExitCode(ConfigErrorf("bad")) != 1 {
		t.Errorf("ExitCode of a tagged error should be 1")
	}
	if ExitCode(fmt.Errorf("plain error")) != 1 {
		t.Errorf("ExitCode of an untagged error should still be 1")
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := IOErrorf("x.ply", fmt.Errorf("eof"))
	wrapped := fmt.Errorf("reading header: %w", base)
	k, ok := KindOf(wrapped)
	if !ok || k != IO {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (IO, true)", k, ok)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
