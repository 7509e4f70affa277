// Package mlserr implements the error taxonomy used across mlsgpu: each
// kind maps to a process exit code the way the original tool's exception
// hierarchy mapped to one at the top of main().
package mlserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one member of the error taxonomy below.
type Kind int

const (
	// Config covers CLI validation, bad option combinations, and
	// accelerator-capability mismatches caught before any work starts.
	Config Kind = iota
	// Format covers malformed or truncated PLY headers.
	Format
	// Density covers a Bucketer region that cannot be split below its
	// limits.
	Density
	// Accelerator covers isosurface-kernel failures, including OOM.
	Accelerator
	// IO covers reader/writer failures, carrying a file name and errno.
	IO
	// Overflow covers a chunk accumulating >= 2^32 vertices.
	Overflow
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "ConfigError"
	case Format:
		return "FormatError"
	case Density:
		return "DensityError"
	case Accelerator:
		return "AcceleratorError"
	case IO:
		return "IOError"
	case Overflow:
		return "Overflow"
	default:
		return "UnknownError"
	}
}

// ExitCode returns the process exit code for this error kind. Every member
// of the taxonomy maps to 1; the distinction is carried in the message and
// is primarily useful for logging and tests, not for shell scripting.
func (k Kind) ExitCode() int {
	return 1
}

// Error is a taxonomy-tagged error. It wraps an underlying cause (often
// produced via github.com/pkg/errors for stack context) the way the
// teacher's storage/datastore packages wrap engine errors with key/path
// context before returning them to callers.
type Error struct {
	Kind Kind
	// File, when non-empty, is the input/output file name this error
	// concerns (populated for Format, IO, and Overflow errors).
	File string
	Err  error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.File, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, file string, format string, args ...interface{}) *Error {
	return &Error{Kind: k, File: file, Err: errors.Errorf(format, args...)}
}

// ConfigErrorf builds a ConfigError.
func ConfigErrorf(format string, args ...interface{}) error {
	return newf(Config, "", format, args...)
}

// FormatErrorf builds a FormatError naming the offending file.
func FormatErrorf(file, format string, args ...interface{}) error {
	return newf(Format, file, format, args...)
}

// DensityErrorf builds a DensityError.
func DensityErrorf(format string, args ...interface{}) error {
	return newf(Density, "", format, args...)
}

// AcceleratorErrorf builds an AcceleratorError naming the failing operation.
func AcceleratorErrorf(op string, format string, args ...interface{}) error {
	return newf(Accelerator, "", op+": "+format, args...)
}

// IOErrorf wraps an I/O failure with the file name it concerns.
func IOErrorf(file string, err error) error {
	return &Error{Kind: IO, File: file, Err: err}
}

// OverflowErrorf builds an Overflow error naming the offending chunk.
func OverflowErrorf(chunkName string, format string, args ...interface{}) error {
	return newf(Overflow, chunkName, format, args...)
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ExitCode maps any error to a process exit code: 0 for nil, the taxonomy
// code for a tagged *Error, and 1 for anything else (an unanticipated
// runtime error still must not exit 0).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if k, ok := KindOf(err); ok {
		return k.ExitCode()
	}
	return 1
}
