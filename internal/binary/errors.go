package binary

import (
	"errors"
	"fmt"
)

// ErrReleased is returned when a mutation goes through a binary whose
// backing image was closed or moved out of its container.
var ErrReleased = errors.New("binary has no backing image")

// ParseError reports unreadable, truncated or unrecognized input.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a recognized container kind that has no
// concrete wrapper.
type UnsupportedFormatError struct {
	Path string
	Kind string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: unsupported format %s", e.Path, e.Kind)
}

// AddressNotMappedError reports a patch target outside every section.
type AddressNotMappedError struct {
	Address uint64
}

func (e *AddressNotMappedError) Error() string {
	return fmt.Sprintf("address %#x is not mapped by any section", e.Address)
}

// OutOfBoundsError reports a patch that would run past its section.
type OutOfBoundsError struct {
	Address uint64
	Length  int
	Section string
	End     uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("patch of %d bytes at %#x runs past end of section %q (%#x)", e.Length, e.Address, e.Section, e.End)
}

// BuildError reports a failure to re-encode a binary.
type BuildError struct {
	Format Format
	Path   string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to build %s binary: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("failed to build %s binary %s: %v", e.Format, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// IndexOutOfRangeError reports a container index outside [0, Size).
type IndexOutOfRangeError struct {
	Index int
	Size  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Size)
}

// TypeMismatchError reports an argument of the wrong shape.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Got)
}

// SlotConsumedError reports peek or take on a container slot whose image was
// already taken.
type SlotConsumedError struct {
	Index int
}

func (e *SlotConsumedError) Error() string {
	return fmt.Sprintf("slot %d has already been taken", e.Index)
}
