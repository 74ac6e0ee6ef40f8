package native

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Region is a half-open byte range [Start, End) of a serialized image.
type Region struct {
	Name  string
	Start uint64
	End   uint64
}

func (r Region) overlaps(o Region) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%#x, %#x)", r.Name, r.Start, r.End)
}

// CheckOverlaps reports every changed region that overlaps another changed
// region or any fixed region. Empty regions never overlap.
func CheckOverlaps(changed, fixed []Region) error {
	var result *multierror.Error
	for i, c := range changed {
		if c.End <= c.Start {
			continue
		}
		for _, o := range changed[i+1:] {
			if o.End > o.Start && c.overlaps(o) {
				result = multierror.Append(result, fmt.Errorf("%s overlaps %s", c, o))
			}
		}
		for _, o := range fixed {
			if o.End > o.Start && c.overlaps(o) {
				result = multierror.Append(result, fmt.Errorf("%s overlaps %s", c, o))
			}
		}
	}
	return result.ErrorOrNil()
}

// PutContent writes data at off inside out, growing out when the region runs
// past its end. The region is size bytes long; data shorter than size is
// zero-filled and data longer than size is rejected.
func PutContent(out []byte, name string, off, size uint64, data []byte) ([]byte, error) {
	if uint64(len(data)) > size {
		return out, fmt.Errorf("section %s: content is %d bytes but size is %d", name, len(data), size)
	}
	end := off + size
	if end < off {
		return out, fmt.Errorf("section %s: region overflows", name)
	}
	if end > uint64(len(out)) {
		out = append(out, make([]byte, end-uint64(len(out)))...)
	}
	n := copy(out[off:end], data)
	clear(out[off+uint64(n) : end])
	return out, nil
}

// Field is a value bound for a fixed-width header field.
type Field struct {
	Name  string
	Value uint64
	Bits  uint
}

func (f Field) fits() bool {
	return f.Bits >= 64 || f.Value>>f.Bits == 0
}

// CheckFields reports every field whose value does not fit its width.
func CheckFields(fields ...Field) error {
	var result *multierror.Error
	for _, f := range fields {
		if !f.fits() {
			result = multierror.Append(result, fmt.Errorf("%s %#x does not fit in %d bits", f.Name, f.Value, f.Bits))
		}
	}
	return result.ErrorOrNil()
}
