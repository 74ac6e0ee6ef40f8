// Package native holds the format-level collaborator shared by the ELF, PE
// and Mach-O codecs: format sniffing, filesystem access, the native section
// contract and the layout checks every builder runs before re-encoding.
package native

import (
	"bytes"
	"encoding/binary"
)

// Kind is the container kind recognized by Sniff.
type Kind int

const (
	KindUnknown Kind = iota
	KindELF
	KindPE
	KindMachO
	KindMachOUniversal
	KindMachOUniversal64
	KindJavaClass
	KindWasm
	KindDOS
)

func (k Kind) String() string {
	switch k {
	case KindELF:
		return "ELF"
	case KindPE:
		return "PE"
	case KindMachO:
		return "MachO"
	case KindMachOUniversal:
		return "MachO-universal"
	case KindMachOUniversal64:
		return "MachO-universal64"
	case KindJavaClass:
		return "java-class"
	case KindWasm:
		return "wasm"
	case KindDOS:
		return "dos-mz"
	default:
		return "unknown"
	}
}

// Supported reports whether a codec exists for the kind.
func (k Kind) Supported() bool {
	switch k {
	case KindELF, KindPE, KindMachO, KindMachOUniversal:
		return true
	}
	return false
}

// Recognized reports whether the kind is a known container, handled or not.
func (k Kind) Recognized() bool {
	return k != KindUnknown
}

// Java class files share the fat magic; the field after it holds the class
// version (>= 45) instead of an architecture count.
const maxFatArches = 45

// Sniff identifies the container kind from the leading bytes of an image.
func Sniff(data []byte) Kind {
	if len(data) < 4 {
		return KindUnknown
	}

	switch {
	case bytes.HasPrefix(data, []byte{0x7f, 'E', 'L', 'F'}):
		return KindELF
	case bytes.HasPrefix(data, []byte{0x00, 'a', 's', 'm'}):
		return KindWasm
	case data[0] == 'M' && data[1] == 'Z':
		if len(data) >= 0x40 {
			peOff := binary.LittleEndian.Uint32(data[0x3c:])
			if uint64(peOff)+4 <= uint64(len(data)) && bytes.Equal(data[peOff:peOff+4], []byte{'P', 'E', 0, 0}) {
				return KindPE
			}
		}
		return KindDOS
	}

	be := binary.BigEndian.Uint32(data)
	le := binary.LittleEndian.Uint32(data)
	switch {
	case be == 0xcafebabe:
		if len(data) >= 8 && binary.BigEndian.Uint32(data[4:]) < maxFatArches {
			return KindMachOUniversal
		}
		return KindJavaClass
	case be == 0xcafebabf:
		return KindMachOUniversal64
	case be == 0xfeedface || be == 0xfeedfacf || le == 0xfeedface || le == 0xfeedfacf:
		return KindMachO
	}
	return KindUnknown
}

// Section is the contract every native section satisfies. Data returns the
// live backing buffer; callers that hand bytes out must copy.
type Section interface {
	Name() string
	Address() uint64
	Size() uint64
	SetSize(size uint64)
	Offset() uint64
	Data() []byte
	SetData(data []byte)
	HasFileData() bool
}

// VirtualSized is implemented by sections whose format distinguishes the
// mapped size from the stored size.
type VirtualSized interface {
	VirtualSize() uint64
	SetVirtualSize(size uint64)
}

// AlignUp rounds v up to a multiple of align; align 0 or 1 leaves v as is.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
