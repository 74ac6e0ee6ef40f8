package binary

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/samber/lo"

	"github.com/raven-betanet/objkit/internal/native"
	"github.com/raven-betanet/objkit/internal/native/elfimg"
)

// ELFBinary is an ELF image.
type ELFBinary struct {
	base
	file *elfimg.File
}

var _ Binary = (*ELFBinary)(nil)

func newELFBinary(f *elfimg.File, factory *Factory) *ELFBinary {
	return &ELFBinary{
		base: base{format: FormatELF, lease: &ownedLease{}, factory: factory},
		file: f,
	}
}

func (b *ELFBinary) nativeSections() []native.Section {
	return lo.Map(b.file.Sections, func(s *elfimg.Section, _ int) native.Section { return s })
}

func (b *ELFBinary) Entrypoint() uint64 {
	if !b.alive() {
		return 0
	}
	return b.file.Entry
}

// IsPositionIndependent reports whether the image is ET_DYN.
func (b *ELFBinary) IsPositionIndependent() bool {
	return b.alive() && b.file.Type == elf.ET_DYN
}

// HasNonExecutableData reports whether PT_GNU_STACK is present without PF_X.
func (b *ELFBinary) HasNonExecutableData() bool {
	return b.alive() && b.file.HasNonExecutableStack()
}

func (b *ELFBinary) Header() Header {
	if !b.alive() {
		return Header{}
	}
	h := Header{
		Architecture: elfArch(b.file.Machine),
		Entrypoint:   b.file.Entry,
		Bits:         b.file.Bits(),
		Endianness:   LittleEndian,
	}
	if b.file.ByteOrder == binary.BigEndian {
		h.Endianness = BigEndian
	}
	return h
}

func (b *ELFBinary) Sections() []*Section {
	return b.views(b.nativeSections())
}

// Symbols lists .dynsym entries followed by .symtab entries.
func (b *ELFBinary) Symbols() []Symbol {
	if !b.alive() {
		return []Symbol{}
	}
	return lo.Map(b.file.Symbols, func(s elfimg.Symbol, _ int) Symbol {
		return Symbol{Name: s.Name, Value: s.Value, Size: s.Size}
	})
}

func (b *ELFBinary) Relocations() []Relocation {
	if !b.alive() {
		return []Relocation{}
	}
	bits := uint64(b.file.Bits())
	return lo.Map(b.file.Relocs, func(r elfimg.Reloc, _ int) Relocation {
		return Relocation{Address: r.Offset, Size: bits}
	})
}

func (b *ELFBinary) Segments() []*Segment { return []*Segment{} }

func (b *ELFBinary) GetSymbol(name string) (Symbol, bool) {
	return getSymbol(b.Symbols(), name)
}

func (b *ELFBinary) PatchAddress(addr uint64, patch []byte) error {
	if !b.alive() {
		return ErrReleased
	}
	return patchSections(b.nativeSections(), addr, patch)
}

func (b *ELFBinary) Write(path string) error {
	return b.factory.Write(b, path)
}

// GetSection returns the first section with the given name.
func (b *ELFBinary) GetSection(name string) (*Section, bool) {
	return lo.Find(b.Sections(), func(s *Section) bool { return s.Name() == name })
}

// HasOverlay reports whether bytes follow the last indexed region.
func (b *ELFBinary) HasOverlay() bool {
	return b.alive() && len(b.file.Overlay()) > 0
}

// Overlay returns a copy of the trailing bytes.
func (b *ELFBinary) Overlay() []byte {
	if !b.alive() {
		return []byte{}
	}
	return bytes.Clone(b.file.Overlay())
}

// SetOverlay replaces the trailing bytes written after the image.
func (b *ELFBinary) SetOverlay(data []byte) error {
	if !b.alive() {
		return ErrReleased
	}
	b.file.SetOverlay(bytes.Clone(data))
	return nil
}

func (b *ELFBinary) build() ([]byte, error) {
	if !b.alive() {
		return nil, ErrReleased
	}
	return b.file.Build()
}
