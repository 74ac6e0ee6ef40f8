package binary

import (
	"github.com/samber/lo"

	"github.com/raven-betanet/objkit/internal/native"
	"github.com/raven-betanet/objkit/internal/native/peimg"
)

// OptionalHeader is a snapshot of the PE optional header.
type OptionalHeader = peimg.OptionalHeader

// PEBinary is a PE image. Addresses are relative to the image base.
type PEBinary struct {
	base
	file *peimg.File
}

var _ Binary = (*PEBinary)(nil)

func newPEBinary(f *peimg.File, factory *Factory) *PEBinary {
	return &PEBinary{
		base: base{format: FormatPE, lease: &ownedLease{}, factory: factory},
		file: f,
	}
}

func (b *PEBinary) nativeSections() []native.Section {
	return lo.Map(b.file.Sections, func(s *peimg.Section, _ int) native.Section { return s })
}

// Entrypoint is the AddressOfEntryPoint RVA.
func (b *PEBinary) Entrypoint() uint64 {
	if !b.alive() {
		return 0
	}
	return uint64(b.file.Opt.AddressOfEntryPoint)
}

// IsPositionIndependent reports DYNAMIC_BASE.
func (b *PEBinary) IsPositionIndependent() bool {
	return b.alive() && b.file.Opt.DllCharacteristics&peimg.DllDynamicBase != 0
}

// HasNonExecutableData reports NX_COMPAT.
func (b *PEBinary) HasNonExecutableData() bool {
	return b.alive() && b.file.Opt.DllCharacteristics&peimg.DllNXCompat != 0
}

func (b *PEBinary) Header() Header {
	if !b.alive() {
		return Header{}
	}
	return Header{
		Architecture: peArch(b.file.Machine),
		Entrypoint:   uint64(b.file.Opt.AddressOfEntryPoint),
		Bits:         b.file.Bits(),
		Endianness:   LittleEndian,
	}
}

// OptionalHeader returns a copy of every optional header field.
func (b *PEBinary) OptionalHeader() OptionalHeader {
	if !b.alive() {
		return OptionalHeader{}
	}
	return b.file.Opt
}

func (b *PEBinary) Sections() []*Section {
	return b.views(b.nativeSections())
}

// PESections returns the sections with their characteristics.
func (b *PEBinary) PESections() []*PESection {
	if !b.alive() {
		return []*PESection{}
	}
	return lo.Map(b.file.Sections, func(s *peimg.Section, _ int) *PESection {
		return &PESection{Section: newSection(s, b.lease), characteristics: s.Characteristics()}
	})
}

// GetSection returns the first section with the given name.
func (b *PEBinary) GetSection(name string) (*PESection, bool) {
	return lo.Find(b.PESections(), func(s *PESection) bool { return s.Name() == name })
}

// Symbols lists the COFF symbol table. Values are section relative.
func (b *PEBinary) Symbols() []Symbol {
	if !b.alive() {
		return []Symbol{}
	}
	return lo.Map(b.file.Symbols, func(s peimg.Symbol, _ int) Symbol {
		return Symbol{Name: s.Name, Value: uint64(s.Value)}
	})
}

// Relocations lists base relocations by RVA.
func (b *PEBinary) Relocations() []Relocation {
	if !b.alive() {
		return []Relocation{}
	}
	return lo.Map(b.file.Relocs, func(r peimg.Reloc, _ int) Relocation {
		return Relocation{Address: uint64(r.RVA), Size: uint64(r.Bits)}
	})
}

func (b *PEBinary) Segments() []*Segment { return []*Segment{} }

func (b *PEBinary) GetSymbol(name string) (Symbol, bool) {
	return getSymbol(b.Symbols(), name)
}

// PatchAddress accepts an RVA, or a virtual address at or above the image
// base which is converted to an RVA first.
func (b *PEBinary) PatchAddress(addr uint64, patch []byte) error {
	if !b.alive() {
		return ErrReleased
	}
	if base := b.file.Opt.ImageBase; base != 0 && addr >= base {
		addr -= base
	}
	return patchSections(b.nativeSections(), addr, patch)
}

func (b *PEBinary) Write(path string) error {
	return b.factory.Write(b, path)
}

func (b *PEBinary) build() ([]byte, error) {
	if !b.alive() {
		return nil, ErrReleased
	}
	return b.file.Build()
}
