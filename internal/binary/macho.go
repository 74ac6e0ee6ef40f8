package binary

import (
	"encoding/binary"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/raven-betanet/objkit/internal/native"
	"github.com/raven-betanet/objkit/internal/native/machoimg"
)

// MachOBinary is a thin Mach-O image, either owned or borrowed from a
// FatBinary slot.
type MachOBinary struct {
	base
	file *machoimg.File
}

var _ Binary = (*MachOBinary)(nil)

func newMachOBinary(f *machoimg.File, l lease, factory *Factory) *MachOBinary {
	return &MachOBinary{
		base: base{format: FormatMachO, lease: l, factory: factory},
		file: f,
	}
}

func (b *MachOBinary) nativeSections() []native.Section {
	return lo.Map(b.file.Sections, func(s *machoimg.Section, _ int) native.Section { return s })
}

// Borrowed reports whether the image belongs to a container.
func (b *MachOBinary) Borrowed() bool {
	_, ok := b.lease.(slotLease)
	return ok
}

func (b *MachOBinary) Entrypoint() uint64 {
	if !b.alive() {
		return 0
	}
	return b.file.Entry
}

// IsPositionIndependent reports MH_PIE.
func (b *MachOBinary) IsPositionIndependent() bool {
	return b.alive() && b.file.IsPIE()
}

// HasNonExecutableData reports the absence of MH_ALLOW_STACK_EXECUTION.
func (b *MachOBinary) HasNonExecutableData() bool {
	return b.alive() && b.file.HasNX()
}

func (b *MachOBinary) Header() Header {
	if !b.alive() {
		return Header{}
	}
	h := Header{
		Architecture: CPUType(b.file.CPU).arch(),
		Entrypoint:   b.file.Entry,
		Bits:         b.file.Bits(),
		Endianness:   LittleEndian,
	}
	if b.file.ByteOrder == binary.BigEndian {
		h.Endianness = BigEndian
	}
	return h
}

// MachOHeader returns a copy of the Mach-O header.
func (b *MachOBinary) MachOHeader() MachOHeader {
	if !b.alive() {
		return MachOHeader{}
	}
	return machoHeader(b.file)
}

func (b *MachOBinary) Sections() []*Section {
	return b.views(b.nativeSections())
}

func (b *MachOBinary) Segments() []*Segment {
	if !b.alive() {
		return []*Segment{}
	}
	return lo.Map(b.file.Segments, func(s *machoimg.Segment, _ int) *Segment {
		return &Segment{native: s, lease: b.lease}
	})
}

// GetSegment returns the first segment with the given name.
func (b *MachOBinary) GetSegment(name string) (*Segment, bool) {
	return lo.Find(b.Segments(), func(s *Segment) bool { return s.Name() == name })
}

func (b *MachOBinary) Symbols() []Symbol {
	if !b.alive() {
		return []Symbol{}
	}
	return lo.Map(b.file.Symbols, func(s machoimg.Symbol, _ int) Symbol {
		return Symbol{Name: s.Name, Value: s.Value}
	})
}

func (b *MachOBinary) Relocations() []Relocation {
	if !b.alive() {
		return []Relocation{}
	}
	return lo.Map(b.file.Relocs, func(r machoimg.Reloc, _ int) Relocation {
		return Relocation{Address: r.Address, Size: uint64(r.Size)}
	})
}

func (b *MachOBinary) GetSymbol(name string) (Symbol, bool) {
	return getSymbol(b.Symbols(), name)
}

func (b *MachOBinary) PatchAddress(addr uint64, patch []byte) error {
	if !b.alive() {
		return ErrReleased
	}
	return patchSections(b.nativeSections(), addr, patch)
}

func (b *MachOBinary) Write(path string) error {
	return b.factory.Write(b, path)
}

// HasCodeSignature reports whether LC_CODE_SIGNATURE is present.
func (b *MachOBinary) HasCodeSignature() bool {
	return b.alive() && b.file.HasCodeSignature()
}

// RemoveSignature strips the code signature. Calling it on an unsigned
// binary does nothing.
func (b *MachOBinary) RemoveSignature() error {
	if !b.alive() {
		return ErrReleased
	}
	if b.file.RemoveSignature() {
		b.factory.log("macho").Debug("removed code signature")
	}
	return nil
}

// ExtendSegment grows seg to at least newSize bytes, rounded up to the page
// size, and moves the segments that follow it. A false result means the
// relayout was refused and the binary should be parsed again before further
// use.
func (b *MachOBinary) ExtendSegment(seg *Segment, newSize uint64) bool {
	if !b.alive() || !seg.alive() {
		return false
	}
	ok := b.file.ExtendSegment(seg.native, newSize)
	b.factory.log("macho").WithFields(logrus.Fields{"segment": seg.native.Name, "size": newSize}).Debugf("extend segment: %v", ok)
	return ok
}

func (b *MachOBinary) build() ([]byte, error) {
	if !b.alive() {
		return nil, ErrReleased
	}
	return b.file.Build()
}
