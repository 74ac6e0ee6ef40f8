package binary

import (
	"github.com/samber/lo"

	"github.com/raven-betanet/objkit/internal/native"
)

// Binary is the capability set shared by every format. Accessors never fail;
// once the backing image is gone they return zero or empty values.
type Binary interface {
	Format() Format
	Entrypoint() uint64
	IsPositionIndependent() bool
	HasNonExecutableData() bool
	Header() Header
	Sections() []*Section
	Symbols() []Symbol
	Relocations() []Relocation
	// Segments is empty for every format but Mach-O.
	Segments() []*Segment
	GetSymbol(name string) (Symbol, bool)
	// PatchAddress overwrites bytes at a virtual address inside one section.
	PatchAddress(addr uint64, patch []byte) error
	// Write re-encodes the binary and stores it at path.
	Write(path string) error
	// Close releases the image. Borrowed binaries ignore it.
	Close() error
}

// base carries what every concrete binary shares: its format, its lease on
// the image and the factory that created it.
type base struct {
	format  Format
	lease   lease
	factory *Factory
}

func (b *base) Format() Format { return b.format }

func (b *base) alive() bool { return b.lease.alive() }

// Close releases an owned image. Borrowed images belong to their container.
func (b *base) Close() error {
	if owned, ok := b.lease.(*ownedLease); ok {
		owned.release()
	}
	return nil
}

// Released reports whether the binary has lost its backing image.
func (b *base) Released() bool { return !b.alive() }

func (b *base) views(secs []native.Section) []*Section {
	if !b.alive() {
		return []*Section{}
	}
	return lo.Map(secs, func(s native.Section, _ int) *Section {
		return newSection(s, b.lease)
	})
}

func getSymbol(syms []Symbol, name string) (Symbol, bool) {
	return lo.Find(syms, func(s Symbol) bool { return s.Name == name })
}

// patchSections writes patch at addr inside the single mapped section whose
// range [address, address+size) contains it.
func patchSections(secs []native.Section, addr uint64, patch []byte) error {
	s, ok := lo.Find(secs, func(s native.Section) bool {
		start := s.Address()
		return start != 0 && addr >= start && addr-start < s.Size()
	})
	if !ok {
		return &AddressNotMappedError{Address: addr}
	}

	off := addr - s.Address()
	end := off + uint64(len(patch))
	if !s.HasFileData() || end > s.Size() || end < off {
		return &OutOfBoundsError{Address: addr, Length: len(patch), Section: s.Name(), End: s.Address() + s.Size()}
	}
	if len(patch) == 0 {
		return nil
	}

	data := s.Data()
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
		s.SetData(data)
	}
	copy(data[off:end], patch)
	return nil
}
