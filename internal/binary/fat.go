package binary

import (
	"github.com/raven-betanet/objkit/internal/native/machoimg"
)

// fatSlot holds one embedded image. A taken slot stays in place as a
// tombstone so indices never shift.
type fatSlot struct {
	file  *machoimg.File
	arch  machoimg.Arch
	taken bool
}

// FatBinary is a universal Mach-O container. It owns every embedded image
// until Take moves one out.
type FatBinary struct {
	factory *Factory
	path    string
	slots   []*fatSlot
	closed  bool
}

func newFatBinary(path string, files []*machoimg.File, arches []machoimg.Arch, factory *Factory) *FatBinary {
	slots := make([]*fatSlot, len(files))
	for i := range files {
		slots[i] = &fatSlot{file: files[i], arch: arches[i]}
	}
	return &FatBinary{factory: factory, path: path, slots: slots}
}

// Size is the number of embedded images at construction. Taking an image
// does not change it.
func (f *FatBinary) Size() int {
	return len(f.slots)
}

// Remaining counts the slots that have not been taken.
func (f *FatBinary) Remaining() int {
	if f.closed {
		return 0
	}
	n := 0
	for _, s := range f.slots {
		if !s.taken {
			n++
		}
	}
	return n
}

// Taken reports whether the slot at index has been moved out. An index out
// of range reports false.
func (f *FatBinary) Taken(index int) bool {
	if index < 0 || index >= len(f.slots) {
		return false
	}
	return f.slots[index].taken
}

// Arch describes where the slot at index sits in the universal image.
func (f *FatBinary) Arch(index int) (machoimg.Arch, error) {
	if index < 0 || index >= len(f.slots) {
		return machoimg.Arch{}, &IndexOutOfRangeError{Index: index, Size: len(f.slots)}
	}
	return f.slots[index].arch, nil
}

func (f *FatBinary) slot(index int) (*fatSlot, error) {
	if index < 0 || index >= len(f.slots) {
		return nil, &IndexOutOfRangeError{Index: index, Size: len(f.slots)}
	}
	if f.closed {
		return nil, ErrReleased
	}
	s := f.slots[index]
	if s.taken {
		return nil, &SlotConsumedError{Index: index}
	}
	return s, nil
}

// Peek lends the image at index without removing it. The borrow, the binary
// inside it and every view taken from that binary expire once the slot is
// taken or the container is closed.
func (f *FatBinary) Peek(index int) (*Borrowed[*MachOBinary], error) {
	s, err := f.slot(index)
	if err != nil {
		return nil, err
	}
	l := slotLease{slot: s, fat: f}
	return &Borrowed[*MachOBinary]{
		value: newMachOBinary(s.file, l, f.factory),
		lease: l,
	}, nil
}

// Take moves the image at index out of the container. The caller owns the
// result and closes it. Any borrow of the same slot expires.
func (f *FatBinary) Take(index int) (*MachOBinary, error) {
	s, err := f.slot(index)
	if err != nil {
		return nil, err
	}
	file := s.file
	s.file = nil
	s.taken = true
	f.factory.logger.WithBinary("macho", f.path).Debugf("took slot %d of %d", index, len(f.slots))
	return newMachOBinary(file, &ownedLease{}, f.factory), nil
}

// Close releases every image still in the container. Borrows expire; images
// already taken are unaffected.
func (f *FatBinary) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	for _, s := range f.slots {
		s.file = nil
	}
	return nil
}
