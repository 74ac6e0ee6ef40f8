package binary

import (
	"bytes"

	"github.com/raven-betanet/objkit/internal/native"
	"github.com/raven-betanet/objkit/internal/native/machoimg"
)

// Section is a view of one native section. Getters return zero values once
// the owning binary has lost its image; setters return ErrReleased.
type Section struct {
	native native.Section
	lease  lease
}

func newSection(s native.Section, l lease) *Section {
	return &Section{native: s, lease: l}
}

func (s *Section) alive() bool {
	return s != nil && s.lease.alive()
}

// Name is the section name in the format's native encoding.
func (s *Section) Name() string {
	if !s.alive() {
		return ""
	}
	return s.native.Name()
}

// VirtualAddress is where the section is mapped; zero when unmapped.
func (s *Section) VirtualAddress() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Address()
}

// Size is the stored size of the section.
func (s *Section) Size() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Size()
}

// SetSize changes the stored size. Content is not resized.
func (s *Section) SetSize(size uint64) error {
	if !s.alive() {
		return ErrReleased
	}
	s.native.SetSize(size)
	return nil
}

// VirtualSize is the mapped size. Formats without a distinct field report
// Size.
func (s *Section) VirtualSize() uint64 {
	if !s.alive() {
		return 0
	}
	if vs, ok := s.native.(native.VirtualSized); ok {
		return vs.VirtualSize()
	}
	return s.native.Size()
}

// SetVirtualSize changes the mapped size. Formats without a distinct field
// change Size.
func (s *Section) SetVirtualSize(size uint64) error {
	if !s.alive() {
		return ErrReleased
	}
	if vs, ok := s.native.(native.VirtualSized); ok {
		vs.SetVirtualSize(size)
		return nil
	}
	s.native.SetSize(size)
	return nil
}

// FileOffset is the position of the section content in the serialized
// image.
func (s *Section) FileOffset() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Offset()
}

// Offset is the same position as FileOffset.
func (s *Section) Offset() uint64 {
	return s.FileOffset()
}

// Content returns a copy of the section bytes. Sections without file data
// return an empty slice.
func (s *Section) Content() []byte {
	if !s.alive() {
		return []byte{}
	}
	return bytes.Clone(s.native.Data())
}

// SetContent replaces the section bytes with a copy of data. An empty data
// is ignored. The section size is left as is.
func (s *Section) SetContent(data []byte) error {
	if !s.alive() {
		return ErrReleased
	}
	if len(data) == 0 {
		return nil
	}
	s.native.SetData(bytes.Clone(data))
	return nil
}

// HasContent reports whether the section occupies bytes in the file.
func (s *Section) HasContent() bool {
	return s.alive() && s.native.HasFileData()
}

// PESection adds the PE characteristics to a Section.
type PESection struct {
	*Section
	characteristics uint32
}

// Characteristics is the section flags field.
func (s *PESection) Characteristics() uint32 {
	if !s.alive() {
		return 0
	}
	return s.characteristics
}

// Segment is a view of a Mach-O segment.
type Segment struct {
	native *machoimg.Segment
	lease  lease
}

func (s *Segment) alive() bool {
	return s != nil && s.lease.alive()
}

func (s *Segment) Name() string {
	if !s.alive() {
		return ""
	}
	return s.native.Name
}

func (s *Segment) VirtualAddress() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Addr
}

func (s *Segment) VirtualSize() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Memsz
}

func (s *Segment) FileOffset() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Offset
}

func (s *Segment) FileSize() uint64 {
	if !s.alive() {
		return 0
	}
	return s.native.Filesz
}

// Sections returns views of the sections mapped in this segment. They share
// memory with the binary's flat section list.
func (s *Segment) Sections() []*Section {
	if !s.alive() {
		return []*Section{}
	}
	out := make([]*Section, 0, len(s.native.Sections))
	for _, ns := range s.native.Sections {
		out = append(out, newSection(ns, s.lease))
	}
	return out
}
