// Package elfimg decodes ELF images with debug/elf and rebuilds them by
// patching a copy of the original bytes.
package elfimg

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raven-betanet/objkit/internal/native"
)

// Section is one entry of the section header table.
type Section struct {
	hdr      elf.SectionHeader
	index    int
	size     uint64
	origSize uint64
	data     []byte
}

func (s *Section) Name() string        { return s.hdr.Name }
func (s *Section) Address() uint64     { return s.hdr.Addr }
func (s *Section) Size() uint64        { return s.size }
func (s *Section) SetSize(size uint64) { s.size = size }
func (s *Section) Offset() uint64      { return s.hdr.Offset }
func (s *Section) Data() []byte        { return s.data }
func (s *Section) Index() int          { return s.index }
func (s *Section) Type() elf.SectionType {
	return s.hdr.Type
}
func (s *Section) Flags() elf.SectionFlag {
	return s.hdr.Flags
}

// SetData replaces the section bytes. NOBITS sections keep no file data.
func (s *Section) SetData(data []byte) {
	if !s.HasFileData() {
		return
	}
	s.data = data
}

// HasFileData reports whether the section occupies bytes in the file.
func (s *Section) HasFileData() bool {
	return s.hdr.Type != elf.SHT_NOBITS && s.hdr.Type != elf.SHT_NULL
}

var _ native.Section = (*Section)(nil)

// Symbol is an entry of .symtab or .dynsym.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// Reloc is one REL or RELA entry.
type Reloc struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// File is a decoded ELF image.
type File struct {
	Class     elf.Class
	ByteOrder binary.ByteOrder
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Sections  []*Section
	Progs     []elf.ProgHeader
	Symbols   []Symbol
	Relocs    []Reloc

	raw       []byte
	overlay   []byte
	ehsize    uint64
	phoff     uint64
	phentsize uint64
	phnum     uint64
	shoff     uint64
	shentsize uint64
	shnum     uint64
}

// Decode parses raw as an ELF image. The returned File owns a private copy
// of the bytes.
func Decode(raw []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF: %w", err)
	}
	defer ef.Close()

	f := &File{
		Class:     ef.Class,
		ByteOrder: ef.ByteOrder,
		Type:      ef.Type,
		Machine:   ef.Machine,
		Entry:     ef.Entry,
	}
	if err := f.readHeader(raw); err != nil {
		return nil, err
	}

	end := f.ehsize
	end = max(end, f.phoff+f.phnum*f.phentsize)
	if f.shoff != 0 {
		end = max(end, f.shoff+f.shnum*f.shentsize)
	}

	for i, es := range ef.Sections {
		s := &Section{hdr: es.SectionHeader, index: i, size: es.FileSize, origSize: es.FileSize}
		if s.HasFileData() && s.size > 0 {
			stop := s.hdr.Offset + s.size
			if stop > uint64(len(raw)) || stop < s.hdr.Offset {
				return nil, fmt.Errorf("section %q runs past end of file", s.hdr.Name)
			}
			s.data = bytes.Clone(raw[s.hdr.Offset:stop])
			end = max(end, stop)
		}
		f.Sections = append(f.Sections, s)
	}

	for _, p := range ef.Progs {
		f.Progs = append(f.Progs, p.ProgHeader)
		end = max(end, p.Off+p.Filesz)
	}

	if end > uint64(len(raw)) {
		return nil, fmt.Errorf("image truncated: need %d bytes, have %d", end, len(raw))
	}
	f.raw = bytes.Clone(raw[:end])
	if end < uint64(len(raw)) {
		f.overlay = bytes.Clone(raw[end:])
	}

	if err := f.readSymbols(ef); err != nil {
		return nil, err
	}
	if err := f.readRelocs(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readHeader(raw []byte) error {
	bo := f.ByteOrder
	switch f.Class {
	case elf.ELFCLASS64:
		if len(raw) < 64 {
			return errors.New("ELF64 header truncated")
		}
		f.phoff = bo.Uint64(raw[0x20:])
		f.shoff = bo.Uint64(raw[0x28:])
		f.ehsize = uint64(bo.Uint16(raw[0x34:]))
		f.phentsize = uint64(bo.Uint16(raw[0x36:]))
		f.phnum = uint64(bo.Uint16(raw[0x38:]))
		f.shentsize = uint64(bo.Uint16(raw[0x3a:]))
		f.shnum = uint64(bo.Uint16(raw[0x3c:]))
	case elf.ELFCLASS32:
		if len(raw) < 52 {
			return errors.New("ELF32 header truncated")
		}
		f.phoff = uint64(bo.Uint32(raw[0x1c:]))
		f.shoff = uint64(bo.Uint32(raw[0x20:]))
		f.ehsize = uint64(bo.Uint16(raw[0x28:]))
		f.phentsize = uint64(bo.Uint16(raw[0x2a:]))
		f.phnum = uint64(bo.Uint16(raw[0x2c:]))
		f.shentsize = uint64(bo.Uint16(raw[0x2e:]))
		f.shnum = uint64(bo.Uint16(raw[0x30:]))
	default:
		return fmt.Errorf("unsupported ELF class %v", f.Class)
	}
	return nil
}

func (f *File) readSymbols(ef *elf.File) error {
	dyn, err := ef.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("failed to read dynamic symbols: %w", err)
	}
	static, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("failed to read symbols: %w", err)
	}
	for _, group := range [][]elf.Symbol{dyn, static} {
		for _, s := range group {
			f.Symbols = append(f.Symbols, Symbol{Name: s.Name, Value: s.Value, Size: s.Size})
		}
	}
	return nil
}

func (f *File) readRelocs() error {
	bo := f.ByteOrder
	is64 := f.Class == elf.ELFCLASS64
	for _, s := range f.Sections {
		var entsize int
		rela := s.hdr.Type == elf.SHT_RELA
		switch {
		case s.hdr.Type == elf.SHT_RELA && is64:
			entsize = 24
		case s.hdr.Type == elf.SHT_REL && is64:
			entsize = 16
		case s.hdr.Type == elf.SHT_RELA:
			entsize = 12
		case s.hdr.Type == elf.SHT_REL:
			entsize = 8
		default:
			continue
		}
		if len(s.data)%entsize != 0 {
			return fmt.Errorf("relocation section %q has ragged size %d", s.hdr.Name, len(s.data))
		}
		for b := s.data; len(b) > 0; b = b[entsize:] {
			var r Reloc
			if is64 {
				r.Offset = bo.Uint64(b)
				r.Info = bo.Uint64(b[8:])
				if rela {
					r.Addend = int64(bo.Uint64(b[16:]))
				}
			} else {
				r.Offset = uint64(bo.Uint32(b))
				r.Info = uint64(bo.Uint32(b[4:]))
				if rela {
					r.Addend = int64(int32(bo.Uint32(b[8:])))
				}
			}
			f.Relocs = append(f.Relocs, r)
		}
	}
	return nil
}

// Bits is the address width of the image.
func (f *File) Bits() int {
	if f.Class == elf.ELFCLASS64 {
		return 64
	}
	return 32
}

// Overlay returns the bytes that follow the last mapped or indexed region.
func (f *File) Overlay() []byte { return f.overlay }

// SetOverlay replaces the trailing data appended on Build.
func (f *File) SetOverlay(data []byte) { f.overlay = data }

// HasNonExecutableStack reports whether a PT_GNU_STACK header without PF_X
// is present.
func (f *File) HasNonExecutableStack() bool {
	for _, p := range f.Progs {
		if p.Type == elf.PT_GNU_STACK {
			return p.Flags&elf.PF_X == 0
		}
	}
	return false
}

// Build re-encodes the image with every section change applied.
func (f *File) Build() ([]byte, error) {
	var changed, fixed []native.Region
	fixed = append(fixed, native.Region{Name: "ELF header", Start: 0, End: f.ehsize})
	if f.phnum > 0 {
		fixed = append(fixed, native.Region{Name: "program headers", Start: f.phoff, End: f.phoff + f.phnum*f.phentsize})
	}
	if f.shoff != 0 {
		fixed = append(fixed, native.Region{Name: "section headers", Start: f.shoff, End: f.shoff + f.shnum*f.shentsize})
	}
	var fields []native.Field
	for _, s := range f.Sections {
		if s.size != s.origSize {
			fields = append(fields, native.Field{Name: "section " + s.hdr.Name + " sh_size", Value: s.size, Bits: f.wordBits()})
		}
		if !s.HasFileData() {
			continue
		}
		r := native.Region{Name: "section " + s.hdr.Name, Start: s.hdr.Offset, End: s.hdr.Offset + s.size}
		if s.size != s.origSize {
			changed = append(changed, r)
		} else {
			fixed = append(fixed, r)
		}
	}
	if err := native.CheckFields(fields...); err != nil {
		return nil, err
	}
	if err := native.CheckOverlaps(changed, fixed); err != nil {
		return nil, err
	}

	out := bytes.Clone(f.raw)
	var err error
	for _, s := range f.Sections {
		if s.HasFileData() && s.size > 0 {
			out, err = native.PutContent(out, s.hdr.Name, s.hdr.Offset, s.size, s.data)
			if err != nil {
				return nil, err
			}
		}
		if s.size != s.origSize {
			f.putSectionSize(out, s)
		}
	}
	return append(out, f.overlay...), nil
}

func (f *File) wordBits() uint {
	if f.Class == elf.ELFCLASS64 {
		return 64
	}
	return 32
}

func (f *File) putSectionSize(out []byte, s *Section) {
	at := f.shoff + uint64(s.index)*f.shentsize
	if f.Class == elf.ELFCLASS64 {
		f.ByteOrder.PutUint64(out[at+0x20:], s.size)
		return
	}
	f.ByteOrder.PutUint32(out[at+0x14:], uint32(s.size))
}
