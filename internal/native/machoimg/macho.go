// Package machoimg decodes thin and universal Mach-O images and rebuilds thin
// ones. Load commands are walked directly so their file positions are known;
// symbols and relocations come from debug/macho.
package machoimg

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/raven-betanet/objkit/internal/native"
)

// Load command identifiers that are walked or rewritten.
const (
	LCSegment             = 0x1
	LCSymtab              = 0x2
	LCUnixThread          = 0x5
	LCDysymtab            = 0xb
	LCSegment64           = 0x19
	LCCodeSignature       = 0x1d
	LCSegmentSplitInfo    = 0x1e
	LCDyldInfo            = 0x22
	LCDyldInfoOnly        = 0x80000022
	LCFunctionStarts      = 0x26
	LCDataInCode          = 0x29
	LCDylibCodeSignDrs    = 0x2b
	LCLinkerOptimization  = 0x2e
	LCMain                = 0x80000028
	LCDyldExportsTrie     = 0x80000033
	LCDyldChainedFixups   = 0x80000034
	FlagPIE               = 0x200000
	FlagAllowStackExecute = 0x20000
)

const (
	sectionTypeMask       = 0xff
	sZerofill             = 0x1
	sGBZerofill           = 0xc
	sThreadLocalZerofill  = 0x12
	segmentHeaderSize32   = 56
	segmentHeaderSize64   = 72
	sectionHeaderSize32   = 68
	sectionHeaderSize64   = 80
	machHeaderSize32      = 28
	machHeaderSize64      = 32
	defaultPageSize       = 0x1000
	arm64PageSize         = 0x4000
	cpuArchABI64          = 0x01000000
	cpuTypeX86            = 7
	cpuTypeARM            = 12
	threadStateX86        = 1
	threadStateAMD64      = 4
	threadStateARM64      = 6
)

// Load is one load command and its position in the image.
type Load struct {
	Cmd  uint32
	Size uint32
	off  int
}

// Segment is an LC_SEGMENT or LC_SEGMENT_64 command.
type Segment struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	MaxProt  uint32
	InitProt uint32
	Flags    uint32
	Sections []*Section
	load     *Load
}

// Section is one section header inside a segment command.
type Section struct {
	name     string
	SegName  string
	addr     uint64
	size     uint64
	origSize uint64
	offset   uint32
	Align    uint32
	Flags    uint32
	data     []byte
	seg      *Segment
	index    int
}

func (s *Section) Name() string        { return s.name }
func (s *Section) Address() uint64     { return s.addr }
func (s *Section) Size() uint64        { return s.size }
func (s *Section) SetSize(size uint64) { s.size = size }
func (s *Section) Offset() uint64      { return uint64(s.offset) }
func (s *Section) Data() []byte        { return s.data }
func (s *Section) Segment() *Segment   { return s.seg }

// SetData replaces the section bytes. Zerofill sections keep no file data.
func (s *Section) SetData(data []byte) {
	if !s.HasFileData() {
		return
	}
	s.data = data
}

// HasFileData reports whether the section occupies bytes in the file.
func (s *Section) HasFileData() bool {
	switch s.Flags & sectionTypeMask {
	case sZerofill, sGBZerofill, sThreadLocalZerofill:
		return false
	}
	return s.offset != 0
}

var _ native.Section = (*Section)(nil)

// Symbol is an nlist entry.
type Symbol struct {
	Name  string
	Value uint64
	Type  uint8
}

// Reloc is a section relocation translated to an absolute address.
type Reloc struct {
	Address uint64
	Size    uint8
}

// File is a decoded thin Mach-O image.
type File struct {
	Magic     uint32
	ByteOrder binary.ByteOrder
	CPU       uint32
	SubCPU    uint32
	FileType  uint32
	Flags     uint32
	Loads     []*Load
	Segments  []*Segment
	Sections  []*Section
	Symbols   []Symbol
	Relocs    []Reloc
	Entry     uint64

	// PageSize overrides the CPU-derived page size when non-zero.
	PageSize uint64

	raw []byte
}

// Decode parses a thin Mach-O image. The returned File owns a private copy
// of the bytes.
func Decode(raw []byte) (*File, error) {
	mf, err := macho.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Mach-O: %w", err)
	}
	defer mf.Close()

	f := &File{
		Magic:     mf.Magic,
		ByteOrder: mf.ByteOrder,
		CPU:       uint32(mf.Cpu),
		SubCPU:    mf.SubCpu,
		FileType:  uint32(mf.Type),
		Flags:     mf.Flags,
		raw:       bytes.Clone(raw),
	}
	if err := f.walk(); err != nil {
		return nil, err
	}

	if mf.Symtab != nil {
		for _, s := range mf.Symtab.Syms {
			f.Symbols = append(f.Symbols, Symbol{Name: s.Name, Value: s.Value, Type: s.Type})
		}
	}
	for _, ms := range mf.Sections {
		for _, r := range ms.Relocs {
			f.Relocs = append(f.Relocs, Reloc{Address: ms.Addr + uint64(r.Addr), Size: 8 << r.Len})
		}
	}
	return f, nil
}

// Is64 reports whether the image uses 64-bit headers.
func (f *File) Is64() bool {
	return f.Magic == macho.Magic64
}

func (f *File) headerSize() int {
	if f.Is64() {
		return machHeaderSize64
	}
	return machHeaderSize32
}

func (f *File) sizeofCmds() int {
	return int(f.ByteOrder.Uint32(f.raw[20:]))
}

func (f *File) walk() error {
	bo := f.ByteOrder
	ncmds := int(bo.Uint32(f.raw[16:]))
	off := f.headerSize()
	end := off + f.sizeofCmds()
	if end > len(f.raw) {
		return errors.New("load commands run past end of file")
	}

	for i := 0; i < ncmds; i++ {
		if off+8 > end {
			return fmt.Errorf("load command %d truncated", i)
		}
		l := &Load{Cmd: bo.Uint32(f.raw[off:]), Size: bo.Uint32(f.raw[off+4:]), off: off}
		if l.Size < 8 || off+int(l.Size) > end {
			return fmt.Errorf("load command %d has invalid size %d", i, l.Size)
		}
		f.Loads = append(f.Loads, l)

		switch l.Cmd {
		case LCSegment, LCSegment64:
			if err := f.readSegment(l); err != nil {
				return err
			}
		}
		off += int(l.Size)
	}

	f.Entry = f.readEntry()
	return nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (f *File) readSegment(l *Load) error {
	bo := f.ByteOrder
	b := f.raw[l.off : l.off+int(l.Size)]
	seg := &Segment{Name: cstring(b[8:24]), load: l}

	var nsects, hdrSize, sectSize int
	if l.Cmd == LCSegment64 {
		if len(b) < segmentHeaderSize64 {
			return errors.New("LC_SEGMENT_64 truncated")
		}
		seg.Addr = bo.Uint64(b[24:])
		seg.Memsz = bo.Uint64(b[32:])
		seg.Offset = bo.Uint64(b[40:])
		seg.Filesz = bo.Uint64(b[48:])
		seg.MaxProt = bo.Uint32(b[56:])
		seg.InitProt = bo.Uint32(b[60:])
		nsects = int(bo.Uint32(b[64:]))
		seg.Flags = bo.Uint32(b[68:])
		hdrSize, sectSize = segmentHeaderSize64, sectionHeaderSize64
	} else {
		if len(b) < segmentHeaderSize32 {
			return errors.New("LC_SEGMENT truncated")
		}
		seg.Addr = uint64(bo.Uint32(b[24:]))
		seg.Memsz = uint64(bo.Uint32(b[28:]))
		seg.Offset = uint64(bo.Uint32(b[32:]))
		seg.Filesz = uint64(bo.Uint32(b[36:]))
		seg.MaxProt = bo.Uint32(b[40:])
		seg.InitProt = bo.Uint32(b[44:])
		nsects = int(bo.Uint32(b[48:]))
		seg.Flags = bo.Uint32(b[52:])
		hdrSize, sectSize = segmentHeaderSize32, sectionHeaderSize32
	}
	if hdrSize+nsects*sectSize > len(b) {
		return fmt.Errorf("segment %s: %d sections do not fit in command", seg.Name, nsects)
	}

	for i := 0; i < nsects; i++ {
		h := b[hdrSize+i*sectSize:]
		s := &Section{name: cstring(h[0:16]), SegName: cstring(h[16:32]), seg: seg, index: i}
		if l.Cmd == LCSegment64 {
			s.addr = bo.Uint64(h[32:])
			s.size = bo.Uint64(h[40:])
			s.offset = bo.Uint32(h[48:])
			s.Align = bo.Uint32(h[52:])
			s.Flags = bo.Uint32(h[64:])
		} else {
			s.addr = uint64(bo.Uint32(h[32:]))
			s.size = uint64(bo.Uint32(h[36:]))
			s.offset = bo.Uint32(h[40:])
			s.Align = bo.Uint32(h[44:])
			s.Flags = bo.Uint32(h[56:])
		}
		s.origSize = s.size
		if s.HasFileData() && s.size > 0 {
			stop := uint64(s.offset) + s.size
			if stop > uint64(len(f.raw)) {
				return fmt.Errorf("section %s,%s runs past end of file", s.SegName, s.name)
			}
			s.data = bytes.Clone(f.raw[s.offset:stop])
		}
		seg.Sections = append(seg.Sections, s)
		f.Sections = append(f.Sections, s)
	}
	f.Segments = append(f.Segments, seg)
	return nil
}

func (f *File) readEntry() uint64 {
	bo := f.ByteOrder
	for _, l := range f.Loads {
		b := f.raw[l.off : l.off+int(l.Size)]
		switch l.Cmd {
		case LCMain:
			if len(b) < 16 {
				continue
			}
			if text := f.Segment("__TEXT"); text != nil {
				return text.Addr + bo.Uint64(b[8:])
			}
			return bo.Uint64(b[8:])
		case LCUnixThread:
			if len(b) < 16 {
				continue
			}
			flavor := bo.Uint32(b[8:])
			state := b[16:]
			switch {
			case f.CPU == cpuTypeX86|cpuArchABI64 && flavor == threadStateAMD64 && len(state) >= 17*8:
				return bo.Uint64(state[16*8:])
			case f.CPU == cpuTypeARM|cpuArchABI64 && flavor == threadStateARM64 && len(state) >= 33*8:
				return bo.Uint64(state[32*8:])
			case f.CPU == cpuTypeX86 && flavor == threadStateX86 && len(state) >= 11*4:
				return uint64(bo.Uint32(state[10*4:]))
			}
		}
	}
	return 0
}

// Segment returns the first segment with the given name.
func (f *File) Segment(name string) *Segment {
	for _, s := range f.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Load returns the first load command of the given kind.
func (f *File) Load(cmd uint32) *Load {
	for _, l := range f.Loads {
		if l.Cmd == cmd {
			return l
		}
	}
	return nil
}

// Bits is the address width of the image.
func (f *File) Bits() int {
	if f.Is64() {
		return 64
	}
	return 32
}

// Page is the granularity segment growth is rounded to.
func (f *File) Page() uint64 {
	if f.PageSize != 0 {
		return f.PageSize
	}
	if f.CPU == cpuTypeARM|cpuArchABI64 {
		return arm64PageSize
	}
	return defaultPageSize
}

// SizeofCmds is the total size of the load command area.
func (f *File) SizeofCmds() uint32 {
	return uint32(f.sizeofCmds())
}

// IsPIE reports whether MH_PIE is set.
func (f *File) IsPIE() bool {
	return f.Flags&FlagPIE != 0
}

// HasNX reports whether the stack is non-executable.
func (f *File) HasNX() bool {
	return f.Flags&FlagAllowStackExecute == 0
}

// HasCodeSignature reports whether an LC_CODE_SIGNATURE command is present.
func (f *File) HasCodeSignature() bool {
	return f.Load(LCCodeSignature) != nil
}

// RemoveSignature drops LC_CODE_SIGNATURE and its blob. It reports whether a
// signature was present.
func (f *File) RemoveSignature() bool {
	bo := f.ByteOrder
	idx := -1
	for i, l := range f.Loads {
		if l.Cmd == LCCodeSignature {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	l := f.Loads[idx]
	dataoff := uint64(bo.Uint32(f.raw[l.off+8:]))
	datasize := uint64(bo.Uint32(f.raw[l.off+12:]))

	cmdsEnd := f.headerSize() + f.sizeofCmds()
	size := int(l.Size)
	copy(f.raw[l.off:], f.raw[l.off+size:cmdsEnd])
	clear(f.raw[cmdsEnd-size : cmdsEnd])
	bo.PutUint32(f.raw[16:], uint32(len(f.Loads)-1))
	bo.PutUint32(f.raw[20:], uint32(cmdsEnd-size-f.headerSize()))

	f.Loads = append(f.Loads[:idx], f.Loads[idx+1:]...)
	for _, other := range f.Loads[idx:] {
		other.off -= size
	}

	blobEnd := dataoff + datasize
	if blobEnd > uint64(len(f.raw)) {
		blobEnd = uint64(len(f.raw))
	}
	if dataoff < blobEnd {
		if blobEnd == uint64(len(f.raw)) {
			f.raw = f.raw[:dataoff]
		} else {
			clear(f.raw[dataoff:blobEnd])
		}
	}
	if le := f.Segment("__LINKEDIT"); le != nil && le.Offset <= dataoff && le.Offset+le.Filesz >= blobEnd {
		if le.Offset+le.Filesz == blobEnd {
			le.Filesz = dataoff - le.Offset
			f.putSegment(le)
		}
	}
	return true
}

// ExtendSegment grows seg to at least newSize bytes. The growth is rounded
// up to the page size and every segment placed after seg moves by the same
// amount, in the file and in memory. It reports false without touching the
// image when seg is foreign, newSize shrinks it, a segment that would have
// to move carries sections, or a grown field no longer fits its command.
func (f *File) ExtendSegment(seg *Segment, newSize uint64) bool {
	owned := false
	for _, s := range f.Segments {
		if s == seg {
			owned = true
			break
		}
	}
	if !owned || newSize < seg.Filesz {
		return false
	}
	if newSize == seg.Filesz {
		return true
	}

	delta := newSize - seg.Filesz
	growth := native.AlignUp(delta, f.Page())
	if growth < delta {
		return false
	}
	insertAt := seg.Offset + seg.Filesz
	vmEnd := seg.Addr + seg.Memsz

	var moved []*Segment
	for _, s := range f.Segments {
		if s == seg || (s.Filesz == 0 && s.Memsz == 0) {
			continue
		}
		fileAfter := s.Filesz > 0 && s.Offset >= insertAt
		vmAfter := s.Memsz > 0 && s.Addr >= vmEnd
		if !fileAfter && !vmAfter {
			continue
		}
		if len(s.Sections) > 0 {
			return false
		}
		moved = append(moved, s)
	}
	if insertAt > uint64(len(f.raw)) || !f.canGrow(seg, moved, insertAt, growth) {
		return false
	}

	grown := make([]byte, 0, uint64(len(f.raw))+growth)
	grown = append(grown, f.raw[:insertAt]...)
	grown = append(grown, make([]byte, growth)...)
	grown = append(grown, f.raw[insertAt:]...)
	f.raw = grown

	seg.Filesz += growth
	seg.Memsz += growth
	f.putSegment(seg)
	for _, s := range moved {
		if s.Filesz > 0 && s.Offset >= insertAt {
			s.Offset += growth
		}
		if s.Addr >= vmEnd {
			s.Addr += growth
		}
		f.putSegment(s)
	}
	f.shiftLinkedit(insertAt, growth)
	return true
}

// maxImageSize bounds a thin image, whose __LINKEDIT load commands hold
// 32-bit file offsets.
const maxImageSize = 1<<32 - 1

// canGrow reports whether growing seg by growth keeps the image and every
// rewritten segment field within its encoded width.
func (f *File) canGrow(seg *Segment, moved []*Segment, insertAt, growth uint64) bool {
	size := uint64(len(f.raw))
	if size > maxImageSize || growth > maxImageSize-size {
		return false
	}
	bits := seg.bits()
	if !fitsAfter(seg.Filesz, growth, bits) || !fitsAfter(seg.Memsz, growth, bits) || !fitsAfter(seg.Addr+seg.Memsz, growth, bits) {
		return false
	}
	vmEnd := seg.Addr + seg.Memsz
	for _, s := range moved {
		if s.Filesz > 0 && s.Offset >= insertAt && !fitsAfter(s.Offset, growth, s.bits()) {
			return false
		}
		if s.Addr >= vmEnd && !fitsAfter(s.Addr, growth, s.bits()) {
			return false
		}
	}
	return true
}

func fitsAfter(v, delta uint64, bits uint) bool {
	sum := v + delta
	return sum >= v && native.CheckFields(native.Field{Value: sum, Bits: bits}) == nil
}

// shiftLinkedit moves every file offset at or past at by delta in the load
// commands that point into __LINKEDIT.
func (f *File) shiftLinkedit(at, delta uint64) {
	bo := f.ByteOrder
	shift := func(pos int) {
		v := uint64(bo.Uint32(f.raw[pos:]))
		if v != 0 && v >= at {
			bo.PutUint32(f.raw[pos:], uint32(v+delta))
		}
	}
	for _, l := range f.Loads {
		var fields []int
		switch l.Cmd {
		case LCSymtab:
			fields = []int{8, 16}
		case LCDysymtab:
			fields = []int{32, 40, 48, 56, 64, 72}
		case LCDyldInfo, LCDyldInfoOnly:
			fields = []int{8, 16, 24, 32, 40}
		case LCCodeSignature, LCSegmentSplitInfo, LCFunctionStarts, LCDataInCode,
			LCDylibCodeSignDrs, LCLinkerOptimization, LCDyldExportsTrie, LCDyldChainedFixups:
			fields = []int{8}
		}
		for _, fo := range fields {
			if fo+4 <= int(l.Size) {
				shift(l.off + fo)
			}
		}
	}
}

func (s *Segment) bits() uint {
	if s.load.Cmd == LCSegment64 {
		return 64
	}
	return 32
}

func (f *File) putSegment(s *Segment) {
	bo := f.ByteOrder
	b := f.raw[s.load.off:]
	if s.load.Cmd == LCSegment64 {
		bo.PutUint64(b[24:], s.Addr)
		bo.PutUint64(b[32:], s.Memsz)
		bo.PutUint64(b[40:], s.Offset)
		bo.PutUint64(b[48:], s.Filesz)
		return
	}
	bo.PutUint32(b[24:], uint32(s.Addr))
	bo.PutUint32(b[28:], uint32(s.Memsz))
	bo.PutUint32(b[32:], uint32(s.Offset))
	bo.PutUint32(b[36:], uint32(s.Filesz))
}

func (f *File) putSectionSize(out []byte, s *Section) {
	bo := f.ByteOrder
	if s.seg.load.Cmd == LCSegment64 {
		at := s.seg.load.off + segmentHeaderSize64 + s.index*sectionHeaderSize64
		bo.PutUint64(out[at+40:], s.size)
		return
	}
	at := s.seg.load.off + segmentHeaderSize32 + s.index*sectionHeaderSize32
	bo.PutUint32(out[at+36:], uint32(s.size))
}

// Build re-encodes the image with every section change applied.
func (f *File) Build() ([]byte, error) {
	var changed, fixed []native.Region
	fixed = append(fixed, native.Region{Name: "Mach-O header and load commands", Start: 0, End: uint64(f.headerSize() + f.sizeofCmds())})

	var result *multierror.Error
	for _, s := range f.Sections {
		if s.size != s.origSize {
			if err := native.CheckFields(native.Field{Name: "section " + s.SegName + "," + s.name + " size", Value: s.size, Bits: s.seg.bits()}); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if !s.HasFileData() {
			continue
		}
		r := native.Region{Name: "section " + s.SegName + "," + s.name, Start: uint64(s.offset), End: uint64(s.offset) + s.size}
		if s.size == s.origSize {
			fixed = append(fixed, r)
			continue
		}
		changed = append(changed, r)
		if seg := s.seg; seg.Filesz > 0 && r.End > seg.Offset+seg.Filesz {
			result = multierror.Append(result, fmt.Errorf("%s outgrows segment %s", r, seg.Name))
		}
	}
	if err := native.CheckOverlaps(changed, fixed); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	out := bytes.Clone(f.raw)
	var err error
	for _, s := range f.Sections {
		if s.HasFileData() && s.size > 0 {
			out, err = native.PutContent(out, s.SegName+","+s.name, uint64(s.offset), s.size, s.data)
			if err != nil {
				return nil, err
			}
		}
		if s.size != s.origSize {
			f.putSectionSize(out, s)
		}
	}
	return out, nil
}
