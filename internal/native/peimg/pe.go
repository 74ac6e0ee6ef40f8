// Package peimg decodes PE images with debug/pe and rebuilds them by patching
// a copy of the original bytes.
package peimg

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raven-betanet/objkit/internal/native"
)

// DllCharacteristics bits.
const (
	DllHighEntropyVA = 0x0020
	DllDynamicBase   = 0x0040
	DllNXCompat      = 0x0100
	DllNoSEH         = 0x0400
	DllGuardCF       = 0x4000
)

const (
	sectionHeaderSize     = 40
	coffHeaderSize        = 20
	securityDirectory     = 4
	baseRelocDirectory    = 5
	optChecksumOffset     = 64
	optSizeOfImageOffset  = 56
	optDataDirOffset32    = 96
	optDataDirOffset64    = 112
	relocTypeAbsolute     = 0
	relocTypeHigh         = 1
	relocTypeLow          = 2
	relocTypeHighLow      = 3
	relocTypeDir64        = 10
	magicPE32Plus         = 0x20b
	peSignatureAndCOFFLen = 4 + coffHeaderSize
)

// OptionalHeader is a snapshot of the optional header. BaseOfData is only
// meaningful for PE32.
type OptionalHeader struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]pe.DataDirectory
}

// Section is one entry of the section table.
type Section struct {
	hdr       pe.SectionHeader
	index     int
	size      uint64
	vsize     uint64
	origSize  uint64
	origVSize uint64
	data      []byte
}

func (s *Section) Name() string            { return s.hdr.Name }
func (s *Section) Address() uint64         { return uint64(s.hdr.VirtualAddress) }
func (s *Section) Size() uint64            { return s.size }
func (s *Section) SetSize(size uint64)     { s.size = size }
func (s *Section) VirtualSize() uint64     { return s.vsize }
func (s *Section) Offset() uint64          { return uint64(s.hdr.Offset) }
func (s *Section) Data() []byte            { return s.data }
func (s *Section) Characteristics() uint32 { return s.hdr.Characteristics }

func (s *Section) SetVirtualSize(size uint64) { s.vsize = size }

// SetData replaces the raw section bytes.
func (s *Section) SetData(data []byte) { s.data = data }

// HasFileData reports whether the section has raw data in the file.
func (s *Section) HasFileData() bool {
	return s.hdr.Offset != 0 && s.size > 0
}

var (
	_ native.Section      = (*Section)(nil)
	_ native.VirtualSized = (*Section)(nil)
)

// Symbol is a COFF symbol table entry.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
}

// Reloc is a base relocation entry resolved to an RVA.
type Reloc struct {
	RVA  uint32
	Type uint8
	Bits uint8
}

// File is a decoded PE image.
type File struct {
	Machine         uint16
	Characteristics uint16
	Opt             OptionalHeader
	Sections        []*Section
	Symbols         []Symbol
	Relocs          []Reloc

	raw      []byte
	overlay  []byte
	is64     bool
	optOff   int
	tableOff int
}

// Decode parses raw as a PE image. The returned File owns a private copy of
// the bytes.
func Decode(raw []byte) (*File, error) {
	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PE: %w", err)
	}
	defer pf.Close()

	if len(raw) < 0x40 {
		return nil, errors.New("DOS header truncated")
	}
	peOff := int(binary.LittleEndian.Uint32(raw[0x3c:]))
	f := &File{
		Machine:         pf.Machine,
		Characteristics: pf.Characteristics,
		optOff:          peOff + peSignatureAndCOFFLen,
	}
	f.tableOff = f.optOff + int(pf.SizeOfOptionalHeader)

	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		f.is64 = true
		f.Opt = fromOptional64(oh)
	case *pe.OptionalHeader32:
		f.Opt = fromOptional32(oh)
	default:
		return nil, errors.New("missing optional header")
	}

	end := uint64(f.tableOff + len(pf.Sections)*sectionHeaderSize)
	end = max(end, uint64(f.Opt.SizeOfHeaders))
	for i, ps := range pf.Sections {
		s := &Section{
			hdr:       ps.SectionHeader,
			index:     i,
			size:      uint64(ps.Size),
			vsize:     uint64(ps.VirtualSize),
			origSize:  uint64(ps.Size),
			origVSize: uint64(ps.VirtualSize),
		}
		if s.HasFileData() {
			stop := uint64(ps.Offset) + uint64(ps.Size)
			if stop > uint64(len(raw)) {
				return nil, fmt.Errorf("section %q runs past end of file", ps.Name)
			}
			s.data = bytes.Clone(raw[ps.Offset:stop])
			end = max(end, stop)
		}
		f.Sections = append(f.Sections, s)
	}
	if end > uint64(len(raw)) {
		return nil, fmt.Errorf("image truncated: need %d bytes, have %d", end, len(raw))
	}
	f.raw = bytes.Clone(raw[:end])
	if end < uint64(len(raw)) {
		f.overlay = bytes.Clone(raw[end:])
	}

	for _, s := range pf.Symbols {
		f.Symbols = append(f.Symbols, Symbol{Name: s.Name, Value: s.Value, SectionNumber: s.SectionNumber})
	}
	f.readBaseRelocs()
	return f, nil
}

func fromOptional64(oh *pe.OptionalHeader64) OptionalHeader {
	return OptionalHeader{
		Magic:                       oh.Magic,
		MajorLinkerVersion:          oh.MajorLinkerVersion,
		MinorLinkerVersion:          oh.MinorLinkerVersion,
		SizeOfCode:                  oh.SizeOfCode,
		SizeOfInitializedData:       oh.SizeOfInitializedData,
		SizeOfUninitializedData:     oh.SizeOfUninitializedData,
		AddressOfEntryPoint:         oh.AddressOfEntryPoint,
		BaseOfCode:                  oh.BaseOfCode,
		ImageBase:                   oh.ImageBase,
		SectionAlignment:            oh.SectionAlignment,
		FileAlignment:               oh.FileAlignment,
		MajorOperatingSystemVersion: oh.MajorOperatingSystemVersion,
		MinorOperatingSystemVersion: oh.MinorOperatingSystemVersion,
		MajorImageVersion:           oh.MajorImageVersion,
		MinorImageVersion:           oh.MinorImageVersion,
		MajorSubsystemVersion:       oh.MajorSubsystemVersion,
		MinorSubsystemVersion:       oh.MinorSubsystemVersion,
		Win32VersionValue:           oh.Win32VersionValue,
		SizeOfImage:                 oh.SizeOfImage,
		SizeOfHeaders:               oh.SizeOfHeaders,
		CheckSum:                    oh.CheckSum,
		Subsystem:                   oh.Subsystem,
		DllCharacteristics:          oh.DllCharacteristics,
		SizeOfStackReserve:          oh.SizeOfStackReserve,
		SizeOfStackCommit:           oh.SizeOfStackCommit,
		SizeOfHeapReserve:           oh.SizeOfHeapReserve,
		SizeOfHeapCommit:            oh.SizeOfHeapCommit,
		LoaderFlags:                 oh.LoaderFlags,
		NumberOfRvaAndSizes:         oh.NumberOfRvaAndSizes,
		DataDirectory:               oh.DataDirectory,
	}
}

func fromOptional32(oh *pe.OptionalHeader32) OptionalHeader {
	return OptionalHeader{
		Magic:                       oh.Magic,
		MajorLinkerVersion:          oh.MajorLinkerVersion,
		MinorLinkerVersion:          oh.MinorLinkerVersion,
		SizeOfCode:                  oh.SizeOfCode,
		SizeOfInitializedData:       oh.SizeOfInitializedData,
		SizeOfUninitializedData:     oh.SizeOfUninitializedData,
		AddressOfEntryPoint:         oh.AddressOfEntryPoint,
		BaseOfCode:                  oh.BaseOfCode,
		BaseOfData:                  oh.BaseOfData,
		ImageBase:                   uint64(oh.ImageBase),
		SectionAlignment:            oh.SectionAlignment,
		FileAlignment:               oh.FileAlignment,
		MajorOperatingSystemVersion: oh.MajorOperatingSystemVersion,
		MinorOperatingSystemVersion: oh.MinorOperatingSystemVersion,
		MajorImageVersion:           oh.MajorImageVersion,
		MinorImageVersion:           oh.MinorImageVersion,
		MajorSubsystemVersion:       oh.MajorSubsystemVersion,
		MinorSubsystemVersion:       oh.MinorSubsystemVersion,
		Win32VersionValue:           oh.Win32VersionValue,
		SizeOfImage:                 oh.SizeOfImage,
		SizeOfHeaders:               oh.SizeOfHeaders,
		CheckSum:                    oh.CheckSum,
		Subsystem:                   oh.Subsystem,
		DllCharacteristics:          oh.DllCharacteristics,
		SizeOfStackReserve:          uint64(oh.SizeOfStackReserve),
		SizeOfStackCommit:           uint64(oh.SizeOfStackCommit),
		SizeOfHeapReserve:           uint64(oh.SizeOfHeapReserve),
		SizeOfHeapCommit:            uint64(oh.SizeOfHeapCommit),
		LoaderFlags:                 oh.LoaderFlags,
		NumberOfRvaAndSizes:         oh.NumberOfRvaAndSizes,
		DataDirectory:               oh.DataDirectory,
	}
}

// readBaseRelocs walks the base relocation directory. Malformed blocks end
// the walk; relocations are informational and never fail a parse.
func (f *File) readBaseRelocs() {
	dir := f.Opt.DataDirectory[baseRelocDirectory]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return
	}
	data := f.rvaSlice(dir.VirtualAddress, dir.Size)
	le := binary.LittleEndian
	for len(data) >= 8 {
		page := le.Uint32(data)
		blockSize := le.Uint32(data[4:])
		if blockSize < 8 || int(blockSize) > len(data) {
			return
		}
		for e := data[8:blockSize]; len(e) >= 2; e = e[2:] {
			v := le.Uint16(e)
			typ := uint8(v >> 12)
			if typ == relocTypeAbsolute {
				continue
			}
			var bits uint8
			switch typ {
			case relocTypeHigh, relocTypeLow:
				bits = 16
			case relocTypeHighLow:
				bits = 32
			case relocTypeDir64:
				bits = 64
			}
			f.Relocs = append(f.Relocs, Reloc{RVA: page + uint32(v&0xfff), Type: typ, Bits: bits})
		}
		data = data[blockSize:]
	}
}

func (f *File) rvaSlice(rva, size uint32) []byte {
	for _, s := range f.Sections {
		start := s.hdr.VirtualAddress
		if rva < start || uint64(rva) >= uint64(start)+uint64(len(s.data)) {
			continue
		}
		off := rva - start
		end := min(uint64(off)+uint64(size), uint64(len(s.data)))
		return s.data[off:end]
	}
	return nil
}

// Is64 reports whether the image is PE32+.
func (f *File) Is64() bool { return f.is64 }

// Bits is the address width of the image.
func (f *File) Bits() int {
	if f.is64 {
		return 64
	}
	return 32
}

// Overlay returns the bytes past the last section.
func (f *File) Overlay() []byte { return f.overlay }

func (f *File) dataDirOffset(i int) int {
	if f.Opt.Magic == magicPE32Plus {
		return f.optOff + optDataDirOffset64 + i*8
	}
	return f.optOff + optDataDirOffset32 + i*8
}

// Build re-encodes the image with every section change applied.
func (f *File) Build() ([]byte, error) {
	var changed, fixed []native.Region
	fixed = append(fixed, native.Region{Name: "PE headers", Start: 0, End: uint64(f.Opt.SizeOfHeaders)})
	resized := false
	var fields []native.Field
	for _, s := range f.Sections {
		if s.size != s.origSize || s.vsize != s.origVSize {
			resized = true
			fields = append(fields,
				native.Field{Name: "section " + s.hdr.Name + " SizeOfRawData", Value: s.size, Bits: 32},
				native.Field{Name: "section " + s.hdr.Name + " VirtualSize", Value: s.vsize, Bits: 32},
			)
		}
		if !s.HasFileData() {
			continue
		}
		r := native.Region{Name: "section " + s.hdr.Name, Start: uint64(s.hdr.Offset), End: uint64(s.hdr.Offset) + s.size}
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

	var imageEnd uint64
	if resized {
		for _, s := range f.Sections {
			end := uint64(s.hdr.VirtualAddress) + max(s.vsize, s.size)
			imageEnd = max(imageEnd, end)
		}
		imageEnd = native.AlignUp(imageEnd, uint64(f.Opt.SectionAlignment))
		if err := native.CheckFields(native.Field{Name: "SizeOfImage", Value: imageEnd, Bits: 32}); err != nil {
			return nil, err
		}
	}

	le := binary.LittleEndian
	out := bytes.Clone(f.raw)
	var err error
	for _, s := range f.Sections {
		if s.HasFileData() {
			out, err = native.PutContent(out, s.hdr.Name, uint64(s.hdr.Offset), s.size, s.data)
			if err != nil {
				return nil, err
			}
		}
		at := f.tableOff + s.index*sectionHeaderSize
		le.PutUint32(out[at+8:], uint32(s.vsize))
		le.PutUint32(out[at+16:], uint32(s.size))
	}

	if resized {
		le.PutUint32(out[f.optOff+optSizeOfImageOffset:], uint32(imageEnd))
	}

	if shift := len(out) - len(f.raw); shift > 0 && len(f.overlay) > 0 {
		// the certificate table and COFF symbols live in the overlay and
		// are addressed by file offset
		for _, at := range []int{f.dataDirOffset(securityDirectory), f.optOff - coffHeaderSize + 8} {
			if v := le.Uint32(out[at:]); v != 0 && uint64(v) >= uint64(len(f.raw)) {
				le.PutUint32(out[at:], v+uint32(shift))
			}
		}
	}
	out = append(out, f.overlay...)

	if f.Opt.CheckSum != 0 {
		csOff := f.optOff + optChecksumOffset
		le.PutUint32(out[csOff:], Checksum(out, csOff))
	}
	return out, nil
}

// Checksum computes the optional header checksum of img, treating the four
// bytes at csOff as zero.
func Checksum(img []byte, csOff int) uint32 {
	var sum uint64
	n := len(img)
	for i := 0; i+1 < n; i += 2 {
		if i >= csOff && i < csOff+4 {
			continue
		}
		sum += uint64(binary.LittleEndian.Uint16(img[i:]))
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if n%2 == 1 {
		sum += uint64(img[n-1])
		sum = (sum & 0xffff) + (sum >> 16)
	}
	sum = (sum & 0xffff) + (sum >> 16)
	return uint32(sum) + uint32(n)
}

// ChecksumOffset is the file offset of the checksum field.
func (f *File) ChecksumOffset() int {
	return f.optOff + optChecksumOffset
}
