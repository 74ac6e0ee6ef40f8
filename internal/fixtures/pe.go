package fixtures

import (
	"debug/pe"
	"encoding/binary"
)

// Layout of the image produced by PE64.
const (
	PEImageBase     = 0x140000000
	PEEntryRVA      = 0x1000
	PETextRVA       = 0x1000
	PETextOffset    = 0x200
	PETextVSize     = 0x30
	PEDataRVA       = 0x2000
	PEDataOffset    = 0x400
	PEDataVSize     = 0x20
	PERelocRVA      = 0x3000
	PERelocOffset   = 0x600
	PEFileAlignment = 0x200
	PESizeOfImage   = 0x4000
	PEImageEnd      = 0x800
)

// PEOptions tunes the PE64 image.
type PEOptions struct {
	// Checksum is stored verbatim in the optional header.
	Checksum uint32
	// NoNX clears DYNAMIC_BASE and NX_COMPAT.
	NoNX bool
	// Overlay is appended after the last section's raw data.
	Overlay []byte
	// Symbols adds a COFF symbol table (main, _start) at the end of the image.
	Symbols bool
}

// PE64 builds a PE32+ AMD64 image with .text, .data and a .reloc section
// carrying one DIR64 base relocation.
func PE64(opts PEOptions) []byte {
	order := binary.LittleEndian
	const peOff = 0x40

	img := make([]byte, PEImageEnd)
	img[0], img[1] = 'M', 'Z'
	order.PutUint32(img[0x3c:], peOff)
	img = putBytes(img, peOff, []byte{'P', 'E', 0, 0})

	var dllChars uint16 = 0x20 | 0x40 | 0x100
	if opts.NoNX {
		dllChars = 0x20
	}

	type section struct {
		name string
		hdr  pe.SectionHeader32
		data []byte
	}

	reloc := make([]byte, 12)
	order.PutUint32(reloc[0:], PEDataRVA)
	order.PutUint32(reloc[4:], 12)
	order.PutUint16(reloc[8:], 0xa<<12|0x008)

	sections := []section{
		{".text", pe.SectionHeader32{VirtualSize: PETextVSize, VirtualAddress: PETextRVA, SizeOfRawData: PEFileAlignment, PointerToRawData: PETextOffset, Characteristics: 0x60000020}, Pattern(PETextVSize, 0xc0)},
		{".data", pe.SectionHeader32{VirtualSize: PEDataVSize, VirtualAddress: PEDataRVA, SizeOfRawData: PEFileAlignment, PointerToRawData: PEDataOffset, Characteristics: 0xc0000040}, Pattern(PEDataVSize, 0x30)},
		{".reloc", pe.SectionHeader32{VirtualSize: uint32(len(reloc)), VirtualAddress: PERelocRVA, SizeOfRawData: PEFileAlignment, PointerToRawData: PERelocOffset, Characteristics: 0x42000040}, reloc},
	}

	var symOff uint32
	var symbols []pe.COFFSymbol
	if opts.Symbols {
		symOff = PEImageEnd
		symbols = []pe.COFFSymbol{
			{Name: [8]uint8{'m', 'a', 'i', 'n'}, Value: 0, SectionNumber: 1, StorageClass: 2},
			{Name: [8]uint8{'_', 's', 't', 'a', 'r', 't'}, Value: 0x10, SectionNumber: 1, StorageClass: 2},
		}
	}

	fileHeader := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     uint16(len(sections)),
		PointerToSymbolTable: symOff,
		NumberOfSymbols:      uint32(len(symbols)),
		SizeOfOptionalHeader: 240,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE,
	}
	img = put(img, peOff+4, order, fileHeader)

	opt := pe.OptionalHeader64{
		Magic:                       0x20b,
		MajorLinkerVersion:          14,
		SizeOfCode:                  PEFileAlignment,
		SizeOfInitializedData:       2 * PEFileAlignment,
		AddressOfEntryPoint:         PEEntryRVA,
		BaseOfCode:                  PETextRVA,
		ImageBase:                   PEImageBase,
		SectionAlignment:            0x1000,
		FileAlignment:               PEFileAlignment,
		MajorOperatingSystemVersion: 6,
		MajorSubsystemVersion:       6,
		SizeOfImage:                 PESizeOfImage,
		SizeOfHeaders:               0x200,
		CheckSum:                    opts.Checksum,
		Subsystem:                   3,
		DllCharacteristics:          dllChars,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_BASERELOC] = pe.DataDirectory{VirtualAddress: PERelocRVA, Size: uint32(len(reloc))}
	optOff := peOff + 4 + 20
	img = put(img, optOff, order, opt)

	tableOff := optOff + 240
	for i, s := range sections {
		copy(s.hdr.Name[:], s.name)
		img = put(img, tableOff+i*40, order, s.hdr)
		img = putBytes(img, int(s.hdr.PointerToRawData), s.data)
	}

	if opts.Symbols {
		img = put(img, int(symOff), order, symbols)
		// empty string table
		img = put(img, int(symOff)+18*len(symbols), order, uint32(4))
	}
	return append(img, opts.Overlay...)
}
