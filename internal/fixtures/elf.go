package fixtures

import (
	"debug/elf"
	"encoding/binary"
)

// Layout of the image produced by ELF64.
const (
	ELFEntry      = 0x1100
	ELFTextAddr   = 0x1100
	ELFTextOffset = 0x100
	ELFTextSize   = 0x40
	ELFDataAddr   = 0x2140
	ELFDataOffset = 0x140
	ELFDataSize   = 0x20
	ELFBssAddr    = 0x2160
	ELFBssSize    = 0x100
	ELFRelocAddr  = ELFDataAddr + 8
)

// ELFOptions tunes the ELF64 image.
type ELFOptions struct {
	// Executable selects ET_EXEC; the default is a position-independent ET_DYN.
	Executable bool
	// ExecStack marks PT_GNU_STACK executable.
	ExecStack bool
	// Overlay is appended after the section header table.
	Overlay []byte
}

// ELF64 builds a little-endian x86-64 image with .text, .data, .bss, a
// .rela.text table and a static symbol table holding main and helper.
func ELF64(opts ELFOptions) []byte {
	order := binary.LittleEndian
	shstr := newStrtab()
	str := newStrtab()

	img := make([]byte, ELFTextOffset)
	img = putBytes(img, ELFTextOffset, Pattern(ELFTextSize, 0x90))
	img = putBytes(img, ELFDataOffset, Pattern(ELFDataSize, 0x10))

	relaOff := ELFDataOffset + ELFDataSize
	img = put(img, relaOff, order, elf.Rela64{
		Off:  ELFRelocAddr,
		Info: elf.R_INFO(1, uint32(elf.R_X86_64_64)),
	})

	mainName := str.add("main")
	helperName := str.add("helper")
	symOff := relaOff + 24
	syms := []elf.Sym64{
		{},
		{Name: mainName, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: 1, Value: ELFTextAddr, Size: 0x10},
		{Name: helperName, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: 1, Value: ELFTextAddr + 0x10, Size: 0x20},
	}
	img = put(img, symOff, order, syms)

	strOff := symOff + len(syms)*24
	img = putBytes(img, strOff, str.buf)

	type sec struct {
		name string
		hdr  elf.Section64
	}
	secs := []sec{
		{"", elf.Section64{}},
		{".text", elf.Section64{Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addr: ELFTextAddr, Off: ELFTextOffset, Size: ELFTextSize, Addralign: 16}},
		{".data", elf.Section64{Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), Addr: ELFDataAddr, Off: ELFDataOffset, Size: ELFDataSize, Addralign: 8}},
		{".bss", elf.Section64{Type: uint32(elf.SHT_NOBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), Addr: ELFBssAddr, Off: uint64(relaOff), Size: ELFBssSize, Addralign: 8}},
		{".rela.text", elf.Section64{Type: uint32(elf.SHT_RELA), Off: uint64(relaOff), Size: 24, Link: 5, Info: 1, Addralign: 8, Entsize: 24}},
		{".symtab", elf.Section64{Type: uint32(elf.SHT_SYMTAB), Off: uint64(symOff), Size: uint64(len(syms) * 24), Link: 6, Info: 1, Addralign: 8, Entsize: 24}},
		{".strtab", elf.Section64{Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(len(str.buf)), Addralign: 1}},
		{".shstrtab", elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1}},
	}
	for i := range secs {
		secs[i].hdr.Name = shstr.add(secs[i].name)
	}
	shstrOff := strOff + len(str.buf)
	secs[len(secs)-1].hdr.Off = uint64(shstrOff)
	secs[len(secs)-1].hdr.Size = uint64(len(shstr.buf))
	img = putBytes(img, shstrOff, shstr.buf)

	shoff := alignTo(shstrOff+len(shstr.buf), 8)
	for i, s := range secs {
		img = put(img, shoff+i*64, order, s.hdr)
	}

	stackFlags := elf.PF_R | elf.PF_W
	if opts.ExecStack {
		stackFlags |= elf.PF_X
	}
	progs := []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: ELFTextOffset, Vaddr: ELFTextAddr, Paddr: ELFTextAddr, Filesz: ELFTextSize, Memsz: ELFTextSize, Align: 0x1000},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: ELFDataOffset, Vaddr: ELFDataAddr, Paddr: ELFDataAddr, Filesz: ELFDataSize, Memsz: ELFDataSize + ELFBssSize, Align: 0x1000},
		{Type: uint32(elf.PT_GNU_STACK), Flags: uint32(stackFlags), Align: 16},
	}
	img = put(img, 64, order, progs)

	typ := elf.ET_DYN
	if opts.Executable {
		typ = elf.ET_EXEC
	}
	img = put(img, 0, order, elf.Header64{
		Ident:     [16]uint8{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)},
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     ELFEntry,
		Phoff:     64,
		Shoff:     uint64(shoff),
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     uint16(len(progs)),
		Shentsize: 64,
		Shnum:     uint16(len(secs)),
		Shstrndx:  uint16(len(secs) - 1),
	})

	return append(img, opts.Overlay...)
}
