package fixtures

import (
	"debug/macho"
	"encoding/binary"
)

// CPU types understood by MachO64.
const (
	MachOCPUAMD64 = uint32(macho.CpuAmd64)
	MachOCPUARM64 = uint32(macho.CpuArm64)
)

// Layout of the image produced by MachO64.
const (
	MachOTextSegAddr   = 0x100000000
	MachOTextAddr      = 0x100000800
	MachOTextOffset    = 0x800
	MachOTextSize      = 0x40
	MachOEntry         = MachOTextAddr
	MachODataSegAddr   = 0x100001000
	MachODataSegOffset = 0x1000
	MachODataAddr      = 0x100001000
	MachODataSize      = 0x20
	MachOBssAddr       = 0x100001020
	MachOBssSize       = 0x40
	MachOLinkeditAddr  = 0x100002000
	MachOLinkeditOff   = 0x2000
	MachOSegSize       = 0x1000
	MachOSignatureSize = 0x20
)

// MachOOptions tunes the MachO64 image.
type MachOOptions struct {
	// CPU defaults to MachOCPUAMD64.
	CPU uint32
	// Signed appends an LC_CODE_SIGNATURE blob to __LINKEDIT.
	Signed bool
	// NoPIE clears MH_PIE.
	NoPIE bool
	// ExecStack sets MH_ALLOW_STACK_EXECUTION.
	ExecStack bool
}

const (
	lcMain          = 0x80000028
	lcCodeSignature = 0x1d
)

// MachO64 builds a little-endian 64-bit MH_EXECUTE image with __PAGEZERO,
// __TEXT (__text), __DATA (__data, zerofill __bss) and __LINKEDIT holding a
// two-entry symbol table.
func MachO64(opts MachOOptions) []byte {
	order := binary.LittleEndian
	cpu := opts.CPU
	if cpu == 0 {
		cpu = MachOCPUAMD64
	}
	var subCPU uint32 = 3
	if cpu == MachOCPUARM64 {
		subCPU = 0
	}

	name16 := func(s string) (b [16]byte) {
		copy(b[:], s)
		return b
	}

	str := newStrtab()
	mainName := str.add("_main")
	helperName := str.add("_helper")
	for len(str.buf)%8 != 0 {
		str.buf = append(str.buf, 0)
	}
	syms := []macho.Nlist64{
		{Name: mainName, Type: 0x0f, Sect: 1, Value: MachOTextAddr},
		{Name: helperName, Type: 0x0f, Sect: 1, Value: MachOTextAddr + 0x10},
	}
	symOff := MachOLinkeditOff
	strOff := symOff + len(syms)*16
	sigOff := strOff + len(str.buf)
	linkeditSize := sigOff - MachOLinkeditOff
	if opts.Signed {
		linkeditSize += MachOSignatureSize
	}

	var cmds []byte
	ncmds := 0
	add := func(v ...any) {
		for _, x := range v {
			cmds = put(cmds, len(cmds), order, x)
		}
		ncmds++
	}

	add(macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72, Name: name16("__PAGEZERO"), Memsz: MachOTextSegAddr})
	add(
		macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72 + 80, Name: name16("__TEXT"), Addr: MachOTextSegAddr, Memsz: MachOSegSize, Filesz: MachOSegSize, Maxprot: 5, Prot: 5, Nsect: 1},
		macho.Section64{Name: name16("__text"), Seg: name16("__TEXT"), Addr: MachOTextAddr, Size: MachOTextSize, Offset: MachOTextOffset, Align: 4, Flags: 0x80000400},
	)
	add(
		macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72 + 2*80, Name: name16("__DATA"), Addr: MachODataSegAddr, Memsz: MachOSegSize, Offset: MachODataSegOffset, Filesz: MachOSegSize, Maxprot: 3, Prot: 3, Nsect: 2},
		macho.Section64{Name: name16("__data"), Seg: name16("__DATA"), Addr: MachODataAddr, Size: MachODataSize, Offset: MachODataSegOffset, Align: 3},
		macho.Section64{Name: name16("__bss"), Seg: name16("__DATA"), Addr: MachOBssAddr, Size: MachOBssSize, Align: 3, Flags: 0x1},
	)
	add(macho.Segment64{Cmd: macho.LoadCmdSegment64, Len: 72, Name: name16("__LINKEDIT"), Addr: MachOLinkeditAddr, Memsz: MachOSegSize, Offset: MachOLinkeditOff, Filesz: uint64(linkeditSize), Maxprot: 1, Prot: 1})
	add(macho.SymtabCmd{Cmd: macho.LoadCmdSymtab, Len: 24, Symoff: uint32(symOff), Nsyms: uint32(len(syms)), Stroff: uint32(strOff), Strsize: uint32(len(str.buf))})
	add([4]uint32{lcMain, 24, MachOEntry - MachOTextSegAddr, 0}, uint64(0))
	if opts.Signed {
		add([4]uint32{lcCodeSignature, 16, uint32(sigOff), MachOSignatureSize})
	}

	var flags uint32 = 0x1 | 0x4 | 0x80 // NOUNDEFS | DYLDLINK | TWOLEVEL
	if !opts.NoPIE {
		flags |= 0x200000
	}
	if opts.ExecStack {
		flags |= 0x20000
	}

	img := put(nil, 0, order, macho.FileHeader{
		Magic:  macho.Magic64,
		Cpu:    macho.Cpu(cpu),
		SubCpu: subCPU,
		Type:   macho.TypeExec,
		Ncmd:   uint32(ncmds),
		Cmdsz:  uint32(len(cmds)),
		Flags:  flags,
	})
	img = putBytes(img, 32, cmds)
	img = putBytes(img, MachOTextOffset, Pattern(MachOTextSize, 0x55))
	img = putBytes(img, MachODataSegOffset, Pattern(MachODataSize, 0x20))
	img = put(img, symOff, order, syms)
	img = putBytes(img, strOff, str.buf)
	if opts.Signed {
		blob := Pattern(MachOSignatureSize, 0xa0)
		binary.BigEndian.PutUint32(blob, 0xfade0cc0)
		img = putBytes(img, sigOff, blob)
	}
	return img
}

// Universal wraps thin Mach-O images into a fat container. Each slice is
// aligned to 16 KiB.
func Universal(slices ...[]byte) []byte {
	const align = 14
	order := binary.BigEndian

	img := make([]byte, 8)
	order.PutUint32(img, macho.MagicFat)
	order.PutUint32(img[4:], uint32(len(slices)))

	off := 1 << align
	for i, s := range slices {
		cpu := binary.LittleEndian.Uint32(s[4:])
		sub := binary.LittleEndian.Uint32(s[8:])
		img = put(img, 8+i*20, order, [5]uint32{cpu, sub, uint32(off), uint32(len(s)), align})
		img = putBytes(img, off, s)
		off = alignTo(off+len(s), 1<<align)
	}
	return img
}
