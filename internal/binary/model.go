// Package binary is a format-unified object model over ELF, PE and Mach-O
// images. A Factory parses files into Binary values; every Binary owns one
// native image and hands out Section and Segment views into it.
package binary

import (
	"debug/elf"

	"github.com/raven-betanet/objkit/internal/native/machoimg"
)

// Format is the container format of a binary. It never changes after
// construction.
type Format string

const (
	FormatELF     Format = "ELF"
	FormatPE      Format = "PE"
	FormatMachO   Format = "MachO"
	FormatUnknown Format = "UNKNOWN"
)

// Arch is the instruction set of a binary.
type Arch string

const (
	ArchNone   Arch = "NONE"
	ArchX86    Arch = "x86"
	ArchX86_64 Arch = "x86_64"
	ArchARM    Arch = "ARM"
	ArchARM64  Arch = "ARM64"
	ArchMIPS   Arch = "MIPS"
	ArchPPC    Arch = "PPC"
	ArchPPC64  Arch = "PPC64"
	ArchRISCV  Arch = "RISCV"
	ArchSPARC  Arch = "SPARC"
)

// Endianness is the byte order of a binary.
type Endianness string

const (
	LittleEndian Endianness = "little"
	BigEndian    Endianness = "big"
)

// Header is a snapshot of the common header fields.
type Header struct {
	Architecture Arch       `json:"architecture" yaml:"architecture"`
	Entrypoint   uint64     `json:"entrypoint" yaml:"entrypoint"`
	Bits         int        `json:"bits" yaml:"bits"`
	Endianness   Endianness `json:"endianness" yaml:"endianness"`
}

func (h Header) Is32() bool { return h.Bits == 32 }
func (h Header) Is64() bool { return h.Bits == 64 }

// Symbol is a copy of one symbol table entry.
type Symbol struct {
	Name  string `json:"name" yaml:"name"`
	Value uint64 `json:"value" yaml:"value"`
	Size  uint64 `json:"size" yaml:"size"`
}

// Relocation is a copy of one relocation. Size is in bits.
type Relocation struct {
	Address uint64 `json:"address" yaml:"address"`
	Size    uint64 `json:"size" yaml:"size"`
}

// CPUType mirrors the Mach-O cputype field.
type CPUType int32

const (
	CPUTypeAny       CPUType = -1
	CPUTypeX86       CPUType = 7
	CPUTypeX86_64    CPUType = 7 | cpuArchABI64
	CPUTypeMIPS      CPUType = 8
	CPUTypeMC98000   CPUType = 10
	CPUTypeHPPA      CPUType = 11
	CPUTypeARM       CPUType = 12
	CPUTypeARM64     CPUType = 12 | cpuArchABI64
	CPUTypeMC88000   CPUType = 13
	CPUTypeSPARC     CPUType = 14
	CPUTypeI860      CPUType = 15
	CPUTypeAlpha     CPUType = 16
	CPUTypePowerPC   CPUType = 18
	CPUTypePowerPC64 CPUType = 18 | cpuArchABI64
)

const cpuArchABI64 = 0x01000000

var cpuNames = map[CPUType]string{
	CPUTypeAny:       "ANY",
	CPUTypeX86:       "X86",
	CPUTypeX86_64:    "X86_64",
	CPUTypeMIPS:      "MIPS",
	CPUTypeMC98000:   "MC98000",
	CPUTypeHPPA:      "HPPA",
	CPUTypeARM:       "ARM",
	CPUTypeARM64:     "ARM64",
	CPUTypeMC88000:   "MC88000",
	CPUTypeSPARC:     "SPARC",
	CPUTypeI860:      "I860",
	CPUTypeAlpha:     "ALPHA",
	CPUTypePowerPC:   "POWERPC",
	CPUTypePowerPC64: "POWERPC64",
}

func (c CPUType) String() string {
	if n, ok := cpuNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

func (c CPUType) arch() Arch {
	switch c {
	case CPUTypeX86:
		return ArchX86
	case CPUTypeX86_64:
		return ArchX86_64
	case CPUTypeARM:
		return ArchARM
	case CPUTypeARM64:
		return ArchARM64
	case CPUTypeMIPS:
		return ArchMIPS
	case CPUTypePowerPC:
		return ArchPPC
	case CPUTypePowerPC64:
		return ArchPPC64
	case CPUTypeSPARC:
		return ArchSPARC
	}
	return ArchNone
}

func elfArch(m elf.Machine) Arch {
	switch m {
	case elf.EM_386:
		return ArchX86
	case elf.EM_X86_64:
		return ArchX86_64
	case elf.EM_ARM:
		return ArchARM
	case elf.EM_AARCH64:
		return ArchARM64
	case elf.EM_MIPS, elf.EM_MIPS_RS3_LE:
		return ArchMIPS
	case elf.EM_PPC:
		return ArchPPC
	case elf.EM_PPC64:
		return ArchPPC64
	case elf.EM_RISCV:
		return ArchRISCV
	case elf.EM_SPARC, elf.EM_SPARCV9:
		return ArchSPARC
	}
	return ArchNone
}

func peArch(machine uint16) Arch {
	switch machine {
	case 0x14c:
		return ArchX86
	case 0x8664:
		return ArchX86_64
	case 0x1c0, 0x1c4:
		return ArchARM
	case 0xaa64:
		return ArchARM64
	case 0x5032, 0x5064:
		return ArchRISCV
	}
	return ArchNone
}

// MachOHeader is a snapshot of the Mach-O header.
type MachOHeader struct {
	Magic      uint32  `json:"magic" yaml:"magic"`
	CPUType    CPUType `json:"cpu_type" yaml:"cpu_type"`
	CPUSubtype uint32  `json:"cpu_subtype" yaml:"cpu_subtype"`
	FileType   uint32  `json:"file_type" yaml:"file_type"`
	Flags      uint32  `json:"flags" yaml:"flags"`
	NbCmds     uint32  `json:"nb_cmds" yaml:"nb_cmds"`
	SizeofCmds uint32  `json:"sizeof_cmds" yaml:"sizeof_cmds"`
}

func (h MachOHeader) Is32() bool { return h.Magic == 0xfeedface || h.Magic == 0xcefaedfe }
func (h MachOHeader) Is64() bool { return h.Magic == 0xfeedfacf || h.Magic == 0xcffaedfe }

func machoHeader(f *machoimg.File) MachOHeader {
	return MachOHeader{
		Magic:      f.Magic,
		CPUType:    CPUType(f.CPU),
		CPUSubtype: f.SubCPU,
		FileType:   f.FileType,
		Flags:      f.Flags,
		NbCmds:     uint32(len(f.Loads)),
		SizeofCmds: f.SizeofCmds(),
	}
}
