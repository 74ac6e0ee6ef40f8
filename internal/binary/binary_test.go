package binary

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-betanet/objkit/internal/fixtures"
)

func contents(b Binary) [][]byte {
	var out [][]byte
	for _, s := range b.Sections() {
		out = append(out, s.Content())
	}
	return out
}

func TestELFAccessors(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.ParseELF(elfPath)
	require.NoError(t, err)

	assert.Equal(t, uint64(fixtures.ELFEntry), b.Entrypoint())
	assert.True(t, b.IsPositionIndependent())
	assert.True(t, b.HasNonExecutableData())
	assert.Equal(t, Header{Architecture: ArchX86_64, Entrypoint: fixtures.ELFEntry, Bits: 64, Endianness: LittleEndian}, b.Header())
	assert.True(t, b.Header().Is64())
	assert.Empty(t, b.Segments())
	assert.NotNil(t, b.Segments())

	syms := b.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, Symbol{Name: "main", Value: fixtures.ELFTextAddr, Size: syms[0].Size}, syms[0])

	relocs := b.Relocations()
	require.Len(t, relocs, 1)
	assert.Equal(t, Relocation{Address: fixtures.ELFRelocAddr, Size: 64}, relocs[0])

	text, ok := b.GetSection(".text")
	require.True(t, ok)
	assert.Equal(t, uint64(fixtures.ELFTextAddr), text.VirtualAddress())
	assert.Equal(t, uint64(fixtures.ELFTextOffset), text.FileOffset())
	assert.Equal(t, text.FileOffset(), text.Offset())
	assert.Equal(t, fixtures.Pattern(fixtures.ELFTextSize, 0x90), text.Content())

	bss, ok := b.GetSection(".bss")
	require.True(t, ok)
	assert.False(t, bss.HasContent())
	assert.Empty(t, bss.Content())

	_, ok = b.GetSection(".missing")
	assert.False(t, ok)
}

func TestELFFlags(t *testing.T) {
	f, fs := newTestFactory(t)
	require.NoError(t, writeFixture(fs, "/in/exec", fixtures.ELF64(fixtures.ELFOptions{Executable: true, ExecStack: true})))

	b, err := f.Parse("/in/exec")
	require.NoError(t, err)
	assert.False(t, b.IsPositionIndependent())
	assert.False(t, b.HasNonExecutableData())
}

func TestPEAccessors(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.ParsePE(pePath)
	require.NoError(t, err)

	assert.Equal(t, uint64(fixtures.PEEntryRVA), b.Entrypoint())
	assert.True(t, b.IsPositionIndependent())
	assert.True(t, b.HasNonExecutableData())
	assert.Equal(t, ArchX86_64, b.Header().Architecture)
	assert.Empty(t, b.Segments())

	opt := b.OptionalHeader()
	assert.Equal(t, uint64(fixtures.PEImageBase), opt.ImageBase)
	assert.Equal(t, uint32(fixtures.PESizeOfImage), opt.SizeOfImage)

	text, ok := b.GetSection(".text")
	require.True(t, ok)
	assert.Equal(t, uint32(0x60000020), text.Characteristics())
	assert.Equal(t, uint64(fixtures.PETextVSize), text.VirtualSize())
	assert.Equal(t, uint64(fixtures.PEFileAlignment), text.Size())
	assert.Len(t, b.PESections(), len(b.Sections()))

	relocs := b.Relocations()
	require.Len(t, relocs, 1)
	assert.Equal(t, Relocation{Address: fixtures.PEDataRVA + 8, Size: 64}, relocs[0])

	sym, ok := b.GetSymbol("_start")
	require.True(t, ok)
	assert.Equal(t, "_start", sym.Name)
}

func TestPEFlagsCleared(t *testing.T) {
	f, fs := newTestFactory(t)
	require.NoError(t, writeFixture(fs, "/in/nonx.exe", fixtures.PE64(fixtures.PEOptions{NoNX: true})))

	b, err := f.Parse("/in/nonx.exe")
	require.NoError(t, err)
	assert.False(t, b.IsPositionIndependent())
	assert.False(t, b.HasNonExecutableData())
	assert.Empty(t, b.Symbols())
}

func TestMachOAccessors(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(machoPath)
	require.NoError(t, err)
	mb := b.(*MachOBinary)

	assert.Equal(t, uint64(fixtures.MachOEntry), mb.Entrypoint())
	assert.True(t, mb.IsPositionIndependent())
	assert.True(t, mb.HasNonExecutableData())
	assert.True(t, mb.HasCodeSignature())

	hdr := mb.MachOHeader()
	assert.Equal(t, CPUTypeX86_64, hdr.CPUType)
	assert.True(t, hdr.Is64())
	assert.Equal(t, uint32(len(mb.file.Loads)), hdr.NbCmds)

	var names []string
	for _, s := range mb.Segments() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"__PAGEZERO", "__TEXT", "__DATA", "__LINKEDIT"}, names)

	data, ok := mb.GetSegment("__DATA")
	require.True(t, ok)
	assert.Equal(t, uint64(fixtures.MachODataSegOffset), data.FileOffset())
	assert.Equal(t, uint64(fixtures.MachOSegSize), data.FileSize())
	assert.Equal(t, uint64(fixtures.MachODataSegAddr), data.VirtualAddress())
	require.Len(t, data.Sections(), 2)
	assert.Equal(t, "__data", data.Sections()[0].Name())

	sym, ok := mb.GetSymbol("_helper")
	require.True(t, ok)
	assert.Equal(t, "_helper", sym.Name)
}

func TestGetSymbolMiss(t *testing.T) {
	f, _ := newTestFactory(t)
	for _, path := range []string{elfPath, pePath, machoPath} {
		b, err := f.Parse(path)
		require.NoError(t, err)
		_, ok := b.GetSymbol("nonexistent")
		assert.False(t, ok, path)
	}
}

func TestSymbolsAreCopies(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(elfPath)
	require.NoError(t, err)

	syms := b.Symbols()
	syms[0].Name = "changed"
	sym, ok := b.GetSymbol("main")
	require.True(t, ok)
	assert.Equal(t, "main", sym.Name)
}

func TestPatchAddress(t *testing.T) {
	patch := []byte{1, 2, 3, 4}
	tests := []struct {
		name    string
		path    string
		addr    uint64
		section string
		offset  int
	}{
		{"elf data", elfPath, fixtures.ELFDataAddr + 4, ".data", 4},
		{"pe rva", pePath, fixtures.PEDataRVA + 2, ".data", 2},
		{"pe va", pePath, fixtures.PEImageBase + fixtures.PETextRVA, ".text", 0},
		{"macho text", machoPath, fixtures.MachOTextAddr + 0x10, "__text", 0x10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFactory(t)
			b, err := f.Parse(tt.path)
			require.NoError(t, err)

			require.NoError(t, b.PatchAddress(tt.addr, patch))

			var found *Section
			for _, s := range b.Sections() {
				if s.Name() == tt.section {
					found = s
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, patch, found.Content()[tt.offset:tt.offset+len(patch)])
		})
	}
}

func TestPatchAddressNotMapped(t *testing.T) {
	f, _ := newTestFactory(t)
	for _, path := range []string{elfPath, pePath, machoPath} {
		b, err := f.Parse(path)
		require.NoError(t, err)
		before := contents(b)

		err = b.PatchAddress(0x10, []byte{0xff})
		var nm *AddressNotMappedError
		require.ErrorAs(t, err, &nm, path)
		assert.Equal(t, uint64(0x10), nm.Address)

		if diff := cmp.Diff(before, contents(b)); diff != "" {
			t.Errorf("%s: content changed:\n%s", path, diff)
		}
	}
}

func TestPatchAddressOutOfBounds(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(elfPath)
	require.NoError(t, err)
	before := contents(b)

	var oob *OutOfBoundsError
	err = b.PatchAddress(fixtures.ELFTextAddr+fixtures.ELFTextSize-2, []byte{1, 2, 3, 4})
	require.ErrorAs(t, err, &oob)
	assert.Equal(t, ".text", oob.Section)

	err = b.PatchAddress(fixtures.ELFBssAddr, []byte{1})
	require.ErrorAs(t, err, &oob)
	assert.Equal(t, ".bss", oob.Section)

	assert.Empty(t, cmp.Diff(before, contents(b)))
}

func TestVirtualSizeAliasing(t *testing.T) {
	f, _ := newTestFactory(t)

	eb, err := f.ParseELF(elfPath)
	require.NoError(t, err)
	text, _ := eb.GetSection(".text")
	require.NoError(t, text.SetVirtualSize(0x80))
	assert.Equal(t, uint64(0x80), text.Size())
	require.NoError(t, text.SetSize(0x60))
	assert.Equal(t, uint64(0x60), text.VirtualSize())

	fat, err := f.ParseMachO(machoPath)
	require.NoError(t, err)
	mb, err := fat.Take(0)
	require.NoError(t, err)
	msec := mb.Sections()[0]
	require.NoError(t, msec.SetVirtualSize(0x50))
	assert.Equal(t, uint64(0x50), msec.Size())

	pb, err := f.ParsePE(pePath)
	require.NoError(t, err)
	ptext, _ := pb.GetSection(".text")
	require.NoError(t, ptext.SetVirtualSize(0x40))
	assert.Equal(t, uint64(0x40), ptext.VirtualSize())
	assert.Equal(t, uint64(fixtures.PEFileAlignment), ptext.Size())
}

func TestSetContentNoImplicitResize(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.ParseELF(elfPath)
	require.NoError(t, err)

	data, _ := b.GetSection(".data")
	require.NoError(t, data.SetContent([]byte{9, 9}))
	assert.Equal(t, []byte{9, 9}, data.Content())
	assert.Equal(t, uint64(fixtures.ELFDataSize), data.Size())

	require.NoError(t, data.SetContent(nil))
	assert.Equal(t, []byte{9, 9}, data.Content())

	got := data.Content()
	got[0] = 0
	assert.Equal(t, []byte{9, 9}, data.Content())
}

func TestSegmentSectionsShareViews(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(machoPath)
	require.NoError(t, err)
	mb := b.(*MachOBinary)

	text, ok := mb.GetSegment("__TEXT")
	require.True(t, ok)
	require.NoError(t, text.Sections()[0].SetContent([]byte{0xcc}))
	assert.Equal(t, []byte{0xcc}, mb.Sections()[0].Content())
}

func TestCloseReleasesViews(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.ParseELF(elfPath)
	require.NoError(t, err)
	text, _ := b.GetSection(".text")

	require.NoError(t, b.Close())
	assert.True(t, b.Released())
	assert.Zero(t, b.Entrypoint())
	assert.Equal(t, Header{}, b.Header())
	assert.Empty(t, b.Sections())
	assert.Empty(t, b.Symbols())
	assert.Empty(t, b.Relocations())
	assert.Empty(t, text.Name())
	assert.Empty(t, text.Content())
	assert.ErrorIs(t, text.SetSize(1), ErrReleased)
	assert.ErrorIs(t, b.PatchAddress(fixtures.ELFTextAddr, []byte{1}), ErrReleased)
	assert.ErrorIs(t, b.SetOverlay([]byte("x")), ErrReleased)
	assert.NoError(t, b.Close())
}

func TestELFOverlay(t *testing.T) {
	f, fs := newTestFactory(t)
	require.NoError(t, writeFixture(fs, "/in/overlay", fixtures.ELF64(fixtures.ELFOptions{Overlay: []byte("tail")})))

	b, err := f.ParseELF("/in/overlay")
	require.NoError(t, err)
	require.True(t, b.HasOverlay())
	assert.Equal(t, []byte("tail"), b.Overlay())

	require.NoError(t, b.SetOverlay([]byte("new tail")))
	require.NoError(t, b.Write("/out/overlay"))

	again, err := f.ParseELF("/out/overlay")
	require.NoError(t, err)
	assert.Equal(t, []byte("new tail"), again.Overlay())
}

func TestRemoveSignature(t *testing.T) {
	f, fs := newTestFactory(t)
	b, err := f.Parse(machoPath)
	require.NoError(t, err)
	mb := b.(*MachOBinary)

	require.NoError(t, mb.RemoveSignature())
	assert.False(t, mb.HasCodeSignature())
	require.NoError(t, mb.Write("/out/once"))

	require.NoError(t, mb.RemoveSignature())
	require.NoError(t, mb.Write("/out/twice"))

	once, err := readFixture(fs, "/out/once")
	require.NoError(t, err)
	twice, err := readFixture(fs, "/out/twice")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	assert.Equal(t, fixtures.MachO64(fixtures.MachOOptions{}), once)

	require.NoError(t, mb.Close())
	assert.ErrorIs(t, mb.RemoveSignature(), ErrReleased)
}

func TestExtendSegment(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(machoPath)
	require.NoError(t, err)
	mb := b.(*MachOBinary)
	other, err := f.Parse(machoPath)
	require.NoError(t, err)

	data, _ := mb.GetSegment("__DATA")
	foreign, _ := other.(*MachOBinary).GetSegment("__DATA")
	assert.False(t, mb.ExtendSegment(foreign, 2*fixtures.MachOSegSize))
	assert.False(t, mb.ExtendSegment(nil, 2*fixtures.MachOSegSize))

	require.True(t, mb.ExtendSegment(data, fixtures.MachOSegSize+1))
	assert.Equal(t, uint64(2*fixtures.MachOSegSize), data.FileSize())

	linkedit, _ := mb.GetSegment("__LINKEDIT")
	assert.Equal(t, uint64(fixtures.MachOLinkeditOff+fixtures.MachOSegSize), linkedit.FileOffset())

	require.NoError(t, mb.Write("/out/extended"))
	again, err := f.Parse("/out/extended")
	require.NoError(t, err)
	seg, ok := again.(*MachOBinary).GetSegment("__DATA")
	require.True(t, ok)
	assert.Equal(t, uint64(2*fixtures.MachOSegSize), seg.FileSize())
	assert.True(t, again.(*MachOBinary).HasCodeSignature())
}

func TestExtendSegmentHugeSize(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Parse(machoPath)
	require.NoError(t, err)
	defer b.Close()
	mb := b.(*MachOBinary)

	data, ok := mb.GetSegment("__DATA")
	require.True(t, ok)
	for _, size := range []uint64{math.MaxUint64, 1 << 40} {
		assert.NotPanics(t, func() {
			assert.False(t, mb.ExtendSegment(data, size))
		})
	}
	assert.Equal(t, uint64(fixtures.MachOSegSize), data.FileSize())

	require.NoError(t, mb.Write("/out/unchanged"))
}
