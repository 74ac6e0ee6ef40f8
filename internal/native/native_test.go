package native

import (
	"math"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-betanet/objkit/internal/fixtures"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"elf", fixtures.ELF64(fixtures.ELFOptions{}), KindELF},
		{"pe", fixtures.PE64(fixtures.PEOptions{}), KindPE},
		{"macho", fixtures.MachO64(fixtures.MachOOptions{}), KindMachO},
		{"universal", fixtures.Universal(fixtures.MachO64(fixtures.MachOOptions{})), KindMachOUniversal},
		{"java class", fixtures.JavaClass(), KindJavaClass},
		{"wasm", fixtures.Wasm(), KindWasm},
		{"dos", fixtures.DOS(), KindDOS},
		{"garbage", fixtures.Garbage(), KindUnknown},
		{"short", []byte{0x7f}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data))
		})
	}
}

func TestKindSupport(t *testing.T) {
	assert.True(t, KindELF.Supported())
	assert.True(t, KindMachOUniversal.Supported())
	assert.False(t, KindWasm.Supported())
	assert.True(t, KindWasm.Recognized())
	assert.False(t, KindUnknown.Recognized())
	assert.Equal(t, "java-class", KindJavaClass.String())
}

func TestCheckOverlaps(t *testing.T) {
	fixed := []Region{
		{Name: "header", Start: 0, End: 0x40},
		{Name: ".data", Start: 0x200, End: 0x280},
	}

	t.Run("disjoint", func(t *testing.T) {
		err := CheckOverlaps([]Region{{Name: ".text", Start: 0x100, End: 0x200}}, fixed)
		assert.NoError(t, err)
	})

	t.Run("overlaps fixed", func(t *testing.T) {
		err := CheckOverlaps([]Region{{Name: ".text", Start: 0x100, End: 0x210}}, fixed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".data")
	})

	t.Run("collects every violation", func(t *testing.T) {
		err := CheckOverlaps([]Region{
			{Name: "a", Start: 0x10, End: 0x300},
			{Name: "b", Start: 0x250, End: 0x260},
		}, fixed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "4 errors occurred")
	})

	t.Run("empty regions never overlap", func(t *testing.T) {
		err := CheckOverlaps([]Region{{Name: "empty", Start: 0x20, End: 0x20}}, fixed)
		assert.NoError(t, err)
	})
}

func TestCheckFields(t *testing.T) {
	assert.NoError(t, CheckFields())
	assert.NoError(t, CheckFields(
		Field{Name: "a", Value: math.MaxUint32, Bits: 32},
		Field{Name: "b", Value: math.MaxUint64, Bits: 64},
		Field{Name: "c", Value: 0xff, Bits: 8},
	))

	err := CheckFields(
		Field{Name: "size", Value: 1 << 32, Bits: 32},
		Field{Name: "ok", Value: 1, Bits: 32},
		Field{Name: "flags", Value: 0x100, Bits: 8},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size 0x100000000 does not fit in 32 bits")
	assert.Contains(t, err.Error(), "flags 0x100 does not fit in 8 bits")
	assert.NotContains(t, err.Error(), "ok 0x1")
}

func TestPutContent(t *testing.T) {
	out := []byte{1, 1, 1, 1, 1, 1, 1, 1}

	out, err := PutContent(out, "s", 2, 4, []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 9, 9, 0, 0, 1, 1}, out)

	out, err = PutContent(out, "s", 6, 4, []byte{7, 7, 7, 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 9, 9, 0, 0, 7, 7, 7, 7}, out)

	_, err = PutContent(out, "s", 0, 2, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0x1000), AlignUp(1, 0x1000))
	assert.Equal(t, uint64(0x1000), AlignUp(0x1000, 0x1000))
	assert.Equal(t, uint64(7), AlignUp(7, 0))
}

func TestFSWriteFile(t *testing.T) {
	fs := NewFS(afero.NewMemMapFs())
	require.NoError(t, fs.Afero().MkdirAll("/out", 0o755))

	require.NoError(t, fs.WriteFile("/out/bin", []byte("payload"), 0o755))

	data, err := fs.ReadFile("/out/bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	info, err := fs.Afero().Stat("/out/bin")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	entries, err := afero.ReadDir(fs.Afero(), "/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}
