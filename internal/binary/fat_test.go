package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-betanet/objkit/internal/fixtures"
)

func TestFatTakeEverySlot(t *testing.T) {
	f, _ := newTestFactory(t)
	fat, err := f.ParseMachO(fatPath)
	require.NoError(t, err)
	defer fat.Close()

	require.Equal(t, 2, fat.Size())
	arch, err := fat.Arch(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4000), arch.Offset)

	arm, err := fat.Take(1)
	require.NoError(t, err)
	amd, err := fat.Take(0)
	require.NoError(t, err)

	assert.NotSame(t, arm, amd)
	assert.Equal(t, ArchARM64, arm.Header().Architecture)
	assert.Equal(t, ArchX86_64, amd.Header().Architecture)
	assert.False(t, arm.Borrowed())
	assert.NotEmpty(t, arm.Sections())
	assert.NotEmpty(t, amd.Symbols())

	assert.Equal(t, 2, fat.Size(), "size counts tombstones")
	assert.Zero(t, fat.Remaining())
	assert.True(t, fat.Taken(0))
	assert.True(t, fat.Taken(1))

	for i := 0; i < fat.Size(); i++ {
		_, err := fat.Take(i)
		var consumed *SlotConsumedError
		require.ErrorAs(t, err, &consumed)
		assert.Equal(t, i, consumed.Index)
	}
}

func TestFatIndexOutOfRange(t *testing.T) {
	f, _ := newTestFactory(t)
	fat, err := f.ParseMachO(fatPath)
	require.NoError(t, err)

	for _, i := range []int{-1, 2, 10} {
		var oor *IndexOutOfRangeError
		_, err := fat.Peek(i)
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, 2, oor.Size)
		_, err = fat.Take(i)
		require.ErrorAs(t, err, &oor)
		_, err = fat.Arch(i)
		require.ErrorAs(t, err, &oor)
		assert.False(t, fat.Taken(i))
	}
}

func TestFatPeekExpiresOnTake(t *testing.T) {
	f, _ := newTestFactory(t)
	fat, err := f.ParseMachO(fatPath)
	require.NoError(t, err)

	borrowed, err := fat.Peek(0)
	require.NoError(t, err)
	require.True(t, borrowed.Valid())

	mb, ok := borrowed.Get()
	require.True(t, ok)
	assert.True(t, mb.Borrowed())
	sec := mb.Sections()[0]
	seg, _ := mb.GetSegment("__TEXT")
	assert.Equal(t, "__text", sec.Name())

	// Closing a borrowed binary leaves the slot alone.
	require.NoError(t, mb.Close())
	assert.True(t, borrowed.Valid())

	taken, err := fat.Take(0)
	require.NoError(t, err)

	assert.False(t, borrowed.Valid())
	_, ok = borrowed.Get()
	assert.False(t, ok)
	assert.ErrorIs(t, borrowed.With(func(*MachOBinary) error { return nil }), ErrReleased)

	assert.Empty(t, mb.Sections())
	assert.Zero(t, mb.Entrypoint())
	assert.Empty(t, sec.Name())
	assert.Empty(t, seg.Sections())
	assert.ErrorIs(t, sec.SetContent([]byte{1}), ErrReleased)
	assert.ErrorIs(t, mb.PatchAddress(fixtures.MachOTextAddr, []byte{1}), ErrReleased)
	assert.False(t, mb.ExtendSegment(seg, 2*fixtures.MachOSegSize))

	assert.Equal(t, "__text", taken.Sections()[0].Name())
	assert.Equal(t, uint64(fixtures.MachOEntry), taken.Entrypoint())

	var consumed *SlotConsumedError
	_, err = fat.Peek(0)
	assert.ErrorAs(t, err, &consumed)

	other, err := fat.Peek(1)
	require.NoError(t, err)
	assert.True(t, other.Valid())
}

func TestFatPeekMutationsReachTake(t *testing.T) {
	f, _ := newTestFactory(t)
	fat, err := f.ParseMachO(fatPath)
	require.NoError(t, err)

	borrowed, err := fat.Peek(1)
	require.NoError(t, err)
	patch := []byte{0xaa, 0xbb}
	require.NoError(t, borrowed.With(func(mb *MachOBinary) error {
		return mb.PatchAddress(fixtures.MachOTextAddr, patch)
	}))

	taken, err := fat.Take(1)
	require.NoError(t, err)
	assert.Equal(t, patch, taken.Sections()[0].Content()[:2])
}

func TestFatClose(t *testing.T) {
	f, _ := newTestFactory(t)
	fat, err := f.ParseMachO(fatPath)
	require.NoError(t, err)

	taken, err := fat.Take(0)
	require.NoError(t, err)
	borrowed, err := fat.Peek(1)
	require.NoError(t, err)

	require.NoError(t, fat.Close())
	require.NoError(t, fat.Close())

	assert.False(t, borrowed.Valid())
	assert.Zero(t, fat.Remaining())
	_, err = fat.Peek(1)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = fat.Take(1)
	assert.ErrorIs(t, err, ErrReleased)

	assert.NotEmpty(t, taken.Sections(), "taken images outlive the container")
	require.NoError(t, taken.Write("/out/taken"))
}
