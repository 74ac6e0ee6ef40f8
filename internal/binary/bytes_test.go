package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBytes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []byte
	}{
		{"buffer", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"uint8 slice", []uint8{0xff}, []byte{0xff}},
		{"hex", "deadbeef", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"hex prefixed spaced", "0x90 90\n90", []byte{0x90, 0x90, 0x90}},
		{"ints", []int{0, 127, 255}, []byte{0, 127, 255}},
		{"json numbers", []any{float64(1), float64(2)}, []byte{1, 2}},
		{"mixed ints", []any{1, int64(2), uint8(3)}, []byte{1, 2, 3}},
		{"empty", []int{}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBytes(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBytesMismatch(t *testing.T) {
	for _, in := range []any{
		nil,
		42,
		"xyz",
		"abc",
		[]int{256},
		[]int{-1},
		[]any{"a"},
		[]any{1.5},
		[]any{uint64(300)},
		map[string]int{},
	} {
		_, err := DecodeBytes(in)
		var tm *TypeMismatchError
		assert.ErrorAs(t, err, &tm, "%#v", in)
	}
}
