// Package fixtures synthesizes small but structurally complete ELF, PE and
// Mach-O images for tests. Every image is built in memory from the debug/*
// header structs so tests never depend on binaries checked into the tree.
package fixtures

import (
	"bytes"
	"encoding/binary"
)

// strtab accumulates a NUL-separated string table.
type strtab struct {
	buf []byte
}

func newStrtab() *strtab {
	return &strtab{buf: []byte{0}}
}

func (s *strtab) add(name string) uint32 {
	off := uint32(len(s.buf))
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, 0)
	return off
}

// put serializes v at off in img, growing img as needed.
func put(img []byte, off int, order binary.ByteOrder, v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, v); err != nil {
		panic(err)
	}
	return putBytes(img, off, buf.Bytes())
}

func putBytes(img []byte, off int, b []byte) []byte {
	if need := off + len(b); need > len(img) {
		img = append(img, make([]byte, need-len(img))...)
	}
	copy(img[off:], b)
	return img
}

func alignTo(v, a int) int {
	return (v + a - 1) / a * a
}

// Pattern returns n bytes of a recognizable, non-zero sequence.
func Pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// JavaClass is the header of a Java class file, which shares the universal
// Mach-O magic.
func JavaClass() []byte {
	return []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34, 0x00, 0x10}
}

// Wasm is a WebAssembly module header.
func Wasm() []byte {
	return []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
}

// DOS is an MZ executable without a PE signature.
func DOS() []byte {
	b := make([]byte, 0x80)
	b[0], b[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(b[0x3c:], 0x40)
	return b
}

// Garbage is a short buffer no sniffer recognizes.
func Garbage() []byte {
	return []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0xfd, 0xfc}
}
