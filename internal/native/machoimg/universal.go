package machoimg

import (
	"bytes"
	"debug/macho"
	"errors"
	"fmt"
)

// Arch describes where one slice sits inside a universal image.
type Arch struct {
	CPU    uint32
	SubCPU uint32
	Offset uint32
	Size   uint32
	Align  uint32
}

// DecodeUniversal decodes every slice of a universal image. A thin image is
// returned as a single slice whose Arch spans the whole image.
func DecodeUniversal(raw []byte) ([]*File, []Arch, error) {
	ff, err := macho.NewFatFile(bytes.NewReader(raw))
	if errors.Is(err, macho.ErrNotFat) {
		f, err := Decode(raw)
		if err != nil {
			return nil, nil, err
		}
		return []*File{f}, []Arch{{CPU: f.CPU, SubCPU: f.SubCPU, Size: uint32(len(raw))}}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse universal Mach-O: %w", err)
	}
	defer ff.Close()

	files := make([]*File, 0, len(ff.Arches))
	arches := make([]Arch, 0, len(ff.Arches))
	for i, a := range ff.Arches {
		end := uint64(a.Offset) + uint64(a.Size)
		if end > uint64(len(raw)) {
			return nil, nil, fmt.Errorf("slice %d runs past end of file", i)
		}
		f, err := Decode(raw[a.Offset:end])
		if err != nil {
			return nil, nil, fmt.Errorf("slice %d: %w", i, err)
		}
		files = append(files, f)
		arches = append(arches, Arch{
			CPU:    uint32(a.Cpu),
			SubCPU: a.SubCpu,
			Offset: a.Offset,
			Size:   a.Size,
			Align:  a.Align,
		})
	}
	return files, arches, nil
}
