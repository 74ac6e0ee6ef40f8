package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raven-betanet/objkit/internal/binary"
)

type infoView struct {
	Path                string              `json:"path" yaml:"path"`
	Format              binary.Format       `json:"format" yaml:"format"`
	Header              binary.Header       `json:"header" yaml:"header"`
	PositionIndependent bool                `json:"position_independent" yaml:"position_independent"`
	NonExecutableData   bool                `json:"non_executable_data" yaml:"non_executable_data"`
	Sections            int                 `json:"sections" yaml:"sections"`
	Segments            int                 `json:"segments" yaml:"segments"`
	Symbols             int                 `json:"symbols" yaml:"symbols"`
	Relocations         int                 `json:"relocations" yaml:"relocations"`
	ImageBase           uint64              `json:"image_base,omitempty" yaml:"image_base,omitempty"`
	Subsystem           uint16              `json:"subsystem,omitempty" yaml:"subsystem,omitempty"`
	MachO               *binary.MachOHeader `json:"macho,omitempty" yaml:"macho,omitempty"`
	CodeSignature       *bool               `json:"code_signature,omitempty" yaml:"code_signature,omitempty"`
	Overlay             uint64              `json:"overlay,omitempty" yaml:"overlay,omitempty"`
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <binary>",
		Short: "Show header information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.factory.Parse(args[0])
			if err != nil {
				return err
			}
			defer b.Close()

			v := infoView{
				Path:                args[0],
				Format:              b.Format(),
				Header:              b.Header(),
				PositionIndependent: b.IsPositionIndependent(),
				NonExecutableData:   b.HasNonExecutableData(),
				Sections:            len(b.Sections()),
				Segments:            len(b.Segments()),
				Symbols:             len(b.Symbols()),
				Relocations:         len(b.Relocations()),
			}
			switch x := b.(type) {
			case *binary.PEBinary:
				opt := x.OptionalHeader()
				v.ImageBase = opt.ImageBase
				v.Subsystem = opt.Subsystem
			case *binary.MachOBinary:
				hdr := x.MachOHeader()
				signed := x.HasCodeSignature()
				v.MachO = &hdr
				v.CodeSignature = &signed
			case *binary.ELFBinary:
				v.Overlay = uint64(len(x.Overlay()))
			}

			return a.render(cmd, v, func(w io.Writer) {
				table := newTable(w, "Field", "Value")
				table.Append([]string{"Path", v.Path})
				table.Append([]string{"Format", string(v.Format)})
				table.Append([]string{"Architecture", string(v.Header.Architecture)})
				table.Append([]string{"Bits", fmt.Sprint(v.Header.Bits)})
				table.Append([]string{"Endianness", string(v.Header.Endianness)})
				table.Append([]string{"Entrypoint", hex64(v.Header.Entrypoint)})
				table.Append([]string{"PIE", yesNo(v.PositionIndependent)})
				table.Append([]string{"NX", yesNo(v.NonExecutableData)})
				table.Append([]string{"Sections", fmt.Sprint(v.Sections)})
				table.Append([]string{"Segments", fmt.Sprint(v.Segments)})
				table.Append([]string{"Symbols", fmt.Sprint(v.Symbols)})
				table.Append([]string{"Relocations", fmt.Sprint(v.Relocations)})
				if v.ImageBase != 0 {
					table.Append([]string{"Image base", hex64(v.ImageBase)})
					table.Append([]string{"Subsystem", fmt.Sprint(v.Subsystem)})
				}
				if v.MachO != nil {
					table.Append([]string{"CPU type", v.MachO.CPUType.String()})
					table.Append([]string{"File type", fmt.Sprint(v.MachO.FileType)})
					table.Append([]string{"Load commands", fmt.Sprintf("%d (%s)", v.MachO.NbCmds, humanize.IBytes(uint64(v.MachO.SizeofCmds)))})
					table.Append([]string{"Code signature", yesNo(*v.CodeSignature)})
				}
				if v.Overlay != 0 {
					table.Append([]string{"Overlay", humanize.IBytes(v.Overlay)})
				}
				table.Render()
			})
		},
	}
}

type sectionView struct {
	Name           string `json:"name" yaml:"name"`
	VirtualAddress uint64 `json:"virtual_address" yaml:"virtual_address"`
	Size           uint64 `json:"size" yaml:"size"`
	VirtualSize    uint64 `json:"virtual_size" yaml:"virtual_size"`
	Offset         uint64 `json:"offset" yaml:"offset"`
	Digest         string `json:"digest" yaml:"digest"`
}

type segmentView struct {
	Name           string   `json:"name" yaml:"name"`
	VirtualAddress uint64   `json:"virtual_address" yaml:"virtual_address"`
	VirtualSize    uint64   `json:"virtual_size" yaml:"virtual_size"`
	FileOffset     uint64   `json:"file_offset" yaml:"file_offset"`
	FileSize       uint64   `json:"file_size" yaml:"file_size"`
	Sections       []string `json:"sections" yaml:"sections"`
}

func toSectionView(s *binary.Section) sectionView {
	return sectionView{
		Name:           s.Name(),
		VirtualAddress: s.VirtualAddress(),
		Size:           s.Size(),
		VirtualSize:    s.VirtualSize(),
		Offset:         s.FileOffset(),
		Digest:         digest(s.Content()),
	}
}

func newSectionsCmd(a *app) *cobra.Command {
	var segments bool

	cmd := &cobra.Command{
		Use:   "sections <binary>",
		Short: "List sections, or Mach-O segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.factory.Parse(args[0])
			if err != nil {
				return err
			}
			defer b.Close()

			if segments {
				return a.renderSegments(cmd, b.Segments())
			}

			views := make([]sectionView, 0, len(b.Sections()))
			for _, s := range b.Sections() {
				views = append(views, toSectionView(s))
			}
			return a.render(cmd, views, func(w io.Writer) {
				table := newTable(w, "Name", "Address", "Size", "Virtual size", "Offset", "Digest")
				for _, v := range views {
					table.Append([]string{
						v.Name,
						hex64(v.VirtualAddress),
						humanize.IBytes(v.Size),
						humanize.IBytes(v.VirtualSize),
						hex64(v.Offset),
						v.Digest,
					})
				}
				table.Render()
			})
		},
	}

	cmd.Flags().BoolVar(&segments, "segments", false, "List segments instead of sections (Mach-O only)")
	return cmd
}

func (a *app) renderSegments(cmd *cobra.Command, segs []*binary.Segment) error {
	views := make([]segmentView, 0, len(segs))
	for _, s := range segs {
		v := segmentView{
			Name:           s.Name(),
			VirtualAddress: s.VirtualAddress(),
			VirtualSize:    s.VirtualSize(),
			FileOffset:     s.FileOffset(),
			FileSize:       s.FileSize(),
			Sections:       []string{},
		}
		for _, sec := range s.Sections() {
			v.Sections = append(v.Sections, sec.Name())
		}
		views = append(views, v)
	}
	return a.render(cmd, views, func(w io.Writer) {
		table := newTable(w, "Name", "Address", "Virtual size", "Offset", "File size", "Sections")
		for _, v := range views {
			table.Append([]string{
				v.Name,
				hex64(v.VirtualAddress),
				humanize.IBytes(v.VirtualSize),
				hex64(v.FileOffset),
				humanize.IBytes(v.FileSize),
				fmt.Sprint(len(v.Sections)),
			})
		}
		table.Render()
	})
}

func newSymbolsCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "symbols <binary>",
		Short: "List symbols and relocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.factory.Parse(args[0])
			if err != nil {
				return err
			}
			defer b.Close()

			symbols := b.Symbols()
			if name != "" {
				sym, ok := b.GetSymbol(name)
				if !ok {
					return fmt.Errorf("symbol %q not found", name)
				}
				symbols = []binary.Symbol{sym}
			}

			out := struct {
				Symbols     []binary.Symbol     `json:"symbols" yaml:"symbols"`
				Relocations []binary.Relocation `json:"relocations" yaml:"relocations"`
			}{symbols, b.Relocations()}

			return a.render(cmd, out, func(w io.Writer) {
				table := newTable(w, "Name", "Value", "Size")
				for _, s := range out.Symbols {
					table.Append([]string{s.Name, hex64(s.Value), fmt.Sprint(s.Size)})
				}
				table.Render()
				if name == "" {
					fmt.Fprintf(w, "\n%d relocations\n", len(out.Relocations))
				}
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Look up a single symbol by exact name")
	return cmd
}
