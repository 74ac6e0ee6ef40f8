package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raven-betanet/objkit/internal/binary"
)

type sliceView struct {
	Index        int         `json:"index" yaml:"index"`
	CPU          string      `json:"cpu" yaml:"cpu"`
	Architecture binary.Arch `json:"architecture" yaml:"architecture"`
	Offset       uint32      `json:"offset" yaml:"offset"`
	Size         uint32      `json:"size" yaml:"size"`
	Align        uint32      `json:"align" yaml:"align"`
	Signed       bool        `json:"signed" yaml:"signed"`
	Entrypoint   uint64      `json:"entrypoint" yaml:"entrypoint"`
}

func newFatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fat",
		Short: "Work with universal Mach-O binaries",
	}
	cmd.AddCommand(newFatListCmd(a))
	cmd.AddCommand(newFatExtractCmd(a))
	return cmd
}

func newFatListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <binary>",
		Short: "List the slices of a universal binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fat, err := a.factory.ParseMachO(args[0])
			if err != nil {
				return err
			}
			defer fat.Close()

			views := make([]sliceView, 0, fat.Size())
			for i := 0; i < fat.Size(); i++ {
				arch, err := fat.Arch(i)
				if err != nil {
					return err
				}
				borrowed, err := fat.Peek(i)
				if err != nil {
					return err
				}
				v := sliceView{
					Index:  i,
					CPU:    binary.CPUType(int32(arch.CPU)).String(),
					Offset: arch.Offset,
					Size:   arch.Size,
					Align:  arch.Align,
				}
				err = borrowed.With(func(mb *binary.MachOBinary) error {
					v.Architecture = mb.Header().Architecture
					v.Signed = mb.HasCodeSignature()
					v.Entrypoint = mb.Entrypoint()
					return nil
				})
				if err != nil {
					return err
				}
				views = append(views, v)
			}

			return a.render(cmd, views, func(w io.Writer) {
				table := newTable(w, "Index", "CPU", "Offset", "Size", "Align", "Signed", "Entrypoint")
				for _, v := range views {
					table.Append([]string{
						fmt.Sprint(v.Index),
						v.CPU,
						fmt.Sprintf("%#x", v.Offset),
						humanize.IBytes(uint64(v.Size)),
						fmt.Sprintf("2^%d", v.Align),
						yesNo(v.Signed),
						hex64(v.Entrypoint),
					})
				}
				table.Render()
			})
		},
	}
}

func newFatExtractCmd(a *app) *cobra.Command {
	var (
		slice  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "extract <binary>",
		Short: "Write one slice of a universal binary as a thin binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.outputPath(args[0], output)
			if err != nil {
				return err
			}
			mb, err := a.takeSlice(args[0], slice)
			if err != nil {
				return err
			}
			defer mb.Close()

			if err := mb.Write(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted slice %d (%s), wrote %s\n", slice, mb.Header().Architecture, out)
			return nil
		},
	}

	cmd.Flags().IntVar(&slice, "slice", 0, "Slice index")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	return cmd
}
