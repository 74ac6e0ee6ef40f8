package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raven-betanet/objkit/internal/binary"
)

// outputPath resolves where a rewritten binary goes: the explicit flag, or
// the input's base name inside the configured output directory.
func (a *app) outputPath(input, output string) (string, error) {
	if output != "" {
		return output, nil
	}
	if a.cfg.OutputDir != "" {
		return filepath.Join(a.cfg.OutputDir, filepath.Base(input)), nil
	}
	return "", errors.New("no output path: pass --output or set output_dir")
}

// takeSlice parses path as Mach-O and takes ownership of one slice.
func (a *app) takeSlice(path string, slice int) (*binary.MachOBinary, error) {
	fat, err := a.factory.ParseMachO(path)
	if err != nil {
		return nil, err
	}
	defer fat.Close()
	return fat.Take(slice)
}

func parseUint(flag, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", flag, s, err)
	}
	return v, nil
}

func newPatchCmd(a *app) *cobra.Command {
	var (
		address string
		data    string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "patch <binary>",
		Short: "Overwrite bytes at a virtual address",
		Long: `Overwrite bytes at a virtual address and write the result to a new file.

The address must fall inside one mapped section and the patch must not run
past that section's end. PE binaries accept an RVA or a virtual address at or
above the image base.

Example:
  objkit patch app --address 0x401000 --bytes "90 90 90" -o app.patched`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseUint("address", address)
			if err != nil {
				return err
			}
			patch, err := binary.DecodeBytes(data)
			if err != nil {
				return fmt.Errorf("invalid --bytes: %w", err)
			}
			out, err := a.outputPath(args[0], output)
			if err != nil {
				return err
			}

			b, err := a.factory.Parse(args[0])
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.PatchAddress(addr, patch); err != nil {
				return err
			}
			if err := b.Write(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "patched %d bytes at %#x, wrote %s\n", len(patch), addr, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Virtual address to patch (decimal or 0x hex)")
	cmd.Flags().StringVarP(&data, "bytes", "b", "", "Bytes to write, as hex")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("bytes")
	return cmd
}

func newUnsignCmd(a *app) *cobra.Command {
	var (
		slice  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "unsign <binary>",
		Short: "Remove the code signature from a Mach-O binary",
		Long: `Remove LC_CODE_SIGNATURE and its data from one Mach-O slice and write the
slice as a thin binary. Unsigned input is written unchanged.`,
		Args: cobra.ExactArgs(1),
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

			signed := mb.HasCodeSignature()
			if err := mb.RemoveSignature(); err != nil {
				return err
			}
			if err := mb.Write(out); err != nil {
				return err
			}
			if signed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed code signature, wrote %s\n", out)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "no code signature present, wrote %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&slice, "slice", 0, "Slice index in a universal binary")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	return cmd
}

func newExtendCmd(a *app) *cobra.Command {
	var (
		slice   int
		segment string
		size    string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "extend <binary>",
		Short: "Grow a Mach-O segment",
		Long: `Grow a Mach-O segment to at least --size bytes. The growth is rounded up to
the page size and the segments after it move. Segments that carry sections
cannot move, so only segments followed by section-less segments such as
__LINKEDIT can grow.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newSize, err := parseUint("size", size)
			if err != nil {
				return err
			}
			out, err := a.outputPath(args[0], output)
			if err != nil {
				return err
			}
			mb, err := a.takeSlice(args[0], slice)
			if err != nil {
				return err
			}
			defer mb.Close()

			seg, ok := mb.GetSegment(segment)
			if !ok {
				return fmt.Errorf("segment %q not found", segment)
			}
			if !mb.ExtendSegment(seg, newSize) {
				return fmt.Errorf("segment %s cannot be extended to %#x", segment, newSize)
			}
			if err := mb.Write(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extended %s to %#x bytes, wrote %s\n", segment, seg.FileSize(), out)
			return nil
		},
	}

	cmd.Flags().IntVar(&slice, "slice", 0, "Slice index in a universal binary")
	cmd.Flags().StringVarP(&segment, "segment", "s", "", "Segment name, e.g. __DATA")
	cmd.Flags().StringVar(&size, "size", "", "Target segment size (decimal or 0x hex)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	_ = cmd.MarkFlagRequired("segment")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}
