package checks

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/raven-betanet/objkit/internal/binary"
	"github.com/raven-betanet/objkit/internal/native"
)

// FormatCheck validates that the header describes a usable image.
type FormatCheck struct{}

func (c *FormatCheck) ID() string {
	return "format"
}

func (c *FormatCheck) Description() string {
	return "Validates the binary format, architecture and entry point"
}

func (c *FormatCheck) Execute(b binary.Binary) CheckResult {
	result := newResult(c)
	hdr := b.Header()

	result.Metadata["format"] = string(b.Format())
	result.Metadata["architecture"] = string(hdr.Architecture)
	result.Metadata["bits"] = hdr.Bits
	result.Metadata["endianness"] = string(hdr.Endianness)
	result.Metadata["entry_point"] = b.Entrypoint()

	var problems []string
	if b.Format() == binary.FormatUnknown {
		problems = append(problems, "unknown format")
	}
	if hdr.Architecture == "" || hdr.Architecture == binary.ArchNone {
		problems = append(problems, "missing architecture")
	}
	if !hdr.Is32() && !hdr.Is64() {
		problems = append(problems, fmt.Sprintf("unexpected bitness %d", hdr.Bits))
	}
	if ep := b.Entrypoint(); ep != 0 {
		mapped := lo.ContainsBy(b.Sections(), func(s *binary.Section) bool {
			va := s.VirtualAddress()
			return va != 0 && ep >= va && ep-va < s.Size()
		})
		if !mapped {
			problems = append(problems, fmt.Sprintf("entry point %#x is outside every section", ep))
		}
	}

	if len(problems) > 0 {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Format validation failed: %d issues found", len(problems))
		result.Metadata["issues"] = problems
		return result
	}

	result.Status = StatusPass
	result.Details = fmt.Sprintf("%s %d-bit %s", hdr.Architecture, hdr.Bits, b.Format())
	return result
}

// SectionLayoutCheck verifies that no two sections claim the same file bytes.
type SectionLayoutCheck struct{}

func (c *SectionLayoutCheck) ID() string {
	return "section-layout"
}

func (c *SectionLayoutCheck) Description() string {
	return "Verifies that section file ranges do not overlap"
}

func (c *SectionLayoutCheck) Execute(b binary.Binary) CheckResult {
	result := newResult(c)
	sections := b.Sections()

	stored := lo.Filter(sections, func(s *binary.Section, _ int) bool { return s.HasContent() })
	regions := lo.Map(stored, func(s *binary.Section, _ int) native.Region {
		return native.Region{Name: s.Name(), Start: s.FileOffset(), End: s.FileOffset() + s.Size()}
	})

	result.Metadata["section_count"] = len(sections)
	result.Metadata["stored_sections"] = len(stored)

	if len(sections) == 0 {
		result.Status = StatusFail
		result.Details = "Binary has no sections"
		return result
	}

	err := native.CheckOverlaps(regions, nil)
	var merr *multierror.Error
	if errors.As(err, &merr) {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("%d overlapping section ranges", len(merr.Errors))
		result.Metadata["overlaps"] = lo.Map(merr.Errors, func(e error, _ int) string { return e.Error() })
		return result
	}

	result.Status = StatusPass
	result.Details = fmt.Sprintf("%d sections, no overlaps", len(sections))
	return result
}

// SymbolTableCheck verifies that the binary carries symbols and reports
// duplicate names.
type SymbolTableCheck struct{}

func (c *SymbolTableCheck) ID() string {
	return "symbols"
}

func (c *SymbolTableCheck) Description() string {
	return "Checks that a symbol table is present and reports duplicate names"
}

func (c *SymbolTableCheck) Execute(b binary.Binary) CheckResult {
	result := newResult(c)
	symbols := b.Symbols()
	named := lo.Filter(symbols, func(s binary.Symbol, _ int) bool { return s.Name != "" })
	names := lo.Map(named, func(s binary.Symbol, _ int) string { return s.Name })
	dups := lo.FindDuplicates(names)

	result.Metadata["symbol_count"] = len(symbols)
	result.Metadata["relocation_count"] = len(b.Relocations())
	result.Metadata["duplicates"] = dups

	if len(named) == 0 {
		result.Status = StatusFail
		result.Details = "Binary is stripped: no named symbols"
		return result
	}

	result.Status = StatusPass
	result.Details = fmt.Sprintf("%d symbols, %d duplicate names", len(named), len(dups))
	return result
}
