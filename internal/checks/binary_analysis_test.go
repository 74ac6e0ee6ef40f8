package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-betanet/objkit/internal/fixtures"
)

func TestFormatCheck(t *testing.T) {
	check := &FormatCheck{}
	assert.Equal(t, "format", check.ID())
	assert.NotEmpty(t, check.Description())

	for name, img := range map[string][]byte{
		"elf":   fixtures.ELF64(fixtures.ELFOptions{}),
		"pe":    fixtures.PE64(fixtures.PEOptions{}),
		"macho": fixtures.MachO64(fixtures.MachOOptions{}),
	} {
		t.Run(name, func(t *testing.T) {
			result := check.Execute(parse(t, img))
			assert.Equal(t, StatusPass, result.Status, result.Details)
			assert.Equal(t, 64, result.Metadata["bits"])
			assert.Equal(t, "x86_64", result.Metadata["architecture"])
		})
	}
}

func TestFormatCheckReleasedBinary(t *testing.T) {
	b := parse(t, fixtures.ELF64(fixtures.ELFOptions{}))
	require.NoError(t, b.Close())

	result := (&FormatCheck{}).Execute(b)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Metadata["issues"], "missing architecture")
}

func TestSectionLayoutCheck(t *testing.T) {
	check := &SectionLayoutCheck{}

	result := check.Execute(parse(t, fixtures.PE64(fixtures.PEOptions{})))
	assert.Equal(t, StatusPass, result.Status, result.Details)
	assert.Equal(t, 3, result.Metadata["section_count"])

	b := parse(t, fixtures.ELF64(fixtures.ELFOptions{}))
	for _, s := range b.Sections() {
		if s.Name() == ".text" {
			require.NoError(t, s.SetSize(0x100))
		}
	}
	result = check.Execute(b)
	assert.Equal(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Metadata["overlaps"])
}

func TestSymbolTableCheck(t *testing.T) {
	check := &SymbolTableCheck{}

	result := check.Execute(parse(t, fixtures.ELF64(fixtures.ELFOptions{})))
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 2, result.Metadata["symbol_count"])
	assert.Equal(t, 1, result.Metadata["relocation_count"])

	result = check.Execute(parse(t, fixtures.PE64(fixtures.PEOptions{})))
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Details, "stripped")
}
