package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raven-betanet/objkit/internal/fixtures"
)

func TestSecurityFlagsCheck(t *testing.T) {
	check := &SecurityFlagsCheck{}
	assert.Equal(t, "security-flags", check.ID())
	assert.Contains(t, check.Description(), "non-executable")

	tests := []struct {
		name   string
		img    []byte
		status CheckStatus
		issues int
	}{
		{"elf hardened", fixtures.ELF64(fixtures.ELFOptions{}), StatusPass, 0},
		{"elf exec", fixtures.ELF64(fixtures.ELFOptions{Executable: true, ExecStack: true}), StatusFail, 2},
		{"pe hardened", fixtures.PE64(fixtures.PEOptions{}), StatusPass, 0},
		{"pe no nx", fixtures.PE64(fixtures.PEOptions{NoNX: true}), StatusFail, 2},
		{"macho hardened", fixtures.MachO64(fixtures.MachOOptions{}), StatusPass, 0},
		{"macho no pie", fixtures.MachO64(fixtures.MachOOptions{NoPIE: true}), StatusFail, 1},
		{"macho exec stack", fixtures.MachO64(fixtures.MachOOptions{ExecStack: true}), StatusFail, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := check.Execute(parse(t, tt.img))
			assert.Equal(t, tt.status, result.Status, result.Details)
			assert.Len(t, result.Metadata["security_issues"], tt.issues)
		})
	}
}

func TestCodeSignatureCheck(t *testing.T) {
	check := &CodeSignatureCheck{}

	result := check.Execute(parse(t, fixtures.MachO64(fixtures.MachOOptions{Signed: true})))
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, true, result.Metadata["signed"])

	result = check.Execute(parse(t, fixtures.MachO64(fixtures.MachOOptions{})))
	assert.Equal(t, StatusFail, result.Status)

	result = check.Execute(parse(t, fixtures.ELF64(fixtures.ELFOptions{})))
	assert.Equal(t, StatusSkip, result.Status)
}
