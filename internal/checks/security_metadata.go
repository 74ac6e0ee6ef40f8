package checks

import (
	"fmt"

	"github.com/raven-betanet/objkit/internal/binary"
)

// SecurityFlagsCheck validates the position-independence and non-executable
// data flags.
type SecurityFlagsCheck struct{}

func (c *SecurityFlagsCheck) ID() string {
	return "security-flags"
}

func (c *SecurityFlagsCheck) Description() string {
	return "Validates position independence and non-executable data protections"
}

func (c *SecurityFlagsCheck) Execute(b binary.Binary) CheckResult {
	result := newResult(c)

	pie := b.IsPositionIndependent()
	nx := b.HasNonExecutableData()
	result.Metadata["security_flags"] = map[string]bool{
		"pie": pie,
		"nx":  nx,
	}
	result.Metadata["format"] = string(b.Format())

	issues := []string{}
	if !pie {
		issues = append(issues, pieIssue(b.Format()))
	}
	if !nx {
		issues = append(issues, nxIssue(b.Format()))
	}
	result.Metadata["security_issues"] = issues

	if len(issues) > 0 {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Security flag validation failed: %d issues found", len(issues))
		return result
	}

	result.Status = StatusPass
	result.Details = "All recommended protections enabled"
	return result
}

func pieIssue(f binary.Format) string {
	switch f {
	case binary.FormatELF:
		return "not position independent (ET_EXEC)"
	case binary.FormatPE:
		return "DYNAMIC_BASE not set"
	case binary.FormatMachO:
		return "MH_PIE not set"
	}
	return "not position independent"
}

func nxIssue(f binary.Format) string {
	switch f {
	case binary.FormatELF:
		return "stack is executable or PT_GNU_STACK is missing"
	case binary.FormatPE:
		return "NX_COMPAT not set"
	case binary.FormatMachO:
		return "MH_ALLOW_STACK_EXECUTION is set"
	}
	return "data is executable"
}

// CodeSignatureCheck reports whether a Mach-O binary carries a code
// signature. Other formats are skipped.
type CodeSignatureCheck struct{}

func (c *CodeSignatureCheck) ID() string {
	return "code-signature"
}

func (c *CodeSignatureCheck) Description() string {
	return "Reports the presence of a Mach-O code signature"
}

func (c *CodeSignatureCheck) Execute(b binary.Binary) CheckResult {
	result := newResult(c)

	mb, ok := b.(*binary.MachOBinary)
	if !ok {
		result.Status = StatusSkip
		result.Details = fmt.Sprintf("not applicable to %s", b.Format())
		return result
	}

	signed := mb.HasCodeSignature()
	result.Metadata["signed"] = signed
	if !signed {
		result.Status = StatusFail
		result.Details = "No LC_CODE_SIGNATURE load command"
		return result
	}

	result.Status = StatusPass
	result.Details = "Code signature present"
	return result
}
