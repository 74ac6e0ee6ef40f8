package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raven-betanet/objkit/internal/checks"
)

func newCheckCmd(a *app) *cobra.Command {
	var (
		only []string
		skip []string
	)

	cmd := &cobra.Command{
		Use:   "check <binary>",
		Short: "Run inspection checks against a binary",
		Long: `Run inspection checks against a binary.

Checks:
  format          architecture, bitness and a mapped entry point
  section-layout  stored sections do not overlap in the file
  symbols         the symbol table is present and has no duplicate names
  security-flags  PIE and NX are enabled
  code-signature  Mach-O images carry LC_CODE_SIGNATURE

Exit codes:
  0 - All checks passed
  1 - One or more checks failed, or the binary could not be parsed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := checks.NewCheckRunner(checks.DefaultRegistry(), a.factory,
				checks.WithSkip(append(a.cfg.Checks.Skip, skip...)...),
				checks.WithFailFast(a.cfg.Checks.FailFast),
				checks.WithLogger(a.logger.WithComponent("checks")),
			)

			var report *checks.CheckReport
			if len(only) > 0 {
				b, err := a.factory.Parse(args[0])
				if err != nil {
					return err
				}
				defer b.Close()
				report = runner.RunSelected(b, only)
				report.BinaryPath = args[0]
			} else {
				var err error
				if report, err = runner.RunFile(args[0]); err != nil {
					return err
				}
			}

			if err := a.render(cmd, report, func(w io.Writer) { writeReport(w, report) }); err != nil {
				return err
			}
			if !report.Passed() {
				return errChecksFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "Run only these check IDs")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Skip these check IDs")
	return cmd
}

func writeReport(w io.Writer, report *checks.CheckReport) {
	fmt.Fprintf(w, "Binary: %s (%s)\n\n", report.BinaryPath, report.Format)

	table := newTable(w, "Status", "Check", "Details")
	for _, r := range report.Results {
		table.Append([]string{strings.ToUpper(string(r.Status)), r.ID, r.Details})
	}
	table.Render()

	s := report.Summary
	status := "PASS"
	if !report.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "\n%s: %d passed, %d failed, %d skipped, %d errors of %d checks\n",
		status, s.Passed, s.Failed, s.Skipped, s.Errors, s.Total)
}
