package checks

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/raven-betanet/objkit/internal/binary"
)

// Check defines the interface that every inspection check implements
type Check interface {
	// ID returns the unique identifier for this check (e.g., "format")
	ID() string

	// Description returns a short description of what this check validates
	Description() string

	// Execute runs the check against a parsed binary
	Execute(b binary.Binary) CheckResult
}

// CheckStatus represents the possible outcomes of a check
type CheckStatus string

const (
	StatusPass  CheckStatus = "pass"
	StatusFail  CheckStatus = "fail"
	StatusSkip  CheckStatus = "skip"
	StatusError CheckStatus = "error"
)

// CheckResult contains the outcome of a check execution
type CheckResult struct {
	ID          string                 `json:"id" yaml:"id"`
	Description string                 `json:"description" yaml:"description"`
	Status      CheckStatus            `json:"status" yaml:"status"`
	Details     string                 `json:"details" yaml:"details"`
	Duration    time.Duration          `json:"duration" yaml:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func newResult(c Check) CheckResult {
	return CheckResult{
		ID:          c.ID(),
		Description: c.Description(),
		Metadata:    make(map[string]interface{}),
	}
}

// CheckRegistry manages a collection of checks
type CheckRegistry struct {
	checks map[string]Check
}

// NewCheckRegistry creates a new check registry
func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{
		checks: make(map[string]Check),
	}
}

// DefaultRegistry returns a registry holding every built-in check.
func DefaultRegistry() *CheckRegistry {
	r := NewCheckRegistry()
	for _, c := range []Check{
		&FormatCheck{},
		&SecurityFlagsCheck{},
		&SectionLayoutCheck{},
		&CodeSignatureCheck{},
		&SymbolTableCheck{},
	} {
		// IDs above are distinct.
		_ = r.Register(c)
	}
	return r
}

// Register adds a check to the registry
func (r *CheckRegistry) Register(check Check) error {
	if _, exists := r.checks[check.ID()]; exists {
		return fmt.Errorf("check %q is already registered", check.ID())
	}
	r.checks[check.ID()] = check
	return nil
}

// Get retrieves a check by ID
func (r *CheckRegistry) Get(id string) (Check, bool) {
	check, exists := r.checks[id]
	return check, exists
}

// List returns all registered checks ordered by ID
func (r *CheckRegistry) List() []Check {
	checks := lo.Values(r.checks)
	sort.Slice(checks, func(i, j int) bool { return checks[i].ID() < checks[j].ID() })
	return checks
}

// CheckRunner executes checks
type CheckRunner struct {
	registry *CheckRegistry
	factory  *binary.Factory
	logger   *logrus.Entry
	skip     []string
	failFast bool
}

// RunnerOption configures a CheckRunner.
type RunnerOption func(*CheckRunner)

// WithSkip excludes checks by ID. They are reported as skipped.
func WithSkip(ids ...string) RunnerOption {
	return func(r *CheckRunner) { r.skip = append(r.skip, ids...) }
}

// WithFailFast stops after the first failing check. The remaining checks are
// reported as skipped.
func WithFailFast(failFast bool) RunnerOption {
	return func(r *CheckRunner) { r.failFast = failFast }
}

// WithLogger sets the entry used for progress logging.
func WithLogger(logger *logrus.Entry) RunnerOption {
	return func(r *CheckRunner) { r.logger = logger }
}

// NewCheckRunner creates a new check runner that parses files with factory
func NewCheckRunner(registry *CheckRegistry, factory *binary.Factory, opts ...RunnerOption) *CheckRunner {
	r := &CheckRunner{
		registry: registry,
		factory:  factory,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckReport contains the results of running multiple checks
type CheckReport struct {
	BinaryPath string        `json:"binary_path" yaml:"binary_path"`
	Format     binary.Format `json:"format" yaml:"format"`
	Results    []CheckResult `json:"results" yaml:"results"`
	Summary    CheckSummary  `json:"summary" yaml:"summary"`
}

// Passed reports whether no check failed or errored.
func (r *CheckReport) Passed() bool {
	return r.Summary.Failed == 0 && r.Summary.Errors == 0
}

// CheckSummary contains summary statistics for a check report
type CheckSummary struct {
	Total   int `json:"total" yaml:"total"`
	Passed  int `json:"passed" yaml:"passed"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Errors  int `json:"errors" yaml:"errors"`
}

// RunFile parses the binary at path and runs every registered check on it.
// A parse failure is returned as an error.
func (r *CheckRunner) RunFile(path string) (*CheckReport, error) {
	b, err := r.factory.Parse(path)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	report := r.Run(b)
	report.BinaryPath = path
	return report, nil
}

// Run executes all registered checks against b
func (r *CheckRunner) Run(b binary.Binary) *CheckReport {
	return r.run(b, r.registry.List())
}

// RunSelected executes specific checks by ID against b. Unknown IDs are
// ignored.
func (r *CheckRunner) RunSelected(b binary.Binary, checkIDs []string) *CheckReport {
	checks := make([]Check, 0, len(checkIDs))
	for _, id := range checkIDs {
		if check, exists := r.registry.Get(id); exists {
			checks = append(checks, check)
		}
	}
	return r.run(b, checks)
}

func (r *CheckRunner) run(b binary.Binary, checks []Check) *CheckReport {
	results := make([]CheckResult, 0, len(checks))
	stop := false

	for _, check := range checks {
		if stop || lo.Contains(r.skip, check.ID()) {
			result := newResult(check)
			result.Status = StatusSkip
			result.Details = "skipped"
			results = append(results, result)
			continue
		}

		start := time.Now()
		result := check.Execute(b)
		result.Duration = time.Since(start)
		results = append(results, result)

		r.logger.WithField("check", check.ID()).Debugf("%s: %s", result.Status, result.Details)
		if r.failFast && (result.Status == StatusFail || result.Status == StatusError) {
			stop = true
		}
	}

	return &CheckReport{
		Format:  b.Format(),
		Results: results,
		Summary: calculateSummary(results),
	}
}

// calculateSummary calculates summary statistics from check results
func calculateSummary(results []CheckResult) CheckSummary {
	summary := CheckSummary{Total: len(results)}

	for _, result := range results {
		switch result.Status {
		case StatusPass:
			summary.Passed++
		case StatusFail:
			summary.Failed++
		case StatusSkip:
			summary.Skipped++
		case StatusError:
			summary.Errors++
		}
	}

	return summary
}
