package checks

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-betanet/objkit/internal/binary"
	"github.com/raven-betanet/objkit/internal/fixtures"
)

func newFactory(t *testing.T, files map[string][]byte) *binary.Factory {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, data := range files {
		require.NoError(t, afero.WriteFile(fs, path, data, 0644))
	}
	return binary.NewFactory(binary.WithFS(fs))
}

func parse(t *testing.T, data []byte) binary.Binary {
	t.Helper()
	f := newFactory(t, map[string][]byte{"/bin": data})
	b, err := f.Parse("/bin")
	require.NoError(t, err)
	return b
}

type stubCheck struct {
	id     string
	status CheckStatus
	runs   int
}

func (s *stubCheck) ID() string          { return s.id }
func (s *stubCheck) Description() string { return "stub " + s.id }
func (s *stubCheck) Execute(b binary.Binary) CheckResult {
	s.runs++
	r := newResult(s)
	r.Status = s.status
	return r
}

func TestRegistry(t *testing.T) {
	r := NewCheckRegistry()
	require.NoError(t, r.Register(&stubCheck{id: "b"}))
	require.NoError(t, r.Register(&stubCheck{id: "a"}))
	assert.Error(t, r.Register(&stubCheck{id: "a"}))

	ids := []string{}
	for _, c := range r.List() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, id := range []string{"format", "security-flags", "section-layout", "code-signature", "symbols"} {
		_, ok := r.Get(id)
		assert.True(t, ok, id)
	}
	assert.Len(t, r.List(), 5)
}

func TestRunnerSummary(t *testing.T) {
	r := NewCheckRegistry()
	require.NoError(t, r.Register(&stubCheck{id: "1-pass", status: StatusPass}))
	require.NoError(t, r.Register(&stubCheck{id: "2-fail", status: StatusFail}))
	require.NoError(t, r.Register(&stubCheck{id: "3-error", status: StatusError}))
	require.NoError(t, r.Register(&stubCheck{id: "4-skip"}))

	runner := NewCheckRunner(r, nil, WithSkip("4-skip"))
	report := runner.Run(parse(t, fixtures.ELF64(fixtures.ELFOptions{})))

	assert.Equal(t, binary.FormatELF, report.Format)
	assert.Equal(t, CheckSummary{Total: 4, Passed: 1, Failed: 1, Skipped: 1, Errors: 1}, report.Summary)
	assert.False(t, report.Passed())
	assert.Equal(t, StatusSkip, report.Results[3].Status)
}

func TestRunnerFailFast(t *testing.T) {
	first := &stubCheck{id: "a", status: StatusFail}
	second := &stubCheck{id: "b", status: StatusPass}
	r := NewCheckRegistry()
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	report := NewCheckRunner(r, nil, WithFailFast(true)).Run(parse(t, fixtures.ELF64(fixtures.ELFOptions{})))
	assert.Equal(t, 1, first.runs)
	assert.Zero(t, second.runs)
	assert.Equal(t, StatusSkip, report.Results[1].Status)
}

func TestRunSelected(t *testing.T) {
	runner := NewCheckRunner(DefaultRegistry(), nil)
	report := runner.RunSelected(parse(t, fixtures.ELF64(fixtures.ELFOptions{})), []string{"format", "nope"})
	require.Len(t, report.Results, 1)
	assert.Equal(t, "format", report.Results[0].ID)
}

func TestRunFile(t *testing.T) {
	f := newFactory(t, map[string][]byte{
		"/ok":  fixtures.MachO64(fixtures.MachOOptions{Signed: true}),
		"/bad": fixtures.Garbage(),
	})
	runner := NewCheckRunner(DefaultRegistry(), f)

	report, err := runner.RunFile("/ok")
	require.NoError(t, err)
	assert.Equal(t, "/ok", report.BinaryPath)
	assert.True(t, report.Passed(), "%+v", report.Results)
	assert.Equal(t, 5, report.Summary.Passed)

	_, err = runner.RunFile("/bad")
	var pe *binary.ParseError
	assert.ErrorAs(t, err, &pe)
}
