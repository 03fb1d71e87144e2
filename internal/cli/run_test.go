package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: passing
description: a balanced test passes
tests:
  - name: balanced
    actions:
      - start_op: {kind: timer, as: tick}
      - complete_op: tick
    expect:
      outcome: ok
`

const failingScenario = `name: failing
description: expectation mismatch makes the scenario fail
tests:
  - name: passes anyway
    expect:
      outcome: failed
      failure: leakedOps
`

// writeScenario drops scenario YAML into dir and returns its path.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_PassingScenarioText(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "passing.yaml", passingScenario)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   passing")
	assert.Contains(t, out, "1 scenarios: 1 passed, 0 failed")
}

func TestRun_FailingScenarioExitCode(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "failing.yaml", failingScenario)

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL failing")
	assert.Contains(t, out, "outcome = ok, want failed")
}

func TestRun_DirectoryWalkAndFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "passing.yaml", passingScenario)
	writeScenario(t, dir, "failing.yaml", failingScenario)
	writeScenario(t, dir, "notes.txt", "not yaml")

	// Unfiltered: both scenarios run, the failing one fails the command.
	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Contains(t, out, "2 scenarios: 1 passed, 1 failed")

	// Filtered down to the passing one.
	out, err = execute(t, "run", dir, "--filter", "passing")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scenarios: 1 passed, 0 failed")
}

func TestRun_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "passing.yaml", passingScenario)

	out, err := execute(t, "--format", "json", "run", path)
	require.NoError(t, err)

	var report RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Passed)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "passing", report.Scenarios[0].Name)
	require.Len(t, report.Scenarios[0].Tests, 1)
	assert.Equal(t, "ok", report.Scenarios[0].Tests[0].Outcome)
}

func TestRun_LoadErrorReported(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: [")

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "load:")
}

func TestRun_MissingPathIsCommandError(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_PersistsEventLogWithDB(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "passing.yaml", passingScenario)
	db := filepath.Join(dir, "events.db")

	_, err := execute(t, "run", path, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "passing")
}
