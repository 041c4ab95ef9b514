package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainProblem = `
name: chain
variables:
  - {name: x0, domain: 2, costs: [0, 1]}
  - {name: x1, domain: 2, costs: [3, 0]}
  - {name: x2, domain: 2}
functions:
  - scope: [x0, x1]
    table: [0, 2, 2, 0]
  - scope: [x1, x2]
    table: [0, 2, 2, 0]
`

func writeProblem(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(chainProblem), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSolveCommand(t *testing.T) {
	path := writeProblem(t, t.TempDir(), "chain.yaml")
	for _, mode := range []string{"0", "1", "2"} {
		out, err := run(t, "solve", "-B", mode, path)
		require.NoError(t, err)
		assert.Contains(t, out, "optimal cost 1 lb 1")
		assert.Contains(t, out, "[1 1 1]")
	}
}

func TestCountCommand(t *testing.T) {
	path := writeProblem(t, t.TempDir(), "chain.yaml")
	out, err := run(t, "count", path)
	require.NoError(t, err)
	// Every assignment of the chain costs at least 1.
	assert.Contains(t, out, "0 solutions")
}

func TestDecomposeWritesCovering(t *testing.T) {
	dir := t.TempDir()
	path := writeProblem(t, dir, "chain.yaml")
	covering := filepath.Join(dir, "chain.cov")
	out, err := run(t, "decompose", "--order", "lex", "-o", covering, path)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	data, err := os.ReadFile(covering)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	out, err = run(t, "solve", "-B", "1", "--config", writeConfig(t, dir, covering), path)
	require.NoError(t, err)
	assert.Contains(t, out, "optimal cost 1")
}

func writeConfig(t *testing.T, dir, covering string) string {
	t.Helper()
	path := filepath.Join(dir, "search.yaml")
	doc := "decomposition:\n  covering_file: " + covering + "\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestBatchAndCompare(t *testing.T) {
	dir := t.TempDir()
	a := writeProblem(t, dir, "a.yaml")
	b := writeProblem(t, dir, "b.yaml")
	metrics := filepath.Join(dir, "metrics.prom")

	out, err := run(t, "batch", "-j", "2", "--metrics-file", metrics, a, b)
	require.NoError(t, err)
	assert.Contains(t, out, a+": optimal cost 1")
	assert.Contains(t, out, b+": optimal cost 1")
	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `btdsolve_search_solves_total{status="optimal"} 2`)

	out, err = run(t, "compare", a)
	require.NoError(t, err)
	assert.Contains(t, out, "B0")
	assert.Contains(t, out, "B1")
}

func TestBatchReportsMissingFiles(t *testing.T) {
	_, err := run(t, "batch", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBadFlagValue(t *testing.T) {
	path := writeProblem(t, t.TempDir(), "chain.yaml")
	_, err := run(t, "solve", "--order", "random", path)
	assert.Error(t, err)
}
