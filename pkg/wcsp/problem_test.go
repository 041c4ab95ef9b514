package wcsp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProblem = `
name: sample
ub: 20
variables:
  - {name: x, domain: 2, costs: [0, 3]}
  - {name: y, domain: 3}
functions:
  - scope: [x, y]
    default: 1
    tuples:
      - {values: [0, 2], cost: 0}
      - {values: [1, 0], cost: -1}
  - scope: [y]
    table: [4, 0, 2]
`

func TestParseProblem(t *testing.T) {
	n, err := ParseProblem(strings.NewReader(sampleProblem))
	require.NoError(t, err)

	assert.Equal(t, "sample", n.Name())
	assert.Equal(t, 2, n.NumVariables())
	assert.Equal(t, 2, n.NumCostFunctions())
	assert.Equal(t, Cost(20), n.Ub())
	assert.Equal(t, Cost(2), n.Evaluate([]int{0, 2}))
	assert.Equal(t, MaxCost, n.Evaluate([]int{1, 0}))
	assert.Equal(t, Cost(4), n.Evaluate([]int{1, 1}))
}

func TestParseProblemRejectsUnknownFields(t *testing.T) {
	_, err := ParseProblem(strings.NewReader("name: x\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestParseProblemRejectsBadScope(t *testing.T) {
	src := `
variables:
  - {name: x, domain: 2}
functions:
  - scope: [x, z]
    default: 0
`
	_, err := ParseProblem(strings.NewReader(src))
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestLoadProblemFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProblem), 0o600))
	n, err := LoadProblem(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n.NumVariables())

	_, err = LoadProblem(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
