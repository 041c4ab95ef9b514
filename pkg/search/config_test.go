package search

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SearchConfig)
		ok     bool
	}{
		{"defaults", func(*SearchConfig) {}, true},
		{"rds", func(c *SearchConfig) { c.BTDMode = 2 }, true},
		{"mode out of range", func(c *SearchConfig) { c.BTDMode = 4 }, false},
		{"zero upper bound", func(c *SearchConfig) { c.InitialUpperBound = 0 }, false},
		{"hbfs without budget", func(c *SearchConfig) { c.HBFSInitialLimit = 0 }, false},
		{"no budget without hbfs", func(c *SearchConfig) { c.HBFS = false; c.HBFSInitialLimit = 0 }, true},
		{"zero alpha", func(c *SearchConfig) { c.HBFSAlpha = 0 }, false},
		{"negative open limit", func(c *SearchConfig) { c.HBFSOpenNodeLimit = -1 }, false},
		{"negative time limit", func(c *SearchConfig) { c.TimeLimit = -time.Second }, false},
		{"tiny dichotomic size", func(c *SearchConfig) { c.Dichotomic = true; c.DichotomicSize = 1 }, false},
		{"count with rds", func(c *SearchConfig) { c.AllSolutions = true; c.BTDMode = 2 }, false},
		{"count with btd and large ub", func(c *SearchConfig) {
			c.AllSolutions, c.BTDMode, c.HBFS = true, 1, false
		}, false},
		{"count with btd and hbfs", func(c *SearchConfig) {
			c.AllSolutions, c.BTDMode, c.InitialUpperBound = true, 1, 1
		}, false},
		{"count with btd", func(c *SearchConfig) {
			c.AllSolutions, c.BTDMode, c.InitialUpperBound, c.HBFS = true, 1, 1, false
		}, true},
		{"count without decomposition keeps hbfs setting", func(c *SearchConfig) { c.AllSolutions = true }, true},
		{"approximate without btd", func(c *SearchConfig) { c.ApproximateCounting = true }, false},
		{"restarts with btd", func(c *SearchConfig) { c.Restarts = 10; c.BTDMode = 1 }, false},
		{"restarts", func(c *SearchConfig) { c.Restarts = 10 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSearchConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
btd_mode: 1
hbfs_initial_limit: 4
backtrack_limit: 1000
time_limit: 2s
var_heuristic: dom-deg
value_heuristic: min
decomposition:
  order: min-degree
  reduce_height: true
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.BTDMode)
	assert.True(t, cfg.HBFS, "unset keys keep their default")
	assert.Equal(t, int64(4), cfg.HBFSInitialLimit)
	assert.Equal(t, int64(1000), cfg.BacktrackLimit)
	assert.Equal(t, 2*time.Second, cfg.TimeLimit)
	assert.Equal(t, VarDomDeg, cfg.VarHeuristic)
	assert.Equal(t, ValueMin, cfg.ValueHeuristic)
	assert.Equal(t, wcsp.OrderMinDegree, cfg.Decomposition.Order)
	assert.True(t, cfg.Decomposition.ReduceHeight)
}

func TestParseConfigErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":       "btd_mod: 1\n",
		"unknown heuristic": "var_heuristic: random\n",
		"invalid values":    "btd_mode: 9\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseEmptyConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultSearchConfig(), cfg)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte("btd_mode: 2\nhbfs: false\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.BTDMode)
	assert.False(t, cfg.HBFS)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHeuristicNames(t *testing.T) {
	for _, h := range []VarHeuristic{VarDomWDeg, VarDomDeg, VarLex} {
		got, err := ParseVarHeuristic(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
	for _, h := range []ValueHeuristic{ValueBest, ValueMin} {
		got, err := ParseValueHeuristic(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}

	out, err := yaml.Marshal(struct {
		V VarHeuristic `yaml:"v"`
	}{VarLex})
	require.NoError(t, err)
	assert.Equal(t, "v: lex\n", string(out))
}
