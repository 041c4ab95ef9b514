package search

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// VarHeuristic selects the next branching variable.
type VarHeuristic int

const (
	// VarDomWDeg picks the variable minimizing domain size over weighted
	// degree, ties broken on the largest unary cost.
	VarDomWDeg VarHeuristic = iota
	// VarDomDeg is VarDomWDeg without conflict weights.
	VarDomDeg
	// VarLex picks the first unassigned variable.
	VarLex
)

// String returns the option name of the heuristic.
func (h VarHeuristic) String() string {
	switch h {
	case VarDomWDeg:
		return "dom-wdeg"
	case VarDomDeg:
		return "dom-deg"
	case VarLex:
		return "lex"
	}
	return "unknown"
}

// ParseVarHeuristic parses the option name of a variable heuristic.
func ParseVarHeuristic(s string) (VarHeuristic, error) {
	switch s {
	case "", "dom-wdeg", "domwdeg":
		return VarDomWDeg, nil
	case "dom-deg", "domdeg":
		return VarDomDeg, nil
	case "lex":
		return VarLex, nil
	}
	return VarDomWDeg, errors.Errorf("unknown variable heuristic %q", s)
}

// MarshalYAML encodes the heuristic by name.
func (h VarHeuristic) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML decodes the heuristic from its name.
func (h *VarHeuristic) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseVarHeuristic(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ValueHeuristic selects the value tried first.
type ValueHeuristic int

const (
	// ValueBest tries the value of the last improving solution when it is
	// still in the domain, the unary support otherwise.
	ValueBest ValueHeuristic = iota
	// ValueMin tries the smallest value.
	ValueMin
)

// String returns the option name of the heuristic.
func (h ValueHeuristic) String() string {
	switch h {
	case ValueBest:
		return "best"
	case ValueMin:
		return "min"
	}
	return "unknown"
}

// ParseValueHeuristic parses the option name of a value heuristic.
func ParseValueHeuristic(s string) (ValueHeuristic, error) {
	switch s {
	case "", "best":
		return ValueBest, nil
	case "min":
		return ValueMin, nil
	}
	return ValueBest, errors.Errorf("unknown value heuristic %q", s)
}

// MarshalYAML encodes the heuristic by name.
func (h ValueHeuristic) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML decodes the heuristic from its name.
func (h *ValueHeuristic) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseValueHeuristic(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// DecompositionConfig controls how the tree decomposition is obtained.
type DecompositionConfig struct {
	td.Options `yaml:",inline"`
	// CoveringFile reads the decomposition from a covering file instead of
	// computing it from an elimination order.
	CoveringFile string `yaml:"covering_file"`
}

// SearchConfig holds the parameters of one search. It is read-only once
// Solve starts; the mutable part of the search lives in AdaptiveState.
//
// Limits set to 0 are unlimited.
type SearchConfig struct {
	// BTDMode selects the search: 0 depth-first branch and bound, 1 BTD,
	// 2 Russian doll search on the decomposition, 3 the same on a path
	// decomposition.
	BTDMode int `yaml:"btd_mode"`

	// HBFS enables hybrid best-first search.
	HBFS bool `yaml:"hbfs"`
	// HBFSInitialLimit is the initial backtrack budget of a depth-first burst.
	HBFSInitialLimit int64 `yaml:"hbfs_initial_limit"`
	// HBFSGlobalLimit bounds the backtracks of one hybrid search on a
	// cluster before control returns to its parent. It is also the largest
	// burst budget.
	HBFSGlobalLimit int64 `yaml:"hbfs_global_limit"`
	// HBFSAlpha and HBFSBeta bound the share of replayed nodes: the budget
	// doubles above nodes/beta and halves below nodes/alpha.
	HBFSAlpha int64 `yaml:"hbfs_alpha"`
	HBFSBeta  int64 `yaml:"hbfs_beta"`
	// HBFSOpenNodeLimit and HBFSCPLimit switch back to depth-first search
	// when the frontier grows past them.
	HBFSOpenNodeLimit int `yaml:"hbfs_open_node_limit"`
	HBFSCPLimit       int `yaml:"hbfs_cp_limit"`

	BacktrackLimit int64         `yaml:"backtrack_limit"`
	TimeLimit      time.Duration `yaml:"time_limit"`
	SolutionLimit  int64         `yaml:"solution_limit"`

	// AllSolutions counts the solutions with cost below InitialUpperBound
	// instead of optimizing.
	AllSolutions bool `yaml:"all_solutions"`
	// ApproximateCounting reports an estimate and an upper bound of the
	// number of solutions. Requires AllSolutions and BTDMode 1.
	ApproximateCounting bool `yaml:"approximate_counting"`

	// InitialUpperBound is an exclusive bound on solution costs.
	InitialUpperBound wcsp.Cost `yaml:"initial_upper_bound"`

	VarHeuristic   VarHeuristic   `yaml:"var_heuristic"`
	ValueHeuristic ValueHeuristic `yaml:"value_heuristic"`
	// Dichotomic splits domains larger than DichotomicSize in two halves
	// instead of branching on a single value.
	Dichotomic     bool `yaml:"dichotomic"`
	DichotomicSize int  `yaml:"dichotomic_size"`
	// LastConflict branches again on the variable of the last failed
	// assignment.
	LastConflict bool  `yaml:"last_conflict"`
	RandomSeed   int64 `yaml:"random_seed"`
	Verbose      int   `yaml:"verbose"`
	// Restarts enables Luby restarts without decomposition until that many
	// nodes were explored.
	Restarts int64 `yaml:"restarts"`
	// HardFeasibilityCheck runs a SAT check of the forbidden tuples before
	// the search.
	HardFeasibilityCheck bool `yaml:"hard_feasibility_check"`

	Decomposition DecompositionConfig `yaml:"decomposition"`
}

// DefaultSearchConfig returns depth-first branch and bound with hybrid
// best-first search and no limit.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		HBFS:              true,
		HBFSInitialLimit:  1,
		HBFSGlobalLimit:   10000,
		HBFSAlpha:         20,
		HBFSBeta:          10,
		InitialUpperBound: wcsp.MaxCost,
		DichotomicSize:    10,
		LastConflict:      true,
		Decomposition:     DecompositionConfig{Options: td.DefaultOptions()},
	}
}

// Validate reports inconsistent settings, wrapping ErrInvalidConfig.
func (c *SearchConfig) Validate() error {
	switch {
	case c.BTDMode < 0 || c.BTDMode > 3:
		return errors.Wrapf(ErrInvalidConfig, "btd mode %d out of range [0,3]", c.BTDMode)
	case c.InitialUpperBound <= wcsp.MinCost:
		return errors.Wrap(ErrInvalidConfig, "initial upper bound must be positive")
	case c.HBFS && c.HBFSInitialLimit <= 0:
		return errors.Wrap(ErrInvalidConfig, "hbfs initial limit must be positive")
	case c.HBFSAlpha <= 0 || c.HBFSBeta <= 0:
		return errors.Wrap(ErrInvalidConfig, "hbfs alpha and beta must be positive")
	case c.HBFSGlobalLimit < 0 || c.HBFSOpenNodeLimit < 0 || c.HBFSCPLimit < 0:
		return errors.Wrap(ErrInvalidConfig, "hbfs limits must not be negative")
	case c.BacktrackLimit < 0 || c.SolutionLimit < 0 || c.TimeLimit < 0 || c.Restarts < 0:
		return errors.Wrap(ErrInvalidConfig, "limits must not be negative")
	case c.Dichotomic && c.DichotomicSize < 2:
		return errors.Wrap(ErrInvalidConfig, "dichotomic size must be at least 2")
	case c.AllSolutions && c.BTDMode > 1:
		return errors.Wrap(ErrInvalidConfig, "solution counting is not available with Russian doll search")
	case c.AllSolutions && c.BTDMode == 1 && c.InitialUpperBound > 1:
		return errors.Wrap(ErrInvalidConfig, "solution counting with BTD requires an initial upper bound of 1")
	case c.AllSolutions && c.BTDMode == 1 && c.HBFS:
		return errors.Wrap(ErrInvalidConfig, "solution counting with BTD requires hbfs to be off")
	case c.ApproximateCounting && !(c.AllSolutions && c.BTDMode == 1):
		return errors.Wrap(ErrInvalidConfig, "approximate counting requires all solutions with btd mode 1")
	case c.Restarts > 0 && c.BTDMode > 0:
		return errors.Wrap(ErrInvalidConfig, "restarts are only available without decomposition")
	}
	return nil
}

// LoadConfig reads a YAML search configuration. Missing keys keep their
// DefaultSearchConfig value.
func LoadConfig(path string) (SearchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SearchConfig{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return SearchConfig{}, errors.Wrapf(err, "loading config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML search configuration over the defaults and
// validates it. Unknown keys are rejected.
func ParseConfig(r io.Reader) (SearchConfig, error) {
	cfg := DefaultSearchConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return SearchConfig{}, errors.Wrapf(ErrInvalidConfig, "decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return SearchConfig{}, err
	}
	return cfg, nil
}

// AdaptiveState is the part of the search parameters that changes while a
// solver runs. It belongs to one Solver.
type AdaptiveState struct {
	// HBFS is the current burst budget, 0 once hybrid search is off.
	HBFS int64
	// HBFSGlobalLimit is the current cluster budget, 0 for unlimited.
	HBFSGlobalLimit int64

	interrupted atomic.Bool
}

// Interrupted reports whether the search was asked to stop.
func (a *AdaptiveState) Interrupted() bool { return a.interrupted.Load() }

// Option configures a Solver beyond its SearchConfig.
type Option func(*Solver)

// WithTimeLimit stops the search after d. The best incumbent is returned
// together with ErrTimeOut.
func WithTimeLimit(d time.Duration) Option {
	return func(s *Solver) { s.cfg.TimeLimit = d }
}

// WithBacktrackLimit stops the search after n backtracks with
// ErrBacktrackLimit.
func WithBacktrackLimit(n int64) Option {
	return func(s *Solver) { s.cfg.BacktrackLimit = n }
}

// WithHBFS turns hybrid best-first search on or off.
func WithHBFS(on bool) Option {
	return func(s *Solver) { s.cfg.HBFS = on }
}

// WithBTDMode selects the search mode, see SearchConfig.BTDMode.
func WithBTDMode(mode int) Option {
	return func(s *Solver) { s.cfg.BTDMode = mode }
}

// WithInitialUpperBound only accepts solutions strictly cheaper than ub.
func WithInitialUpperBound(ub wcsp.Cost) Option {
	return func(s *Solver) { s.cfg.InitialUpperBound = ub }
}

// WithLogger sets the logger. A nil logger discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Solver) { s.baseLog = l }
}

// WithMetrics exports the run counters to m when the solve ends.
func WithMetrics(m *Metrics) Option {
	return func(s *Solver) { s.metrics = m }
}

// WithSolutionCallback calls fn on every improving solution, or on every
// solution when enumerating. sol must not be retained.
func WithSolutionCallback(fn func(cost wcsp.Cost, sol []int)) Option {
	return func(s *Solver) { s.onSolution = fn }
}
