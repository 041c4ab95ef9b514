// Package search implements depth-first branch and bound over a cost
// function network, optionally guided by a tree decomposition.
//
// # Architecture Overview
//
// A Solver owns one network for one run. It selects one of four searches
// from SearchConfig.BTDMode:
//
//	mode 0: depth-first branch and bound (DFBB) over all variables, with
//	        optional Luby restarts
//	mode 1: backtracking with tree decomposition (BTD); clusters are solved
//	        one at a time and the bounds of every subproblem are cached per
//	        separator assignment
//	mode 2: Russian doll search (RDS-BTD); every cluster subtree is solved
//	        bottom-up, its optimum then bounds the next, larger subproblem
//	mode 3: mode 2 on a path decomposition
//
// Each of them may run as hybrid best-first search (HBFS): depth-first
// bursts with a backtrack budget, whose unexplored branches are queued as
// open nodes and resumed best-first by replaying their choice points. The
// burst budget adapts to the share of replayed nodes.
//
// With AllSolutions the search counts solutions instead: DFBB enumerates
// them, BTD counts them per cluster and caches counts per separator
// assignment (#BTD).
//
// # Control Flow
//
// Every operation returns an error. wcsp.ErrContradiction closes the
// current branch and is recovered by the nearest choice point. Limits
// (ErrTimeOut, ErrBacktrackLimit, ErrSolutionLimit) unwind the whole search
// and are returned by Solve together with the best solution found.
//
// Thread Safety: a Solver runs one search on one goroutine. Interrupt and
// Stats may be called from other goroutines.
package search

import (
	"context"
	"io"
	"math"
	"math/big"
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/internal/feasibility"
	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

const maxInt64 = math.MaxInt64

// Status tells how a search ended.
type Status int

const (
	// StatusUnknown is the status of a search that did not run.
	StatusUnknown Status = iota
	// StatusOptimal: the returned solution is optimal.
	StatusOptimal
	// StatusInfeasible: no solution costs less than the initial upper bound.
	StatusInfeasible
	// StatusLimited: a limit stopped the search; the solution, if any, is
	// the best found.
	StatusLimited
	// StatusCounted: every solution was counted.
	StatusCounted
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusLimited:
		return "limited"
	case StatusCounted:
		return "counted"
	}
	return "unknown"
}

// Result is the outcome of Solve.
type Result struct {
	RunID  string
	Status Status
	// Cost is the cost of Solution, MaxCost when there is none.
	Cost     wcsp.Cost
	Solution []int
	// LowerBound is the best proven lower bound on the optimum.
	LowerBound wcsp.Cost

	// NbSolutions is the number of solutions when counting.
	NbSolutions *big.Int
	// SolutionsUpperBound bounds NbSolutions from above when Approximate.
	SolutionsUpperBound *big.Int
	Approximate         bool

	Stats SearchStats
}

// Solver searches one network. Create it with NewSolver and call Solve
// once.
type Solver struct {
	net      *wcsp.Network
	td       *td.TreeDecomposition
	cfg      SearchConfig
	adaptive AdaptiveState

	baseLog    logrus.FieldLogger
	log        *logrus.Entry
	metrics    *Metrics
	monitor    *SearchMonitor
	onSolution func(wcsp.Cost, []int)
	runID      string

	ctx   context.Context
	rng   *rand.Rand
	used  bool
	polls int64

	allVars    []int
	ties       []int
	randomized bool

	nbNodes              int64
	nbBacktracks         int64
	nbBacktracksLimit    int64
	nbRecomputationNodes int64
	nbSolutions          int64

	// Depth-first search without decomposition.
	lastConflictVar int
	cp              *hbfs.CPStore
	open            *hbfs.OpenList
	hbfsLimit       int64

	// Counting.
	nbSol   *big.Int
	nbSolUb *big.Int
	approx  bool
	ubSol   map[int]*big.Int

	globalLb wcsp.Cost
	best     []int
	bestCost wcsp.Cost
}

// NewSolver validates cfg, applies opts and, for BTDMode > 0, builds the
// tree decomposition of net.
func NewSolver(net *wcsp.Network, cfg SearchConfig, opts ...Option) (*Solver, error) {
	if net == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil network")
	}
	s := &Solver{
		net:             net,
		cfg:             cfg,
		runID:           uuid.NewString(),
		lastConflictVar: -1,
		hbfsLimit:       maxInt64,
		nbSol:           new(big.Int),
		ubSol:           make(map[int]*big.Int),
		bestCost:        wcsp.MaxCost,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.baseLog == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.baseLog = l
	}
	s.log = s.baseLog.WithField("run", s.runID)

	if s.cfg.BTDMode == 3 && s.cfg.Decomposition.CoveringFile != "" {
		s.log.Warn("a covering file cannot be turned into a path decomposition, using btd mode 2")
		s.cfg.BTDMode = 2
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.cfg.HBFS {
		s.adaptive.HBFS = s.cfg.HBFSInitialLimit
	}
	s.adaptive.HBFSGlobalLimit = s.cfg.HBFSGlobalLimit
	if s.cfg.AllSolutions && s.adaptive.HBFS > 0 {
		s.log.Debug("hybrid best-first search is off while enumerating solutions")
		s.adaptive.HBFS = 0
	}
	s.randomized = s.cfg.Restarts > 0
	s.rng = rand.New(rand.NewSource(s.cfg.RandomSeed))
	s.allVars = make([]int, net.NumVariables())
	for x := range s.allVars {
		s.allVars[x] = x
	}
	if s.cfg.BTDMode > 0 {
		if err := s.buildDecomposition(); err != nil {
			return nil, err
		}
	}
	s.monitor = NewSearchMonitor()
	return s, nil
}

func (s *Solver) buildDecomposition() error {
	opts := s.cfg.Decomposition.Options
	opts.Logger = s.log
	opts.PathDecomposition = s.cfg.BTDMode == 3
	opts.HBFS = s.adaptive.HBFS > 0
	opts.RDS = s.cfg.BTDMode >= 2
	opts.Counting = s.cfg.AllSolutions

	var (
		t   *td.TreeDecomposition
		err error
	)
	if path := s.cfg.Decomposition.CoveringFile; path != "" {
		t, err = td.LoadCovering(s.net, path, opts)
	} else {
		t, err = td.New(s.net, opts)
	}
	if err != nil {
		return errors.Wrap(err, "building tree decomposition")
	}
	s.td = t
	s.log.WithFields(logrus.Fields{
		"clusters":  t.NumClusters(),
		"treewidth": t.Treewidth(),
		"height":    t.Height(),
		"maxdepth":  t.MaxDepth(),
	}).Info("tree decomposition")
	return nil
}

// RunID identifies the run in logs and in the Result.
func (s *Solver) RunID() string { return s.runID }

// Decomposition returns the tree decomposition, nil in mode 0.
func (s *Solver) Decomposition() *td.TreeDecomposition { return s.td }

// Stats returns a snapshot of the run statistics.
func (s *Solver) Stats() *SearchStats { return s.monitor.GetStats() }

// Interrupt asks the search to stop as soon as possible. Solve then returns
// ErrTimeOut.
func (s *Solver) Interrupt() { s.adaptive.interrupted.Store(true) }

// Solve runs the search selected by the configuration. On a limit it
// returns the partial Result together with the limit error.
func (s *Solver) Solve(ctx context.Context) (*Result, error) {
	if s.used {
		return nil, errors.New("search: Solve called twice on the same solver")
	}
	s.used = true
	if s.cfg.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TimeLimit)
		defer cancel()
	}
	s.ctx = ctx
	s.monitor.StartSearch()
	s.net.UpdateUb(s.cfg.InitialUpperBound)
	s.log.WithFields(logrus.Fields{
		"problem":   s.net.Name(),
		"variables": s.net.NumVariables(),
		"functions": s.net.NumCostFunctions(),
		"btd_mode":  s.cfg.BTDMode,
		"hbfs":      s.adaptive.HBFS > 0,
		"ub":        s.net.Ub(),
	}).Info("search started")

	err := s.run()
	if err == errBacktracksOut {
		err = ErrBacktrackLimit
	}
	if err != nil && !isLimit(err) {
		return nil, err
	}
	s.monitor.FinishSearch(s.td, s.net.NumPropagations())
	res := s.result(err)
	s.metrics.observe(res)

	fields := logrus.Fields{
		"status":     res.Status,
		"cost":       res.Cost,
		"lb":         res.LowerBound,
		"nodes":      res.Stats.Nodes,
		"backtracks": res.Stats.Backtracks,
		"elapsed":    res.Stats.SearchTime,
	}
	if res.NbSolutions != nil {
		fields["solutions"] = res.NbSolutions.String()
	}
	if err != nil {
		fields["limit"] = err.Error()
	}
	s.log.WithFields(fields).Info("search finished")
	return res, err
}

func (s *Solver) run() error {
	if s.net.Ub() <= wcsp.MinCost {
		return errors.Wrap(ErrInvalidConfig, "initial upper bound must be positive")
	}
	s.nbBacktracksLimit = s.backtrackLimit()
	if s.cfg.HardFeasibilityCheck {
		ok, err := feasibility.Check(s.ctx, s.net, s.net.Ub())
		if err != nil {
			return errors.Wrap(err, "hard feasibility check")
		}
		if !ok {
			s.log.Info("hard constraints are unsatisfiable")
			s.globalLb = s.net.Ub()
			return nil
		}
	}
	if err := s.net.Propagate(); err != nil {
		if err != wcsp.ErrContradiction {
			return err
		}
		s.log.Debug("initial propagation failed")
		s.globalLb = s.net.Ub()
		return nil
	}
	s.globalLb = s.net.Lb()
	if s.td != nil {
		s.td.ResetBounds(s.net.Lb())
	}
	switch {
	case s.td == nil:
		return s.solveDFBB()
	case s.cfg.AllSolutions:
		return s.solveCount()
	case s.cfg.BTDMode == 1:
		return s.solveBTD()
	default:
		return s.solveRDS()
	}
}

func (s *Solver) result(err error) *Result {
	res := &Result{
		RunID:      s.runID,
		Cost:       s.bestCost,
		Solution:   s.best,
		LowerBound: s.globalLb,
		Stats:      *s.monitor.GetStats(),
	}
	if err == nil && !s.cfg.AllSolutions {
		res.LowerBound = s.net.Ub()
	}
	res.LowerBound = min(res.LowerBound, s.bestCost)
	switch {
	case s.cfg.AllSolutions:
		res.NbSolutions = new(big.Int).Set(s.nbSol)
		if s.approx {
			res.Approximate = true
			res.SolutionsUpperBound = s.nbSolUb
		}
		res.Status = StatusCounted
		if err != nil {
			res.Status = StatusLimited
		}
	case err != nil:
		res.Status = StatusLimited
	case s.best != nil:
		res.Status = StatusOptimal
	default:
		res.Status = StatusInfeasible
	}
	return res
}

func (s *Solver) backtrackLimit() int64 {
	if s.cfg.BacktrackLimit > 0 {
		return s.cfg.BacktrackLimit
	}
	return maxInt64
}

// checkInterrupt polls the context every 128 calls.
func (s *Solver) checkInterrupt() error {
	s.polls++
	if s.polls&127 == 0 && s.ctx != nil && s.ctx.Err() != nil {
		s.adaptive.interrupted.Store(true)
	}
	if s.adaptive.interrupted.Load() {
		return ErrTimeOut
	}
	return nil
}

// backtrack counts a closed branch.
func (s *Solver) backtrack() error {
	s.nbBacktracks++
	s.monitor.RecordBacktrack()
	if s.nbBacktracks > s.nbBacktracksLimit {
		return errBacktracksOut
	}
	return nil
}

// recordSolution stores sol as the incumbent and as the preferred values of
// the next branches.
func (s *Solver) recordSolution(sol []int, cost wcsp.Cost) error {
	s.nbSolutions++
	s.monitor.RecordSolution()
	for x, a := range sol {
		if a >= 0 {
			s.net.SetBestValue(x, a)
		}
	}
	s.best = append([]int(nil), sol...)
	s.bestCost = cost
	entry := s.log.WithFields(logrus.Fields{
		"cost":       cost,
		"nodes":      s.nbNodes,
		"backtracks": s.nbBacktracks,
	})
	if s.cfg.AllSolutions {
		entry.Debug("solution")
	} else {
		entry.Info("new solution")
	}
	if s.onSolution != nil {
		s.onSolution(cost, sol)
	}
	if s.cfg.SolutionLimit > 0 && s.nbSolutions >= s.cfg.SolutionLimit {
		return ErrSolutionLimit
	}
	return nil
}
