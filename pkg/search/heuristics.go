package search

import (
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// epsilon is the relative tolerance under which two variable scores tie.
const epsilon = 1e-6

// candidates returns the variables branching may choose from: those of c,
// or every variable without decomposition.
func (s *Solver) candidates(c *td.Cluster) []int {
	if c != nil {
		return c.Vars()
	}
	return s.allVars
}

// selectVar returns the next branching variable among the unassigned
// candidates, -1 if there is none.
func (s *Solver) selectVar(c *td.Cluster) int {
	if x := s.lastConflictVar; s.cfg.LastConflict && x >= 0 && s.net.Unassigned(x) &&
		(c == nil || c.Vars().Contains(x)) {
		return x
	}
	vars := s.candidates(c)
	if s.cfg.VarHeuristic == VarLex {
		for _, x := range vars {
			if s.net.Unassigned(x) {
				return x
			}
		}
		return -1
	}

	best := -1
	bestScore := 0.0
	worst := wcsp.MinCost
	s.ties = s.ties[:0]
	for _, x := range vars {
		if !s.net.Unassigned(x) {
			continue
		}
		score := s.score(x)
		unary := s.net.MaxUnaryCost(x)
		eps := epsilon * bestScore
		switch {
		case best < 0 || score < bestScore-eps || (score < bestScore+eps && unary > worst):
			best, bestScore, worst = x, score, unary
			s.ties = append(s.ties[:0], x)
		case s.randomized && score < bestScore+eps && unary == worst:
			s.ties = append(s.ties, x)
		}
	}
	if s.randomized && len(s.ties) > 1 {
		return s.ties[s.rng.Intn(len(s.ties))]
	}
	return best
}

// score is smaller for better branching variables.
func (s *Solver) score(x int) float64 {
	dom := float64(s.net.DomainSize(x))
	switch s.cfg.VarHeuristic {
	case VarDomDeg:
		return dom / float64(s.net.Degree(x)+1)
	default:
		return dom / float64(max(s.net.WeightedDegree(x)+1, 1))
	}
}

// branchValue returns the value tried first on x.
func (s *Solver) branchValue(x int) int {
	if s.cfg.ValueHeuristic == ValueMin {
		return s.net.Inf(x)
	}
	if b := s.net.BestValue(x); b >= 0 && s.net.CanBe(x, b) {
		return b
	}
	return s.net.Support(x)
}

// branching is a binary split of the domain of a variable.
type branching struct {
	first, second       hbfs.Op
	firstVal, secondVal int
}

// split returns x == a / x != a, or, for large domains in dichotomic mode,
// the half of the domain holding a first and the other half second.
func (s *Solver) split(x, a int) branching {
	if s.cfg.Dichotomic && s.net.DomainSize(x) > s.cfg.DichotomicSize {
		middle := (s.net.Inf(x) + s.net.Sup(x)) / 2
		if a <= middle {
			return branching{hbfs.OpDecrease, hbfs.OpIncrease, middle, middle + 1}
		}
		return branching{hbfs.OpIncrease, hbfs.OpDecrease, middle + 1, middle}
	}
	return branching{hbfs.OpAssign, hbfs.OpRemove, a, a}
}

// apply performs one branching decision and propagates it. When hybrid
// search is on, the decision is logged in the choice points of the current
// scope; reverse marks the closing branch of a split before an open node.
func (s *Solver) apply(op hbfs.Op, x, v int, reverse bool) error {
	if err := s.net.EnforceUb(); err != nil {
		return err
	}
	s.nbNodes++
	s.monitor.RecordNode(s.net.Depth())
	if s.cfg.Verbose >= 2 {
		s.log.WithFields(logrus.Fields{
			"depth": s.net.Depth(),
			"lb":    s.net.Lb(),
			"ub":    s.net.Ub(),
			"var":   x,
			"op":    op.Symbol(),
			"value": v,
		}).Trace("try")
	}
	if err := s.domainOp(op, x, v); err != nil {
		return err
	}
	if err := s.net.Propagate(); err != nil {
		return err
	}
	if s.adaptive.HBFS > 0 {
		s.currentCP().Add(op, x, v, reverse)
	}
	return nil
}

func (s *Solver) domainOp(op hbfs.Op, x, v int) error {
	switch op {
	case hbfs.OpAssign:
		return s.net.Assign(x, v)
	case hbfs.OpRemove:
		return s.net.Remove(x, v)
	case hbfs.OpIncrease:
		return s.net.Increase(x, v)
	case hbfs.OpDecrease:
		return s.net.Decrease(x, v)
	}
	return wcsp.ErrContradiction
}

// currentCP is the choice-point log of the scope being searched.
func (s *Solver) currentCP() *hbfs.CPStore {
	if s.td != nil {
		return s.td.CurrentCluster().CP
	}
	return s.cp
}
