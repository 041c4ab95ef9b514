package search

import (
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// solveDFBB runs branch and bound over all variables. With restarts, each
// run gets a Luby-scaled backtrack budget until Restarts nodes were
// explored, then the last run goes on unbounded.
func (s *Solver) solveDFBB() error {
	restarting := s.cfg.Restarts > 0
	if restarting {
		s.nbBacktracksLimit = 1
	}
	base := s.net.Depth()
	upperbound := s.net.Ub()
	top := int64(1)
	for nbrestart := int64(1); ; nbrestart++ {
		s.net.Store()
		if restarting {
			cur := luby(nbrestart)
			if cur > top || s.net.Ub() < upperbound {
				top = cur
				cur = 1
			}
			if s.nbNodes >= s.cfg.Restarts {
				s.nbBacktracksLimit = s.backtrackLimit()
				restarting = false
				s.log.WithField("nodes", s.nbNodes).Debug("last restart")
			} else {
				s.nbBacktracksLimit = min(s.backtrackLimit(), s.nbBacktracks+cur*100)
			}
			upperbound = s.net.Ub()
			err := s.net.EnforceUb()
			if err == nil {
				err = s.net.Propagate()
			}
			if err == wcsp.ErrContradiction {
				s.net.Restore(base)
				s.globalLb = s.net.Ub()
				return nil
			}
			if err != nil {
				s.net.Restore(base)
				return err
			}
			s.net.Store()
		}
		lb, _, err := s.hybridSolveDFBB(s.net.Lb(), s.net.Ub())
		s.net.Restore(base)
		if err == errBacktracksOut && restarting &&
			!(s.cfg.BacktrackLimit > 0 && s.nbBacktracks > s.cfg.BacktrackLimit) {
			s.monitor.RecordRestart()
			s.log.WithFields(logrus.Fields{
				"restart":    nbrestart,
				"backtracks": s.nbBacktracks,
				"ub":         s.net.Ub(),
			}).Debug("restart")
			continue
		}
		switch err {
		case nil:
			s.globalLb = max(s.globalLb, lb)
		case wcsp.ErrContradiction:
			s.globalLb = s.net.Ub()
			err = nil
		}
		return err
	}
}

// luby returns the r-th term (from 1) of the Luby sequence 1 1 2 1 1 2 4...
func luby(r int64) int64 {
	for {
		j := int64(bits.Len64(uint64(r + 1)))
		if r+1 == int64(1)<<(j-1) {
			return int64(1) << (j - 2)
		}
		r -= int64(1)<<(j-1) - 1
	}
}

// recursiveSolve branches on the next variable, or records a solution when
// every variable is assigned. lb is a lower bound known for the current
// node, used when it gets queued as an open node.
func (s *Solver) recursiveSolve(lb wcsp.Cost) error {
	x := s.selectVar(nil)
	if x < 0 {
		return s.newSolution()
	}
	return s.binaryChoicePoint(x, s.branchValue(x), lb)
}

// binaryChoicePoint explores the first branch of the split of x on a, then
// closes it and either explores the second branch or, once the burst
// budget is spent, queues it as an open node.
//
// The second branch runs in the caller's checkpoint: a contradiction there
// is returned to the enclosing choice point.
func (s *Solver) binaryChoicePoint(x, a int, lb wcsp.Cost) error {
	if err := s.checkInterrupt(); err != nil {
		return err
	}
	br := s.split(x, a)
	depth := s.net.Depth()
	s.net.Store()
	s.lastConflictVar = x
	err := s.apply(br.first, x, br.firstVal, false)
	if err == nil {
		s.lastConflictVar = -1
		err = s.recursiveSolve(lb)
	}
	s.net.Restore(depth)
	if err != nil && err != wcsp.ErrContradiction {
		return err
	}
	if err := s.net.EnforceUb(); err != nil {
		return err
	}
	if err := s.backtrack(); err != nil {
		return err
	}

	deferred := s.nbBacktracks >= s.hbfsLimit
	if err := s.apply(br.second, x, br.secondVal, deferred); err != nil {
		return err
	}
	if deferred {
		s.cp.AddOpenNode(s.open, max(lb, s.net.Lb()), wcsp.MinCost)
		return nil
	}
	return s.recursiveSolve(lb)
}

// newSolution records the complete assignment reached. When optimizing,
// the upper bound drops to its cost.
func (s *Solver) newSolution() error {
	cost := s.net.Lb()
	if s.cfg.AllSolutions {
		s.nbSol.Add(s.nbSol, bigOne)
	} else {
		s.net.UpdateUb(cost)
	}
	return s.recordSolution(s.net.Assignment(), cost)
}
