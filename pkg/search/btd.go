package search

import (
	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// solveBTD runs backtracking with tree decomposition from the root cluster
// until its bounds meet. Each call to hybridSolve on the root returns when
// a bound improves; the loop then tightens the upper bound and resumes.
func (s *Solver) solveBTD() error {
	root := s.td.Root()
	base := s.net.Depth()
	lb, ub := s.net.Lb(), s.net.Ub()
	for lb < ub {
		s.net.Store()
		s.td.SetCurrentCluster(root)
		s.net.SetUb(ub)
		err := s.enforceAndPropagate()
		if err == nil {
			var rlb, rub wcsp.Cost
			rlb, rub, err = s.hybridSolve(root, max(s.net.Lb(), lb), ub)
			if err == nil {
				lb, ub = max(lb, rlb), min(ub, rub)
			}
		}
		s.net.Restore(base)
		s.net.SetUb(ub)
		if err == wcsp.ErrContradiction {
			lb = ub
			err = nil
		}
		s.globalLb = max(s.globalLb, min(lb, ub))
		if err != nil {
			return err
		}
	}
	return nil
}

// recursiveSolveCluster solves cluster c under the current separator
// assignment with bounds (lbgood, cub): it branches on the proper variables
// of c, then solves each child subproblem in turn with nogood caching.
//
// It returns a lower bound and an upper bound of the subproblem. When
// hybrid search is on and the node is not closed, the node goes back to the
// open list of c and the returned lower bound is cub.
func (s *Solver) recursiveSolveCluster(c *td.Cluster, lbgood, cub wcsp.Cost) (wcsp.Cost, wcsp.Cost, error) {
	if x := s.selectVar(c); x >= 0 {
		return s.binaryChoicePointCluster(c, lbgood, cub, x, s.branchValue(x))
	}

	clb := s.net.Lb()
	csol := clb
	children := c.Children()
	for i, cj := range children {
		if clb >= cub {
			break
		}
		lbSon, ubSon := wcsp.MinCost, wcsp.MaxCost
		good := false
		if !cj.IsActive() {
			cj.Reactivate()
			lbSon, ubSon, _ = cj.NogoodGet()
			good = true
		} else {
			lbSon = cj.GetLbRec()
			ubSon = cj.Ub()
		}
		if lbSon >= ubSon {
			// Optimality already proven for this separator assignment.
			continue
		}
		if !(clb <= lbgood || (csol < wcsp.MaxCost && ubSon >= cub.Sub(csol).Add(lbSon))) {
			if csol < wcsp.MaxCost {
				csol = csol.Add(ubSon - lbSon)
			}
			continue
		}

		csolution := csol < wcsp.MaxCost && ubSon < cub.Sub(csol).Add(lbSon)
		ubSon = min(ubSon, cub.Sub(clb).Add(lbSon))
		s.td.SetCurrentCluster(cj)
		s.net.SetUb(ubSon)
		if good {
			s.net.SetLb(cj.GetLbRec())
		} else {
			s.net.SetLb(lbSon)
		}

		depth := s.net.Depth()
		s.net.Store()
		rlb, rub, err := s.solveChild(cj, lbSon, ubSon, lbgood, csol, i == len(children)-1)
		s.net.Restore(depth)
		switch err {
		case nil:
			if rub < ubSon {
				cj.NogoodRec(rlb, rub)
			} else {
				cj.NogoodRec(rlb, wcsp.MaxCost)
			}
			clb = clb.Add(rlb - lbSon)
			if csol < wcsp.MaxCost {
				if rub < ubSon || csolution {
					csol = csol.Add(rub - lbSon)
				} else {
					csol = wcsp.MaxCost
				}
			}
		case wcsp.ErrContradiction:
			cj.NogoodRec(ubSon, wcsp.MaxCost)
			clb = clb.Add(ubSon - lbSon)
			if csolution {
				csol = csol.Add(ubSon - lbSon)
			} else {
				csol = wcsp.MaxCost
			}
		default:
			return lbgood, cub, err
		}
	}

	if csol < cub {
		cub = csol
		c.SolutionRec(csol)
		switch c {
		case s.td.Root():
			if err := s.recordSolution(s.td.NewSolution(csol), csol); err != nil {
				return max(lbgood, clb), cub, err
			}
		case s.td.RootRDS():
			s.keepBestValues(c)
		}
	}

	bestlb := max(lbgood, clb)
	if s.adaptive.HBFS > 0 && bestlb < cub {
		// The node is not closed: requeue it and end the current burst.
		if c.NbVars() > 0 {
			x := c.Vars()[0]
			c.CP.Add(hbfs.OpAssign, x, s.net.Value(x), true)
		}
		c.CP.AddOpenNode(c.Open, bestlb, c.GetCurrentDeltaUb())
		c.HBFSLimit = c.NbBacktracks
		bestlb = cub
	}
	return bestlb, cub, nil
}

// solveChild propagates the separator assignment into child cj and solves
// it. last tells whether cj is the last child of its parent, whose lower
// bound then follows from the solution cost already reached.
func (s *Solver) solveChild(cj *td.Cluster, lbSon, ubSon, lbgood, csol wcsp.Cost, last bool) (wcsp.Cost, wcsp.Cost, error) {
	if err := s.enforceAndPropagate(); err != nil {
		return lbSon, ubSon, err
	}
	bestlb := max(s.net.Lb(), lbSon)
	if csol < wcsp.MaxCost && last {
		bestlb = max(bestlb, lbgood.Sub(csol).Add(lbSon))
	}
	if s.cfg.BTDMode >= 2 {
		bestlb = max(bestlb, s.td.GetLbRecRDS())
		if wcsp.Cut(bestlb, ubSon) {
			return lbSon, ubSon, wcsp.ErrContradiction
		}
	}
	return s.hybridSolve(cj, bestlb, ubSon)
}

// keepBestValues makes the solution just found in the subtree of c the
// preferred values of the next branches.
func (s *Solver) keepBestValues(c *td.Cluster) {
	sol := s.net.Assignment()
	c.GetSolution(sol)
	for _, x := range c.VarsTree() {
		if sol[x] >= 0 {
			s.net.SetBestValue(x, sol[x])
		}
	}
}

// binaryChoicePointCluster branches on x inside cluster c. The second
// branch is queued in the open list of c once the burst budget of c, or the
// global budget of the current hybrid search, is spent.
func (s *Solver) binaryChoicePointCluster(c *td.Cluster, lbgood, cub wcsp.Cost, x, a int) (wcsp.Cost, wcsp.Cost, error) {
	if err := s.checkInterrupt(); err != nil {
		return lbgood, cub, err
	}
	clb := cub
	br := s.split(x, a)

	depth := s.net.Depth()
	s.net.Store()
	bestlb, err := s.enterBranch(lbgood, cub)
	if err == nil {
		s.lastConflictVar = x
		err = s.apply(br.first, x, br.firstVal, false)
	}
	if err == nil {
		s.lastConflictVar = -1
		var rlb, rub wcsp.Cost
		rlb, rub, err = s.recursiveSolveCluster(c, max(bestlb, s.net.Lb()), cub)
		if err == nil {
			clb, cub = min(rlb, clb), min(rub, cub)
		}
	}
	s.net.Restore(depth)
	if err != nil && err != wcsp.ErrContradiction {
		return lbgood, cub, err
	}
	if err := s.backtrack(); err != nil {
		return lbgood, cub, err
	}
	c.NbBacktracks++

	s.net.Store()
	deferred := c.NbBacktracks >= c.HBFSLimit || s.nbBacktracks >= c.HBFSGlobalLimit
	bestlb, err = s.enterBranch(lbgood, cub)
	if err == nil {
		err = s.apply(br.second, x, br.secondVal, deferred)
	}
	if err == nil {
		bestlb = max(bestlb, s.net.Lb())
		if deferred {
			c.CP.AddOpenNode(c.Open, bestlb, c.GetCurrentDeltaUb())
		} else {
			var rlb, rub wcsp.Cost
			rlb, rub, err = s.recursiveSolveCluster(c, bestlb, cub)
			if err == nil {
				clb, cub = min(rlb, clb), min(rub, cub)
			}
		}
	}
	s.net.Restore(depth)
	if err != nil && err != wcsp.ErrContradiction {
		return lbgood, cub, err
	}
	return clb, cub, nil
}

// enterBranch sets the upper bound of a new branch and returns its initial
// lower bound, or a contradiction when the branch is already cut.
func (s *Solver) enterBranch(lbgood, cub wcsp.Cost) (wcsp.Cost, error) {
	s.net.SetUb(cub)
	bestlb := lbgood
	if wcsp.Cut(bestlb, cub) {
		return bestlb, wcsp.ErrContradiction
	}
	if s.cfg.BTDMode >= 2 {
		bestlb = max(bestlb, s.td.GetLbRecRDS())
		if wcsp.Cut(bestlb, cub) {
			return bestlb, wcsp.ErrContradiction
		}
	}
	return bestlb, nil
}
