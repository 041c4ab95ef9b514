package search

import (
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// solveRDS runs Russian doll search from the root until the root bounds
// meet. The optimum is the Russian doll bound of the root.
func (s *Solver) solveRDS() error {
	root := s.td.Root()
	lb, ub := s.net.Lb(), s.net.Ub()
	for lb < ub {
		var err error
		lb, ub, err = s.russianDollSearch(root, ub)
		s.globalLb = max(s.globalLb, min(lb, ub))
		if err != nil {
			return err
		}
	}
	s.net.SetUb(root.LbRDS())
	return nil
}

// russianDollSearch solves the subtrees below c as independent problems,
// deepest first, then solves the subtree of c itself with the children's
// optima as lower bounds. Each non-root subproblem is made independent by
// fixing and disconnecting its separator.
func (s *Solver) russianDollSearch(c *td.Cluster, cub wcsp.Cost) (wcsp.Cost, wcsp.Cost, error) {
	for _, cj := range c.Children() {
		if _, _, err := s.russianDollSearch(cj, cub); err != nil {
			return wcsp.MinCost, cub, err
		}
	}

	root := s.td.Root()
	depth := s.net.Depth()
	s.net.Store()
	rlb, rub := wcsp.MinCost, cub
	lb, ub, local, err := s.rdsStep(c, cub)
	switch err {
	case nil:
		rlb, rub = lb, ub
		c.SetLbRDS(lb)
		if ub < local {
			c.NogoodRec(lb, ub)
		} else {
			c.NogoodRec(lb, wcsp.MaxCost)
		}
		s.log.WithFields(logrus.Fields{
			"cluster": c.ID(),
			"lb":      lb,
			"ub":      ub,
		}).Debug("russian doll step")
	case wcsp.ErrContradiction:
		rlb, rub = cub, cub
		c.SetLbRDS(local)
		c.NogoodRec(local, wcsp.MaxCost)
		err = nil
	}
	s.net.Restore(depth)
	if c == root {
		c.ResetLbRec()
	} else {
		if c.Open != nil {
			c.Open.Clear()
		}
		c.ResetUbRec(c)
	}
	return rlb, rub, err
}

// rdsStep solves the subtree of c once its separator is disconnected. It
// also returns the upper bound used for c alone.
func (s *Solver) rdsStep(c *td.Cluster, cub wcsp.Cost) (lb, ub, local wcsp.Cost, err error) {
	nogoodlb := wcsp.MinCost
	if c != s.td.Root() {
		if err = c.DeconnectSep(); err != nil {
			return cub, cub, cub, err
		}
		var nogoodub wcsp.Cost
		nogoodlb, nogoodub, _ = c.NogoodGet()
		c.SetLb(wcsp.MinCost)
		s.net.SetLb(wcsp.MinCost)
		s.td.SetCurrentCluster(s.td.Root())
		lbroot := s.td.GetLbRecRDS()
		s.td.SetCurrentCluster(c)
		cub = min(cub.Sub(lbroot).Add(s.td.GetLbRecRDS()), nogoodub)
	}
	s.net.SetUb(cub)
	s.td.SetCurrentCluster(c)
	s.td.SetRootRDS(c)
	s.lastConflictVar = -1
	if err = s.enforceAndPropagate(); err != nil {
		return cub, cub, cub, err
	}
	bestlb := max(s.td.GetLbRecRDS(), nogoodlb)
	if bestlb >= cub {
		return cub, cub, cub, wcsp.ErrContradiction
	}
	lb, ub, err = s.hybridSolve(c, bestlb, cub)
	return lb, ub, cub, err
}
