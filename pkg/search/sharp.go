package search

import (
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

var bigOne = big.NewInt(1)

// solveCount counts the solutions of cost zero with the decomposition:
// the counts of the child subproblems multiply, and each count is cached
// with the separator assignment it was computed for.
func (s *Solver) solveCount() error {
	root := s.td.Root()
	base := s.net.Depth()
	s.net.Store()
	s.td.SetCurrentCluster(root)
	s.net.SetUb(1)

	var err error
	if s.net.NumConnectedCostFunctions() == 0 {
		s.nbSol.Set(root.CartesianProduct())
	} else {
		var nb *big.Int
		nb, err = s.sharpBTD(root)
		if err == nil {
			s.nbSol.Set(nb)
		}
	}
	s.net.Restore(base)
	if err != nil {
		return err
	}
	if s.cfg.ApproximateCounting && s.nbSol.Sign() > 0 && root.NbVars() == 0 {
		s.approximate()
	}
	s.log.WithFields(logrus.Fields{
		"solutions":   s.nbSol.String(),
		"approximate": s.approx,
	}).Info("count done")
	return nil
}

// sharpBTD returns the number of solutions of the subproblem rooted at
// cluster c under the current separator assignment.
func (s *Solver) sharpBTD(c *td.Cluster) (*big.Int, error) {
	if x := s.selectVar(c); x >= 0 {
		return s.binaryChoicePointSBTD(c, x, s.branchValue(x))
	}

	nbSol := big.NewInt(1)
	atRoot := c.Parent() == nil
	for _, cj := range c.Children() {
		if nbSol.Sign() == 0 {
			break
		}
		nb, ok := cj.SgoodGet()
		if ok {
			s.monitor.RecordSGood(true)
		} else {
			var err error
			nb, err = s.countChild(cj)
			if err != nil {
				return nil, err
			}
			cj.SgoodRec(nb)
			s.monitor.RecordSGood(false)
		}
		if atRoot && s.cfg.ApproximateCounting {
			part, ok := s.ubSol[cj.ID()]
			if !ok {
				part = big.NewInt(1)
				s.ubSol[cj.ID()] = part
			}
			part.Mul(part, nb)
		}
		nbSol.Mul(nbSol, nb)
	}
	return nbSol, nil
}

// countChild counts the solutions of child cj. A contradiction means none.
func (s *Solver) countChild(cj *td.Cluster) (*big.Int, error) {
	depth := s.net.Depth()
	s.net.Store()
	defer s.net.Restore(depth)
	s.td.SetCurrentCluster(cj)
	err := s.net.Propagate()
	if err == nil {
		var nb *big.Int
		if nb, err = s.sharpBTD(cj); err == nil {
			return nb, nil
		}
	}
	if err == wcsp.ErrContradiction {
		return new(big.Int), nil
	}
	return nil, err
}

// binaryChoicePointSBTD sums the counts of both branches of a split of x.
func (s *Solver) binaryChoicePointSBTD(c *td.Cluster, x, a int) (*big.Int, error) {
	if err := s.checkInterrupt(); err != nil {
		return nil, err
	}
	nbSol := new(big.Int)
	br := s.split(x, a)

	branch := func(op func() error) error {
		depth := s.net.Depth()
		s.net.Store()
		defer s.net.Restore(depth)
		s.net.SetUb(1)
		err := op()
		if err == nil {
			var nb *big.Int
			if nb, err = s.sharpBTD(c); err == nil {
				nbSol.Add(nbSol, nb)
			}
		}
		if err == wcsp.ErrContradiction {
			return nil
		}
		return err
	}

	err := branch(func() error {
		s.lastConflictVar = x
		err := s.apply(br.first, x, br.firstVal, false)
		if err == nil {
			s.lastConflictVar = -1
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.backtrack(); err != nil {
		return nil, err
	}
	err = branch(func() error {
		return s.apply(br.second, x, br.secondVal, false)
	})
	if err != nil {
		return nil, err
	}
	return nbSol, nil
}

// approximate turns the product of the counts of the root children, which
// were solved as independent parts, into an estimate scaled by the domain
// sizes, and bounds the true count by the smallest per-part bound.
func (s *Solver) approximate() {
	root := s.td.Root()
	cart := root.CartesianProduct()
	est := new(big.Int).Mul(s.nbSol, cart)
	sub := big.NewInt(1)
	ub := new(big.Int).Set(cart)
	for _, cj := range root.Children() {
		cc := cj.CartesianProduct()
		sub.Mul(sub, cc)
		part, ok := s.ubSol[cj.ID()]
		if !ok {
			continue
		}
		bound := new(big.Int).Mul(part, cart)
		bound.Quo(bound, cc)
		if bound.Cmp(ub) < 0 {
			ub = bound
		}
	}
	est.Quo(est, sub)
	if est.Sign() <= 0 {
		est.SetInt64(1)
	}
	s.nbSol = est
	s.nbSolUb = ub
	s.approx = true
	s.log.WithFields(logrus.Fields{
		"estimate":    est.String(),
		"upper_bound": ub.String(),
		"cartesian":   cart.String(),
	}).Info("approximate count")
}
