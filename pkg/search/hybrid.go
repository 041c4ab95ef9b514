package search

import (
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// hybridSolveDFBB solves the whole problem with bounds (clb, cub) and
// returns improved bounds. With hybrid search off it is a plain depth-first
// search.
func (s *Solver) hybridSolveDFBB(clb, cub wcsp.Cost) (wcsp.Cost, wcsp.Cost, error) {
	if s.adaptive.HBFS == 0 {
		s.hbfsLimit = maxInt64
		err := s.recursiveSolve(wcsp.MinCost)
		if err != nil && err != wcsp.ErrContradiction {
			return clb, s.net.Ub(), err
		}
		cub = s.net.Ub()
		return cub, cub, nil
	}

	s.cp = hbfs.NewCPStore(s.net.Trail())
	s.open = hbfs.NewOpenList()
	s.cp.Store()
	s.open.Reset(wcsp.Clamp(cub), wcsp.Clamp(cub))
	s.cp.AddOpenNode(s.open, clb, wcsp.MinCost)
	s.monitor.RecordHybrid(true)
	s.open.UpdateUb(cub, wcsp.MinCost)
	clb = max(clb, s.open.GetLb(wcsp.MinCost))
	lastUb := wcsp.MaxCost

	for clb < cub && !s.open.Finished() {
		s.hbfsLimit = s.burstLimit(s.nbBacktracks)
		if cub < lastUb {
			// A contradiction here proves the incumbent optimal.
			if err := s.enforceAndPropagate(); err != nil {
				if err == wcsp.ErrContradiction {
					return cub, cub, nil
				}
				return clb, cub, err
			}
			lastUb = cub
		}
		depth := s.net.Depth()
		s.net.Store()
		nd := s.open.Pop()
		err := s.replay(s.cp, nd)
		if err == nil {
			bestlb := max(nd.GetCost(wcsp.MinCost), s.net.Lb(), clb)
			err = s.recursiveSolve(bestlb)
		}
		cub = s.net.Ub()
		s.open.UpdateUb(cub, wcsp.MinCost)
		s.net.Restore(depth)
		if err != nil && err != wcsp.ErrContradiction {
			return clb, cub, err
		}
		s.cp.Store()
		s.capFrontier(s.cp, s.open, nil)
		clb = max(clb, s.open.GetLb(wcsp.MinCost))
		s.adapt()
	}
	return clb, cub, nil
}

// hybridSolve solves the subproblem rooted at cluster c, under the current
// separator assignment, with bounds (clb, cub). Best-first search resumes
// from the open list cached with the separator nogood. It returns when the
// bounds meet, when they improve, or when the cluster budget is spent; the
// caller calls it again as needed.
func (s *Solver) hybridSolve(c *td.Cluster, clb, cub wcsp.Cost) (wcsp.Cost, wcsp.Cost, error) {
	if s.adaptive.HBFS == 0 {
		c.HBFSGlobalLimit = maxInt64
		c.HBFSLimit = maxInt64
		lb, ub, err := s.recursiveSolveCluster(c, clb, cub)
		if err != nil {
			return clb, cub, err
		}
		return max(clb, lb), min(cub, ub), nil
	}

	cp := c.CP
	delta := wcsp.MinCost
	if c == s.td.Root() {
		if c.Open == nil {
			c.Open = hbfs.NewOpenList()
		}
		c.SetUb(cub)
	} else {
		delta = c.GetCurrentDeltaUb()
		if c.Open == nil {
			c.NogoodRec(clb, wcsp.MaxCost)
			c.SetUb(wcsp.MaxCost)
		}
	}
	open := c.Open
	cp.Store()
	fresh := open.Empty() || clb >= open.GetClosedNodesLb(delta) || cub > open.GetUb(delta)
	if fresh {
		open.Reset(wcsp.Clamp(cub.Add(delta)), wcsp.Clamp(cub.Add(delta)))
		cp.AddOpenNode(open, clb, delta)
	}
	if c.NbVars() > 0 {
		s.monitor.RecordHybrid(fresh)
	}
	c.HBFSGlobalLimit = maxInt64
	if s.adaptive.HBFSGlobalLimit > 0 {
		c.HBFSGlobalLimit = s.nbBacktracks + s.adaptive.HBFSGlobalLimit
	}
	initiallb, initialub := clb, cub
	open.UpdateUb(cub, delta)
	clb = max(clb, open.GetLb(delta))
	lastUb := wcsp.MaxCost

	for clb < cub && !open.Finished() && clb == initiallb && cub == initialub &&
		s.nbBacktracks <= c.HBFSGlobalLimit {
		c.HBFSLimit = s.burstLimit(c.NbBacktracks)
		s.net.SetUb(cub)
		if cub < lastUb && c == s.td.Root() {
			if err := s.enforceAndPropagate(); err != nil {
				return clb, cub, err
			}
			lastUb = cub
		}
		depth := s.net.Depth()
		s.net.Store()
		nd := open.Pop()
		err := s.replay(cp, nd)
		if err == nil {
			bestlb := max(nd.GetCost(delta), s.net.Lb(), clb)
			var lb, ub wcsp.Cost
			lb, ub, err = s.recursiveSolveCluster(c, bestlb, cub)
			if err == nil {
				open.UpdateClosedNodesLb(lb, delta)
				open.UpdateUb(ub, delta)
				cub = min(cub, ub)
			}
		}
		s.net.Restore(depth)
		if err != nil && err != wcsp.ErrContradiction {
			return clb, cub, err
		}
		cp.Store()
		s.capFrontier(cp, open, c)
		clb = max(clb, open.GetLb(delta))
		s.adapt()
	}
	return clb, cub, nil
}

// burstLimit is the backtrack count ending a burst started at backtracks.
func (s *Solver) burstLimit(backtracks int64) int64 {
	if s.adaptive.HBFS > 0 {
		return backtracks + s.adaptive.HBFS
	}
	return maxInt64
}

// enforceAndPropagate applies the current upper bound at the current depth
// so that replayed open nodes start from the pruned domains.
func (s *Solver) enforceAndPropagate() error {
	if err := s.net.EnforceUb(); err != nil {
		return err
	}
	return s.net.Propagate()
}

// replay rebuilds open node nd by applying its choice points, then
// propagates once. The replayed decisions are logged again in cp, as plain
// decisions, so that nodes queued below nd keep a complete range.
func (s *Solver) replay(cp *hbfs.CPStore, nd hbfs.OpenNode) error {
	if nd.Depth() == 0 {
		return s.enforceAndPropagate()
	}
	s.nbRecomputationNodes += int64(nd.Depth())
	s.monitor.RecordReplay(nd.Depth())
	if err := s.net.EnforceUb(); err != nil {
		return err
	}
	points := cp.Range(nd)
	for i, p := range points {
		op := p.Replayed(i == len(points)-1)
		s.nbNodes++
		s.monitor.RecordNode(s.net.Depth())
		if err := s.domainOp(op.Op, op.Var, op.Value); err != nil {
			return err
		}
		cp.Add(op.Op, op.Var, op.Value, false)
	}
	return s.net.Propagate()
}

// capFrontier turns hybrid search off once the frontier outgrows its
// limits. The search goes on depth-first.
func (s *Solver) capFrontier(cp *hbfs.CPStore, open *hbfs.OpenList, c *td.Cluster) {
	s.monitor.RecordFrontier(open.Len(), cp.Len())
	s.metrics.setOpenNodes(open.Len())
	if !(s.cfg.HBFSCPLimit > 0 && cp.Len() >= s.cfg.HBFSCPLimit) &&
		!(s.cfg.HBFSOpenNodeLimit > 0 && open.Len() >= s.cfg.HBFSOpenNodeLimit) {
		return
	}
	if s.adaptive.HBFS > 0 {
		s.log.WithFields(logrus.Fields{
			"open":          open.Len(),
			"choice_points": cp.Len(),
		}).Info("frontier limit reached, switching to depth-first search")
	}
	s.adaptive.HBFS = 0
	s.adaptive.HBFSGlobalLimit = 0
	if c != nil {
		c.HBFSGlobalLimit = maxInt64
		c.HBFSLimit = maxInt64
	} else {
		s.hbfsLimit = maxInt64
	}
}

// adapt doubles the burst budget while replaying costs more than one node
// in beta, and halves it while it costs less than one in alpha.
func (s *Solver) adapt() {
	if s.adaptive.HBFS == 0 || s.nbRecomputationNodes == 0 {
		return
	}
	switch {
	case s.nbRecomputationNodes > s.nbNodes/s.cfg.HBFSBeta && s.adaptive.HBFS <= s.adaptive.HBFSGlobalLimit:
		s.adaptive.HBFS *= 2
	case s.nbRecomputationNodes < s.nbNodes/s.cfg.HBFSAlpha && s.adaptive.HBFS >= 2:
		s.adaptive.HBFS /= 2
	}
}
