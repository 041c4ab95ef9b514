package td

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// nogood is a cache entry of a separator. Bounds are stored before the
// separator delta is removed. The open list is shared with the search frame
// exploring the entry, so it is allocated once and mutated in place.
type nogood struct {
	lb, ub wcsp.Cost
	open   *hbfs.OpenList
}

// partialSolution is the best known assignment of the proper variables of a
// cluster subtree for one separator tuple.
type partialSolution struct {
	cost   wcsp.Cost
	values []int
}

// Separator is the interface between a cluster and its parent: the
// variables they share, the cost moved out of the cluster through those
// variables, and the caches keyed by assignments of those variables.
//
// The propagation state (connected, queued, used, last projected bound) is
// reversible: a backtrack undoes the use of a nogood along with the domain
// changes that enabled it.
type Separator struct {
	cluster *Cluster
	vars    VarSet
	delta   [][]wcsp.Cell[wcsp.Cost]

	nogoods   map[string]*nogood
	sgoods    map[string]*big.Int
	solutions map[string]partialSolution

	connected   wcsp.Cell[bool]
	queued      wcsp.Cell[bool]
	disabled    wcsp.Cell[bool]
	used        wcsp.Cell[bool]
	lbPrevious  wcsp.Cell[wcsp.Cost]
	optPrevious wcsp.Cell[bool]

	key []byte

	nbRecords int64
	nbUses    int64
}

func newSeparator(c *Cluster, vars VarSet) *Separator {
	s := &Separator{
		cluster:   c,
		vars:      vars,
		nogoods:   make(map[string]*nogood),
		sgoods:    make(map[string]*big.Int),
		solutions: make(map[string]partialSolution),
	}
	if len(vars) == 0 {
		// Nothing to wait for: the empty tuple is always complete.
		s.queued = wcsp.NewCell(true)
	} else {
		s.connected = wcsp.NewCell(true)
	}
	return s
}

func (s *Separator) setup() {
	net := s.cluster.td.net
	s.delta = make([][]wcsp.Cell[wcsp.Cost], len(s.vars))
	for i, x := range s.vars {
		s.delta[i] = make([]wcsp.Cell[wcsp.Cost], net.Var(x).InitialSize())
	}
}

// Vars returns the separator variables.
func (s *Separator) Vars() VarSet { return s.vars }

// Arity returns the number of separator variables.
func (s *Separator) Arity() int { return len(s.vars) }

// Used reports whether the nogood of the current tuple has been charged to
// the parent cluster by propagation.
func (s *Separator) Used() bool { return s.used.Get() }

// NumNogoods returns the number of cached tuples.
func (s *Separator) NumNogoods() int { return len(s.nogoods) }

// NumRecords returns how many times a bound pair was recorded.
func (s *Separator) NumRecords() int64 { return s.nbRecords }

// NumUses returns how many times a cached bound was exploited in advance.
func (s *Separator) NumUses() int64 { return s.nbUses }

func (s *Separator) trail() *wcsp.Trail { return s.cluster.td.net.Trail() }

// tuple encodes the current values of the separator variables and sums the
// delta of those values. Every separator variable must be assigned.
func (s *Separator) tuple() (string, wcsp.Cost) {
	net := s.cluster.td.net
	s.key = s.key[:0]
	deltares := wcsp.MinCost
	for i, x := range s.vars {
		a := net.Value(x)
		s.key = binary.AppendUvarint(s.key, uint64(a))
		deltares = deltares.Add(s.delta[i][a].Get())
	}
	return string(s.key), deltares
}

func (s *Separator) tupleOf(sol []int) string {
	s.key = s.key[:0]
	for _, x := range s.vars {
		s.key = binary.AppendUvarint(s.key, uint64(sol[x]))
	}
	return string(s.key)
}

// shiftUb adds delta to a finite upper bound.
func shiftUb(ub, delta wcsp.Cost) wcsp.Cost {
	if ub < wcsp.MaxCost {
		ub = ub.Add(delta)
	}
	return wcsp.Clamp(ub)
}

// get looks up the bounds of the current tuple, with delta removed. It also
// points the cluster at the cached upper bound and open list of the tuple.
func (s *Separator) get() (clb, cub wcsp.Cost, found bool) {
	c := s.cluster
	key, deltares := s.tuple()
	ng, ok := s.nogoods[key]
	if !ok {
		clb = wcsp.MinCost
		if c.td.opts.RDS {
			clb = c.lbRDS
		}
		c.ub = wcsp.MaxCost
		c.Open = nil
		return clb, wcsp.MaxCost, false
	}
	clb = ng.lb.Sub(deltares)
	cub = wcsp.Clamp(ng.ub.Sub(deltares))
	c.ub = cub
	c.Open = ng.open
	if c.td.opts.RDS {
		clb = max(c.lbRDS, clb)
	} else {
		clb = wcsp.Clamp(clb)
	}
	return clb, cub, true
}

// set records bounds for the current tuple. Recorded bounds only tighten.
// When best-first search is on and the cluster has no open list yet, the
// cluster is pointed at the list of the entry.
func (s *Separator) set(clb, cub wcsp.Cost) {
	c := s.cluster
	key, deltares := s.tuple()
	lb := wcsp.Clamp(clb.Add(deltares))
	ub := shiftUb(cub, deltares)
	ng, ok := s.nogoods[key]
	if ok {
		ng.lb = max(ng.lb, lb)
		ng.ub = min(ng.ub, ub)
	} else {
		ng = &nogood{lb: lb, ub: ub, open: hbfs.NewOpenList()}
		s.nogoods[key] = ng
	}
	s.nbRecords++
	if c.td.opts.HBFS && c.Open == nil {
		c.Open = ng.open
	}
	c.td.log.WithFields(logrus.Fields{
		"cluster": c.id, "lb": ng.lb, "ub": ng.ub, "delta": deltares,
	}).Trace("learn nogood")
}

// getSg returns the recorded number of solutions of the current tuple.
func (s *Separator) getSg() (*big.Int, bool) {
	key, _ := s.tuple()
	nb, ok := s.sgoods[key]
	return nb, ok
}

func (s *Separator) setSg(nb *big.Int) {
	key, _ := s.tuple()
	s.sgoods[key] = new(big.Int).Set(nb)
	s.nbRecords++
}

// solRec remembers the current values of the proper variables of the
// cluster as the best solution of the current tuple.
func (s *Separator) solRec(ub wcsp.Cost) {
	net := s.cluster.td.net
	key, deltares := s.tuple()
	proper := s.cluster.ProperVars()
	values := make([]int, len(proper))
	for i, x := range proper {
		values[i] = net.Value(x)
	}
	s.solutions[key] = partialSolution{cost: ub.Add(deltares), values: values}
}

// solGet returns the recorded proper values for the separator tuple found in
// sol.
func (s *Separator) solGet(sol []int) ([]int, bool) {
	p, ok := s.solutions[s.tupleOf(sol)]
	return p.values, ok
}

func (s *Separator) resetLb() {
	for _, ng := range s.nogoods {
		ng.lb = wcsp.MinCost
		ng.open.Clear()
	}
}

func (s *Separator) resetUb() {
	for _, ng := range s.nogoods {
		ng.ub = wcsp.MaxCost
		ng.open.Clear()
	}
}

// addDelta records that cost c for value a of the separator variable at
// position pos left the cluster subtree.
func (s *Separator) addDelta(pos, a int, c wcsp.Cost) {
	cell := &s.delta[pos][a]
	cell.Set(s.trail(), cell.Get().Add(c))
}

// currentDelta sums, over the separator variables, the delta of the assigned
// value, or the extreme delta over the current domain for unassigned
// variables that ever received one. pick chooses the extreme.
func (s *Separator) currentDelta(pick func(a, b wcsp.Cost) wcsp.Cost) wcsp.Cost {
	t := s.cluster.td
	sum := wcsp.MinCost
	for i, x := range s.vars {
		if t.net.Assigned(x) {
			sum = sum.Add(s.delta[i][t.net.Value(x)].Get())
			continue
		}
		if !t.deltaModified[x].Get() {
			continue
		}
		first := true
		var del wcsp.Cost
		for _, a := range t.net.Var(x).Values() {
			d := s.delta[i][a].Get()
			if first {
				del, first = d, false
			} else {
				del = pick(del, d)
			}
		}
		sum = sum.Add(del)
	}
	return sum
}

func maxCost(a, b wcsp.Cost) wcsp.Cost { return max(a, b) }
func minCost(a, b wcsp.Cost) wcsp.Cost { return min(a, b) }

func (s *Separator) allAssigned() bool {
	net := s.cluster.td.net
	for _, x := range s.vars {
		if !net.Assigned(x) {
			return false
		}
	}
	return true
}

// deconnect removes the separator from propagation until backtrack.
func (s *Separator) deconnect() {
	tr := s.trail()
	s.disabled.Set(tr, true)
	s.queued.Set(tr, false)
}

// propagate exploits the cached bounds of a completely assigned separator:
// the cluster subtree is deactivated and its recorded lower bound is charged
// to the parent cluster in advance.
func (s *Separator) propagate() error {
	c := s.cluster
	t := c.td
	tr := s.trail()
	if !t.InCurrentSubtree(c.parent.id) {
		return nil
	}
	if t.opts.Counting {
		nb, ok := s.getSg()
		if !ok {
			return nil
		}
		if nb.Sign() == 0 {
			s.nbUses++
			return wcsp.ErrContradiction
		}
		s.queued.Set(tr, false)
		return nil
	}
	clb, cub, _ := s.get()
	opt := clb == cub
	if c.active.Get() {
		lbpropa := c.GetLbRec()
		lb := clb.Sub(lbpropa)
		if opt || lb > wcsp.MinCost {
			if opt {
				s.queued.Set(tr, false)
			}
			s.nbUses++
			t.log.WithFields(logrus.Fields{
				"cluster": c.id, "lbpropa": lbpropa, "lb": lb,
			}).Trace("nogood used in advance")
			s.used.Set(tr, true)
			c.Deactivate()
			c.parent.IncreaseLb(lbpropa)
			t.net.ProjectLB(c.parent.id, wcsp.Clamp(lb))
			s.lbPrevious.Set(tr, clb)
			s.optPrevious.Set(tr, opt)
		}
		return nil
	}
	if s.used.Get() && c.parent.active.Get() {
		if clb > s.lbPrevious.Get() || (opt && !s.optPrevious.Get()) {
			if opt {
				s.queued.Set(tr, false)
			}
			if clb > s.lbPrevious.Get() {
				t.net.ProjectLB(c.parent.id, clb.Sub(s.lbPrevious.Get()))
			}
			s.lbPrevious.Set(tr, clb)
			s.optPrevious.Set(tr, opt)
		}
	}
	return nil
}

// Print writes a one-line summary of the cache.
func (s *Separator) Print(w io.Writer) {
	total := 1.0
	net := s.cluster.td.net
	for _, x := range s.vars {
		total *= float64(net.Var(x).InitialSize())
	}
	minLb := wcsp.MinCost
	if len(s.nogoods) > 0 {
		keys := make([]string, 0, len(s.nogoods))
		for k := range s.nogoods {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		minLb = s.nogoods[keys[0]].lb
		for _, k := range keys[1:] {
			minLb = min(minLb, s.nogoods[k].lb)
		}
	}
	fmt.Fprintf(w, "sep%v |nogoods| = %d / %.0f min: %v (%d bt)\n",
		[]int(s.vars), len(s.nogoods), total, minLb, s.cluster.NbBacktracksTree())
}
