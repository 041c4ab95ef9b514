// Package td builds and maintains a tree decomposition of a cost function
// network for backtracking with tree decomposition (BTD).
//
// # Architecture
//
// A TreeDecomposition is built once, before search, either from a variable
// elimination order or from a user supplied covering. It is then rooted:
// every cluster gets a parent, a separator (the variables it shares with its
// parent) and a list of children sorted for search.
//
// During search the decomposition plays two roles. It tells the network
// which cluster owns every unit of lower bound (cluster lower bounds) and
// which cost left a cluster subtree through a separator variable (the
// separator delta). And it caches, per separator assignment, the bounds of
// the subproblem rooted below the separator (nogoods), the number of its
// solutions (counting goods) and its best solution.
//
// Every cluster field that changes during search is either reversible, kept
// on the network trail, or a cache that only ever tightens.
package td

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

const maxInt64 = math.MaxInt64

// ErrMalformedDecomposition reports a decomposition that is not a valid
// tree decomposition of its network.
var ErrMalformedDecomposition = errors.New("malformed tree decomposition")

// RootHeuristic selects the root of each connected component.
type RootHeuristic int

const (
	// RootMaxSize picks the largest cluster.
	RootMaxSize RootHeuristic = iota
	// RootMaxRatio picks the cluster maximizing size / (height - size).
	RootMaxRatio
	// RootMinRatio picks the cluster minimizing size / (height - size).
	RootMinRatio
	// RootMinHeight picks the cluster minimizing the height of the rooted tree.
	RootMinHeight
)

// Options controls how a decomposition is built and how its caches behave
// during search.
type Options struct {
	// Order is the elimination order heuristic used when no covering is given.
	Order wcsp.OrderHeuristic `yaml:"order"`
	// RootHeuristic selects component roots.
	RootHeuristic RootHeuristic `yaml:"root_heuristic"`
	// RootCluster forces the root of the first component, -1 for none.
	RootCluster int `yaml:"root_cluster"`
	// ReduceHeight moves subtrees up whenever their separator allows it.
	ReduceHeight bool `yaml:"reduce_height"`
	// SplitClusterMaxSize splits clusters with more proper variables, 0 to
	// disable.
	SplitClusterMaxSize int `yaml:"split_cluster_max_size"`
	// MaxSeparatorSize merges clusters with a larger separator, -1 to disable.
	MaxSeparatorSize int `yaml:"max_separator_size"`
	// MinProperVarSize merges clusters with fewer proper variables, values
	// below 2 disable it.
	MinProperVarSize int `yaml:"min_proper_var_size"`
	// BoostingDegree merges leaves with at most that many new variables into
	// their parent, 0 to disable.
	BoostingDegree int `yaml:"boosting_degree"`
	// PathDecomposition builds a path of clusters, as needed by Russian doll
	// search on a path.
	PathDecomposition bool `yaml:"path_decomposition"`

	// HBFS makes every nogood carry an open list.
	HBFS bool `yaml:"-"`
	// RDS makes cache misses default to the Russian doll bound.
	RDS bool `yaml:"-"`
	// Counting makes separators propagate solution counts.
	Counting bool `yaml:"-"`
	// Logger receives decomposition traces. Defaults to the standard logger.
	Logger logrus.FieldLogger `yaml:"-"`
}

// DefaultOptions returns options that build a rooted decomposition with no
// cluster rewriting.
func DefaultOptions() Options {
	return Options{
		Order:            wcsp.OrderMinFill,
		RootCluster:      -1,
		MaxSeparatorSize: -1,
	}
}

type sepPos struct {
	cluster int
	pos     int
}

// TreeDecomposition is a rooted tree decomposition of a network together
// with the search state attached to it.
//
// Thread Safety: a TreeDecomposition shares the single-owner discipline of
// its network.
type TreeDecomposition struct {
	net  *wcsp.Network
	opts Options
	log  logrus.FieldLogger

	clusters  []*Cluster
	roots     []*Cluster
	root      *Cluster
	instances int

	current wcsp.Cell[int]
	rootRDS *Cluster

	// varSeps lists, per variable, the clusters whose separator holds it and
	// its position there.
	varSeps       [][]sepPos
	deltaModified []wcsp.Cell[bool]

	treewidth int
	height    int
	maxDepth  int
}

func newTreeDecomposition(net *wcsp.Network, opts Options) *TreeDecomposition {
	t := &TreeDecomposition{net: net, opts: opts, log: opts.Logger}
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	return t
}

// New builds a decomposition of net from the elimination order selected by
// opts.Order.
func New(net *wcsp.Network, opts Options) (*TreeDecomposition, error) {
	return BuildFromOrder(net, net.EliminationOrder(opts.Order), opts)
}

// Network returns the decomposed network.
func (t *TreeDecomposition) Network() *wcsp.Network { return t.net }

// Options returns the options the decomposition was built with.
func (t *TreeDecomposition) Options() Options { return t.opts }

// SetSearchMode updates the cache behaviour flags for the next search.
func (t *TreeDecomposition) SetSearchMode(hbfs, rds, counting bool) {
	t.opts.HBFS = hbfs
	t.opts.RDS = rds
	t.opts.Counting = counting
}

// NumClusters returns the number of clusters.
func (t *TreeDecomposition) NumClusters() int { return len(t.clusters) }

// Cluster returns the cluster with index id.
func (t *TreeDecomposition) Cluster(id int) *Cluster { return t.clusters[id] }

// Clusters returns every cluster, indexed by id.
func (t *TreeDecomposition) Clusters() []*Cluster { return t.clusters }

// Root returns the root cluster.
func (t *TreeDecomposition) Root() *Cluster { return t.root }

// Treewidth returns the largest cluster size minus one.
func (t *TreeDecomposition) Treewidth() int { return t.treewidth }

// Height returns the largest number of variables met on a root-to-leaf
// path.
func (t *TreeDecomposition) Height() int { return t.height }

// MaxDepth returns the depth of the deepest cluster.
func (t *TreeDecomposition) MaxDepth() int { return t.maxDepth }

// CurrentCluster returns the cluster whose subproblem is being solved.
func (t *TreeDecomposition) CurrentCluster() *Cluster { return t.clusters[t.current.Get()] }

// GetLbRecRDS returns the lower bound of the current subproblem: the
// recursive bound of the current cluster, never below its own Russian doll
// bound.
func (t *TreeDecomposition) GetLbRecRDS() wcsp.Cost {
	c := t.CurrentCluster()
	return max(c.GetLbRecRDS(), c.lbRDS)
}

// SetCurrentCluster selects the subproblem being solved (reversible).
func (t *TreeDecomposition) SetCurrentCluster(c *Cluster) {
	t.current.Set(t.net.Trail(), c.id)
}

// RootRDS returns the root of the Russian doll step in progress.
func (t *TreeDecomposition) RootRDS() *Cluster { return t.rootRDS }

// SetRootRDS sets the root of the Russian doll step in progress.
func (t *TreeDecomposition) SetRootRDS(c *Cluster) { t.rootRDS = c }

// InCurrentSubtree reports whether cluster id lies in the subtree of the
// current cluster.
func (t *TreeDecomposition) InCurrentSubtree(id int) bool {
	return t.CurrentCluster().IsDescendant(id)
}

// ActiveInCurrentSubtree reports whether cluster id is active and lies in
// the subtree of the current cluster.
func (t *TreeDecomposition) ActiveInCurrentSubtree(id int) bool {
	if id < 0 {
		return true
	}
	return t.InCurrentSubtree(id) && t.clusters[id].active.Get()
}

// IncreaseClusterLb charges c to the lower bound of cluster id.
func (t *TreeDecomposition) IncreaseClusterLb(id int, c wcsp.Cost) {
	t.clusters[id].IncreaseLb(c)
}

// AddDelta records that cost c for value a of x was produced by a cost
// function of cluster cy and moved to x, whose home cluster is outside the
// subtree of cy. The cost is remembered by every separator on the way.
func (t *TreeDecomposition) AddDelta(cy, x, a int, c wcsp.Cost) {
	cx := t.net.Var(x).Cluster()
	if cx < 0 || cx == cy || t.clusters[cy].IsDescendant(cx) {
		return
	}
	if c != wcsp.MinCost {
		t.deltaModified[x].Set(t.net.Trail(), true)
	}
	for _, sp := range t.varSeps[x] {
		ck := t.clusters[sp.cluster]
		if ck.IsDescendant(cy) {
			ck.sep.addDelta(sp.pos, a, c)
		}
	}
}

// PropagateSeparators queues the separators that just became fully
// assigned and exploits the nogoods of the queued ones.
func (t *TreeDecomposition) PropagateSeparators() error {
	tr := t.net.Trail()
	for _, c := range t.clusters {
		s := c.sep
		if s == nil || s.disabled.Get() || !s.connected.Get() {
			continue
		}
		if s.allAssigned() {
			s.connected.Set(tr, false)
			s.queued.Set(tr, true)
		}
	}
	for _, c := range t.clusters {
		s := c.sep
		if s == nil || s.disabled.Get() || !s.queued.Get() {
			continue
		}
		if err := s.propagate(); err != nil {
			return err
		}
	}
	return nil
}

// ResetBounds makes root own the whole lower bound lb. It is called once,
// at depth 0, after the initial propagation: costs already moved by that
// propagation are permanent and need no separator bookkeeping.
func (t *TreeDecomposition) ResetBounds(lb wcsp.Cost) {
	tr := t.net.Trail()
	for _, c := range t.clusters {
		c.lb.Set(tr, wcsp.MinCost)
		if c.sep == nil {
			continue
		}
		for i := range c.sep.delta {
			for a := range c.sep.delta[i] {
				c.sep.delta[i][a].Set(tr, wcsp.MinCost)
			}
		}
	}
	for x := range t.deltaModified {
		t.deltaModified[x].Set(tr, false)
	}
	t.root.lb.Set(tr, lb)
}

// NewSolution sets the upper bound to lb and returns the solution rebuilt
// from the root and the partial solutions cached below it.
func (t *TreeDecomposition) NewSolution(lb wcsp.Cost) []int {
	t.net.SetUb(lb)
	sol := t.net.Assignment()
	t.root.GetSolution(sol)
	return sol
}

// LowestCommonAncestor returns the deepest cluster having both c1 and c2 in
// its subtree.
func (t *TreeDecomposition) LowestCommonAncestor(c1, c2 *Cluster) *Cluster {
	for c1.depth > c2.depth {
		c1 = c1.parent
	}
	for c2.depth > c1.depth {
		c2 = c2.parent
	}
	for c1 != c2 {
		c1, c2 = c1.parent, c2.parent
	}
	return c1
}

// Verify checks that the decomposition covers the network and that every
// separator is the intersection of its cluster with its parent.
func (t *TreeDecomposition) Verify() error {
	var all VarSet
	for _, c := range t.clusters {
		all = Sum(all, c.vars)
		if c.parent == nil {
			continue
		}
		if want := Intersection(c.vars, c.parent.vars); !Equal(c.SepVars(), want) {
			return errors.Wrapf(ErrMalformedDecomposition,
				"cluster %d: separator %v, want %v", c.id, c.SepVars(), want)
		}
	}
	for x := 0; x < t.net.NumVariables(); x++ {
		if !all.Contains(x) {
			return errors.Wrapf(ErrMalformedDecomposition, "variable %d is in no cluster", x)
		}
		if !t.net.Unassigned(x) {
			continue
		}
		home := t.net.Var(x).Cluster()
		if home < 0 || home >= len(t.clusters) {
			return errors.Wrapf(ErrMalformedDecomposition, "variable %d has no home cluster", x)
		}
		c := t.clusters[home]
		if !c.vars.Contains(x) || c.IsSepVar(x) {
			return errors.Wrapf(ErrMalformedDecomposition,
				"variable %d is not a proper variable of its home cluster %d", x, home)
		}
	}
	for f := 0; f < t.net.NumCostFunctions(); f++ {
		cf := t.net.Func(f)
		if cf.Cluster() < 0 {
			continue
		}
		c := t.clusters[cf.Cluster()]
		if !Included(NewVarSet(cf.Scope()...), c.varsTree) {
			return errors.Wrapf(ErrMalformedDecomposition,
				"cost function %d is not covered by the subtree of cluster %d", f, c.id)
		}
	}
	return nil
}

// Print writes the decomposition, one cluster per line, in depth-first
// order from the root.
func (t *TreeDecomposition) Print(w io.Writer) {
	fmt.Fprintf(w, "tree decomposition: %d clusters, treewidth %d, height %d, max depth %d\n",
		len(t.clusters), t.treewidth, t.height, t.maxDepth)
	var rec func(c *Cluster)
	rec = func(c *Cluster) {
		fmt.Fprintf(w, "%*s", 2*c.depth, "")
		c.Print(w)
		for _, cj := range c.children {
			rec(cj)
		}
	}
	rec(t.root)
}

// PrintStats writes the cache statistics of every separator.
func (t *TreeDecomposition) PrintStats(w io.Writer) {
	for _, c := range t.clusters {
		if c.sep == nil {
			continue
		}
		fmt.Fprintf(w, "cluster %d: ", c.id)
		c.sep.Print(w)
	}
}

// WriteCovering writes the decomposition in the covering format read by
// BuildFromCovering.
func (t *TreeDecomposition) WriteCovering(w io.Writer) error {
	var rec func(c *Cluster) error
	rec = func(c *Cluster) error {
		parent := -1
		if c.parent != nil {
			parent = c.parent.id
		}
		if _, err := fmt.Fprintf(w, "%d %d", c.id, parent); err != nil {
			return errors.Wrap(err, "write covering")
		}
		for _, x := range c.vars {
			fmt.Fprintf(w, " %d", x)
		}
		fmt.Fprintln(w)
		for _, cj := range c.children {
			if err := rec(cj); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(t.root)
}

// assignCluster returns the lowest home cluster among the variables of f.
func (t *TreeDecomposition) assignCluster(f *wcsp.CostFunction) *Cluster {
	lowest := t.root
	for _, x := range f.Scope() {
		home := t.net.Var(x).Cluster()
		if home >= 0 && lowest.IsDescendant(home) {
			lowest = t.clusters[home]
		}
	}
	return lowest
}
