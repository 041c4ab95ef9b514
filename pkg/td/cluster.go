package td

import (
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/pkg/errors"

	"github.com/gitrdm/gokanbtd/pkg/hbfs"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// Cluster is a node of a tree decomposition: a bag of variables, the cost
// functions assigned to it and its separator with its parent.
//
// Bounds: lb is the reversible part of the global lower bound that was
// produced inside the cluster, ub is the cached upper bound of the subproblem
// rooted at the cluster for the current separator assignment. lbRDS is the
// optimum (or best lower bound) of the subtree found by Russian doll search,
// independent of any separator assignment.
type Cluster struct {
	td       *TreeDecomposition
	id       int
	instance int

	vars  VarSet
	funcs VarSet // cost function indexes

	// edges holds the neighbours while the decomposition is built and the
	// children once it is rooted, ordered by creation.
	edges    []*Cluster
	children []*Cluster // edges in search order
	parent   *Cluster
	sep      *Separator

	descendants []*Cluster
	quickDesc   []bool
	varsTree    VarSet
	depth       int

	lb     wcsp.Cell[wcsp.Cost]
	ub     wcsp.Cost
	lbRDS  wcsp.Cost
	active wcsp.Cell[bool]

	// Open is the frontier of the subproblem under the current separator
	// assignment, shared with the nogood cache entry of that assignment.
	Open *hbfs.OpenList
	// CP logs the branching decisions taken inside the cluster.
	CP *hbfs.CPStore
	// HBFSLimit is the cluster backtrack count at which depth-first bursts in
	// the cluster stop and queue open nodes.
	HBFSLimit int64
	// HBFSGlobalLimit is the global backtrack count at which the current
	// best-first exploration of the cluster is suspended.
	HBFSGlobalLimit int64
	// NbBacktracks counts backtracks inside the cluster.
	NbBacktracks int64
}

func (t *TreeDecomposition) newCluster() *Cluster {
	c := &Cluster{
		td:              t,
		id:              len(t.clusters),
		instance:        t.instances,
		ub:              wcsp.MaxCost,
		active:          wcsp.NewCell(true),
		depth:           -1,
		HBFSLimit:       maxInt64,
		HBFSGlobalLimit: maxInt64,
	}
	t.instances++
	t.clusters = append(t.clusters, c)
	return c
}

// ID returns the index of the cluster in its decomposition.
func (c *Cluster) ID() int { return c.id }

// Vars returns the variables of the cluster.
func (c *Cluster) Vars() VarSet { return c.vars }

// NbVars returns the number of variables of the cluster.
func (c *Cluster) NbVars() int { return len(c.vars) }

// Functions returns the indexes of the cost functions assigned to c.
func (c *Cluster) Functions() []int { return c.funcs }

// Parent returns the parent cluster, nil at the root.
func (c *Cluster) Parent() *Cluster { return c.parent }

// Children returns the children of c in search order: smallest separator
// first, then smallest subtree.
func (c *Cluster) Children() []*Cluster { return c.children }

// Sep returns the separator with the parent, nil at the root.
func (c *Cluster) Sep() *Separator { return c.sep }

// SepVars returns the separator variables, empty at the root.
func (c *Cluster) SepVars() VarSet {
	if c.sep == nil {
		return nil
	}
	return c.sep.vars
}

// SepSize returns the number of separator variables.
func (c *Cluster) SepSize() int { return len(c.SepVars()) }

// IsSepVar reports whether x belongs to the separator of c.
func (c *Cluster) IsSepVar(x int) bool { return c.SepVars().Contains(x) }

// ProperVars returns the variables of c that are not separator variables.
func (c *Cluster) ProperVars() VarSet { return Difference(c.vars, c.SepVars()) }

// VarsTree returns the union of the variables of the subtree rooted at c.
func (c *Cluster) VarsTree() VarSet { return c.varsTree }

// Descendants returns the clusters of the subtree rooted at c, c included.
func (c *Cluster) Descendants() []*Cluster { return c.descendants }

// IsDescendant reports whether cluster id lies in the subtree rooted at c.
func (c *Cluster) IsDescendant(id int) bool {
	return id >= 0 && id < len(c.quickDesc) && c.quickDesc[id]
}

// Depth returns the distance to the root, 0 at the root.
func (c *Cluster) Depth() int { return c.depth }

// IsLeaf reports whether c has no child.
func (c *Cluster) IsLeaf() bool { return len(c.edges) == 0 }

// Lb returns the local lower bound.
func (c *Cluster) Lb() wcsp.Cost { return c.lb.Get() }

// SetLb overwrites the local lower bound (reversible).
func (c *Cluster) SetLb(lb wcsp.Cost) { c.lb.Set(c.td.net.Trail(), lb) }

// IncreaseLb adds inc to the local lower bound (reversible).
func (c *Cluster) IncreaseLb(inc wcsp.Cost) { c.SetLb(c.lb.Get().Add(inc)) }

// Ub returns the cached upper bound of the subproblem.
func (c *Cluster) Ub() wcsp.Cost { return c.ub }

// SetUb overwrites the cached upper bound.
func (c *Cluster) SetUb(ub wcsp.Cost) { c.ub = ub }

// LbRDS returns the Russian doll bound of the subtree.
func (c *Cluster) LbRDS() wcsp.Cost { return c.lbRDS }

// SetLbRDS overwrites the Russian doll bound of the subtree.
func (c *Cluster) SetLbRDS(lb wcsp.Cost) { c.lbRDS = lb }

// IsActive reports whether the subtree of c still contributes to the global
// lower bound through its clusters.
func (c *Cluster) IsActive() bool { return c.active.Get() }

// GetLbRec returns the local lower bounds summed over the active part of
// the subtree rooted at c.
func (c *Cluster) GetLbRec() wcsp.Cost {
	res := c.lb.Get()
	for _, cj := range c.edges {
		if cj.active.Get() {
			res = res.Add(cj.GetLbRec())
		}
	}
	return res
}

// GetLbRecRDS is GetLbRec where each active child contributes at least its
// Russian doll bound.
func (c *Cluster) GetLbRecRDS() wcsp.Cost {
	res := c.lb.Get()
	for _, cj := range c.edges {
		if cj.active.Get() {
			res = res.Add(max(cj.GetLbRecRDS(), cj.lbRDS))
		}
	}
	return res
}

// Reactivate marks c active again, together with the descendants whose
// nogood is not in use.
func (c *Cluster) Reactivate() {
	tr := c.td.net.Trail()
	if !c.active.Get() {
		c.active.Set(tr, true)
	}
	for _, cj := range c.edges {
		if !cj.sep.Used() {
			cj.Reactivate()
		}
	}
}

// Deactivate marks the whole subtree rooted at c inactive.
func (c *Cluster) Deactivate() {
	if !c.active.Get() {
		return
	}
	c.active.Set(c.td.net.Trail(), false)
	for _, cj := range c.edges {
		cj.Deactivate()
	}
}

// GetCurrentDeltaUb returns the cost moved out of c through its assigned
// separator variables, using the largest delta for unassigned ones.
func (c *Cluster) GetCurrentDeltaUb() wcsp.Cost {
	if c.sep == nil {
		return wcsp.MinCost
	}
	return c.sep.currentDelta(maxCost)
}

// GetCurrentDeltaLb is GetCurrentDeltaUb with the smallest delta.
func (c *Cluster) GetCurrentDeltaLb() wcsp.Cost {
	if c.sep == nil {
		return wcsp.MinCost
	}
	return c.sep.currentDelta(minCost)
}

// NogoodGet returns the cached bounds of the subproblem for the current
// separator assignment, and points Ub and Open at the cache entry. The
// separator must be fully assigned.
func (c *Cluster) NogoodGet() (lb, ub wcsp.Cost, found bool) {
	return c.sep.get()
}

// NogoodRec records bounds of the subproblem for the current separator
// assignment. Use MaxCost for ub when no solution was found.
func (c *Cluster) NogoodRec(lb, ub wcsp.Cost) {
	if c.sep != nil {
		c.sep.set(lb, ub)
	}
}

// SolutionRec stores the current values of the proper variables as the best
// solution for the current separator assignment.
func (c *Cluster) SolutionRec(ub wcsp.Cost) {
	if c.sep != nil {
		c.sep.solRec(ub)
	}
}

// SgoodGet returns the recorded solution count for the current separator
// assignment.
func (c *Cluster) SgoodGet() (*big.Int, bool) {
	return c.sep.getSg()
}

// SgoodRec records the solution count for the current separator assignment.
func (c *Cluster) SgoodRec(nb *big.Int) {
	if c.sep != nil {
		c.sep.setSg(nb)
	}
}

// ResetLbRec forgets every recorded lower bound of the subtree rooted at c.
func (c *Cluster) ResetLbRec() {
	if c.sep != nil && c.sep.Arity() > 0 {
		c.sep.resetLb()
	}
	if c.parent != nil {
		c.Open = nil
	}
	for _, cj := range c.edges {
		cj.ResetLbRec()
	}
}

// ResetUbRec forgets the upper bounds recorded below root whose separator
// meets the separator of root.
func (c *Cluster) ResetUbRec(root *Cluster) {
	if c.sep == nil || c.sep.Arity() == 0 || root.sep == nil {
		return
	}
	if len(Intersection(c.sep.vars, root.sep.vars)) > 0 {
		c.sep.resetUb()
	}
	if c.parent != nil {
		c.Open = nil
	}
	for _, cj := range c.edges {
		cj.ResetUbRec(root)
	}
}

// DeconnectSep fixes every separator variable of c to its support and
// disconnects the cost functions on them, except the separators of clusters
// strictly below c. The subtree rooted at c then becomes an independent
// subproblem.
func (c *Cluster) DeconnectSep() error {
	if c.sep == nil {
		return nil
	}
	t := c.td
	for _, x := range c.sep.vars {
		for _, f := range t.net.Var(x).Functions() {
			t.net.Deconnect(f)
		}
		for _, sp := range t.varSeps[x] {
			ck := t.clusters[sp.cluster]
			if ck.parent != nil && c.IsDescendant(ck.parent.id) {
				continue
			}
			ck.sep.deconnect()
		}
		if t.net.Unassigned(x) {
			if err := t.net.Assign(x, t.net.Support(x)); err != nil {
				return errors.Wrapf(err, "fixing separator variable %d of cluster %d", x, c.id)
			}
		}
		t.net.ClearUnary(x)
	}
	return nil
}

// GetSolution completes sol with the values recorded for the subtree rooted
// at c. The root (or the root of the Russian doll step in progress) takes
// its current values.
func (c *Cluster) GetSolution(sol []int) {
	t := c.td
	if c.parent == nil || c == t.rootRDS {
		for _, x := range c.vars {
			if t.net.Assigned(x) {
				sol[x] = t.net.Value(x)
			}
		}
	}
	if c.sep != nil {
		if values, ok := c.sep.solGet(sol); ok {
			for i, x := range c.ProperVars() {
				sol[x] = values[i]
			}
		}
	}
	for _, cj := range c.edges {
		cj.GetSolution(sol)
	}
}

// CartesianProduct returns the product of the current domain sizes of the
// variables of the subtree rooted at c.
func (c *Cluster) CartesianProduct() *big.Int {
	p := big.NewInt(1)
	for _, x := range c.varsTree {
		p.Mul(p, big.NewInt(int64(c.td.net.DomainSize(x))))
	}
	return p
}

// NbBacktracksTree sums the backtrack counters over the subtree rooted at c.
func (c *Cluster) NbBacktracksTree() int64 {
	n := c.NbBacktracks
	for _, cj := range c.edges {
		n += cj.NbBacktracksTree()
	}
	return n
}

func (c *Cluster) addEdge(cj *Cluster) {
	for _, e := range c.edges {
		if e == cj {
			return
		}
	}
	i := sort.Search(len(c.edges), func(i int) bool { return c.edges[i].instance >= cj.instance })
	c.edges = append(c.edges, nil)
	copy(c.edges[i+1:], c.edges[i:])
	c.edges[i] = cj
}

func (c *Cluster) removeEdge(cj *Cluster) {
	for i, e := range c.edges {
		if e == cj {
			c.edges = append(c.edges[:i], c.edges[i+1:]...)
			return
		}
	}
}

func (c *Cluster) hasEdge(cj *Cluster) bool {
	for _, e := range c.edges {
		if e == cj {
			return true
		}
	}
	return false
}

// sortEdges fixes the search order of the children.
func (c *Cluster) sortEdges() {
	c.children = append(c.children[:0], c.edges...)
	sort.SliceStable(c.children, func(i, j int) bool {
		a, b := c.children[i], c.children[j]
		if a.SepSize() != b.SepSize() {
			return a.SepSize() < b.SepSize()
		}
		if len(a.varsTree) != len(b.varsTree) {
			return len(a.varsTree) < len(b.varsTree)
		}
		return a.id < b.id
	})
}

func (c *Cluster) setup() {
	if c.sep != nil {
		c.sep.setup()
	}
	c.CP = hbfs.NewCPStore(c.td.net.Trail())
}

// Print writes the cluster, its separator and its children.
func (c *Cluster) Print(w io.Writer) {
	fmt.Fprintf(w, "cluster %d vars %v", c.id, []int(c.ProperVars()))
	if c.sep != nil {
		fmt.Fprintf(w, " sep %v", []int(c.sep.vars))
	}
	fmt.Fprintf(w, " C%d{", len(c.funcs))
	for i, f := range c.funcs {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, c.td.net.Func(f).Scope())
	}
	fmt.Fprint(w, "}")
	if len(c.children) > 0 {
		fmt.Fprint(w, " sons {")
		for i, cj := range c.children {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, cj.id)
		}
		fmt.Fprint(w, "}")
	}
	fmt.Fprintln(w)
}
