package wcsp

import (
	"github.com/pkg/errors"
)

// Decomposition is the view of a tree decomposition that the network needs
// while propagating. It is implemented by td.TreeDecomposition.
type Decomposition interface {
	// IncreaseClusterLb charges c to the local lower bound of a cluster.
	IncreaseClusterLb(cluster int, c Cost)
	// AddDelta records that cost c for value a of variable x left the
	// subproblem of cluster through its separator.
	AddDelta(cluster, x, a int, c Cost)
	// ActiveInCurrentSubtree reports whether cluster is active and lies in
	// the subtree of the cluster being searched.
	ActiveInCurrentSubtree(cluster int) bool
	// PropagateSeparators exploits the nogoods of fully assigned separators.
	PropagateSeparators() error
}

// Network is a weighted constraint satisfaction problem together with its
// reversible search state.
//
// Thread Safety: a Network is owned by a single search and is not safe for
// concurrent use. Solve independent problems on independent networks.
type Network struct {
	name  string
	trail Trail
	vars  []*Variable
	funcs []*CostFunction

	lb Cell[Cost]
	ub Cost

	td Decomposition

	pending   []int
	isPending []bool
	started   bool

	nbPropagations int64
}

// NewNetwork returns an empty network with ub = MaxCost.
func NewNetwork(name string) *Network {
	return &Network{name: name, ub: MaxCost}
}

// Name returns the problem name.
func (n *Network) Name() string { return n.name }

// AddVariable appends a variable with domain 0..size-1 and returns its index.
func (n *Network) AddVariable(name string, size int) (int, error) {
	if size <= 0 {
		return -1, errors.Wrapf(ErrInvalidProblem, "variable %q has an empty domain", name)
	}
	if n.started {
		return -1, errors.Wrap(ErrInvalidProblem, "variables cannot be added after propagation started")
	}
	v := newVariable(len(n.vars), name, size)
	n.vars = append(n.vars, v)
	return v.index, nil
}

// AddUnary adds costs[a] to the unary cost of every value a of x.
func (n *Network) AddUnary(x int, costs []Cost) error {
	if x < 0 || x >= len(n.vars) {
		return errors.Wrapf(ErrInvalidProblem, "unknown variable %d", x)
	}
	v := n.vars[x]
	if len(costs) != len(v.domain) {
		return errors.Wrapf(ErrInvalidProblem, "variable %q expects %d unary costs, got %d", v.name, len(v.domain), len(costs))
	}
	for a, c := range costs {
		if c < MinCost {
			return errors.Wrapf(ErrInvalidProblem, "negative unary cost on %q", v.name)
		}
		v.unary[a] = v.unary[a].Add(c)
		v.initial[a] = v.initial[a].Add(c)
	}
	return nil
}

// AddCostFunction adds a cost function given as a dense table and returns its
// index. See CostFunction for the table layout.
func (n *Network) AddCostFunction(scope []int, table []Cost) (int, error) {
	if len(scope) == 0 {
		return -1, errors.Wrap(ErrInvalidProblem, "cost function with an empty scope")
	}
	if n.started {
		return -1, errors.Wrap(ErrInvalidProblem, "cost functions cannot be added after propagation started")
	}
	sizes := make([]int, len(scope))
	seen := make(map[int]bool, len(scope))
	for i, x := range scope {
		if x < 0 || x >= len(n.vars) {
			return -1, errors.Wrapf(ErrInvalidProblem, "unknown variable %d in scope", x)
		}
		if seen[x] {
			return -1, errors.Wrapf(ErrInvalidProblem, "variable %q repeated in scope", n.vars[x].name)
		}
		seen[x] = true
		sizes[i] = len(n.vars[x].domain)
	}
	f, err := newCostFunction(len(n.funcs), append([]int(nil), scope...), sizes, table)
	if err != nil {
		return -1, err
	}
	n.funcs = append(n.funcs, f)
	for _, x := range scope {
		n.vars[x].funcs = append(n.vars[x].funcs, f.index)
	}
	return f.index, nil
}

// AddTuples adds a cost function whose cost is defCost except for the listed
// tuples.
func (n *Network) AddTuples(scope []int, defCost Cost, tuples [][]int, costs []Cost) (int, error) {
	if len(tuples) != len(costs) {
		return -1, errors.Wrap(ErrInvalidProblem, "tuples and costs differ in length")
	}
	size := 1
	for _, x := range scope {
		if x < 0 || x >= len(n.vars) {
			return -1, errors.Wrapf(ErrInvalidProblem, "unknown variable %d in scope", x)
		}
		if size > maxTableSize/len(n.vars[x].domain) {
			return -1, errors.Wrapf(ErrInvalidProblem, "cost table over %d variables is too large", len(scope))
		}
		size *= len(n.vars[x].domain)
	}
	table := make([]Cost, size)
	for i := range table {
		table[i] = defCost
	}
	for k, t := range tuples {
		if len(t) != len(scope) {
			return -1, errors.Wrapf(ErrInvalidProblem, "tuple %v does not match scope arity %d", t, len(scope))
		}
		pos := 0
		for i, x := range scope {
			if t[i] < 0 || t[i] >= len(n.vars[x].domain) {
				return -1, errors.Wrapf(ErrInvalidProblem, "value %d out of domain of %q", t[i], n.vars[x].name)
			}
			pos = pos*len(n.vars[x].domain) + t[i]
		}
		table[pos] = costs[k]
	}
	return n.AddCostFunction(scope, table)
}

// NumVariables returns the number of variables.
func (n *Network) NumVariables() int { return len(n.vars) }

// NumCostFunctions returns the number of n-ary cost functions.
func (n *Network) NumCostFunctions() int { return len(n.funcs) }

// NumConnectedCostFunctions returns the number of cost functions that still
// involve at least two unassigned variables or have not been projected.
func (n *Network) NumConnectedCostFunctions() int {
	k := 0
	for _, f := range n.funcs {
		if !f.done.Get() {
			k++
		}
	}
	return k
}

// Var returns variable x.
func (n *Network) Var(x int) *Variable { return n.vars[x] }

// Func returns cost function f.
func (n *Network) Func(f int) *CostFunction { return n.funcs[f] }

// Trail returns the reversible store shared by all search state.
func (n *Network) Trail() *Trail { return &n.trail }

// Store opens a checkpoint.
func (n *Network) Store() { n.trail.Store() }

// Restore rolls back to the given checkpoint depth.
func (n *Network) Restore(depth int) { n.trail.Restore(depth) }

// Depth returns the current checkpoint depth.
func (n *Network) Depth() int { return n.trail.Depth() }

// SetDecomposition attaches (or detaches, with nil) a tree decomposition.
func (n *Network) SetDecomposition(td Decomposition) { n.td = td }

// SetVarCluster sets the home cluster of x.
func (n *Network) SetVarCluster(x, cluster int) { n.vars[x].cluster = cluster }

// SetFuncCluster sets the cluster owning cost function f.
func (n *Network) SetFuncCluster(f, cluster int) { n.funcs[f].cluster = cluster }

// Lb returns the global lower bound.
func (n *Network) Lb() Cost { return n.lb.Get() }

// SetLb overwrites the global lower bound (reversible).
func (n *Network) SetLb(c Cost) { n.lb.Set(&n.trail, c) }

// Ub returns the global upper bound.
func (n *Network) Ub() Cost { return n.ub }

// SetUb overwrites the global upper bound. The upper bound is not reversible.
func (n *Network) SetUb(c Cost) { n.ub = c }

// UpdateUb lowers the upper bound to c if c is better.
func (n *Network) UpdateUb(c Cost) { n.ub = min(n.ub, c) }

// EnforceUb fails with ErrContradiction if lb already reaches ub.
func (n *Network) EnforceUb() error {
	if Cut(n.lb.Get(), n.ub) {
		return ErrContradiction
	}
	return nil
}

// ProjectLB moves c into the global lower bound and charges it to cluster.
func (n *Network) ProjectLB(cluster int, c Cost) {
	if c == MinCost {
		return
	}
	n.lb.Set(&n.trail, n.lb.Get().Add(c))
	if n.td != nil && cluster >= 0 {
		n.td.IncreaseClusterLb(cluster, c)
	}
}

// Unassigned reports whether x has more than one value left.
func (n *Network) Unassigned(x int) bool { return n.vars[x].size > 1 }

// Assigned reports whether x is assigned.
func (n *Network) Assigned(x int) bool { return n.vars[x].size == 1 }

// CanBe reports whether a is in the domain of x.
func (n *Network) CanBe(x, a int) bool { return n.vars[x].CanBe(a) }

// DomainSize returns the current domain size of x.
func (n *Network) DomainSize(x int) int { return n.vars[x].size }

// Inf returns the smallest value of x.
func (n *Network) Inf(x int) int { return n.vars[x].Inf() }

// Sup returns the largest value of x.
func (n *Network) Sup(x int) int { return n.vars[x].Sup() }

// Value returns the value of an assigned variable, -1 otherwise.
func (n *Network) Value(x int) int { return n.vars[x].Value() }

// Support returns the value of x with the smallest unary cost.
func (n *Network) Support(x int) int { return n.vars[x].Support() }

// BestValue returns the value x took in the last improving solution, or -1.
func (n *Network) BestValue(x int) int { return n.vars[x].best }

// SetBestValue records the value of x in an improving solution.
func (n *Network) SetBestValue(x, a int) { n.vars[x].best = a }

// MaxUnaryCost returns the largest unary cost left in the domain of x.
func (n *Network) MaxUnaryCost(x int) Cost { return n.vars[x].MaxUnary() }

// Degree returns the number of cost functions of x not yet projected.
func (n *Network) Degree(x int) int {
	d := 0
	for _, f := range n.vars[x].funcs {
		if !n.funcs[f].done.Get() {
			d++
		}
	}
	return d
}

// WeightedDegree returns the conflict weight of x plus the weights of its
// cost functions not yet projected.
func (n *Network) WeightedDegree(x int) int64 {
	w := n.vars[x].weight
	for _, f := range n.vars[x].funcs {
		if !n.funcs[f].done.Get() {
			w += 1 + n.funcs[f].weight
		}
	}
	return w
}

// Deconnect disables cost function f without charging its cost. The
// function is reconnected on backtrack.
func (n *Network) Deconnect(f int) { n.funcs[f].done.Set(&n.trail, true) }

// Connected reports whether f still takes part in propagation.
func (n *Network) Connected(f int) bool { return !n.funcs[f].done.Get() }

// NumPropagations returns how many times Propagate was called.
func (n *Network) NumPropagations() int64 { return n.nbPropagations }

// Assignment returns the current value of every variable, -1 for
// unassigned ones.
func (n *Network) Assignment() []int {
	sol := make([]int, len(n.vars))
	for i, v := range n.vars {
		sol[i] = v.Value()
	}
	return sol
}

// Evaluate returns the cost of a complete assignment under the original
// problem definition, or MaxCost if sol is not complete.
func (n *Network) Evaluate(sol []int) Cost {
	if len(sol) != len(n.vars) {
		return MaxCost
	}
	total := MinCost
	for i, v := range n.vars {
		if sol[i] < 0 || sol[i] >= len(v.domain) {
			return MaxCost
		}
		total = total.Add(v.initial[sol[i]])
	}
	for _, f := range n.funcs {
		total = total.Add(f.Eval(func(x int) int { return sol[x] }))
	}
	return total
}

// CartesianProduct returns the product of the current domain sizes as a
// float64, which is exact up to 2^53.
func (n *Network) CartesianProduct() float64 {
	p := 1.0
	for _, v := range n.vars {
		p *= float64(v.size)
	}
	return p
}

// ClearUnary drops the unary costs of x without charging them to lb. It is
// used when x is fixed outside the subproblem being solved.
func (n *Network) ClearUnary(x int) {
	v := n.vars[x]
	for a, c := range v.unary {
		if c != MinCost {
			n.subUnary(v, a, c)
		}
	}
}
