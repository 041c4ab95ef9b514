package wcsp

// Variable is an enumerated variable with values 0..InitialSize()-1.
//
// The domain and the unary costs are reversible. Degree statistics and the
// conflict weight are not: they accumulate over the whole search.
type Variable struct {
	index   int
	name    string
	domain  []bool
	size    int
	unary   []Cost
	initial []Cost // unary costs as defined, never modified

	funcs   []int // cost functions whose scope contains this variable
	cluster int   // home cluster, -1 without decomposition
	weight  int64 // conflict weight
	best    int   // last value in an improving solution, -1 if none
}

func newVariable(index int, name string, size int) *Variable {
	v := &Variable{
		index:   index,
		name:    name,
		domain:  make([]bool, size),
		size:    size,
		unary:   make([]Cost, size),
		initial: make([]Cost, size),
		cluster: -1,
		best:    -1,
	}
	for a := range v.domain {
		v.domain[a] = true
	}
	return v
}

// Index returns the position of the variable in its network.
func (v *Variable) Index() int { return v.index }

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// InitialSize returns the size of the initial domain.
func (v *Variable) InitialSize() int { return len(v.domain) }

// Size returns the current domain size.
func (v *Variable) Size() int { return v.size }

// Assigned reports whether the domain is a singleton.
func (v *Variable) Assigned() bool { return v.size == 1 }

// CanBe reports whether a is still in the domain.
func (v *Variable) CanBe(a int) bool {
	return a >= 0 && a < len(v.domain) && v.domain[a]
}

// Inf returns the smallest value in the domain.
func (v *Variable) Inf() int {
	for a, in := range v.domain {
		if in {
			return a
		}
	}
	return -1
}

// Sup returns the largest value in the domain.
func (v *Variable) Sup() int {
	for a := len(v.domain) - 1; a >= 0; a-- {
		if v.domain[a] {
			return a
		}
	}
	return -1
}

// Value returns the assigned value, or -1 if the variable is unassigned.
func (v *Variable) Value() int {
	if v.size != 1 {
		return -1
	}
	return v.Inf()
}

// Values returns the current domain in increasing order.
func (v *Variable) Values() []int {
	vals := make([]int, 0, v.size)
	for a, in := range v.domain {
		if in {
			vals = append(vals, a)
		}
	}
	return vals
}

// Unary returns the current unary cost of a.
func (v *Variable) Unary(a int) Cost { return v.unary[a] }

// Support returns the domain value with the smallest unary cost, the smallest
// such value on ties.
func (v *Variable) Support() int {
	best, bestCost := -1, MaxCost
	for a, in := range v.domain {
		if in && (best < 0 || v.unary[a] < bestCost) {
			best, bestCost = a, v.unary[a]
		}
	}
	return best
}

// MaxUnary returns the largest unary cost over the current domain.
func (v *Variable) MaxUnary() Cost {
	m := MinCost
	for a, in := range v.domain {
		if in && v.unary[a] > m {
			m = v.unary[a]
		}
	}
	return m
}

// Cluster returns the home cluster of the variable.
func (v *Variable) Cluster() int { return v.cluster }

// Functions returns the indexes of the cost functions involving v.
func (v *Variable) Functions() []int { return v.funcs }
