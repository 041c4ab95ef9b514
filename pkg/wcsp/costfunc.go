package wcsp

import "github.com/pkg/errors"

// maxTableSize bounds the number of entries of a cost table.
const maxTableSize = 1 << 24

// CostFunction is an n-ary cost function given in extension as a dense table.
// Entry order is lexicographic on the scope, the last variable varying fastest.
//
// Tables are never modified by search. Once all but one of its variables are
// assigned the function is projected onto the remaining variable and becomes
// inactive until the search backtracks above that point.
type CostFunction struct {
	index   int
	scope   []int
	strides []int
	table   []Cost
	cluster int
	done    Cell[bool]
	weight  int64
}

func newCostFunction(index int, scope []int, sizes []int, table []Cost) (*CostFunction, error) {
	strides := make([]int, len(scope))
	n := 1
	for i := len(scope) - 1; i >= 0; i-- {
		strides[i] = n
		if n > maxTableSize/max(sizes[i], 1) {
			return nil, errors.Wrapf(ErrInvalidProblem, "cost table over %d variables is too large", len(scope))
		}
		n *= sizes[i]
	}
	if len(table) != n {
		return nil, errors.Wrapf(ErrInvalidProblem, "cost table has %d entries, scope needs %d", len(table), n)
	}
	for _, c := range table {
		if c < MinCost {
			return nil, errors.Wrapf(ErrInvalidProblem, "negative cost %d", c)
		}
	}
	return &CostFunction{
		index:   index,
		scope:   scope,
		strides: strides,
		table:   table,
		cluster: -1,
	}, nil
}

// Index returns the position of the function in its network.
func (f *CostFunction) Index() int { return f.index }

// Scope returns the variable indexes of the function.
func (f *CostFunction) Scope() []int { return f.scope }

// Arity returns the number of variables in the scope.
func (f *CostFunction) Arity() int { return len(f.scope) }

// Cluster returns the cluster the function was assigned to, -1 if none.
func (f *CostFunction) Cluster() int { return f.cluster }

// Eval returns the cost of the tuple whose i-th value is value(scope[i]).
func (f *CostFunction) Eval(value func(x int) int) Cost {
	pos := 0
	for i, x := range f.scope {
		pos += value(x) * f.strides[i]
	}
	return f.table[pos]
}
