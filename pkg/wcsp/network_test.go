package wcsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoVarNetwork builds x,y in {0,1} with u_x = [0,3] and f(x,y) = 5*(x!=y).
func twoVarNetwork(t *testing.T) *Network {
	t.Helper()
	n := NewNetwork("pair")
	x, err := n.AddVariable("x", 2)
	require.NoError(t, err)
	y, err := n.AddVariable("y", 2)
	require.NoError(t, err)
	require.NoError(t, n.AddUnary(x, []Cost{0, 3}))
	_, err = n.AddCostFunction([]int{x, y}, []Cost{0, 5, 5, 0})
	require.NoError(t, err)
	return n
}

func TestPropagateProjectsAssignedFunctions(t *testing.T) {
	n := twoVarNetwork(t)
	require.NoError(t, n.Propagate())
	assert.Equal(t, MinCost, n.Lb())

	n.Store()
	require.NoError(t, n.Assign(0, 1))
	require.NoError(t, n.Propagate())
	assert.Equal(t, Cost(3), n.Lb())
	assert.Equal(t, Cost(5), n.Var(1).Unary(0))
	assert.Equal(t, MinCost, n.Var(1).Unary(1))
	assert.Equal(t, 0, n.Degree(1))

	n.Restore(0)
	assert.Equal(t, MinCost, n.Lb())
	assert.Equal(t, 2, n.DomainSize(0))
	assert.Equal(t, MinCost, n.Var(1).Unary(0))
	assert.Equal(t, 1, n.Degree(1))
}

func TestPropagatePrunesAgainstUb(t *testing.T) {
	n := twoVarNetwork(t)
	n.SetUb(4)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(0, 1))
	require.NoError(t, n.Propagate())
	assert.True(t, n.Assigned(1))
	assert.Equal(t, 1, n.Value(1))
	n.Restore(0)
	assert.True(t, n.Unassigned(1))
}

func TestPropagateDetectsContradiction(t *testing.T) {
	n := twoVarNetwork(t)
	require.NoError(t, n.Propagate())

	n.Store()
	n.SetUb(3)
	require.NoError(t, n.Assign(0, 1))
	assert.ErrorIs(t, n.Propagate(), ErrContradiction)
	n.Restore(0)
	assert.Positive(t, n.WeightedDegree(0))
}

func TestDomainOperations(t *testing.T) {
	n := NewNetwork("ops")
	x, err := n.AddVariable("x", 5)
	require.NoError(t, err)

	n.Store()
	require.NoError(t, n.Increase(x, 1))
	require.NoError(t, n.Decrease(x, 3))
	assert.Equal(t, []int{1, 2, 3}, n.Var(x).Values())
	require.NoError(t, n.Remove(x, 2))
	assert.Equal(t, 2, n.DomainSize(x))
	assert.ErrorIs(t, n.RemoveValues(x, []int{1, 3}), ErrContradiction)
	require.NoError(t, n.RemoveValues(x, []int{3}))
	assert.Equal(t, 1, n.Value(x))
	assert.ErrorIs(t, n.Remove(x, 1), ErrContradiction)
	assert.ErrorIs(t, n.Assign(x, 4), ErrContradiction)
	assert.ErrorIs(t, n.Increase(x, 2), ErrContradiction)
	assert.ErrorIs(t, n.Decrease(x, 0), ErrContradiction)
	n.Restore(0)
	assert.Equal(t, 5, n.DomainSize(x))
	assert.Equal(t, 0, n.Inf(x))
	assert.Equal(t, 4, n.Sup(x))
}

func TestEvaluateUsesOriginalCosts(t *testing.T) {
	n := twoVarNetwork(t)
	require.NoError(t, n.Propagate())
	n.Store()
	require.NoError(t, n.Assign(0, 1))
	require.NoError(t, n.Propagate())

	assert.Equal(t, Cost(3), n.Evaluate([]int{1, 1}))
	assert.Equal(t, Cost(8), n.Evaluate([]int{1, 0}))
	assert.Equal(t, MaxCost, n.Evaluate([]int{1}))
	assert.Equal(t, 2.0, n.CartesianProduct())
}

func TestAddTuplesValidatesInput(t *testing.T) {
	n := NewNetwork("bad")
	x, _ := n.AddVariable("x", 2)
	y, _ := n.AddVariable("y", 3)

	_, err := n.AddTuples([]int{x, y}, 1, [][]int{{1, 3}}, []Cost{0})
	assert.ErrorIs(t, err, ErrInvalidProblem)
	_, err = n.AddCostFunction([]int{x, x}, []Cost{0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidProblem)
	_, err = n.AddCostFunction([]int{x, y}, []Cost{0})
	assert.ErrorIs(t, err, ErrInvalidProblem)

	f, err := n.AddTuples([]int{x, y}, 1, [][]int{{1, 2}}, []Cost{7})
	require.NoError(t, err)
	assert.Equal(t, Cost(7), n.Func(f).Eval(func(v int) int { return []int{1, 2}[v] }))
	assert.Equal(t, Cost(1), n.Func(f).Eval(func(v int) int { return []int{0, 2}[v] }))
}
