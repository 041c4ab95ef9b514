package td

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// chainNetwork builds x0 - x1 - x2 - x3 over {0,1} with one binary function
// per edge. f(x1,x2) costs 5 when its values differ, the others are free.
func chainNetwork(t *testing.T) *wcsp.Network {
	t.Helper()
	n := wcsp.NewNetwork("chain")
	for i := 0; i < 4; i++ {
		_, err := n.AddVariable("x"+string(rune('0'+i)), 2)
		require.NoError(t, err)
	}
	zero := []wcsp.Cost{0, 0, 0, 0}
	_, err := n.AddCostFunction([]int{0, 1}, zero)
	require.NoError(t, err)
	_, err = n.AddCostFunction([]int{1, 2}, []wcsp.Cost{0, 5, 5, 0})
	require.NoError(t, err)
	_, err = n.AddCostFunction([]int{2, 3}, zero)
	require.NoError(t, err)
	return n
}

func chainDecomposition(t *testing.T) (*wcsp.Network, *TreeDecomposition) {
	t.Helper()
	n := chainNetwork(t)
	opts := DefaultOptions()
	opts.Order = wcsp.OrderLexicographic
	td, err := New(n, opts)
	require.NoError(t, err)
	return n, td
}

func TestBuildFromOrderOnChain(t *testing.T) {
	n, td := chainDecomposition(t)

	require.Equal(t, 3, td.NumClusters())
	root := td.Root()
	assert.Equal(t, 0, root.ID())
	assert.Equal(t, VarSet{0, 1}, root.Vars())
	assert.Nil(t, root.Sep())

	c1, c2 := td.Cluster(1), td.Cluster(2)
	assert.Equal(t, VarSet{1, 2}, c1.Vars())
	assert.Equal(t, VarSet{1}, c1.SepVars())
	assert.Equal(t, VarSet{2}, c2.SepVars())
	assert.Same(t, c1, c2.Parent())
	assert.Equal(t, []*Cluster{c1}, root.Children())

	assert.Equal(t, 1, td.Treewidth())
	assert.Equal(t, 4, td.Height())
	assert.Equal(t, 2, td.MaxDepth())
	assert.Equal(t, VarSet{0, 1, 2, 3}, root.VarsTree())
	assert.True(t, root.IsDescendant(2))
	assert.False(t, c2.IsDescendant(1))

	assert.Equal(t, 0, n.Var(1).Cluster(), "x1 belongs to the separator of cluster 1")
	assert.Equal(t, 2, n.Var(3).Cluster())
	assert.Equal(t, 0, n.Func(0).Cluster())
	assert.Equal(t, 1, n.Func(1).Cluster())
	assert.Equal(t, 2, n.Func(2).Cluster())

	assert.Same(t, root, td.LowestCommonAncestor(c2, root))
	assert.Same(t, c1, td.LowestCommonAncestor(c1, c2))
	assert.NoError(t, td.Verify())
}

func TestPathDecomposition(t *testing.T) {
	n := chainNetwork(t)
	opts := DefaultOptions()
	opts.Order = wcsp.OrderLexicographic
	opts.PathDecomposition = true
	td, err := New(n, opts)
	require.NoError(t, err)

	require.NoError(t, td.Verify())
	for _, c := range td.Clusters() {
		assert.LessOrEqual(t, len(c.Children()), 1, "cluster %d", c.ID())
	}
}

func TestForestGetsMetaRoot(t *testing.T) {
	n := wcsp.NewNetwork("forest")
	for _, name := range []string{"a", "b"} {
		_, err := n.AddVariable(name, 3)
		require.NoError(t, err)
	}
	td, err := New(n, DefaultOptions())
	require.NoError(t, err)

	root := td.Root()
	assert.Equal(t, 2, root.ID())
	assert.Equal(t, 0, root.NbVars())
	assert.Len(t, root.Children(), 2)
	for _, c := range root.Children() {
		require.NotNil(t, c.Sep())
		assert.Equal(t, 0, c.Sep().Arity())
	}
	assert.Equal(t, "9", root.CartesianProduct().String())
}

func TestBuildFromCovering(t *testing.T) {
	n := chainNetwork(t)
	td, err := BuildFromCovering(n, strings.NewReader("# chain\n0 -1 0 1\n1 0 1 2\n\n2 1 2 3\n"), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, td.Verify())
	assert.Equal(t, VarSet{0, 1}, td.Root().Vars())
	assert.Equal(t, VarSet{2}, td.Cluster(2).SepVars())

	var buf bytes.Buffer
	require.NoError(t, td.WriteCovering(&buf))
	assert.Equal(t, "0 -1 0 1\n1 0 1 2\n2 1 2 3\n", buf.String())
}

func TestBuildFromCoveringRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name     string
		covering string
	}{
		{"parent defined later", "0 -1 0 1\n1 2 1 2\n2 0 2 3\n"},
		{"missing variable", "0 -1 0 1\n1 0 1 2\n"},
		{"uncovered function", "0 -1 0 1\n1 0 1 3\n2 1 2\n"},
		{"not a number", "0 -1 0 x\n"},
		{"duplicate id", "0 -1 0 1\n0 -1 2 3\n"},
		{"empty", "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFromCovering(chainNetwork(t), strings.NewReader(tt.covering), DefaultOptions())
			assert.ErrorIs(t, err, ErrMalformedDecomposition)
		})
	}
}

func TestNogoodBoundsOnlyTighten(t *testing.T) {
	n, td := chainDecomposition(t)
	c1 := td.Cluster(1)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(1, 0))
	_, _, found := c1.NogoodGet()
	assert.False(t, found)
	assert.Equal(t, wcsp.MaxCost, c1.Ub())

	c1.NogoodRec(3, 7)
	c1.NogoodRec(2, 9)
	c1.NogoodRec(4, wcsp.MaxCost)
	lb, ub, found := c1.NogoodGet()
	assert.True(t, found)
	assert.Equal(t, wcsp.Cost(4), lb)
	assert.Equal(t, wcsp.Cost(7), ub)
	assert.Equal(t, wcsp.Cost(7), c1.Ub())
	n.Restore(0)

	// The other separator value has its own entry, and RDS mode falls back
	// to the Russian doll bound on a miss.
	td.SetSearchMode(false, true, false)
	c1.SetLbRDS(5)
	n.Store()
	require.NoError(t, n.Assign(1, 1))
	lb, ub, found = c1.NogoodGet()
	assert.False(t, found)
	assert.Equal(t, wcsp.Cost(5), lb)
	assert.Equal(t, wcsp.MaxCost, ub)
	n.Restore(0)
}

func TestNogoodBoundsAreMonotone(t *testing.T) {
	n, td := chainDecomposition(t)
	c1 := td.Cluster(1)
	require.NoError(t, n.Propagate())

	rng := rand.New(rand.NewSource(11))
	lbs := []wcsp.Cost{wcsp.MinCost, wcsp.MinCost}
	ubs := []wcsp.Cost{wcsp.MaxCost, wcsp.MaxCost}
	for i := 0; i < 200; i++ {
		a := rng.Intn(2)
		lb := wcsp.Cost(rng.Intn(20))
		ub := wcsp.MaxCost
		if rng.Intn(4) > 0 {
			ub = lb + wcsp.Cost(rng.Intn(20))
		}

		n.Store()
		require.NoError(t, n.Assign(1, a))
		c1.NogoodRec(lb, ub)
		lbs[a], ubs[a] = max(lbs[a], lb), min(ubs[a], ub)
		got, gotUb, found := c1.NogoodGet()
		require.True(t, found)
		require.Equal(t, lbs[a], got, "step %d", i)
		require.Equal(t, ubs[a], gotUb, "step %d", i)
		n.Restore(0)
	}
}

func TestCurrentLbRecRDSCoversRussianDollBound(t *testing.T) {
	n, td := chainDecomposition(t)
	c1, c2 := td.Cluster(1), td.Cluster(2)
	require.NoError(t, n.Propagate())

	n.Store()
	td.SetCurrentCluster(c1)
	c2.SetLbRDS(2)
	assert.Equal(t, wcsp.Cost(2), c1.GetLbRecRDS())
	assert.Equal(t, wcsp.Cost(2), td.GetLbRecRDS())

	c1.SetLbRDS(6)
	assert.Equal(t, wcsp.Cost(2), c1.GetLbRecRDS())
	assert.Equal(t, wcsp.Cost(6), td.GetLbRecRDS())
	n.Restore(0)
}

func TestDeconnectSepFixesSeparator(t *testing.T) {
	n, td := chainDecomposition(t)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, td.Root().DeconnectSep())
	require.NoError(t, td.Cluster(2).DeconnectSep())
	assert.False(t, n.Unassigned(2))
	assert.True(t, n.Unassigned(1))
	n.Restore(0)
	assert.True(t, n.Unassigned(2))
}

func TestNogoodSharesOpenListWithHBFS(t *testing.T) {
	n, td := chainDecomposition(t)
	td.SetSearchMode(true, false, false)
	c1 := td.Cluster(1)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(1, 0))
	assert.Nil(t, c1.Open)
	c1.NogoodRec(0, wcsp.MaxCost)
	require.NotNil(t, c1.Open)
	open := c1.Open

	c1.Open = nil
	_, _, found := c1.NogoodGet()
	assert.True(t, found)
	assert.Same(t, open, c1.Open)
	n.Restore(0)
}

func TestDeltaFollowsCostMovedAcrossSeparator(t *testing.T) {
	n, td := chainDecomposition(t)
	c1 := td.Cluster(1)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(2, 0))
	require.NoError(t, n.Propagate())
	// f(x1,x2) now charges 5 to x1=1 and x1 lives above cluster 1.
	assert.Equal(t, wcsp.Cost(5), n.Var(1).Unary(1))
	assert.Equal(t, wcsp.Cost(5), c1.GetCurrentDeltaUb())
	assert.Equal(t, wcsp.MinCost, c1.GetCurrentDeltaLb())

	n.Store()
	require.NoError(t, n.Assign(1, 1))
	require.NoError(t, n.Propagate())
	assert.Equal(t, wcsp.Cost(5), c1.GetCurrentDeltaLb())
	assert.Equal(t, wcsp.Cost(5), n.Lb())
	assert.Equal(t, wcsp.Cost(5), td.Root().Lb())

	n.Restore(0)
	assert.Equal(t, wcsp.MinCost, c1.GetCurrentDeltaUb())
	assert.Equal(t, wcsp.MinCost, td.Root().Lb())
}

func TestSeparatorChargesNogoodInAdvance(t *testing.T) {
	n, td := chainDecomposition(t)
	root, c1, c2 := td.Root(), td.Cluster(1), td.Cluster(2)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(1, 0))
	c1.NogoodRec(4, 4)
	n.Restore(0)

	n.Store()
	require.NoError(t, n.Assign(1, 0))
	require.NoError(t, n.Propagate())
	assert.True(t, c1.Sep().Used())
	assert.False(t, c1.IsActive())
	assert.False(t, c2.IsActive())
	assert.Equal(t, wcsp.Cost(4), n.Lb())
	assert.Equal(t, wcsp.Cost(4), root.Lb())
	assert.Equal(t, int64(1), c1.Sep().NumUses())

	n.Restore(0)
	assert.False(t, c1.Sep().Used())
	assert.True(t, c1.IsActive())
	assert.True(t, c2.IsActive())
	assert.Equal(t, wcsp.MinCost, n.Lb())
}

func TestCurrentClusterIsReversible(t *testing.T) {
	n, td := chainDecomposition(t)
	root, c1 := td.Root(), td.Cluster(1)

	n.Store()
	td.SetCurrentCluster(c1)
	assert.False(t, td.InCurrentSubtree(root.ID()))
	assert.True(t, td.InCurrentSubtree(2))
	c1.Deactivate()
	assert.False(t, td.ActiveInCurrentSubtree(2))
	n.Restore(0)

	assert.Same(t, root, td.CurrentCluster())
	assert.True(t, td.ActiveInCurrentSubtree(2))
}

func TestResetUbRecKeepsUnrelatedSeparators(t *testing.T) {
	n, td := chainDecomposition(t)
	c1, c2 := td.Cluster(1), td.Cluster(2)
	require.NoError(t, n.Propagate())

	n.Store()
	require.NoError(t, n.Assign(1, 0))
	require.NoError(t, n.Assign(2, 0))
	c1.NogoodRec(1, 2)
	c2.NogoodRec(1, 3)
	c1.ResetUbRec(c1)
	_, ub1, _ := c1.NogoodGet()
	_, ub2, _ := c2.NogoodGet()
	assert.Equal(t, wcsp.MaxCost, ub1)
	assert.Equal(t, wcsp.Cost(3), ub2, "separator {x2} does not meet {x1}")

	c1.ResetLbRec()
	lb2, _, _ := c2.NogoodGet()
	assert.Equal(t, wcsp.MinCost, lb2)
	n.Restore(0)
}

func TestPrint(t *testing.T) {
	_, td := chainDecomposition(t)
	var buf bytes.Buffer
	td.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "3 clusters")
	assert.Contains(t, out, "cluster 2 vars [3] sep [2]")
}
