package search

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// ladderNetwork builds n variables over dom values, with a binary function
// on every (i, i+1) and on every (i, i+2) for even i, so that its
// treewidth is 2. Costs are drawn from seed; a cost is zero with
// probability 1-density.
func ladderNetwork(t *testing.T, seed int64, n, dom int, density float64) *wcsp.Network {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	cost := func() wcsp.Cost {
		if rng.Float64() < density {
			return wcsp.Cost(1 + rng.Intn(4))
		}
		return wcsp.MinCost
	}
	net := wcsp.NewNetwork(fmt.Sprintf("ladder-%d", seed))
	for i := 0; i < n; i++ {
		x, err := net.AddVariable(fmt.Sprintf("x%d", i), dom)
		require.NoError(t, err)
		unary := make([]wcsp.Cost, dom)
		for a := range unary {
			unary[a] = cost()
		}
		require.NoError(t, net.AddUnary(x, unary))
	}
	binary := func(x, y int) {
		table := make([]wcsp.Cost, dom*dom)
		for k := range table {
			table[k] = cost()
		}
		_, err := net.AddCostFunction([]int{x, y}, table)
		require.NoError(t, err)
	}
	for i := 0; i+1 < n; i++ {
		binary(i, i+1)
		if i%2 == 0 && i+2 < n {
			binary(i, i+2)
		}
	}
	return net
}

// bruteForce returns the optimum of net and the number of assignments of
// cost zero.
func bruteForce(net *wcsp.Network) (wcsp.Cost, int64) {
	n := net.NumVariables()
	sol := make([]int, n)
	best := wcsp.MaxCost
	var zeros int64
	for {
		c := net.Evaluate(sol)
		best = min(best, c)
		if c == wcsp.MinCost {
			zeros++
		}
		i := n - 1
		for ; i >= 0; i-- {
			sol[i]++
			if sol[i] < net.Var(i).InitialSize() {
				break
			}
			sol[i] = 0
		}
		if i < 0 {
			return best, zeros
		}
	}
}

// randomNetwork builds n variables over dom values with a binary function
// on each pair of variables with probability density, and sparse unary
// costs.
func randomNetwork(t *testing.T, seed int64, n, dom int, density float64) *wcsp.Network {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	net := wcsp.NewNetwork(fmt.Sprintf("random-%d", seed))
	for i := 0; i < n; i++ {
		x, err := net.AddVariable(fmt.Sprintf("x%d", i), dom)
		require.NoError(t, err)
		unary := make([]wcsp.Cost, dom)
		for a := range unary {
			if rng.Intn(3) == 0 {
				unary[a] = wcsp.Cost(rng.Intn(3))
			}
		}
		require.NoError(t, net.AddUnary(x, unary))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() >= density {
				continue
			}
			table := make([]wcsp.Cost, dom*dom)
			for k := range table {
				table[k] = wcsp.Cost(rng.Intn(4))
			}
			_, err := net.AddCostFunction([]int{i, j}, table)
			require.NoError(t, err)
		}
	}
	return net
}

// solveTimeout bounds every search of the tests, so that a search that
// does not terminate fails with ErrTimeOut.
const solveTimeout = 20 * time.Second

func solve(t *testing.T, net *wcsp.Network, cfg SearchConfig, opts ...Option) (*Result, error) {
	t.Helper()
	s, err := NewSolver(net, cfg, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), solveTimeout)
	defer cancel()
	return s.Solve(ctx)
}

func TestModesAgreeWithBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		want, _ := bruteForce(ladderNetwork(t, seed, 7, 3, 0.6))
		for mode := 0; mode <= 3; mode++ {
			for _, hbfs := range []bool{false, true} {
				name := fmt.Sprintf("seed=%d/mode=%d/hbfs=%v", seed, mode, hbfs)
				t.Run(name, func(t *testing.T) {
					net := ladderNetwork(t, seed, 7, 3, 0.6)
					cfg := DefaultSearchConfig()
					cfg.BTDMode = mode
					cfg.HBFS = hbfs
					res, err := solve(t, net, cfg)
					require.NoError(t, err)
					require.Equal(t, StatusOptimal, res.Status)
					assert.Equal(t, want, res.Cost)
					assert.Equal(t, want, res.LowerBound)
					assert.Equal(t, want, net.Evaluate(res.Solution))
				})
			}
		}
	}
}

func TestRussianDollWithHybridSearch(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		want, _ := bruteForce(ladderNetwork(t, seed, 8, 3, 0.6))
		for _, mode := range []int{2, 3} {
			net := ladderNetwork(t, seed, 8, 3, 0.6)
			cfg := DefaultSearchConfig()
			cfg.BTDMode = mode
			cfg.HBFS = true
			cfg.HBFSInitialLimit = 2
			res, err := solve(t, net, cfg)
			require.NoError(t, err, "seed %d mode %d", seed, mode)
			assert.Equal(t, StatusOptimal, res.Status, "seed %d mode %d", seed, mode)
			assert.Equal(t, want, res.Cost, "seed %d mode %d", seed, mode)
			assert.Equal(t, want, net.Evaluate(res.Solution), "seed %d mode %d", seed, mode)
		}
	}
}

func TestHybridSearchMatchesDepthFirst(t *testing.T) {
	for seed := int64(1); seed <= 300; seed++ {
		want, _ := bruteForce(randomNetwork(t, seed, 6, 3, 0.5))
		for _, dichotomic := range []bool{false, true} {
			for _, hbfs := range []bool{false, true} {
				net := randomNetwork(t, seed, 6, 3, 0.5)
				cfg := DefaultSearchConfig()
				cfg.HBFS = hbfs
				cfg.HBFSInitialLimit = 1
				cfg.Dichotomic = dichotomic
				cfg.DichotomicSize = 2
				res, err := solve(t, net, cfg)
				msg := fmt.Sprintf("seed %d hbfs %v dichotomic %v", seed, hbfs, dichotomic)
				require.NoError(t, err, msg)
				require.NotNil(t, res, msg)
				assert.Equal(t, StatusOptimal, res.Status, msg)
				assert.Equal(t, want, res.Cost, msg)
				assert.Equal(t, want, res.LowerBound, msg)
				assert.Equal(t, want, net.Evaluate(res.Solution), msg)
			}
		}
	}
}

func TestOptimalityProvedByPropagationKeepsIncumbent(t *testing.T) {
	// Every assignment costs 1. Enforcing the bound of the first solution
	// prunes x0=1, and x0=0 then charges 1 through f(x0,x1): the
	// propagation itself proves the incumbent optimal.
	build := func() *wcsp.Network {
		net := wcsp.NewNetwork("proof")
		x0, err := net.AddVariable("x0", 2)
		require.NoError(t, err)
		x1, err := net.AddVariable("x1", 2)
		require.NoError(t, err)
		require.NoError(t, net.AddUnary(x0, []wcsp.Cost{0, 1}))
		_, err = net.AddCostFunction([]int{x0, x1}, []wcsp.Cost{1, 1, 0, 0})
		require.NoError(t, err)
		return net
	}

	for _, hbfs := range []bool{false, true} {
		net := build()
		cfg := DefaultSearchConfig()
		cfg.HBFS = hbfs
		cfg.HBFSInitialLimit = 1
		res, err := solve(t, net, cfg)
		require.NoError(t, err, "hbfs %v", hbfs)
		require.NotNil(t, res)
		assert.Equal(t, StatusOptimal, res.Status)
		assert.Equal(t, wcsp.Cost(1), res.Cost)
		assert.Equal(t, wcsp.Cost(1), net.Evaluate(res.Solution))
	}
}

func TestDichotomicBranching(t *testing.T) {
	want, _ := bruteForce(ladderNetwork(t, 7, 5, 6, 0.7))
	for _, mode := range []int{0, 1} {
		net := ladderNetwork(t, 7, 5, 6, 0.7)
		cfg := DefaultSearchConfig()
		cfg.BTDMode = mode
		cfg.Dichotomic = true
		cfg.DichotomicSize = 2
		res, err := solve(t, net, cfg)
		require.NoError(t, err)
		assert.Equal(t, want, res.Cost, "mode %d", mode)
		assert.Equal(t, want, net.Evaluate(res.Solution), "mode %d", mode)
	}
}

func TestRestartsKeepOptimum(t *testing.T) {
	net := ladderNetwork(t, 3, 7, 3, 0.6)
	want, _ := bruteForce(net)
	cfg := DefaultSearchConfig()
	cfg.Restarts = 200
	cfg.RandomSeed = 42
	res, err := solve(t, net, cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.Equal(t, want, res.Cost)
}

func TestCountingMatchesBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 3; seed++ {
		_, want := bruteForce(ladderNetwork(t, seed, 6, 3, 0.3))
		for _, mode := range []int{0, 1} {
			net := ladderNetwork(t, seed, 6, 3, 0.3)
			cfg := DefaultSearchConfig()
			cfg.BTDMode = mode
			cfg.HBFS = false
			cfg.AllSolutions = true
			cfg.InitialUpperBound = 1
			res, err := solve(t, net, cfg)
			require.NoError(t, err)
			assert.Equal(t, StatusCounted, res.Status)
			require.NotNil(t, res.NbSolutions)
			assert.Zero(t, res.NbSolutions.Cmp(big.NewInt(want)),
				"seed %d mode %d: got %s, want %d", seed, mode, res.NbSolutions, want)
		}
	}
}

func TestCountingWithoutCostFunctions(t *testing.T) {
	net := wcsp.NewNetwork("free")
	for i := 0; i < 3; i++ {
		_, err := net.AddVariable(fmt.Sprintf("x%d", i), 4)
		require.NoError(t, err)
	}
	cfg := DefaultSearchConfig()
	cfg.BTDMode = 1
	cfg.HBFS = false
	cfg.AllSolutions = true
	cfg.InitialUpperBound = 1
	res, err := solve(t, net, cfg)
	require.NoError(t, err)
	assert.Equal(t, "64", res.NbSolutions.String())
}

func TestInfeasibleUnderInitialBound(t *testing.T) {
	net := ladderNetwork(t, 2, 6, 3, 0.6)
	want, _ := bruteForce(net)
	require.Greater(t, want, wcsp.MinCost)

	for _, mode := range []int{0, 1, 2} {
		net := ladderNetwork(t, 2, 6, 3, 0.6)
		cfg := DefaultSearchConfig()
		cfg.BTDMode = mode
		cfg.InitialUpperBound = want
		res, err := solve(t, net, cfg)
		require.NoError(t, err)
		assert.Equal(t, StatusInfeasible, res.Status, "mode %d", mode)
		assert.Nil(t, res.Solution)
		assert.Equal(t, wcsp.MaxCost, res.Cost)
	}
}

func TestHardFeasibilityCheck(t *testing.T) {
	net := wcsp.NewNetwork("clash")
	x, err := net.AddVariable("x", 2)
	require.NoError(t, err)
	y, err := net.AddVariable("y", 2)
	require.NoError(t, err)
	_, err = net.AddCostFunction([]int{x, y}, []wcsp.Cost{10, 10, 10, 10})
	require.NoError(t, err)

	cfg := DefaultSearchConfig()
	cfg.InitialUpperBound = 10
	cfg.HardFeasibilityCheck = true
	res, err := solve(t, net, cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.Zero(t, res.Stats.Nodes)
}

func TestBacktrackLimit(t *testing.T) {
	for _, mode := range []int{0, 1} {
		net := ladderNetwork(t, 5, 9, 4, 0.8)
		cfg := DefaultSearchConfig()
		cfg.BTDMode = mode
		cfg.BacktrackLimit = 1
		res, err := solve(t, net, cfg)
		require.ErrorIs(t, err, ErrBacktrackLimit, "mode %d", mode)
		require.NotNil(t, res)
		assert.Equal(t, StatusLimited, res.Status)
		assert.LessOrEqual(t, res.LowerBound, res.Cost)
		if res.Solution != nil {
			assert.Equal(t, res.Cost, net.Evaluate(res.Solution))
		}
	}
}

func TestSolutionLimitAndCallback(t *testing.T) {
	net := ladderNetwork(t, 1, 6, 3, 0.6)
	var costs []wcsp.Cost
	cfg := DefaultSearchConfig()
	cfg.SolutionLimit = 1
	res, err := solve(t, net, cfg, WithSolutionCallback(func(c wcsp.Cost, sol []int) {
		costs = append(costs, c)
		assert.Equal(t, c, net.Evaluate(sol))
	}))
	require.ErrorIs(t, err, ErrSolutionLimit)
	assert.Equal(t, StatusLimited, res.Status)
	assert.Len(t, costs, 1)
	assert.Equal(t, costs[0], res.Cost)
}

func TestImprovingSolutionsDecrease(t *testing.T) {
	net := ladderNetwork(t, 4, 8, 3, 0.7)
	var costs []wcsp.Cost
	res, err := solve(t, net, DefaultSearchConfig(), WithSolutionCallback(func(c wcsp.Cost, _ []int) {
		costs = append(costs, c)
	}))
	require.NoError(t, err)
	require.NotEmpty(t, costs)
	for i := 1; i < len(costs); i++ {
		assert.Less(t, costs[i], costs[i-1])
	}
	assert.Equal(t, costs[len(costs)-1], res.Cost)
}

func TestInterrupt(t *testing.T) {
	net := wcsp.NewNetwork("free")
	for i := 0; i < 4; i++ {
		_, err := net.AddVariable(fmt.Sprintf("x%d", i), 3)
		require.NoError(t, err)
	}
	s, err := NewSolver(net, DefaultSearchConfig())
	require.NoError(t, err)
	s.Interrupt()
	res, err := s.Solve(context.Background())
	require.ErrorIs(t, err, ErrTimeOut)
	assert.Equal(t, StatusLimited, res.Status)
}

func TestSolveTwice(t *testing.T) {
	s, err := NewSolver(ladderNetwork(t, 1, 4, 2, 0.5), DefaultSearchConfig())
	require.NoError(t, err)
	_, err = s.Solve(context.Background())
	require.NoError(t, err)
	_, err = s.Solve(context.Background())
	assert.Error(t, err)
}

func TestNewSolverRejectsBadConfig(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.BTDMode = 7
	_, err := NewSolver(ladderNetwork(t, 1, 4, 2, 0.5), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSolver(nil, DefaultSearchConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMetricsAndLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reg := prometheus.NewRegistry()
	m := NewMetrics("btd")
	require.NoError(t, m.Register(reg))

	net := ladderNetwork(t, 2, 6, 3, 0.6)
	s, err := NewSolver(net, DefaultSearchConfig(), WithLogger(logger), WithMetrics(m))
	require.NoError(t, err)
	res, err := s.Solve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("optimal")))
	assert.Equal(t, float64(res.Stats.Nodes), testutil.ToFloat64(m.Nodes))
	assert.Equal(t, float64(res.Stats.Solutions), testutil.ToFloat64(m.Solutions))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "search finished", last.Message)
	assert.Equal(t, s.RunID(), last.Data["run"])
	assert.Equal(t, StatusOptimal, last.Data["status"])
}

func TestStatsAreConsistent(t *testing.T) {
	net := ladderNetwork(t, 3, 8, 3, 0.6)
	cfg := DefaultSearchConfig()
	cfg.BTDMode = 1
	s, err := NewSolver(net, cfg)
	require.NoError(t, err)
	res, err := s.Solve(context.Background())
	require.NoError(t, err)

	st := s.Stats()
	if diff := cmp.Diff(res.Stats, *st); diff != "" {
		t.Errorf("stats after solve differ (-result +stats):\n%s", diff)
	}
	assert.Positive(t, st.Nodes)
	assert.GreaterOrEqual(t, st.Nodes, st.RecomputationNodes)
	assert.Equal(t, st.HBFSCalls, st.HBFSNew+st.HBFSContinue)
	assert.Contains(t, st.String(), "Search Statistics")
}

func TestLuby(t *testing.T) {
	want := []int64{1, 1, 2, 1, 1, 2, 4, 1, 1, 2, 1, 1, 2, 4, 8}
	got := make([]int64, len(want))
	for i := range got {
		got[i] = luby(int64(i + 1))
	}
	assert.Equal(t, want, got)
}
