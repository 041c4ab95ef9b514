// Package wcsp provides the weighted constraint satisfaction network that the
// BTD and HBFS search engines operate on.
//
// A network is a set of enumerated variables with values 0..d-1, unary costs
// on those values and n-ary cost functions given in extension. The network
// maintains a global lower bound lb (the cost that every completion of the
// current partial assignment must pay) and a global upper bound ub (the cost
// of the best solution known, or the initial bound given by the caller).
//
// # Architecture
//
// All mutable search state (domains, unary costs, lb, projected functions)
// is routed through a single Trail. The search calls Store before each
// decision and Restore(depth) to roll back, and every mutation performed in
// between is undone in strict LIFO order. Nothing is trailed at depth 0, so
// preprocessing done before the first Store is permanent.
//
// Propagation is deliberately simple:
//   - a cost function with no unassigned variable moves its cost into lb;
//   - a cost function with one unassigned variable is projected onto that
//     variable's unary costs;
//   - node consistency moves the minimum unary cost of a variable into lb and
//     prunes values whose unary cost reaches ub.
//
// When a tree decomposition is attached (see Decomposition), lower bound
// increments are additionally charged to the owning cluster, projections that
// cross a separator are reported as separator deltas and pruning is restricted
// to the active subtree of the current cluster.
package wcsp

import (
	"math"
	"strconv"
)

// Cost is an additive, non-negative cost. MaxCost acts as infinity.
type Cost int64

const (
	// MinCost is the zero cost.
	MinCost Cost = 0
	// MaxCost is the infinite cost. It leaves enough headroom that a handful of
	// finite costs can be added to it without overflowing int64.
	MaxCost Cost = math.MaxInt64 / 4
)

// Add returns c+o saturated at MaxCost.
func (c Cost) Add(o Cost) Cost {
	if c >= MaxCost || o >= MaxCost {
		return MaxCost
	}
	s := c + o
	if s >= MaxCost {
		return MaxCost
	}
	return s
}

// Sub returns c-o. Infinity minus a finite cost stays infinite. The result may
// be negative; callers clamp with Clamp where bounds must stay non-negative.
func (c Cost) Sub(o Cost) Cost {
	if c >= MaxCost {
		return MaxCost
	}
	if o >= MaxCost {
		return MinCost - MaxCost
	}
	return c - o
}

// IsInfinite reports whether c is MaxCost (or above).
func (c Cost) IsInfinite() bool { return c >= MaxCost }

// String renders MaxCost as "inf".
func (c Cost) String() string {
	if c >= MaxCost {
		return "inf"
	}
	return strconv.FormatInt(int64(c), 10)
}

// Clamp returns max(MinCost, c).
func Clamp(c Cost) Cost {
	return max(MinCost, c)
}

// Cut reports whether lb is already cut off by ub.
func Cut(lb, ub Cost) bool {
	return lb >= ub
}
