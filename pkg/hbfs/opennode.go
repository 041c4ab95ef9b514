// Package hbfs holds the frontier of hybrid best-first search: open nodes,
// the open list they are queued in and the choice-point log they are replayed
// from.
//
// # Architecture
//
// Depth-first search records every branching decision it takes in a CPStore.
// When a burst of depth-first search runs out of backtrack budget, the node it
// is about to explore is not explored: it is turned into an OpenNode holding a
// lower bound and the half-open range [First, Last) of the CPStore that leads
// from the burst's starting point to the node. The best open node is later
// popped from the OpenList and rebuilt by replaying that range.
//
// An OpenList also carries two bounds of its own: clb, the lower bound implied
// by the nodes already closed, and cub, the best upper bound known for its
// scope. With tree decomposition these bounds are stored independently of the
// cost moved across the cluster separator, hence the delta argument of most
// methods.
package hbfs

import (
	"container/heap"
	"fmt"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// OpenNode is a deferred search node.
type OpenNode struct {
	// Cost is a lower bound of the node, stored before the separator delta is
	// subtracted.
	Cost wcsp.Cost
	// First and Last delimit the choice points to replay, Last excluded.
	First, Last int
}

// Depth returns the number of choice points needed to rebuild the node.
func (nd OpenNode) Depth() int { return nd.Last - nd.First }

// GetCost returns the lower bound of the node once delta is removed.
func (nd OpenNode) GetCost(delta wcsp.Cost) wcsp.Cost {
	return wcsp.Clamp(nd.Cost.Sub(delta))
}

// Before reports whether nd must be explored before o: smallest lower bound
// first, then deepest node, then oldest node.
func (nd OpenNode) Before(o OpenNode) bool {
	if nd.Cost != o.Cost {
		return nd.Cost < o.Cost
	}
	if nd.Depth() != o.Depth() {
		return nd.Depth() > o.Depth()
	}
	return nd.Last < o.Last
}

func (nd OpenNode) String() string {
	return fmt.Sprintf("%v (%d, %d)", nd.Cost, nd.First, nd.Last)
}

// nodeHeap implements heap.Interface over open nodes.
type nodeHeap []OpenNode

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(OpenNode)) }
func (h *nodeHeap) Pop() any {
	old := *h
	nd := old[len(old)-1]
	*h = old[:len(old)-1]
	return nd
}

// OpenList is a priority queue of open nodes together with the closed-node
// lower bound clb and the upper bound cub of its scope.
//
// Invariant: clb <= cub.
type OpenList struct {
	nodes nodeHeap
	clb   wcsp.Cost
	cub   wcsp.Cost
}

// NewOpenList returns an empty list with clb = cub = MaxCost.
func NewOpenList() *OpenList {
	return &OpenList{clb: wcsp.MaxCost, cub: wcsp.MaxCost}
}

// NewOpenListWithBounds returns an empty list with the given bounds.
func NewOpenListWithBounds(lb, ub wcsp.Cost) *OpenList {
	return &OpenList{clb: lb, cub: ub}
}

// Reset empties the list and sets its bounds.
func (l *OpenList) Reset(lb, ub wcsp.Cost) {
	l.nodes = l.nodes[:0]
	l.clb = lb
	l.cub = ub
}

// Clear empties the list and resets both bounds to MaxCost.
func (l *OpenList) Clear() { l.Reset(wcsp.MaxCost, wcsp.MaxCost) }

// Len returns the number of open nodes.
func (l *OpenList) Len() int { return len(l.nodes) }

// Empty reports whether no node is left.
func (l *OpenList) Empty() bool { return len(l.nodes) == 0 }

// Push queues a node.
func (l *OpenList) Push(nd OpenNode) { heap.Push(&l.nodes, nd) }

// Top returns the best node without removing it. The list must not be empty.
func (l *OpenList) Top() OpenNode { return l.nodes[0] }

// Pop removes and returns the best node. The list must not be empty.
func (l *OpenList) Pop() OpenNode { return heap.Pop(&l.nodes).(OpenNode) }

// Finished reports whether nothing in the list can improve on clb.
func (l *OpenList) Finished() bool {
	return l.Empty() || wcsp.Cut(l.Top().GetCost(wcsp.MinCost), l.clb)
}

// GetLb returns the lower bound of the list's scope: the smaller of the
// closed-node bound and the best open node.
func (l *OpenList) GetLb(delta wcsp.Cost) wcsp.Cost {
	top := wcsp.MaxCost
	if !l.Empty() {
		top = l.Top().GetCost(delta)
	}
	return min(wcsp.Clamp(l.clb.Sub(delta)), top)
}

// GetClosedNodesLb returns clb once delta is removed.
func (l *OpenList) GetClosedNodesLb(delta wcsp.Cost) wcsp.Cost {
	return wcsp.Clamp(l.clb.Sub(delta))
}

// SetClosedNodesLb overwrites clb.
func (l *OpenList) SetClosedNodesLb(lb, delta wcsp.Cost) {
	l.clb = wcsp.Clamp(lb.Add(delta))
}

// UpdateClosedNodesLb lowers clb to lb if lb is smaller.
func (l *OpenList) UpdateClosedNodesLb(lb, delta wcsp.Cost) {
	l.clb = min(l.clb, wcsp.Clamp(lb.Add(delta)))
}

// GetUb returns cub once delta is removed.
func (l *OpenList) GetUb(delta wcsp.Cost) wcsp.Cost {
	return wcsp.Clamp(l.cub.Sub(delta))
}

// SetUb overwrites cub.
func (l *OpenList) SetUb(ub, delta wcsp.Cost) {
	l.cub = wcsp.Clamp(ub.Add(delta))
}

// UpdateUb lowers cub (and clb along with it) to ub if ub is smaller.
func (l *OpenList) UpdateUb(ub, delta wcsp.Cost) {
	tmp := wcsp.Clamp(ub.Add(delta))
	l.cub = min(l.cub, tmp)
	l.clb = min(l.clb, tmp)
}

// Nodes returns a copy of the queued nodes in heap order.
func (l *OpenList) Nodes() []OpenNode {
	return append([]OpenNode(nil), l.nodes...)
}
