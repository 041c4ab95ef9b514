package hbfs

import (
	"fmt"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// Op is a domain operation recorded in a choice point.
type Op int

const (
	OpAssign Op = iota
	OpRemove
	OpIncrease
	OpDecrease
	OpRemoveRange
)

var opNames = [...]string{"ASSIGN", "REMOVE", "INCREASE", "DECREASE", "RANGEREMOVAL"}

func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// Symbol returns the operator used when printing a branch.
func (op Op) Symbol() string {
	switch op {
	case OpAssign:
		return "=="
	case OpRemove:
		return "!="
	case OpIncrease:
		return ">="
	case OpDecrease:
		return "<="
	}
	return "#[]"
}

// ChoicePoint is one branching decision.
//
// Reverse marks the closing branch of a binary split taken just before an
// open node was created. When such an entry is replayed anywhere but at the
// end of a range, the complementary operation is applied instead: the range
// leads through the other branch of that split.
type ChoicePoint struct {
	Op      Op
	Var     int
	Value   int
	Reverse bool
}

func (cp ChoicePoint) String() string {
	rev := ""
	if cp.Reverse {
		rev = "*"
	}
	return fmt.Sprintf("%s%s (%d, %d)", cp.Op, rev, cp.Var, cp.Value)
}

// Replayed returns the operation to apply when cp is replayed, last telling
// whether cp closes the range being replayed.
func (cp ChoicePoint) Replayed(last bool) ChoicePoint {
	if !cp.Reverse || last {
		return ChoicePoint{Op: cp.Op, Var: cp.Var, Value: cp.Value}
	}
	switch cp.Op {
	case OpAssign:
		return ChoicePoint{Op: OpRemove, Var: cp.Var, Value: cp.Value}
	case OpRemove:
		return ChoicePoint{Op: OpAssign, Var: cp.Var, Value: cp.Value}
	case OpIncrease:
		return ChoicePoint{Op: OpDecrease, Var: cp.Var, Value: cp.Value - 1}
	case OpDecrease:
		return ChoicePoint{Op: OpIncrease, Var: cp.Var, Value: cp.Value + 1}
	}
	return ChoicePoint{Op: cp.Op, Var: cp.Var, Value: cp.Value}
}

// CPStore is the choice-point log of one search scope.
//
// Entries in [0, Stop) may be referenced by queued open nodes and are never
// overwritten. Start is where the current depth-first burst began logging and
// the reversible index is the next free position on the current branch.
type CPStore struct {
	points []ChoicePoint
	Start  int
	Stop   int
	index  wcsp.Cell[int]
	trail  *wcsp.Trail
}

// NewCPStore returns an empty log whose index is trailed on tr.
func NewCPStore(tr *wcsp.Trail) *CPStore {
	return &CPStore{trail: tr}
}

// Index returns the next free position on the current branch.
func (s *CPStore) Index() int { return s.index.Get() }

// Len returns the number of logged choice points.
func (s *CPStore) Len() int { return len(s.points) }

// At returns the choice point at position i.
func (s *CPStore) At(i int) ChoicePoint { return s.points[i] }

// Store begins a new burst after every range already referenced.
func (s *CPStore) Store() {
	s.Start = s.Stop
	s.index.Set(s.trail, s.Start)
}

// Add logs a choice point at the current index.
func (s *CPStore) Add(op Op, x, value int, reverse bool) {
	idx := s.index.Get()
	cp := ChoicePoint{Op: op, Var: x, Value: value, Reverse: reverse}
	if idx >= len(s.points) {
		s.points = append(s.points, cp)
	} else {
		s.points[idx] = cp
	}
	s.index.Set(s.trail, idx+1)
}

// AddOpenNode queues the node reached by the current branch with lower
// bound lb (before delta is added) and protects its range.
func (s *CPStore) AddOpenNode(open *OpenList, lb, delta wcsp.Cost) {
	idx := s.index.Get()
	open.Push(OpenNode{Cost: wcsp.Clamp(lb.Add(delta)), First: s.Start, Last: idx})
	s.Stop = max(s.Stop, idx)
}

// Range returns a copy of the choice points of nd.
func (s *CPStore) Range(nd OpenNode) []ChoicePoint {
	return append([]ChoicePoint(nil), s.points[nd.First:nd.Last]...)
}
