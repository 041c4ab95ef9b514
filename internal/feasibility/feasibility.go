// Package feasibility decides whether the hard part of a cost function
// network can be satisfied at all, using a SAT solver.
//
// Every value a of every variable x gets a boolean literal meaning x = a.
// Domains are encoded one-hot. A unary cost or a tuple of a cost function
// whose cost reaches the upper bound becomes a clause forbidding it. An
// unsatisfiable formula proves that no assignment costs less than the
// bound; a satisfiable one proves nothing, since soft costs may still add
// up past it.
package feasibility

import (
	"context"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// MaxTuples bounds the size of a cost table that is turned into clauses.
// Larger functions are left out, which keeps the check sound.
const MaxTuples = 1 << 16

// pollInterval is how long the SAT solver runs between context checks.
const pollInterval = 50 * time.Millisecond

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// ErrCancelled is returned when ctx ends before the SAT solver decides.
var ErrCancelled = errors.New("feasibility: cancelled before the check completed")

// encoder maps (variable, value) pairs to SAT literals.
type encoder struct {
	g    *gini.Gini
	base []int // first SAT variable of each network variable
	buf  []z.Lit
}

func newEncoder(net *wcsp.Network) *encoder {
	e := &encoder{g: gini.New(), base: make([]int, net.NumVariables())}
	next := 1
	for x := range e.base {
		e.base[x] = next
		next += net.Var(x).InitialSize()
	}
	return e
}

func (e *encoder) lit(x, a int) z.Lit {
	return z.Var(e.base[x] + a).Pos()
}

func (e *encoder) clause(ms ...z.Lit) {
	for _, m := range ms {
		e.g.Add(m)
	}
	e.g.Add(z.LitNull)
}

func (e *encoder) domain(v *wcsp.Variable, ub wcsp.Cost) {
	x := v.Index()
	e.buf = e.buf[:0]
	for a := 0; a < v.InitialSize(); a++ {
		if !v.CanBe(a) || v.Unary(a) >= ub {
			e.clause(e.lit(x, a).Not())
			continue
		}
		e.buf = append(e.buf, e.lit(x, a))
	}
	e.clause(e.buf...)
	for a := 0; a < v.InitialSize(); a++ {
		for b := a + 1; b < v.InitialSize(); b++ {
			e.clause(e.lit(x, a).Not(), e.lit(x, b).Not())
		}
	}
}

// function forbids every tuple of f costing ub or more. It reports false
// when f is too large to be encoded.
func (e *encoder) function(net *wcsp.Network, f *wcsp.CostFunction, ub wcsp.Cost) bool {
	scope := f.Scope()
	n := 1
	for _, x := range scope {
		n *= net.Var(x).InitialSize()
		if n > MaxTuples {
			return false
		}
	}
	tuple := make([]int, len(scope))
	pos := make(map[int]int, len(scope))
	for i, x := range scope {
		pos[x] = i
	}
	value := func(x int) int { return tuple[pos[x]] }
	for {
		if f.Eval(value) >= ub {
			e.buf = e.buf[:0]
			for i, x := range scope {
				e.buf = append(e.buf, e.lit(x, tuple[i]).Not())
			}
			e.clause(e.buf...)
		}
		i := len(tuple) - 1
		for ; i >= 0; i-- {
			tuple[i]++
			if tuple[i] < net.Var(scope[i]).InitialSize() {
				break
			}
			tuple[i] = 0
		}
		if i < 0 {
			return true
		}
	}
}

// Check reports whether the hard constraints of net, those costs that reach
// ub, leave at least one assignment.
func Check(ctx context.Context, net *wcsp.Network, ub wcsp.Cost) (bool, error) {
	e := newEncoder(net)
	for x := 0; x < net.NumVariables(); x++ {
		e.domain(net.Var(x), ub)
	}
	for f := 0; f < net.NumCostFunctions(); f++ {
		if !net.Connected(f) {
			continue
		}
		e.function(net, net.Func(f), ub)
	}

	s := e.g.GoSolve()
	for {
		switch s.Try(pollInterval) {
		case satisfiable:
			return true, nil
		case unsatisfiable:
			return false, nil
		}
		if ctx.Err() != nil {
			s.Stop()
			return false, errors.Wrap(ErrCancelled, ctx.Err().Error())
		}
	}
}
