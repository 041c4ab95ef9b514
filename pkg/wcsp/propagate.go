package wcsp

// propagate.go: domain operations and local consistency

// Assign reduces the domain of x to {a}.
func (n *Network) Assign(x, a int) error {
	v := n.vars[x]
	if !v.CanBe(a) {
		v.weight++
		return ErrContradiction
	}
	for b, in := range v.domain {
		if in && b != a {
			n.removeValue(v, b)
		}
	}
	return nil
}

// Remove deletes a from the domain of x.
func (n *Network) Remove(x, a int) error {
	v := n.vars[x]
	if !v.CanBe(a) {
		return nil
	}
	if v.size == 1 {
		v.weight++
		return ErrContradiction
	}
	n.removeValue(v, a)
	return nil
}

// Increase removes every value of x strictly below a.
func (n *Network) Increase(x, a int) error {
	v := n.vars[x]
	if a > v.Sup() {
		v.weight++
		return ErrContradiction
	}
	for b := 0; b < a && b < len(v.domain); b++ {
		if v.domain[b] {
			n.removeValue(v, b)
		}
	}
	return nil
}

// Decrease removes every value of x strictly above a.
func (n *Network) Decrease(x, a int) error {
	v := n.vars[x]
	if a < v.Inf() {
		v.weight++
		return ErrContradiction
	}
	for b := max(a+1, 0); b < len(v.domain); b++ {
		if v.domain[b] {
			n.removeValue(v, b)
		}
	}
	return nil
}

// RemoveValues deletes every listed value from the domain of x.
func (n *Network) RemoveValues(x int, vals []int) error {
	v := n.vars[x]
	left := v.size
	for _, a := range vals {
		if v.CanBe(a) {
			left--
		}
	}
	if left <= 0 {
		v.weight++
		return ErrContradiction
	}
	for _, a := range vals {
		if v.CanBe(a) {
			n.removeValue(v, a)
		}
	}
	return nil
}

func (n *Network) removeValue(v *Variable, a int) {
	v.domain[a] = false
	v.size--
	n.trail.Record(func() {
		v.domain[a] = true
		v.size++
	})
	if v.size == 1 {
		for _, f := range v.funcs {
			n.schedule(f)
		}
	}
}

func (n *Network) addUnary(v *Variable, a int, c Cost) {
	old := v.unary[a]
	v.unary[a] = old.Add(c)
	n.trail.Record(func() { v.unary[a] = old })
}

func (n *Network) subUnary(v *Variable, a int, c Cost) {
	old := v.unary[a]
	v.unary[a] = old.Sub(c)
	n.trail.Record(func() { v.unary[a] = old })
}

func (n *Network) schedule(f int) {
	if len(n.isPending) < len(n.funcs) {
		n.isPending = append(n.isPending, make([]bool, len(n.funcs)-len(n.isPending))...)
	}
	if !n.isPending[f] {
		n.isPending[f] = true
		n.pending = append(n.pending, f)
	}
}

// Propagate enforces the network's local consistency until a fixpoint.
// It returns ErrContradiction if a domain wipes out or lb reaches ub.
func (n *Network) Propagate() error {
	n.nbPropagations++
	if !n.started {
		n.started = true
		for f := range n.funcs {
			n.schedule(f)
		}
	}
	if err := n.fixpoint(); err != nil {
		n.clearPending()
		return err
	}
	return n.EnforceUb()
}

func (n *Network) fixpoint() error {
	for {
		if err := n.propagateFunctions(); err != nil {
			return err
		}
		lb := n.lb.Get()
		if err := n.propagateNC(); err != nil {
			return err
		}
		if n.lb.Get() != lb || len(n.pending) > 0 {
			continue
		}
		if n.td != nil {
			if err := n.td.PropagateSeparators(); err != nil {
				return err
			}
			if n.lb.Get() != lb || len(n.pending) > 0 {
				continue
			}
		}
		return nil
	}
}

func (n *Network) clearPending() {
	for _, f := range n.pending {
		n.isPending[f] = false
	}
	n.pending = n.pending[:0]
}

// propagateFunctions projects every scheduled cost function that has at
// most one unassigned variable left.
func (n *Network) propagateFunctions() error {
	for len(n.pending) > 0 {
		fi := n.pending[len(n.pending)-1]
		n.pending = n.pending[:len(n.pending)-1]
		n.isPending[fi] = false
		f := n.funcs[fi]
		if f.done.Get() {
			continue
		}
		free := -1
		nfree := 0
		for _, x := range f.scope {
			if n.vars[x].size > 1 {
				free = x
				nfree++
			}
		}
		switch nfree {
		case 0:
			f.done.Set(&n.trail, true)
			n.ProjectLB(f.cluster, f.Eval(n.valueOf))
			if Cut(n.lb.Get(), n.ub) {
				f.weight++
				return ErrContradiction
			}
		case 1:
			f.done.Set(&n.trail, true)
			v := n.vars[free]
			for a, in := range v.domain {
				if !in {
					continue
				}
				c := f.Eval(func(x int) int {
					if x == free {
						return a
					}
					return n.vars[x].Value()
				})
				if c == MinCost {
					continue
				}
				n.addUnary(v, a, c)
				if n.td != nil && f.cluster >= 0 {
					n.td.AddDelta(f.cluster, free, a, c)
				}
			}
		}
	}
	return nil
}

func (n *Network) valueOf(x int) int { return n.vars[x].Value() }

// propagateNC moves the minimum unary cost of every variable into lb and
// prunes the values whose unary cost alone reaches ub.
func (n *Network) propagateNC() error {
	for _, v := range n.vars {
		if Cut(n.lb.Get(), n.ub) {
			return ErrContradiction
		}
		m := MaxCost
		for a, in := range v.domain {
			if in && v.unary[a] < m {
				m = v.unary[a]
			}
		}
		if m >= MaxCost {
			v.weight++
			return ErrContradiction
		}
		if m > MinCost {
			for a, in := range v.domain {
				if in {
					n.subUnary(v, a, m)
				}
			}
			n.ProjectLB(v.cluster, m)
		}
		if v.size <= 1 {
			continue
		}
		if n.td != nil && !n.td.ActiveInCurrentSubtree(v.cluster) {
			continue
		}
		lb, ub := n.lb.Get(), n.ub
		for a, in := range v.domain {
			if in && v.size > 1 && Cut(lb.Add(v.unary[a]), ub) {
				n.removeValue(v, a)
			}
		}
		if v.size == 1 && Cut(lb.Add(v.unary[v.Inf()]), ub) {
			v.weight++
			return ErrContradiction
		}
	}
	return nil
}
