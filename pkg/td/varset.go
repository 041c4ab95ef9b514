package td

import "sort"

// VarSet is a set of variable indexes kept sorted in increasing order.
//
// The zero value is the empty set. Operations never modify their operands:
// they return fresh slices.
type VarSet []int

// NewVarSet returns the set of the given indexes.
func NewVarSet(xs ...int) VarSet {
	s := append(VarSet(nil), xs...)
	sort.Ints(s)
	out := s[:0]
	for i, x := range s {
		if i == 0 || x != s[i-1] {
			out = append(out, x)
		}
	}
	return out
}

// Len returns the number of variables in the set.
func (s VarSet) Len() int { return len(s) }

// Contains reports whether x is in the set.
func (s VarSet) Contains(x int) bool {
	i := sort.SearchInts(s, x)
	return i < len(s) && s[i] == x
}

// Index returns the position of x in the set, -1 if absent.
func (s VarSet) Index(x int) int {
	i := sort.SearchInts(s, x)
	if i < len(s) && s[i] == x {
		return i
	}
	return -1
}

// Add returns s with x inserted.
func (s VarSet) Add(x int) VarSet {
	i := sort.SearchInts(s, x)
	if i < len(s) && s[i] == x {
		return s
	}
	out := make(VarSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, x)
	return append(out, s[i:]...)
}

// Remove returns s without x.
func (s VarSet) Remove(x int) VarSet {
	i := sort.SearchInts(s, x)
	if i == len(s) || s[i] != x {
		return s
	}
	out := make(VarSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// Intersection returns a ∩ b.
func Intersection(a, b VarSet) VarSet {
	var out VarSet
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Difference returns a \ b.
func Difference(a, b VarSet) VarSet {
	var out VarSet
	j := 0
	for _, x := range a {
		for j < len(b) && b[j] < x {
			j++
		}
		if j < len(b) && b[j] == x {
			continue
		}
		out = append(out, x)
	}
	return out
}

// Sum returns a ∪ b.
func Sum(a, b VarSet) VarSet {
	out := make(VarSet, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i == len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Included reports whether a ⊆ b.
func Included(a, b VarSet) bool {
	j := 0
	for _, x := range a {
		for j < len(b) && b[j] < x {
			j++
		}
		if j == len(b) || b[j] != x {
			return false
		}
		j++
	}
	return true
}

// Equal reports whether a and b hold the same variables.
func Equal(a, b VarSet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
