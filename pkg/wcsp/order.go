package wcsp

import (
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OrderHeuristic selects how an elimination order is computed.
type OrderHeuristic int

const (
	// OrderLexicographic eliminates variables by increasing index.
	OrderLexicographic OrderHeuristic = iota
	// OrderMinDegree repeatedly eliminates a variable of minimum degree in
	// the current (filled) primal graph.
	OrderMinDegree
	// OrderMinFill repeatedly eliminates a variable whose elimination adds
	// the fewest fill edges.
	OrderMinFill
)

// String returns the option name of the heuristic.
func (h OrderHeuristic) String() string {
	switch h {
	case OrderLexicographic:
		return "lex"
	case OrderMinDegree:
		return "min-degree"
	case OrderMinFill:
		return "min-fill"
	}
	return "unknown"
}

// ParseOrderHeuristic parses the option name of a heuristic.
func ParseOrderHeuristic(s string) (OrderHeuristic, error) {
	switch s {
	case "", "lex", "lexicographic":
		return OrderLexicographic, nil
	case "min-degree", "mindegree":
		return OrderMinDegree, nil
	case "min-fill", "minfill":
		return OrderMinFill, nil
	}
	return OrderLexicographic, errors.Errorf("unknown elimination order %q", s)
}

// MarshalYAML encodes the heuristic by name.
func (h OrderHeuristic) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML decodes the heuristic from its name.
func (h *OrderHeuristic) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseOrderHeuristic(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// PrimalGraph returns, for every variable, the sorted list of variables it
// shares a cost function with.
func (n *Network) PrimalGraph() [][]int {
	adj := make([]map[int]bool, len(n.vars))
	for i := range adj {
		adj[i] = make(map[int]bool)
	}
	for _, f := range n.funcs {
		for _, x := range f.scope {
			for _, y := range f.scope {
				if x != y {
					adj[x][y] = true
				}
			}
		}
	}
	g := make([][]int, len(n.vars))
	for x, m := range adj {
		for y := range m {
			g[x] = append(g[x], y)
		}
		sort.Ints(g[x])
	}
	return g
}

// EliminationOrder returns a permutation of the variables, the variable
// eliminated first coming first.
func (n *Network) EliminationOrder(h OrderHeuristic) []int {
	nv := len(n.vars)
	order := make([]int, 0, nv)
	if h == OrderLexicographic {
		for x := 0; x < nv; x++ {
			order = append(order, x)
		}
		return order
	}
	adj := make([]map[int]bool, nv)
	for x, ys := range n.PrimalGraph() {
		adj[x] = make(map[int]bool, len(ys))
		for _, y := range ys {
			adj[x][y] = true
		}
	}
	eliminated := make([]bool, nv)
	for len(order) < nv {
		best, bestScore := -1, 0
		for x := 0; x < nv; x++ {
			if eliminated[x] {
				continue
			}
			var score int
			if h == OrderMinFill {
				score = fillIn(adj, x)
			} else {
				score = len(adj[x])
			}
			if best < 0 || score < bestScore {
				best, bestScore = x, score
			}
		}
		nbrs := make([]int, 0, len(adj[best]))
		for y := range adj[best] {
			nbrs = append(nbrs, y)
		}
		for _, y := range nbrs {
			delete(adj[y], best)
			for _, z := range nbrs {
				if y != z {
					adj[y][z] = true
				}
			}
		}
		adj[best] = nil
		eliminated[best] = true
		order = append(order, best)
	}
	return order
}

func fillIn(adj []map[int]bool, x int) int {
	fill := 0
	for y := range adj[x] {
		for z := range adj[x] {
			if y < z && !adj[y][z] {
				fill++
			}
		}
	}
	return fill
}
