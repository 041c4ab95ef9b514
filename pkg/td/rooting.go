package td

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

const epsilon = 1e-6

// byInstance returns the clusters of set in creation order.
func byInstance(set map[*Cluster]bool) []*Cluster {
	out := make([]*Cluster, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].instance < out[j].instance })
	return out
}

// components returns the connected components of the cluster graph, each in
// creation order, ordered by their first cluster.
func (t *TreeDecomposition) components() [][]*Cluster {
	visited := make(map[*Cluster]bool, len(t.clusters))
	var comps [][]*Cluster
	var dfs func(c *Cluster, comp map[*Cluster]bool)
	dfs = func(c *Cluster, comp map[*Cluster]bool) {
		visited[c] = true
		comp[c] = true
		for _, cj := range c.edges {
			if !visited[cj] {
				dfs(cj, comp)
			}
		}
	}
	for _, c := range t.clusters {
		if visited[c] {
			continue
		}
		comp := make(map[*Cluster]bool)
		dfs(c, comp)
		comps = append(comps, byInstance(comp))
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i][0].instance < comps[j][0].instance })
	return comps
}

// makeRooted turns the cluster graph into a rooted tree and prepares every
// cluster for search. Clusters listed in t.roots are used as roots, in order;
// otherwise one root per connected component is chosen by the root
// heuristic and the tree is rewritten around it. A forest gets a meta-root
// without variables. It returns the height of the tree.
func (t *TreeDecomposition) makeRooted() (int, error) {
	given := t.roots
	alreadyRooted := len(given) > 0
	t.roots = nil

	for _, comp := range t.components() {
		unvisited := make(map[*Cluster]bool, len(comp))
		for _, c := range comp {
			unvisited[c] = true
		}
		selected := false
		for len(unvisited) > 0 {
			var root *Cluster
			if alreadyRooted {
				for len(given) > 0 && root == nil {
					if unvisited[given[0]] {
						root = given[0]
					}
					given = given[1:]
				}
				if root == nil {
					return 0, errors.Wrap(ErrMalformedDecomposition,
						"clusters unreachable from the given roots, maybe cycles within cluster parents")
				}
			} else {
				rc := t.opts.RootCluster
				if !selected && rc >= 0 && rc < len(t.clusters) && unvisited[t.clusters[rc]] {
					root = t.clusters[rc]
					selected = true
				} else {
					root = t.pickRoot(unvisited)
				}
				t.reduceHeight(root, nil)
				if t.opts.SplitClusterMaxSize >= 1 {
					t.splitClusterRec(root, nil, t.opts.SplitClusterMaxSize, unvisited)
				}
				if t.opts.MaxSeparatorSize >= 0 || t.opts.MinProperVarSize >= 2 {
					t.mergeClusterRec(root, nil, unvisited)
				}
				if t.opts.BoostingDegree > 0 {
					t.boostingVarElimRec(root, nil, nil, t.opts.BoostingDegree, unvisited)
				}
				t.reduceHeight(root, nil)
			}
			t.roots = append(t.roots, root)
			delete(unvisited, root)
			t.makeRootedRec(root, unvisited)
			t.makeDescendants(root)
		}
	}

	t.root = t.roots[0]
	if len(t.roots) > 1 {
		meta := t.newCluster()
		meta.descendants = []*Cluster{meta}
		for _, oneroot := range t.roots {
			oneroot.sep = newSeparator(oneroot, nil)
			if oneroot.NbVars() <= 1 && len(oneroot.descendants) == 1 {
				oneroot.sep.queued = wcsp.NewCell(false)
			}
			meta.addEdge(oneroot)
			oneroot.parent = meta
			meta.descendants = append(meta.descendants, oneroot.descendants...)
			meta.varsTree = Sum(meta.varsTree, oneroot.varsTree)
		}
		t.root = meta
		t.roots = []*Cluster{meta}
	}

	nv := t.net.NumVariables()
	t.varSeps = make([][]sepPos, nv)
	t.deltaModified = make([]wcsp.Cell[bool], nv)
	for _, c := range t.clusters {
		c.quickDesc = make([]bool, len(t.clusters))
		for _, d := range c.descendants {
			c.quickDesc[d.id] = true
		}
		posx := 0
		for _, x := range c.vars {
			if !c.IsSepVar(x) {
				t.net.SetVarCluster(x, c.id)
			} else {
				t.varSeps[x] = append(t.varSeps[x], sepPos{cluster: c.id, pos: posx})
				posx++
			}
		}
		c.setup()
	}
	t.rootRDS = nil

	t.treewidth = 0
	for _, c := range t.clusters {
		c.sortEdges()
		t.treewidth = max(t.treewidth, c.NbVars()-1)
	}
	t.maxDepth = 0
	t.computeDepths(t.root, -1)
	return t.heightOf(t.root), nil
}

// pickRoot applies the root heuristic to the unvisited clusters of a
// component.
func (t *TreeDecomposition) pickRoot(unvisited map[*Cluster]bool) *Cluster {
	cands := byInstance(unvisited)
	if t.opts.PathDecomposition {
		return cands[0]
	}
	ratio := func(c *Cluster) float64 {
		return float64(c.NbVars()) / float64(t.heightOf(c)-c.NbVars())
	}
	prepare := func(c *Cluster) {
		if t.opts.ReduceHeight {
			t.reduceHeight(c, nil)
		}
	}
	var best *Cluster
	switch t.opts.RootHeuristic {
	case RootMaxRatio:
		bestRatio := 0.0
		for _, c := range cands {
			prepare(c)
			if r := ratio(c); r >= bestRatio {
				best, bestRatio = c, r
			}
		}
	case RootMinRatio:
		best = cands[0]
		bestRatio := ratio(best)
		for _, c := range cands[1:] {
			prepare(c)
			if r := ratio(c); r < bestRatio {
				best, bestRatio = c, r
			}
		}
	case RootMinHeight:
		best = cands[0]
		bestHeight := t.heightOf(best)
		for _, c := range cands[1:] {
			prepare(c)
			if h := t.heightOf(c); h < bestHeight {
				best, bestHeight = c, h
			}
		}
	default:
		for _, c := range cands {
			if best == nil || c.NbVars() > best.NbVars() {
				best = c
			}
		}
	}
	if best == nil {
		best = cands[0]
	}
	t.log.WithFields(logrus.Fields{
		"cluster":   best.id,
		"size":      best.NbVars(),
		"heuristic": int(t.opts.RootHeuristic),
	}).Debug("root cluster selected")
	return best
}

// heightFrom returns the number of variables on the longest path from r
// down the subtree away from father, not counting the variables r shares
// with father.
func (t *TreeDecomposition) heightFrom(r, father *Cluster) int {
	maxh := 0
	for _, cj := range r.edges {
		if cj != father {
			maxh = max(maxh, t.heightFrom(cj, r))
		}
	}
	return maxh + r.NbVars() - len(Intersection(r.vars, father.vars))
}

// heightOf returns the height of the tree rooted at r.
func (t *TreeDecomposition) heightOf(r *Cluster) int {
	maxh := 0
	for _, cj := range r.edges {
		maxh = max(maxh, t.heightFrom(cj, r))
	}
	return maxh + r.NbVars()
}

// reduceHeight reattaches every subtree to the highest cluster on its path
// to the root that includes its separator. path lists the clusters from the
// root to the parent of c. At a root, subtrees sharing no variable are
// detached and become roots of their own.
func (t *TreeDecomposition) reduceHeight(c *Cluster, path []*Cluster) {
	var cparent *Cluster
	if len(path) > 0 {
		cparent = path[len(path)-1]
	}
	for _, cj := range append([]*Cluster(nil), c.edges...) {
		if cj == cparent {
			continue
		}
		cjsep := Intersection(c.vars, cj.vars)
		switch {
		case cparent != nil && Included(cjsep, cparent.vars):
			pos := len(path) - 1
			for pos >= 1 && Included(cjsep, path[pos-1].vars) {
				pos--
			}
			c.removeEdge(cj)
			path[pos].addEdge(cj)
			cj.removeEdge(c)
			cj.addEdge(path[pos])
			t.reduceHeight(cj, append([]*Cluster(nil), path[:pos+1]...))
		case cparent == nil && len(cjsep) == 0:
			c.removeEdge(cj)
			cj.removeEdge(c)
			t.reduceHeight(cj, nil)
		default:
			t.reduceHeight(cj, append(append([]*Cluster(nil), path...), c))
		}
	}
}

// splitVar picks the next variable of a split chunk: smallest domain over
// weighted degree, larger maximum unary cost on ties.
func (t *TreeDecomposition) splitVar(vars VarSet) int {
	best := -1
	bestScore := 0.0
	var worst wcsp.Cost
	for _, x := range vars {
		score := float64(t.net.DomainSize(x)) / float64(t.net.WeightedDegree(x)+1)
		mu := t.net.MaxUnaryCost(x)
		if best < 0 || score < bestScore-epsilon*bestScore ||
			(score < bestScore+epsilon*bestScore && mu > worst) {
			best, bestScore, worst = x, score, mu
		}
	}
	return best
}

// splitClusterRec splits every cluster with more than maxsize proper
// variables into a chain of clusters adding at most maxsize proper variables
// each. The last cluster of the chain takes over the children.
func (t *TreeDecomposition) splitClusterRec(c, father *Cluster, maxsize int, unvisited map[*Cluster]bool) {
	var csep VarSet
	if father != nil {
		csep = Intersection(father.vars, c.vars)
	}
	cproper := Difference(c.vars, csep)
	if len(cproper) > maxsize && (father == nil || len(c.edges) != 1) {
		var cedges []*Cluster
		for _, cj := range c.edges {
			if cj != father {
				cedges = append(cedges, cj)
			}
		}
		var cprev *Cluster
		for len(cproper) > 0 {
			var chunk VarSet
			for i := 0; i < maxsize && len(cproper) > 0; i++ {
				x := t.splitVar(cproper)
				chunk = chunk.Add(x)
				cproper = cproper.Remove(x)
			}
			if cprev == nil {
				c.vars = Sum(csep, chunk)
				c.edges = nil
				if father != nil {
					c.addEdge(father)
				}
				cprev = c
				continue
			}
			cnew := t.newCluster()
			unvisited[cnew] = true
			cnew.vars = Sum(cprev.vars, chunk)
			cnew.addEdge(cprev)
			cprev.addEdge(cnew)
			cprev = cnew
		}
		father = cprev.edges[0]
		for _, cj := range cedges {
			cprev.addEdge(cj)
			cj.removeEdge(c)
			cj.addEdge(cprev)
		}
		c = cprev
	}
	for _, cj := range append([]*Cluster(nil), c.edges...) {
		if cj != father {
			t.splitClusterRec(cj, c, maxsize, unvisited)
		}
	}
}

// removeCluster drops c from the cluster list; the last cluster takes its
// id.
func (t *TreeDecomposition) removeCluster(c *Cluster) {
	last := t.clusters[len(t.clusters)-1]
	last.id = c.id
	t.clusters[c.id] = last
	t.clusters = t.clusters[:len(t.clusters)-1]
}

// mergeClusterRec merges into its parent every cluster whose separator is
// too large or which has too few proper variables, bottom-up.
func (t *TreeDecomposition) mergeClusterRec(c, father *Cluster, unvisited map[*Cluster]bool) {
	for _, cj := range append([]*Cluster(nil), c.edges...) {
		if cj != father {
			t.mergeClusterRec(cj, c, unvisited)
		}
	}
	if father == nil {
		return
	}
	csep := Intersection(c.vars, father.vars)
	maxsep := t.opts.MaxSeparatorSize
	if (maxsep >= 0 && len(csep) > maxsep) || len(c.vars)-len(csep) < t.opts.MinProperVarSize {
		father.vars = Sum(father.vars, c.vars)
		for _, ck := range append([]*Cluster(nil), c.edges...) {
			father.addEdge(ck)
			ck.removeEdge(c)
			ck.addEdge(father)
		}
		father.removeEdge(father)
		father.removeEdge(c)
		delete(unvisited, c)
		t.removeCluster(c)
	}
}

// boostingVarElimRec merges into its parent every leaf bringing at most
// maxsize variables not already brought by its siblings or in the parent
// separator. It returns the variables merged into c from below.
func (t *TreeDecomposition) boostingVarElimRec(c, father, grandfather *Cluster, maxsize int, unvisited map[*Cluster]bool) VarSet {
	var added VarSet
	for _, cj := range append([]*Cluster(nil), c.edges...) {
		if cj != father {
			added = Sum(added, t.boostingVarElimRec(cj, c, father, maxsize, unvisited))
		}
	}
	if father == nil || len(c.edges) != 1 {
		return added
	}
	var fathersep VarSet
	if grandfather != nil {
		fathersep = Intersection(father.vars, grandfather.vars)
	}
	if len(Difference(c.vars, Sum(fathersep, added))) <= maxsize {
		cproper := Difference(c.vars, Intersection(c.vars, father.vars))
		father.vars = Sum(father.vars, cproper)
		father.removeEdge(c)
		delete(unvisited, c)
		t.removeCluster(c)
		added = Sum(added, cproper)
	}
	return added
}

// makeRootedRec orients the edges below c and creates the separators.
func (t *TreeDecomposition) makeRootedRec(c *Cluster, unvisited map[*Cluster]bool) {
	for _, cj := range append([]*Cluster(nil), c.edges...) {
		cj.removeEdge(c)
		cj.parent = c
		delete(unvisited, cj)
		cj.sep = newSeparator(cj, Intersection(c.vars, cj.vars))
		t.makeRootedRec(cj, unvisited)
	}
}

func (t *TreeDecomposition) makeDescendants(c *Cluster) {
	c.descendants = []*Cluster{c}
	c.varsTree = c.vars
	for _, cj := range c.edges {
		t.makeDescendants(cj)
		c.descendants = append(c.descendants, cj.descendants...)
		c.varsTree = Sum(c.varsTree, cj.varsTree)
	}
}

func (t *TreeDecomposition) computeDepths(c *Cluster, parentDepth int) {
	c.depth = parentDepth + 1
	t.maxDepth = max(t.maxDepth, c.depth)
	for _, cj := range c.children {
		t.computeDepths(cj, c.depth)
	}
}
