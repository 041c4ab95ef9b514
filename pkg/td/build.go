package td

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// BuildFromOrder builds a decomposition by eliminating the variables of net
// in the given order. Each variable yields a cluster made of itself and its
// neighbours not yet eliminated. Clusters included in a neighbour are then
// fused, or chained into a path when opts.PathDecomposition is set.
func BuildFromOrder(net *wcsp.Network, order []int, opts Options) (*TreeDecomposition, error) {
	nv := net.NumVariables()
	if len(order) != nv {
		return nil, errors.Wrapf(ErrMalformedDecomposition,
			"elimination order has %d variables, network has %d", len(order), nv)
	}
	seen := make([]bool, nv)
	for _, x := range order {
		if x < 0 || x >= nv || seen[x] {
			return nil, errors.Wrapf(ErrMalformedDecomposition, "elimination order is not a permutation")
		}
		seen[x] = true
	}
	if nv == 0 {
		return nil, errors.Wrap(ErrMalformedDecomposition, "empty network")
	}

	t := newTreeDecomposition(net, opts)
	for _, x := range order {
		c := t.newCluster()
		c.vars = NewVarSet(x)
	}
	used := make([]bool, net.NumCostFunctions())
	for i, x := range order {
		c := t.clusters[i]
		for _, f := range net.Var(x).Functions() {
			if used[f] {
				continue
			}
			used[f] = true
			c.funcs = c.funcs.Add(f)
			for _, y := range net.Func(f).Scope() {
				c.vars = c.vars.Add(y)
			}
		}
		for j := i + 1; j < nv; j++ {
			if c.vars.Contains(order[j]) {
				cj := t.clusters[j]
				cj.vars = Sum(cj.vars, c.vars).Remove(x)
				c.addEdge(cj)
				cj.addEdge(c)
				break
			}
		}
	}

	if opts.PathDecomposition {
		t.pathFusions(order)
	} else {
		t.treeFusions()
	}
	if err := t.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// treeFusion merges every cluster into a lower-numbered neighbour when one
// includes the other.
func (t *TreeDecomposition) treeFusion() bool {
	done := false
	for j := len(t.clusters) - 1; j >= 0; j-- {
		cj := t.clusters[j]
		if cj == nil {
			continue
		}
		for _, c := range cj.edges {
			if c.id >= cj.id || !(Included(c.vars, cj.vars) || Included(cj.vars, c.vars)) {
				continue
			}
			t.fuse(c, cj)
			done = true
			break
		}
	}
	return done
}

// fuse moves the variables, cost functions and neighbours of cj into c and
// drops cj.
func (t *TreeDecomposition) fuse(c, cj *Cluster) {
	c.vars = Sum(c.vars, cj.vars)
	c.funcs = Sum(c.funcs, cj.funcs)
	for _, ck := range append([]*Cluster(nil), cj.edges...) {
		c.addEdge(ck)
		ck.removeEdge(cj)
		ck.addEdge(c)
	}
	c.removeEdge(c)
	t.clusters[cj.id] = nil
	t.log.WithFields(logrus.Fields{"into": c.id, "from": cj.id}).Trace("fuse clusters")
}

func (t *TreeDecomposition) treeFusions() {
	for t.treeFusion() {
	}
	t.compact()
}

// compact drops the nil slots of the cluster list and renumbers the
// survivors in creation order.
func (t *TreeDecomposition) compact() {
	var live []*Cluster
	for _, c := range t.clusters {
		if c != nil {
			live = append(live, c)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].instance < live[j].instance })
	for i, c := range live {
		c.id = i
	}
	t.clusters = live
}

// pathFusions replaces the elimination clusters by a chain: cluster i holds
// order[i] together with every earlier variable it depends on, and is linked
// to the previous connected cluster. Clusters included in their successor are
// then fused into it.
func (t *TreeDecomposition) pathFusions(order []int) {
	elim := t.clusters
	size := len(elim)
	connected := make([]bool, size)
	for i := range elim {
		connected[i] = elim[i].NbVars() > 1
		for j := 0; j < i && !connected[i]; j++ {
			if elim[j].vars.Contains(order[i]) {
				connected[i] = true
			}
		}
	}

	t.clusters = nil
	rds := make([]*Cluster, 0, size)
	for i := 0; i < size; i++ {
		c := t.newCluster()
		c.vars = NewVarSet(order[i])
		if connected[i] {
			for j := 0; j < i; j++ {
				if !elim[j].vars.Contains(order[i]) {
					continue
				}
				for l := j + 1; l < i; l++ {
					if connected[l] {
						rds[l].vars = rds[l].vars.Add(order[j])
					}
				}
				c.vars = c.vars.Add(order[j])
			}
			last := len(rds) - 1
			for last >= 0 && !connected[last] {
				last--
			}
			if last >= 0 {
				c.addEdge(rds[last])
				rds[last].addEdge(c)
			}
		}
		rds = append(rds, c)
	}
	for i := 0; i < size-1; i++ {
		if !Included(rds[i].vars, rds[i+1].vars) {
			continue
		}
		rds[i+1].removeEdge(rds[i])
		rds[i].removeEdge(rds[i+1])
		for _, ck := range rds[i].edges {
			rds[i+1].addEdge(ck)
			ck.removeEdge(rds[i])
			ck.addEdge(rds[i+1])
		}
		t.clusters[rds[i].id] = nil
		rds[i] = nil
	}
	t.compact()
}

// attachFunctions assigns every cost function to the first cluster
// including its scope.
func (t *TreeDecomposition) attachFunctions() bool {
	for _, c := range t.clusters {
		c.funcs = nil
	}
	covered := true
	for f := 0; f < t.net.NumCostFunctions(); f++ {
		scope := NewVarSet(t.net.Func(f).Scope()...)
		found := false
		for _, c := range t.clusters {
			if Included(scope, c.vars) {
				c.funcs = c.funcs.Add(f)
				found = true
				break
			}
		}
		covered = covered && found
	}
	return covered
}

// LoadCovering reads a decomposition of net from a covering file.
func LoadCovering(net *wcsp.Network, path string, opts Options) (*TreeDecomposition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open covering")
	}
	defer f.Close()
	return BuildFromCovering(net, f, opts)
}

// BuildFromCovering reads a decomposition given as one cluster per line:
//
//	id parent x1 x2 ...
//
// where parent is -1 for a root and must otherwise name a cluster defined on
// an earlier line. Blank lines and lines starting with '#' are ignored.
func BuildFromCovering(net *wcsp.Network, r io.Reader, opts Options) (*TreeDecomposition, error) {
	t := newTreeDecomposition(net, opts)
	ids := make(map[int]*Cluster)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, errors.Wrapf(ErrMalformedDecomposition, "line %d: want 'id parent vars...'", line)
		}
		nums := make([]int, len(fields))
		for i, s := range fields {
			v, err := strconv.Atoi(s)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedDecomposition, "line %d: %v", line, err)
			}
			nums[i] = v
		}
		id, parent := nums[0], nums[1]
		if _, dup := ids[id]; dup {
			return nil, errors.Wrapf(ErrMalformedDecomposition, "line %d: cluster %d defined twice", line, id)
		}
		c := t.newCluster()
		ids[id] = c
		for _, x := range nums[2:] {
			if x < 0 || x >= net.NumVariables() {
				return nil, errors.Wrapf(ErrMalformedDecomposition, "line %d: unknown variable %d", line, x)
			}
			c.vars = c.vars.Add(x)
		}
		if parent < 0 {
			t.roots = append(t.roots, c)
			continue
		}
		p, ok := ids[parent]
		if !ok {
			return nil, errors.Wrapf(ErrMalformedDecomposition,
				"line %d: parent cluster %d is not defined before cluster %d", line, parent, id)
		}
		c.addEdge(p)
		p.addEdge(c)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read covering")
	}
	if len(t.clusters) == 0 {
		return nil, errors.Wrap(ErrMalformedDecomposition, "empty covering")
	}
	var all VarSet
	for _, c := range t.clusters {
		all = Sum(all, c.vars)
	}
	if len(all) != net.NumVariables() {
		return nil, errors.Wrapf(ErrMalformedDecomposition,
			"covering holds %d of %d variables", len(all), net.NumVariables())
	}
	if !t.attachFunctions() {
		return nil, errors.Wrap(ErrMalformedDecomposition, "a cost function scope is included in no cluster")
	}
	if err := t.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// finish roots the decomposition, attaches it to the network and checks it.
func (t *TreeDecomposition) finish() error {
	for _, c := range t.clusters {
		c.descendants = nil
	}
	h, err := t.makeRooted()
	if err != nil {
		return err
	}
	t.height = h
	t.attachFunctions()
	for f := 0; f < t.net.NumCostFunctions(); f++ {
		t.net.SetFuncCluster(f, t.assignCluster(t.net.Func(f)).id)
	}
	t.net.SetDecomposition(t)
	t.current = wcsp.NewCell(t.root.id)
	if err := t.Verify(); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{
		"clusters":  len(t.clusters),
		"treewidth": t.treewidth,
		"height":    t.height,
		"maxdepth":  t.maxDepth,
	}).Debug("tree decomposition built")
	return nil
}
