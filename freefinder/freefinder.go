// Package freefinder classifies each function and call site of a
// module as may-free or non-freeing. A call may free if its target is
// unknown to the compiler, if it targets a declaration-only function
// outside the non-freeing whitelist, or if it targets a function that
// transitively contains such a call.
package freefinder

import (
	"io/ioutil"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/twmb/algoimpl/go/graph"
	"golang.org/x/xerrors"

	"github.com/mmsafec/mmopt/callgraph"
	"github.com/mmsafec/mmopt/ir"
)

// A Config formulates a free-finder problem for Analyze. The
// whitelist extension must be populated before Analyze runs; the
// analysis reads it once, before the first call-site scan.
type Config struct {
	Module *ir.Module
	Graph  *callgraph.Graph

	// ExtraNonFreeing extends the non-freeing whitelist with
	// host-provided external symbol names.
	ExtraNonFreeing []string

	// Log receives progress messages; nil silences them.
	Log *logrus.Logger
}

// A Result holds the analysis output. Both sets are read-only to
// consumers and must not be mutated after Analyze returns.
type Result struct {
	// MayFreeFns is the set of defined functions that may directly
	// or transitively free a heap object referenced by a safe
	// pointer.
	MayFreeFns map[*ir.Function]struct{}

	// MayFreeCalls is the set of call sites that may free.
	MayFreeCalls map[*ir.Call]struct{}
}

type fnSet map[*ir.Function]struct{}

// Analyze runs the free-finder over cfg.Module.
func Analyze(cfg *Config) (*Result, error) {
	if cfg.Module == nil {
		return nil, xerrors.New("freefinder: nil module")
	}
	if cfg.Graph == nil {
		return nil, xerrors.New("freefinder: call graph required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}

	wl := whitelist(cfg.Module.Name, cfg.ExtraNonFreeing)

	res := &Result{
		MayFreeFns:   make(map[*ir.Function]struct{}),
		MayFreeCalls: make(map[*ir.Call]struct{}),
	}

	// Step 1: directly-may-free classification.
	for _, n := range cfg.Graph.NodesInOrder() {
		caller := n.Func
		if caller.IsDeclaration() || ir.IsCheckHelper(caller) {
			continue
		}
		for _, site := range n.Unresolved {
			res.MayFreeCalls[site] = struct{}{}
			res.MayFreeFns[caller] = struct{}{}
		}
		for _, e := range n.Out {
			callee := e.Callee.Func
			if ir.IsCheckHelper(callee) {
				continue
			}
			if callee.IsDeclaration() {
				if _, ok := wl[callee.Name()]; !ok {
					res.MayFreeCalls[e.Site] = struct{}{}
					res.MayFreeFns[caller] = struct{}{}
				}
			}
		}
	}
	log.WithFields(logrus.Fields{
		"direct_fns":   len(res.MayFreeFns),
		"direct_calls": len(res.MayFreeCalls),
	}).Debug("freefinder: direct classification done")

	// Step 2: every function that can reach a may-free function is
	// itself may-free.
	reached := reachAnalysis(cfg.Graph)
	for f := range copyFnSet(res.MayFreeFns) {
		for caller := range reached[f] {
			res.MayFreeFns[caller] = struct{}{}
		}
	}

	// Step 3: every direct call site of a may-free function is a
	// may-free call.
	for f := range res.MayFreeFns {
		for _, site := range cfg.Graph.CallsTo(f) {
			res.MayFreeCalls[site] = struct{}{}
		}
	}

	log.WithFields(logrus.Fields{
		"fns":   len(res.MayFreeFns),
		"calls": len(res.MayFreeCalls),
	}).Info("freefinder: analysis complete")
	return res, nil
}

func copyFnSet(s fnSet) fnSet {
	c := make(fnSet, len(s))
	for f := range s {
		c[f] = struct{}{}
	}
	return c
}

// reachAnalysis computes, for each defined function, the set of
// functions that can reach it along direct-call edges. Edges into
// declarations and into the key-check helpers do not participate.
//
// Cycles are collapsed first: the call graph is condensed into its
// strongly connected components and reachability is propagated over
// the component DAG in reverse topological order, so each edge is
// visited a bounded number of times.
func reachAnalysis(cg *callgraph.Graph) map[*ir.Function]fnSet {
	// Collect the functions that participate in the closure.
	var fns []*ir.Function
	for _, n := range cg.NodesInOrder() {
		f := n.Func
		if f.IsDeclaration() || ir.IsCheckHelper(f) {
			continue
		}
		fns = append(fns, f)
	}

	g := graph.New(graph.Directed)
	nodes := make(map[*ir.Function]graph.Node, len(fns))
	for _, f := range fns {
		n := g.MakeNode()
		*n.Value = f
		nodes[f] = n
	}
	type edge struct{ from, to *ir.Function }
	edgeSet := make(map[edge]bool)
	for _, n := range cg.NodesInOrder() {
		caller := n.Func
		if _, ok := nodes[caller]; !ok {
			continue
		}
		for _, e := range n.Out {
			callee := e.Callee.Func
			if _, ok := nodes[callee]; !ok {
				continue
			}
			if !edgeSet[edge{caller, callee}] {
				edgeSet[edge{caller, callee}] = true
				g.MakeEdge(nodes[caller], nodes[callee])
			}
		}
	}

	// Condense into components.
	sccs := g.StronglyConnectedComponents()
	compOf := make(map[*ir.Function]int, len(fns))
	members := make([][]*ir.Function, len(sccs))
	for ci, comp := range sccs {
		for _, n := range comp {
			f := (*n.Value).(*ir.Function)
			compOf[f] = ci
			members[ci] = append(members[ci], f)
		}
	}

	// Component DAG and its topological order.
	compSucc := make([]map[int]bool, len(sccs))
	for i := range compSucc {
		compSucc[i] = make(map[int]bool)
	}
	selfCycle := make([]bool, len(sccs))
	for e := range edgeSet {
		cf, ct := compOf[e.from], compOf[e.to]
		if cf == ct {
			selfCycle[cf] = true
			continue
		}
		compSucc[cf][ct] = true
	}
	order := topoOrder(len(sccs), compSucc)

	// reaches[c] = functions reachable from component c along one or
	// more edges, computed callees-first.
	reaches := make([]fnSet, len(sccs))
	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		r := make(fnSet)
		if len(members[c]) > 1 || selfCycle[c] {
			for _, f := range members[c] {
				r[f] = struct{}{}
			}
		}
		for succ := range compSucc[c] {
			for _, f := range members[succ] {
				r[f] = struct{}{}
			}
			for f := range reaches[succ] {
				r[f] = struct{}{}
			}
		}
		reaches[c] = r
	}

	// Invert into reached-by.
	reached := make(map[*ir.Function]fnSet, len(fns))
	for _, f := range fns {
		reached[f] = make(fnSet)
	}
	for _, f := range fns {
		for target := range reaches[compOf[f]] {
			reached[target][f] = struct{}{}
		}
	}
	return reached
}

// topoOrder returns a topological order of the component DAG,
// sources first.
func topoOrder(n int, succ []map[int]bool) []int {
	indeg := make([]int, n)
	for _, ss := range succ {
		for t := range ss {
			indeg[t]++
		}
	}
	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)
	var order []int
	for len(ready) > 0 {
		c := ready[0]
		ready = ready[1:]
		order = append(order, c)
		var next []int
		for t := range succ[c] {
			indeg[t]--
			if indeg[t] == 0 {
				next = append(next, t)
			}
		}
		sort.Ints(next)
		ready = append(ready, next...)
	}
	return order
}
