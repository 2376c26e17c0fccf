// Package callgraph builds the direct call graph of a module: one
// node per function, one edge per call site with a statically
// resolvable callee. Call sites whose target is unknown (indirect
// calls) are recorded on the calling node for conservative clients.
package callgraph

import (
	"fmt"

	"github.com/mmsafec/mmopt/ir"
)

// A Graph is the module call graph.
type Graph struct {
	Nodes map[*ir.Function]*Node
	order []*Node // insertion order, for deterministic iteration
}

// A Node is a function and its outgoing call edges.
type Node struct {
	Func       *ir.Function
	Out        []*Edge    // direct calls made by Func
	In         []*Edge    // direct calls to Func
	Unresolved []*ir.Call // indirect call sites within Func
}

func (n *Node) String() string {
	return fmt.Sprintf("n:%s (%d out, %d in)", n.Func.Name(), len(n.Out), len(n.In))
}

// An Edge is a single direct call site.
type Edge struct {
	Caller *Node
	Callee *Node
	Site   *ir.Call
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s --> %s", e.Caller.Func.Name(), e.Callee.Func.Name())
}

// NodesInOrder returns the graph's nodes in module declaration order.
func (g *Graph) NodesInOrder() []*Node { return g.order }

func (g *Graph) node(f *ir.Function) *Node {
	n := g.Nodes[f]
	if n == nil {
		n = &Node{Func: f}
		g.Nodes[f] = n
		g.order = append(g.order, n)
	}
	return n
}

// Build constructs the direct call graph of m. Every function,
// defined or declared, gets a node; only defined functions have
// outgoing edges.
func Build(m *ir.Module) *Graph {
	g := &Graph{Nodes: make(map[*ir.Function]*Node)}
	for _, f := range m.Funcs() {
		g.node(f)
	}
	for _, f := range m.Funcs() {
		if f.IsDeclaration() {
			continue
		}
		caller := g.node(f)
		f.AllInstructions(func(instr ir.Instruction) {
			call, ok := instr.(*ir.Call)
			if !ok {
				return
			}
			callee := call.StaticCallee()
			if callee == nil {
				caller.Unresolved = append(caller.Unresolved, call)
				return
			}
			e := &Edge{Caller: caller, Callee: g.node(callee), Site: call}
			caller.Out = append(caller.Out, e)
			e.Callee.In = append(e.Callee.In, e)
		})
	}
	return g
}

// CallsTo returns every direct call site of f recorded in the graph.
func (g *Graph) CallsTo(f *ir.Function) []*ir.Call {
	n := g.Nodes[f]
	if n == nil {
		return nil
	}
	calls := make([]*ir.Call, 0, len(n.In))
	for _, e := range n.In {
		calls = append(calls, e.Site)
	}
	return calls
}
