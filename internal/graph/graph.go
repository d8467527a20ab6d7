// Package graph implements the directed operator/variable graph mutated by
// optimisation passes. Operator nodes carry descriptors; variable nodes carry
// the name and role of a tensor in the surrounding scope. Edges always run
// between an operator and a variable, never between two nodes of the same
// kind.
package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// VarInfo describes a variable node.
type VarInfo struct {
	Name        string
	IsWeight    bool
	Persistable bool
}

// Node is either an operator statement or a variable argument.
type Node struct {
	id       string
	Op       *OpDesc
	Var      *VarInfo
	inlinks  []*Node
	outlinks []*Node
}

// ID returns the node's graph-unique identifier.
func (n *Node) ID() string { return n.id }

// IsOp reports whether the node is an operator node.
func (n *Node) IsOp() bool { return n.Op != nil }

// IsVar reports whether the node is a variable node.
func (n *Node) IsVar() bool { return n.Var != nil }

// InLinks returns the producer side of the node's edges.
func (n *Node) InLinks() []*Node { return n.inlinks }

// OutLinks returns the consumer side of the node's edges.
func (n *Node) OutLinks() []*Node { return n.outlinks }

func (n *Node) String() string {
	if n.IsOp() {
		return fmt.Sprintf("op:%s(%s)", n.Op.Type, n.id)
	}
	return fmt.Sprintf("var:%s", n.Var.Name)
}

// Graph owns the nodes and edges of one computation graph.
type Graph struct {
	nodes      []*Node
	varsByName map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{varsByName: make(map[string]*Node)}
}

// AddOpNode inserts an operator node for the given descriptor. Edges to its
// input and output variables are the caller's responsibility (see Link).
func (g *Graph) AddOpNode(desc *OpDesc) *Node {
	n := &Node{
		id: fmt.Sprintf("%s/%s", desc.Type, uuid.NewString()[:8]),
		Op: desc,
	}
	g.nodes = append(g.nodes, n)
	return n
}

// AddVarNode inserts a variable node. Variable names are unique within a
// graph; adding a duplicate panics, as that is a programming error in the
// pass, not a property of the input graph.
func (g *Graph) AddVarNode(info *VarInfo) *Node {
	if _, ok := g.varsByName[info.Name]; ok {
		panic(fmt.Sprintf("graph: duplicate variable node %q", info.Name))
	}
	n := &Node{id: "var/" + info.Name, Var: info}
	g.nodes = append(g.nodes, n)
	g.varsByName[info.Name] = n
	return n
}

// VarNode returns the variable node with the given name, or nil.
func (g *Graph) VarNode(name string) *Node {
	return g.varsByName[name]
}

// Nodes returns all live nodes in insertion order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// OpNodes returns all live operator nodes in insertion order.
func (g *Graph) OpNodes() []*Node {
	var ops []*Node
	for _, n := range g.nodes {
		if n.IsOp() {
			ops = append(ops, n)
		}
	}
	return ops
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of live directed edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, n := range g.nodes {
		count += len(n.outlinks)
	}
	return count
}

// Link adds a directed edge from producer-or-input from to consumer-or-output
// to. Duplicate edges are ignored.
func (g *Graph) Link(from, to *Node) {
	for _, n := range from.outlinks {
		if n == to {
			return
		}
	}
	from.outlinks = append(from.outlinks, to)
	to.inlinks = append(to.inlinks, from)
}

// SafeRemoveNodes removes the given nodes and every edge touching them.
//
// Removal is rejected when it would orphan a reference: a surviving operator
// node whose descriptor still names a removed variable means the caller
// removed a producer without rewiring or removing its consumer first.
func (g *Graph) SafeRemoveNodes(nodes map[*Node]bool) error {
	for victim := range nodes {
		if !victim.IsVar() {
			continue
		}
		name := victim.Var.Name
		for _, consumer := range victim.outlinks {
			if nodes[consumer] || !consumer.IsOp() {
				continue
			}
			if consumer.Op.HasInputVar(name) {
				return fmt.Errorf("graph: removing %s would orphan input of %s", victim, consumer)
			}
		}
	}

	keep := g.nodes[:0]
	for _, n := range g.nodes {
		if nodes[n] {
			if n.IsVar() {
				delete(g.varsByName, n.Var.Name)
			}
			continue
		}
		keep = append(keep, n)
	}
	g.nodes = keep

	for _, n := range g.nodes {
		n.inlinks = dropLinks(n.inlinks, nodes)
		n.outlinks = dropLinks(n.outlinks, nodes)
	}
	return nil
}

func dropLinks(links []*Node, removed map[*Node]bool) []*Node {
	keep := links[:0]
	for _, n := range links {
		if !removed[n] {
			keep = append(keep, n)
		}
	}
	return keep
}
