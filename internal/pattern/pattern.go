// Package pattern declares subgraph shapes and finds their occurrences in a
// graph. A Pattern is data only: named roles, connectivity between roles, and
// per-role predicates. Matching binds each role to a concrete graph node.
package pattern

import "github.com/mirfuse/mirfuse/internal/graph"

// Role lifecycle markers. Input and Output roles survive a rewrite;
// Intermediate roles are slated for deletion once the rewrite has rewired
// around them.
type RoleKind int

const (
	RoleUnset RoleKind = iota
	RoleInput
	RoleOutput
	RoleIntermediate
)

// PNode is one role in a pattern.
type PNode struct {
	role       string
	kind       RoleKind
	predicates []func(*graph.Node) bool
}

// Pattern is a static declaration of roles, connectivity and predicates.
type Pattern struct {
	nodes  []*PNode
	byRole map[string]*PNode
	edges  [][2]*PNode
}

// New creates an empty pattern.
func New() *Pattern {
	return &Pattern{byRole: make(map[string]*PNode)}
}

func (p *Pattern) addNode(role string, preds ...func(*graph.Node) bool) *PNode {
	n := &PNode{role: role, predicates: preds}
	p.nodes = append(p.nodes, n)
	p.byRole[role] = n
	return n
}

// OpNode declares a role that must bind to an operator node of opType.
func (p *Pattern) OpNode(role, opType string) *PNode {
	return p.addNode(role, func(n *graph.Node) bool {
		return n.IsOp() && n.Op.Type == opType
	})
}

// VarNode declares a role that must bind to a variable node.
func (p *Pattern) VarNode(role string) *PNode {
	return p.addNode(role, func(n *graph.Node) bool {
		return n.IsVar()
	})
}

// NodeByRole returns the declared role, or nil.
func (p *Pattern) NodeByRole(role string) *PNode { return p.byRole[role] }

// Roles returns all declared roles in declaration order.
func (p *Pattern) Roles() []*PNode { return p.nodes }

// Role returns the role name.
func (n *PNode) Role() string { return n.role }

// Kind returns the lifecycle marker of the role.
func (n *PNode) Kind() RoleKind { return n.kind }

// AsInput marks the role as a surviving source of the match.
func (n *PNode) AsInput() *PNode {
	n.kind = RoleInput
	return n
}

// AsOutput marks the role as a surviving sink of the match.
func (n *PNode) AsOutput() *PNode {
	n.kind = RoleOutput
	return n
}

// AsIntermediate marks the role for deletion after a rewrite.
func (n *PNode) AsIntermediate() *PNode {
	n.kind = RoleIntermediate
	return n
}

// LinksFrom declares directed connectivity: every node in ins must have an
// edge into n.
func (p *Pattern) LinksFrom(n *PNode, ins ...*PNode) {
	for _, in := range ins {
		p.edges = append(p.edges, [2]*PNode{in, n})
	}
}

func (n *PNode) assert(pred func(*graph.Node) bool) *PNode {
	n.predicates = append(n.predicates, pred)
	return n
}

// AssertIsOp requires the bound node to be an operator of opType.
func (n *PNode) AssertIsOp(opType string) *PNode {
	return n.assert(func(gn *graph.Node) bool {
		return gn.IsOp() && gn.Op.Type == opType
	})
}

// AssertIsOpInput requires the bound variable to feed an operator of opType.
// When arg is non-empty the variable must be bound to that input slot.
func (n *PNode) AssertIsOpInput(opType, arg string) *PNode {
	return n.assert(func(gn *graph.Node) bool {
		if !gn.IsVar() {
			return false
		}
		for _, consumer := range gn.OutLinks() {
			if !consumer.IsOp() || consumer.Op.Type != opType {
				continue
			}
			if arg == "" {
				if consumer.Op.HasInputVar(gn.Var.Name) {
					return true
				}
				continue
			}
			for _, name := range consumer.Op.Input(arg) {
				if name == gn.Var.Name {
					return true
				}
			}
		}
		return false
	})
}

// AssertIsOpOutput requires the bound variable to be produced by an operator
// of opType. When arg is non-empty the variable must fill that output slot.
func (n *PNode) AssertIsOpOutput(opType, arg string) *PNode {
	return n.assert(func(gn *graph.Node) bool {
		if !gn.IsVar() {
			return false
		}
		for _, producer := range gn.InLinks() {
			if !producer.IsOp() || producer.Op.Type != opType {
				continue
			}
			if arg == "" {
				return true
			}
			for _, name := range producer.Op.Output(arg) {
				if name == gn.Var.Name {
					return true
				}
			}
		}
		return false
	})
}

// AssertOpAttrSatisfied requires the bound operator to carry the attribute
// and the attribute value to satisfy pred.
func (n *PNode) AssertOpAttrSatisfied(key string, pred func(any) bool) *PNode {
	return n.assert(func(gn *graph.Node) bool {
		if !gn.IsOp() {
			return false
		}
		v, ok := gn.Op.Attrs[key]
		return ok && pred(v)
	})
}

func (n *PNode) matches(gn *graph.Node) bool {
	for _, pred := range n.predicates {
		if !pred(gn) {
			return false
		}
	}
	return true
}
