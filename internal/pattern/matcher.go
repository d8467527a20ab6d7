package pattern

import "github.com/mirfuse/mirfuse/internal/graph"

// Match binds role names to concrete graph nodes for one pattern occurrence.
type Match map[string]*graph.Node

// At returns the node bound to the role; it panics when the role was never
// declared, which indicates a fuser reading a role outside its own pattern.
func (m Match) At(role string) *graph.Node {
	n, ok := m[role]
	if !ok {
		panic("pattern: no binding for role " + role)
	}
	return n
}

// FindMatches returns every disjoint occurrence of the pattern in the graph.
//
// Discovery runs to completion before the caller mutates anything, so a
// rewrite never observes a partially matched set. Occurrences sharing a graph
// node with an earlier occurrence are dropped; within one invocation no two
// returned matches overlap.
func FindMatches(g *graph.Graph, p *Pattern) []Match {
	if len(p.nodes) == 0 {
		return nil
	}

	var all []Match
	binding := make(map[*PNode]*graph.Node, len(p.nodes))
	used := make(map[*graph.Node]bool)

	var search func(idx int)
	search = func(idx int) {
		if idx == len(p.nodes) {
			m := make(Match, len(binding))
			for pn, gn := range binding {
				m[pn.role] = gn
			}
			all = append(all, m)
			return
		}
		pn := p.nodes[idx]
		for _, gn := range g.Nodes() {
			if used[gn] || !pn.matches(gn) {
				continue
			}
			binding[pn] = gn
			used[gn] = true
			if p.edgesHold(binding) {
				search(idx + 1)
			}
			delete(binding, pn)
			delete(used, gn)
		}
	}
	search(0)

	// Suppress overlapping occurrences: first found wins.
	taken := make(map[*graph.Node]bool)
	var disjoint []Match
	for _, m := range all {
		overlap := false
		for _, gn := range m {
			if taken[gn] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		for _, gn := range m {
			taken[gn] = true
		}
		disjoint = append(disjoint, m)
	}
	return disjoint
}

// edgesHold checks every declared edge whose endpoints are both bound.
func (p *Pattern) edgesHold(binding map[*PNode]*graph.Node) bool {
	for _, e := range p.edges {
		from, okFrom := binding[e[0]]
		to, okTo := binding[e[1]]
		if !okFrom || !okTo {
			continue
		}
		if !hasEdge(from, to) {
			return false
		}
	}
	return true
}

func hasEdge(from, to *graph.Node) bool {
	for _, n := range from.OutLinks() {
		if n == to {
			return true
		}
	}
	return false
}
