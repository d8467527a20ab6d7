// Package registry maps operator type names to the capability of
// instantiating operator nodes. Rewrite rules that create nodes receive a
// Factory rather than reaching for process-wide state, so tests can swap in
// a restricted registry.
package registry

import (
	"fmt"
	"sort"

	"github.com/mirfuse/mirfuse/internal/graph"
)

// Factory creates operator nodes in a graph.
type Factory interface {
	// CreateOpNode validates the descriptor's operator type and inserts a
	// node for it. Linking the node to its variables stays with the caller.
	CreateOpNode(g *graph.Graph, desc *graph.OpDesc) (*graph.Node, error)
}

// Registry is a Factory over an explicit set of known operator types.
type Registry struct {
	types map[string]bool
}

// New creates a registry knowing the given operator types.
func New(opTypes ...string) *Registry {
	r := &Registry{types: make(map[string]bool, len(opTypes))}
	for _, t := range opTypes {
		r.types[t] = true
	}
	return r
}

// Register adds an operator type.
func (r *Registry) Register(opType string) {
	r.types[opType] = true
}

// Known reports whether the operator type is registered.
func (r *Registry) Known(opType string) bool { return r.types[opType] }

// Types returns the registered operator types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CreateOpNode implements Factory.
func (r *Registry) CreateOpNode(g *graph.Graph, desc *graph.OpDesc) (*graph.Node, error) {
	if !r.types[desc.Type] {
		return nil, fmt.Errorf("registry: operator type %q not registered", desc.Type)
	}
	return g.AddOpNode(desc), nil
}

// Default returns a registry preloaded with the operator types the
// quantization passes work with.
func Default() *Registry {
	return New(
		"conv2d",
		"depthwise_conv2d",
		"conv2d_transpose",
		"mul",
		"matmul",
		"fake_quantize_abs_max",
		"fake_quantize_range_abs_max",
		"fake_quantize_moving_average_abs_max",
		"fake_dequantize_max_abs",
		"fake_channel_wise_dequantize_max_abs",
		"fake_quantize_dequantize_abs_max",
		"fake_quantize_dequantize_moving_average_abs_max",
	)
}
