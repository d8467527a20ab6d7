package graph

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/mirfuse/mirfuse/internal/scope"
)

// Model is the serialised form of a graph plus the tensors backing its
// variables. It is the format the CLI and the fuse API exchange.
type Model struct {
	Ops  []ModelOp  `json:"ops"`
	Vars []ModelVar `json:"vars"`
}

// ModelOp is one operator in serialised form.
type ModelOp struct {
	Type        string               `json:"type"`
	Inputs      map[string][]string  `json:"inputs,omitempty"`
	Outputs     map[string][]string  `json:"outputs,omitempty"`
	Attrs       map[string]any       `json:"attrs,omitempty"`
	InputScales map[string][]float32 `json:"input_scales,omitempty"`
}

// ModelVar is one variable in serialised form, optionally carrying its
// tensor payload.
type ModelVar struct {
	Name        string    `json:"name"`
	IsWeight    bool      `json:"is_weight,omitempty"`
	Persistable bool      `json:"persistable,omitempty"`
	Shape       []int64   `json:"shape,omitempty"`
	DType       string    `json:"dtype,omitempty"`
	DataF32     []float32 `json:"data_f32,omitempty"`
	DataI8      []int8    `json:"data_i8,omitempty"`
}

// Decode reads a serialised model and materialises the graph and its scope.
// Variable nodes are created for every name referenced by an operator, so the
// producer/consumer invariant holds even when the vars list is sparse.
func Decode(r io.Reader) (*Graph, *scope.Scope, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("decode model: %w", err)
	}
	return Build(&m)
}

// Build materialises a decoded model.
func Build(m *Model) (*Graph, *scope.Scope, error) {
	g := New()
	sc := scope.New()

	for i := range m.Vars {
		v := &m.Vars[i]
		if g.VarNode(v.Name) != nil {
			return nil, nil, fmt.Errorf("model: duplicate variable %q", v.Name)
		}
		g.AddVarNode(&VarInfo{Name: v.Name, IsWeight: v.IsWeight, Persistable: v.Persistable})
		if t, err := buildTensor(v); err != nil {
			return nil, nil, err
		} else if t != nil {
			sc.SetTensor(v.Name, t)
		}
	}

	varNode := func(name string) *Node {
		if n := g.VarNode(name); n != nil {
			return n
		}
		return g.AddVarNode(&VarInfo{Name: name})
	}

	for i := range m.Ops {
		o := &m.Ops[i]
		desc := NewOpDesc(o.Type)
		for arg, names := range o.Inputs {
			desc.SetInput(arg, names)
		}
		for arg, names := range o.Outputs {
			desc.SetOutput(arg, names)
		}
		for k, v := range o.Attrs {
			desc.SetAttr(k, v)
		}
		for name, scales := range o.InputScales {
			desc.SetInputScale(name, scales)
		}
		opNode := g.AddOpNode(desc)
		for _, name := range desc.InputVarNames() {
			g.Link(varNode(name), opNode)
		}
		for _, name := range desc.OutputVarNames() {
			g.Link(opNode, varNode(name))
		}
	}
	return g, sc, nil
}

func buildTensor(v *ModelVar) (*scope.Tensor, error) {
	switch {
	case v.DataF32 != nil:
		t := scope.NewTensorFromFloat32s(v.DataF32, v.Shape...)
		t.SetPersistable(v.Persistable)
		return t, nil
	case v.DataI8 != nil:
		t := scope.NewTensor(v.Shape...)
		copy(t.MutableInt8s(), v.DataI8)
		t.SetPersistable(v.Persistable)
		return t, nil
	case len(v.Shape) > 0:
		t := scope.NewTensor(v.Shape...)
		t.SetPersistable(v.Persistable)
		return t, nil
	case v.DType != "":
		return nil, fmt.Errorf("model: variable %q has dtype but no shape", v.Name)
	default:
		return nil, nil
	}
}

// Encode serialises the graph and the tensors of its variables.
func Encode(w io.Writer, g *Graph, sc *scope.Scope) error {
	m := Snapshot(g, sc)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return nil
}

// Snapshot converts the live graph and scope back into the serialised form.
func Snapshot(g *Graph, sc *scope.Scope) *Model {
	m := &Model{}
	for _, n := range g.Nodes() {
		switch {
		case n.IsOp():
			d := n.Op
			op := ModelOp{Type: d.Type}
			if len(d.Inputs) > 0 {
				op.Inputs = d.Inputs
			}
			if len(d.Outputs) > 0 {
				op.Outputs = d.Outputs
			}
			if len(d.Attrs) > 0 {
				op.Attrs = d.Attrs
			}
			if len(d.InputScales) > 0 {
				op.InputScales = d.InputScales
			}
			m.Ops = append(m.Ops, op)
		case n.IsVar():
			v := ModelVar{
				Name:        n.Var.Name,
				IsWeight:    n.Var.IsWeight,
				Persistable: n.Var.Persistable,
			}
			if t, err := sc.FindTensor(n.Var.Name); err == nil {
				v.Shape = t.Dims()
				v.DType = t.DType().String()
				v.Persistable = v.Persistable || t.Persistable()
				v.DataF32 = t.Float32s()
				v.DataI8 = t.Int8s()
			}
			m.Vars = append(m.Vars, v)
		}
	}
	return m
}
