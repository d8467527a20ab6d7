package graph

import "sort"

// OpDesc is the descriptor of an operator node: named input and output
// argument slots holding variable-name lists, a typed attribute map, and the
// quantization scales attached to input variables.
type OpDesc struct {
	Type        string
	Inputs      map[string][]string
	Outputs     map[string][]string
	Attrs       map[string]any
	InputScales map[string][]float32
}

// NewOpDesc creates an empty descriptor for the given operator type.
func NewOpDesc(opType string) *OpDesc {
	return &OpDesc{
		Type:        opType,
		Inputs:      make(map[string][]string),
		Outputs:     make(map[string][]string),
		Attrs:       make(map[string]any),
		InputScales: make(map[string][]float32),
	}
}

// Clone deep-copies the descriptor.
func (d *OpDesc) Clone() *OpDesc {
	c := NewOpDesc(d.Type)
	for arg, names := range d.Inputs {
		c.Inputs[arg] = append([]string(nil), names...)
	}
	for arg, names := range d.Outputs {
		c.Outputs[arg] = append([]string(nil), names...)
	}
	for k, v := range d.Attrs {
		c.Attrs[k] = v
	}
	for name, scales := range d.InputScales {
		c.InputScales[name] = append([]float32(nil), scales...)
	}
	return c
}

// Input returns the variable names bound to the input argument slot.
func (d *OpDesc) Input(arg string) []string { return d.Inputs[arg] }

// Output returns the variable names bound to the output argument slot.
func (d *OpDesc) Output(arg string) []string { return d.Outputs[arg] }

// SetInput binds the input argument slot to the given variable names.
func (d *OpDesc) SetInput(arg string, names []string) {
	d.Inputs[arg] = append([]string(nil), names...)
}

// SetOutput binds the output argument slot to the given variable names.
func (d *OpDesc) SetOutput(arg string, names []string) {
	d.Outputs[arg] = append([]string(nil), names...)
}

// InputArgNames returns the input argument slot names in sorted order.
func (d *OpDesc) InputArgNames() []string {
	args := make([]string, 0, len(d.Inputs))
	for arg := range d.Inputs {
		args = append(args, arg)
	}
	sort.Strings(args)
	return args
}

// InputVarNames returns every variable name referenced by any input slot.
func (d *OpDesc) InputVarNames() []string {
	var names []string
	for _, arg := range d.InputArgNames() {
		names = append(names, d.Inputs[arg]...)
	}
	return names
}

// OutputVarNames returns every variable name referenced by any output slot.
func (d *OpDesc) OutputVarNames() []string {
	args := make([]string, 0, len(d.Outputs))
	for arg := range d.Outputs {
		args = append(args, arg)
	}
	sort.Strings(args)
	var names []string
	for _, arg := range args {
		names = append(names, d.Outputs[arg]...)
	}
	return names
}

// HasInputVar reports whether any input slot references the variable name.
func (d *OpDesc) HasInputVar(name string) bool {
	for _, names := range d.Inputs {
		for _, n := range names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// UpdateAllInputs renames every input reference to oldName so it points at
// newName instead, carrying any attached quantization scale along with it.
func (d *OpDesc) UpdateAllInputs(oldName, newName string) {
	for arg, names := range d.Inputs {
		for i, n := range names {
			if n == oldName {
				d.Inputs[arg][i] = newName
			}
		}
	}
	if scales, ok := d.InputScales[oldName]; ok {
		delete(d.InputScales, oldName)
		d.InputScales[newName] = scales
	}
}

// SetInputScale attaches a quantization scale list to the input variable.
func (d *OpDesc) SetInputScale(varName string, scales []float32) {
	d.InputScales[varName] = append([]float32(nil), scales...)
}

// InputScale returns the quantization scale list attached to the input
// variable, if any.
func (d *OpDesc) InputScale(varName string) ([]float32, bool) {
	scales, ok := d.InputScales[varName]
	return scales, ok
}

// SetAttr sets an attribute value.
func (d *OpDesc) SetAttr(key string, v any) { d.Attrs[key] = v }

// HasAttr reports whether the attribute is present.
func (d *OpDesc) HasAttr(key string) bool {
	_, ok := d.Attrs[key]
	return ok
}

// AttrInt returns an integer attribute. JSON decoding stores numbers as
// float64, so both representations are accepted.
func (d *OpDesc) AttrInt(key string) (int, bool) {
	switch v := d.Attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// AttrFloat returns a float attribute.
func (d *OpDesc) AttrFloat(key string) (float32, bool) {
	switch v := d.Attrs[key].(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int:
		return float32(v), true
	default:
		return 0, false
	}
}

// AttrString returns a string attribute.
func (d *OpDesc) AttrString(key string) (string, bool) {
	v, ok := d.Attrs[key].(string)
	return v, ok
}

// AttrBool returns a boolean attribute.
func (d *OpDesc) AttrBool(key string) (bool, bool) {
	v, ok := d.Attrs[key].(bool)
	return v, ok
}

// AttrInts returns a list-of-int attribute, accepting the []any form
// produced by JSON decoding.
func (d *OpDesc) AttrInts(key string) ([]int, bool) {
	switch v := d.Attrs[key].(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// AttrFloats returns a list-of-float attribute, accepting the []any form
// produced by JSON decoding.
func (d *OpDesc) AttrFloats(key string) ([]float32, bool) {
	switch v := d.Attrs[key].(type) {
	case []float32:
		return v, true
	case []any:
		out := make([]float32, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case float32:
				out = append(out, n)
			case float64:
				out = append(out, float32(n))
			case int:
				out = append(out, float32(n))
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}
