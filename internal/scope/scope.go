// Package scope owns the tensor storage backing the variables of a
// computation graph. Graph nodes reference variables by name; the scope maps
// those names to their tensors for the duration of an optimisation pass.
package scope

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a variable has no tensor in the scope.
var ErrNotFound = errors.New("variable not found")

// Scope maps variable names to tensors.
type Scope struct {
	vars map[string]*Tensor
}

// New creates an empty scope.
func New() *Scope {
	return &Scope{vars: make(map[string]*Tensor)}
}

// Var returns the tensor for name, creating an empty float32 tensor if the
// variable does not exist yet.
func (s *Scope) Var(name string) *Tensor {
	if t, ok := s.vars[name]; ok {
		return t
	}
	t := &Tensor{dtype: DTypeFloat32}
	s.vars[name] = t
	return t
}

// SetTensor binds name to t, replacing any existing tensor.
func (s *Scope) SetTensor(name string, t *Tensor) {
	s.vars[name] = t
}

// FindTensor returns the tensor for name or an error wrapping ErrNotFound.
func (s *Scope) FindTensor(name string) (*Tensor, error) {
	t, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return t, nil
}

// Has reports whether name is bound in the scope.
func (s *Scope) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Delete removes the binding for name, if any.
func (s *Scope) Delete(name string) {
	delete(s.vars, name)
}

// Names returns all bound variable names in sorted order.
func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
