// Package vars provides the named value and Jacobian bindings threaded
// through a pipeline evaluation.
package vars

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var ErrNotFound = errors.New("variable not found")

// Store maps variable names to value blocks and, when an evaluation runs in
// Jacobian mode, to the accumulated Jacobian of each block with respect to
// the pipeline's flattened input vector. A store belongs to a single
// evaluation; it is not safe for concurrent use.
type Store struct {
	values    map[string][]float64
	jacobians map[string]*mat.Dense
}

func NewStore() *Store {
	return &Store{
		values:    make(map[string][]float64),
		jacobians: make(map[string]*mat.Dense),
	}
}

// Has reports whether name is bound in either mapping.
func (s *Store) Has(name string) bool {
	if _, ok := s.values[name]; ok {
		return true
	}
	_, ok := s.jacobians[name]
	return ok
}

// Value returns the value block bound to name.
func (s *Store) Value(name string) ([]float64, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return value, nil
}

// Jacobian returns the accumulated Jacobian bound to name.
func (s *Store) Jacobian(name string) (*mat.Dense, error) {
	jacobian, ok := s.jacobians[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return jacobian, nil
}

// Set binds a value block to name, replacing any previous binding.
func (s *Store) Set(name string, value []float64) {
	s.values[name] = value
}

// SetJacobian binds an accumulated Jacobian to name.
func (s *Store) SetJacobian(name string, jacobian *mat.Dense) {
	s.jacobians[name] = jacobian
}

// Delete removes name from both mappings.
func (s *Store) Delete(name string) {
	delete(s.values, name)
	delete(s.jacobians, name)
}

// Names returns the bound value names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns the value blocks for the given names.
func (s *Store) Subset(names []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		value, err := s.Value(name)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// Copy duplicates the binding of name under paste. An empty paste resolves to
// the first unused "<name>-Copy<k>" suffix, checking both mappings, so the
// result is deterministic for a fixed insertion history. In Jacobian mode the
// Jacobian is duplicated as well.
func (s *Store) Copy(name, paste string) (string, error) {
	value, ok := s.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if paste == "" {
		paste = s.resolveCopyName(name)
	}
	s.values[paste] = append([]float64(nil), value...)
	if jacobian, ok := s.jacobians[name]; ok {
		s.jacobians[paste] = mat.DenseCopyOf(jacobian)
	}
	return paste, nil
}

func (s *Store) resolveCopyName(name string) string {
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s-Copy%d", name, k)
		if !s.Has(candidate) {
			return candidate
		}
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	out := NewStore()
	for name, value := range s.values {
		out.values[name] = append([]float64(nil), value...)
	}
	for name, jacobian := range s.jacobians {
		out.jacobians[name] = mat.DenseCopyOf(jacobian)
	}
	return out
}
