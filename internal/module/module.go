// Package module defines the capability contract consumed by the pipeline
// evaluators: named computation stages with declared input/output variables,
// and surrogates that replace contiguous spans of stages.
package module

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidSpec   = errors.New("invalid module spec")
	ErrNoJacobian    = errors.New("module does not provide a jacobian")
	ErrInvalidScope  = errors.New("invalid surrogate scope")
	ErrNotFitted     = errors.New("surrogate has not been fitted")
	ErrFitShape      = errors.New("fit data shape mismatch")
	ErrInputMismatch = errors.New("input block count mismatch")
)

// Module is a single named computation stage. Fun consumes one value block per
// declared input variable (in order) and returns one block per declared output
// variable. FunAndJac additionally returns the local Jacobian of each output
// block with respect to the concatenation of the input blocks.
type Module interface {
	Name() string
	InputVars() []string
	OutputVars() []string
	CopyVars() []string
	PasteVars() []string
	DeleteVars() []string
	Fun(inputs [][]float64) ([][]float64, error)
	FunAndJac(inputs [][]float64) ([][]float64, []*mat.Dense, error)
}

// Scope identifies the contiguous module-sequence span a surrogate replaces:
// Extent steps beginning at Start.
type Scope struct {
	Start  int
	Extent int
}

// Surrogate is a calibrated fast approximation of a span of modules.
type Surrogate interface {
	Module
	Scope() Scope
	Fit(x, y *mat.Dense, logp []float64, opts FitOptions) error
}

// Scaled is implemented by surrogates that carry their own input scaling;
// callers un-scale calibration inputs before fitting.
type Scaled interface {
	VarScales() [][2]float64
}

// FitOptions carries calibration knobs routed to Surrogate.Fit.
type FitOptions struct {
	UseLogp bool
}

// FunFn evaluates a stage: one block per input variable in, one per output out.
type FunFn func(inputs [][]float64) ([][]float64, error)

// FunAndJacFn evaluates a stage together with the local Jacobians of its
// output blocks.
type FunAndJacFn func(inputs [][]float64) ([][]float64, []*mat.Dense, error)

// Spec declares a stage to New. Fun is required; FunAndJac may be nil for
// stages only used in value-only evaluations.
type Spec struct {
	Name       string
	InputVars  []string
	OutputVars []string
	CopyVars   []string
	PasteVars  []string
	DeleteVars []string
	Fun        FunFn
	FunAndJac  FunAndJacFn
}

// Func is the basic Module implementation built from a Spec.
type Func struct {
	spec Spec
}

// New validates a spec and returns the stage it declares.
func New(spec Spec) (*Func, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if len(spec.OutputVars) == 0 {
		return nil, fmt.Errorf("%w: %s declares no output variables", ErrInvalidSpec, spec.Name)
	}
	if spec.Fun == nil {
		return nil, fmt.Errorf("%w: %s has no fun", ErrInvalidSpec, spec.Name)
	}
	for _, name := range append(append([]string{}, spec.InputVars...), spec.OutputVars...) {
		if name == "" {
			return nil, fmt.Errorf("%w: %s declares an empty variable name", ErrInvalidSpec, spec.Name)
		}
	}
	if len(spec.PasteVars) > len(spec.CopyVars) {
		return nil, fmt.Errorf("%w: %s has %d paste names for %d copy directives",
			ErrInvalidSpec, spec.Name, len(spec.PasteVars), len(spec.CopyVars))
	}
	return &Func{spec: spec}, nil
}

// MustNew is New for statically known specs.
func MustNew(spec Spec) *Func {
	m, err := New(spec)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Func) Name() string         { return m.spec.Name }
func (m *Func) InputVars() []string  { return m.spec.InputVars }
func (m *Func) OutputVars() []string { return m.spec.OutputVars }
func (m *Func) CopyVars() []string   { return m.spec.CopyVars }
func (m *Func) PasteVars() []string  { return m.spec.PasteVars }
func (m *Func) DeleteVars() []string { return m.spec.DeleteVars }

func (m *Func) Fun(inputs [][]float64) ([][]float64, error) {
	if len(inputs) != len(m.spec.InputVars) {
		return nil, fmt.Errorf("%w: %s got %d blocks for %d inputs",
			ErrInputMismatch, m.spec.Name, len(inputs), len(m.spec.InputVars))
	}
	return m.spec.Fun(inputs)
}

func (m *Func) FunAndJac(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
	if len(inputs) != len(m.spec.InputVars) {
		return nil, nil, fmt.Errorf("%w: %s got %d blocks for %d inputs",
			ErrInputMismatch, m.spec.Name, len(inputs), len(m.spec.InputVars))
	}
	if m.spec.FunAndJac == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoJacobian, m.spec.Name)
	}
	return m.spec.FunAndJac(inputs)
}

func concat(inputs [][]float64) []float64 {
	total := 0
	for _, block := range inputs {
		total += len(block)
	}
	out := make([]float64, 0, total)
	for _, block := range inputs {
		out = append(out, block...)
	}
	return out
}
