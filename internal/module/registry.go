package module

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrModuleExists   = errors.New("module type already registered")
	ErrModuleNotFound = errors.New("module type not found")
)

// Factory builds a stage bound to the given input/output variable names.
type Factory func(inputVars, outputVars []string) (Module, error)

var moduleRegistry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: make(map[string]Factory),
}

func init() {
	initializeBuiltInModules()
}

func initializeBuiltInModules() {
	MustRegister("sum", sumFactory)
	MustRegister("square", squareFactory)
	MustRegister("gaussian-logp", gaussianLogpFactory)
}

// Register adds a module type factory under name.
func Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("module type name is required")
	}
	if factory == nil {
		return errors.New("module factory is required")
	}

	moduleRegistry.mu.Lock()
	defer moduleRegistry.mu.Unlock()

	if _, exists := moduleRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}
	moduleRegistry.m[name] = factory
	return nil
}

// MustRegister is Register for statically known types.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// Get returns the factory registered under name.
func Get(name string) (Factory, error) {
	moduleRegistry.mu.RLock()
	factory, ok := moduleRegistry.m[name]
	moduleRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return factory, nil
}

// List returns the registered module type names in sorted order.
func List() []string {
	moduleRegistry.mu.RLock()
	defer moduleRegistry.mu.RUnlock()

	names := make([]string, 0, len(moduleRegistry.m))
	for name := range moduleRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetModuleRegistryForTests() {
	moduleRegistry.mu.Lock()
	moduleRegistry.m = make(map[string]Factory)
	moduleRegistry.mu.Unlock()
	initializeBuiltInModules()
}

// sum concatenates its input blocks and emits their scalar total.
func sumFactory(inputVars, outputVars []string) (Module, error) {
	return New(Spec{
		Name:       "sum",
		InputVars:  inputVars,
		OutputVars: outputVars,
		Fun: func(inputs [][]float64) ([][]float64, error) {
			total := 0.0
			for _, v := range concat(inputs) {
				total += v
			}
			return [][]float64{{total}}, nil
		},
		FunAndJac: func(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
			flat := concat(inputs)
			total := 0.0
			jac := mat.NewDense(1, len(flat), nil)
			for i, v := range flat {
				total += v
				jac.Set(0, i, 1)
			}
			return [][]float64{{total}}, []*mat.Dense{jac}, nil
		},
	})
}

// square maps each input element to its square.
func squareFactory(inputVars, outputVars []string) (Module, error) {
	return New(Spec{
		Name:       "square",
		InputVars:  inputVars,
		OutputVars: outputVars,
		Fun: func(inputs [][]float64) ([][]float64, error) {
			flat := concat(inputs)
			out := make([]float64, len(flat))
			for i, v := range flat {
				out[i] = v * v
			}
			return [][]float64{out}, nil
		},
		FunAndJac: func(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
			flat := concat(inputs)
			out := make([]float64, len(flat))
			jac := mat.NewDense(len(flat), len(flat), nil)
			for i, v := range flat {
				out[i] = v * v
				jac.Set(i, i, 2*v)
			}
			return [][]float64{out}, []*mat.Dense{jac}, nil
		},
	})
}

// gaussian-logp emits the standard normal log-density of its flattened input.
func gaussianLogpFactory(inputVars, outputVars []string) (Module, error) {
	return New(Spec{
		Name:       "gaussian-logp",
		InputVars:  inputVars,
		OutputVars: outputVars,
		Fun: func(inputs [][]float64) ([][]float64, error) {
			logp, _ := gaussianLogp(concat(inputs))
			return [][]float64{{logp}}, nil
		},
		FunAndJac: func(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
			flat := concat(inputs)
			logp, grad := gaussianLogp(flat)
			jac := mat.NewDense(1, len(flat), grad)
			return [][]float64{{logp}}, []*mat.Dense{jac}, nil
		},
	})
}

func gaussianLogp(x []float64) (float64, []float64) {
	logp := -0.5 * float64(len(x)) * math.Log(2*math.Pi)
	grad := make([]float64, len(x))
	for i, v := range x {
		logp -= 0.5 * v * v
		grad[i] = -v
	}
	return logp, grad
}

// NewAffine builds a stage computing y = W x + b over the flattened input.
func NewAffine(name string, inputVars, outputVars []string, weights *mat.Dense, bias []float64) (*Func, error) {
	rows, cols := weights.Dims()
	if len(bias) != rows {
		return nil, fmt.Errorf("%w: affine %s has %d bias terms for %d rows", ErrInvalidSpec, name, len(bias), rows)
	}
	apply := func(inputs [][]float64) ([]float64, error) {
		flat := concat(inputs)
		if len(flat) != cols {
			return nil, fmt.Errorf("%w: affine %s got %d inputs for %d columns", ErrInputMismatch, name, len(flat), cols)
		}
		out := make([]float64, rows)
		y := mat.NewVecDense(rows, out)
		y.MulVec(weights, mat.NewVecDense(cols, flat))
		for i := range out {
			out[i] += bias[i]
		}
		return out, nil
	}
	return New(Spec{
		Name:       name,
		InputVars:  inputVars,
		OutputVars: outputVars,
		Fun: func(inputs [][]float64) ([][]float64, error) {
			out, err := apply(inputs)
			if err != nil {
				return nil, err
			}
			return [][]float64{out}, nil
		},
		FunAndJac: func(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
			out, err := apply(inputs)
			if err != nil {
				return nil, nil, err
			}
			return [][]float64{out}, []*mat.Dense{mat.DenseCopyOf(weights)}, nil
		},
	})
}
