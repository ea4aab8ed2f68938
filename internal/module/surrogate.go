package module

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearSurrogate approximates a span of pipeline steps with an affine map
// y = W x + b calibrated by least squares. It is the reference surrogate used
// by the CLI and the tests; richer model families only need to satisfy the
// Surrogate interface.
type LinearSurrogate struct {
	name       string
	inputVars  []string
	outputVars []string
	deleteVars []string
	scope      Scope
	outDim     int
	scales     [][2]float64

	weights   *mat.Dense
	intercept []float64
}

// LinearConfig declares a linear surrogate. OutDim is the size of the single
// output block. Scales optionally rescales calibration inputs before fitting.
type LinearConfig struct {
	Name       string
	InputVars  []string
	OutputVars []string
	DeleteVars []string
	Scope      Scope
	OutDim     int
	Scales     [][2]float64
}

func NewLinearSurrogate(cfg LinearConfig) (*LinearSurrogate, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if len(cfg.InputVars) == 0 || len(cfg.OutputVars) == 0 {
		return nil, fmt.Errorf("%w: %s needs input and output variables", ErrInvalidSpec, cfg.Name)
	}
	if cfg.Scope.Extent <= 0 {
		return nil, fmt.Errorf("%w: %s has extent %d", ErrInvalidScope, cfg.Name, cfg.Scope.Extent)
	}
	if cfg.OutDim <= 0 {
		return nil, fmt.Errorf("%w: %s has output size %d", ErrInvalidSpec, cfg.Name, cfg.OutDim)
	}
	return &LinearSurrogate{
		name:       cfg.Name,
		inputVars:  append([]string(nil), cfg.InputVars...),
		outputVars: append([]string(nil), cfg.OutputVars...),
		deleteVars: append([]string(nil), cfg.DeleteVars...),
		scope:      cfg.Scope,
		outDim:     cfg.OutDim,
		scales:     append([][2]float64(nil), cfg.Scales...),
	}, nil
}

func (s *LinearSurrogate) Name() string         { return s.name }
func (s *LinearSurrogate) InputVars() []string  { return s.inputVars }
func (s *LinearSurrogate) OutputVars() []string { return s.outputVars }
func (s *LinearSurrogate) CopyVars() []string   { return nil }
func (s *LinearSurrogate) PasteVars() []string  { return nil }
func (s *LinearSurrogate) DeleteVars() []string { return s.deleteVars }
func (s *LinearSurrogate) Scope() Scope         { return s.scope }

// VarScales reports the surrogate-local input scaling, if any.
func (s *LinearSurrogate) VarScales() [][2]float64 {
	if s.scales == nil {
		return nil
	}
	return append([][2]float64(nil), s.scales...)
}

// Fitted reports whether calibration has happened.
func (s *LinearSurrogate) Fitted() bool {
	return s.weights != nil
}

func (s *LinearSurrogate) Fun(inputs [][]float64) ([][]float64, error) {
	out, _, err := s.eval(inputs)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LinearSurrogate) FunAndJac(inputs [][]float64) ([][]float64, []*mat.Dense, error) {
	out, jac, err := s.eval(inputs)
	if err != nil {
		return nil, nil, err
	}
	return out, []*mat.Dense{jac}, nil
}

func (s *LinearSurrogate) eval(inputs [][]float64) ([][]float64, *mat.Dense, error) {
	if s.weights == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFitted, s.name)
	}
	flat := s.rescale(concat(inputs))
	rows, cols := s.weights.Dims()
	if len(flat) != cols {
		return nil, nil, fmt.Errorf("%w: %s got %d inputs for %d columns", ErrInputMismatch, s.name, len(flat), cols)
	}
	out := make([]float64, rows)
	y := mat.NewVecDense(rows, out)
	y.MulVec(s.weights, mat.NewVecDense(cols, flat))
	for i := range out {
		out[i] += s.intercept[i]
	}
	jac := mat.DenseCopyOf(s.weights)
	if s.scales != nil {
		// Chain through the surrogate-local rescaling diagonal.
		for j := 0; j < cols; j++ {
			d := 1 / (s.scales[j][1] - s.scales[j][0])
			for i := 0; i < rows; i++ {
				jac.Set(i, j, jac.At(i, j)*d)
			}
		}
	}
	return [][]float64{out}, jac, nil
}

func (s *LinearSurrogate) rescale(flat []float64) []float64 {
	if s.scales == nil {
		return flat
	}
	out := make([]float64, len(flat))
	for i, v := range flat {
		out[i] = (v - s.scales[i][0]) / (s.scales[i][1] - s.scales[i][0])
	}
	return out
}

// Fit calibrates the affine map against n samples: x is n-by-d (already
// un-scaled by the caller when VarScales applies), y is n-by-OutDim. The logp
// column is accepted for interface parity; the linear model does not weight
// by it.
func (s *LinearSurrogate) Fit(x, y *mat.Dense, logp []float64, opts FitOptions) error {
	n, d := x.Dims()
	ny, outDim := y.Dims()
	if n != ny {
		return fmt.Errorf("%w: %d input rows, %d output rows", ErrFitShape, n, ny)
	}
	if outDim != s.outDim {
		return fmt.Errorf("%w: %d output columns, surrogate emits %d", ErrFitShape, outDim, s.outDim)
	}
	if logp != nil && len(logp) != n {
		return fmt.Errorf("%w: %d logp values for %d samples", ErrFitShape, len(logp), n)
	}
	if n < d+1 {
		return fmt.Errorf("%w: %d samples cannot determine %d coefficients", ErrFitShape, n, d+1)
	}

	// Augment with an intercept column and solve the least-squares system.
	design := mat.NewDense(n, d+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			design.Set(i, j, x.At(i, j))
		}
		design.Set(i, d, 1)
	}
	var beta mat.Dense
	if err := beta.Solve(design, y); err != nil {
		return fmt.Errorf("least squares solve: %w", err)
	}

	weights := mat.NewDense(s.outDim, d, nil)
	intercept := make([]float64, s.outDim)
	for k := 0; k < s.outDim; k++ {
		for j := 0; j < d; j++ {
			weights.Set(k, j, beta.At(j, k))
		}
		intercept[k] = beta.At(d, k)
	}
	s.weights = weights
	s.intercept = intercept
	return nil
}
