// Package density layers a scalar log-density convention, trust-region decay
// for surrogate extrapolation and calibration routing on top of the generic
// pipeline evaluators.
package density

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/pipeline"
	"github.com/EiffL/bayesfast/internal/vars"
)

const (
	// DefaultDensityName is the reserved output variable holding log-density.
	DefaultDensityName = "__var__"

	defaultGamma  = 0.1
	defaultAlphaP = 150.0
)

var (
	ErrEmptyDensity = errors.New("density output is empty")
	ErrDecaySamples = errors.New("not enough decay samples")
	ErrNoRecords    = errors.New("no evaluation records")
	ErrRecordShape  = errors.New("evaluation records disagree on variable sizes")
)

// Density evaluates log-probability densities through a pipeline whose
// reserved output variable holds the scalar log-density.
type Density struct {
	pipe        *pipeline.Pipeline
	densityName string

	useDecay bool
	mu       []float64
	hess     *mat.Dense
	alpha    float64
	alpha2   float64
	gamma    float64
}

// Config declares a density. DensityName defaults to DefaultDensityName.
type Config struct {
	Pipeline    *pipeline.Pipeline
	DensityName string
}

func New(cfg Config) (*Density, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("density requires a pipeline")
	}
	name := cfg.DensityName
	if name == "" {
		name = DefaultDensityName
	}
	return &Density{pipe: cfg.Pipeline, densityName: name}, nil
}

// Pipeline exposes the underlying pipeline.
func (d *Density) Pipeline() *pipeline.Pipeline { return d.pipe }

// DensityName returns the reserved log-density variable name.
func (d *Density) DensityName() string { return d.densityName }

// UseDecay reports whether the trust-region penalty is active.
func (d *Density) UseDecay() bool { return d.useDecay }

// SetUseDecay toggles the trust-region penalty; enabling it requires a prior
// SetDecay call.
func (d *Density) SetUseDecay(use bool) error {
	if use && d.mu == nil {
		return errors.New("decay state has not been computed; call SetDecay first")
	}
	d.useDecay = use
	return nil
}

// Alpha returns the trust-region radius, or 0 if unset.
func (d *Density) Alpha() float64 { return d.alpha }

// Gamma returns the penalty strength, or 0 if unset.
func (d *Density) Gamma() float64 { return d.gamma }

// DecaySnapshot returns copies of the calibrated trust-region state, or
// ok=false when SetDecay has not run.
func (d *Density) DecaySnapshot() (mu []float64, invCov [][]float64, alpha, gamma float64, ok bool) {
	if d.mu == nil {
		return nil, nil, 0, 0, false
	}
	mu = append([]float64(nil), d.mu...)
	n := len(d.mu)
	invCov = make([][]float64, n)
	for i := range invCov {
		invCov[i] = mat.Row(nil, i, d.hess)
	}
	return mu, invCov, d.alpha, d.gamma, true
}

// Logp returns the log-density at x, applying the decay penalty on surrogate
// paths and the transform correction in transformed space.
func (d *Density) Logp(x []float64, opts pipeline.EvalOptions) (float64, error) {
	value, err := d.pipe.FunVar(x, d.densityName, opts)
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyDensity, d.densityName)
	}
	logp := value[0]
	if d.useDecay && opts.UseSurrogate {
		xo, err := d.originalOf(x, opts.Space)
		if err != nil {
			return 0, err
		}
		beta2 := d.mahalanobis2(xo)
		logp -= d.gamma * math.Max(0, beta2-d.alpha2)
	}
	if opts.Space == pipeline.SpaceTransformed {
		diff, err := d.pipe.Transform().LogJacobianDiff(nil, x)
		if err != nil {
			return 0, err
		}
		logp += diff
	}
	return logp, nil
}

// Grad returns the gradient of Logp with respect to x in the evaluation space.
func (d *Density) Grad(x []float64, opts pipeline.EvalOptions) ([]float64, error) {
	_, grad, err := d.LogpAndGrad(x, opts)
	return grad, err
}

// LogpAndGrad returns the log-density and its gradient in one evaluation.
func (d *Density) LogpAndGrad(x []float64, opts pipeline.EvalOptions) (float64, []float64, error) {
	value, jacobian, err := d.pipe.FunAndJacVar(x, d.densityName, opts)
	if err != nil {
		return 0, nil, err
	}
	if len(value) == 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrEmptyDensity, d.densityName)
	}
	logp := value[0]
	_, cols := jacobian.Dims()
	grad := make([]float64, cols)
	mat.Row(grad, 0, jacobian)

	if d.useDecay && opts.UseSurrogate {
		xo, err := d.originalOf(x, opts.Space)
		if err != nil {
			return 0, nil, err
		}
		beta2 := d.mahalanobis2(xo)
		logp -= d.gamma * math.Max(0, beta2-d.alpha2)
		// The gradient term is gated by a hard comparison while the logp term
		// uses a soft clip; the kink at the trust boundary is intentional.
		if beta2 > d.alpha2 {
			hd := d.hessDot(xo)
			for i := range grad {
				grad[i] -= 2 * d.gamma * hd[i]
			}
		}
	}
	if opts.Space == pipeline.SpaceTransformed {
		trans := d.pipe.Transform()
		diff, err := trans.LogJacobianDiff(nil, x)
		if err != nil {
			return 0, nil, err
		}
		logp += diff
		grad1, err := trans.ToOriginalGrad(x)
		if err != nil {
			return 0, nil, err
		}
		grad2, err := trans.ToOriginalGrad2(x)
		if err != nil {
			return 0, nil, err
		}
		for i := range grad {
			grad[i] += grad2[i] / grad1[i]
		}
	}
	return logp, grad, nil
}

// LogpBatch evaluates Logp per input row, index-aligned.
func (d *Density) LogpBatch(xs [][]float64, opts pipeline.EvalOptions) ([]float64, error) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		logp, err := d.Logp(x, opts)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		out[i] = logp
	}
	return out, nil
}

// LogpAndGradBatch evaluates LogpAndGrad per input row, index-aligned.
func (d *Density) LogpAndGradBatch(xs [][]float64, opts pipeline.EvalOptions) ([]float64, [][]float64, error) {
	logps := make([]float64, len(xs))
	grads := make([][]float64, len(xs))
	for i, x := range xs {
		logp, grad, err := d.LogpAndGrad(x, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		logps[i] = logp
		grads[i] = grad
	}
	return logps, grads, nil
}

func (d *Density) originalOf(x []float64, space pipeline.Space) ([]float64, error) {
	if space == pipeline.SpaceTransformed {
		return d.pipe.Transform().ToOriginal(x)
	}
	return x, nil
}

// mahalanobis2 returns (x-mu)^T H (x-mu).
func (d *Density) mahalanobis2(x []float64) float64 {
	hd := d.hessDot(x)
	total := 0.0
	for i := range x {
		total += (x[i] - d.mu[i]) * hd[i]
	}
	return total
}

// hessDot returns H (x-mu).
func (d *Density) hessDot(x []float64) []float64 {
	n := len(d.mu)
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = x[i] - d.mu[i]
	}
	out := make([]float64, n)
	mat.NewVecDense(n, out).MulVec(d.hess, mat.NewVecDense(n, diff))
	return out
}

// DecayOptions controls SetDecay. Zero values select the defaults: samples in
// original space, radius from the default percentile rule, gamma kept (or
// 0.1 when never set).
type DecayOptions struct {
	Space  pipeline.Space
	Alpha  float64
	AlphaP float64
	Gamma  float64
}

// SetDecay recomputes the trust-region state from a representative sample
// batch: mu is the sample mean, hess the inverse sample covariance, and alpha
// either the explicit value or a percentile (AlphaP < 100) or max-scaled
// (AlphaP >= 100) Mahalanobis radius over the samples.
func (d *Density) SetDecay(samples [][]float64, opts DecayOptions) error {
	if len(samples) < 2 {
		return fmt.Errorf("%w: got %d, need at least 2", ErrDecaySamples, len(samples))
	}
	dim := len(samples[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimensional samples", ErrDecaySamples)
	}

	data := mat.NewDense(len(samples), dim, nil)
	for i, row := range samples {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d values, row 0 has %d", ErrDecaySamples, i, len(row), dim)
		}
		if opts.Space == pipeline.SpaceTransformed {
			original, err := d.pipe.Transform().ToOriginal(row)
			if err != nil {
				return err
			}
			row = original
		}
		data.SetRow(i, row)
	}

	mu := make([]float64, dim)
	for j := 0; j < dim; j++ {
		mu[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	hess := mat.NewDense(dim, dim, nil)
	if err := hess.Inverse(&cov); err != nil {
		return fmt.Errorf("inverting sample covariance: %w", err)
	}
	d.mu = mu
	d.hess = hess

	if opts.Alpha > 0 {
		d.setAlpha(opts.Alpha)
	} else {
		alphaP := opts.AlphaP
		if alphaP <= 0 {
			alphaP = defaultAlphaP
		}
		betas := make([]float64, len(samples))
		for i := range samples {
			row := mat.Row(nil, i, data)
			betas[i] = math.Sqrt(d.mahalanobis2(row))
		}
		if alphaP < 100 {
			sort.Float64s(betas)
			d.setAlpha(stat.Quantile(alphaP/100, stat.Empirical, betas, nil))
		} else {
			maxBeta := 0.0
			for _, b := range betas {
				if b > maxBeta {
					maxBeta = b
				}
			}
			d.setAlpha(maxBeta * alphaP / 100)
		}
	}
	if opts.Gamma > 0 {
		d.gamma = opts.Gamma
	} else if d.gamma == 0 {
		d.gamma = defaultGamma
	}
	d.useDecay = true
	return nil
}

func (d *Density) setAlpha(alpha float64) {
	d.alpha = alpha
	d.alpha2 = alpha * alpha
}

// FitConfig controls surrogate calibration from evaluation records. Options,
// when shorter than the surrogate list, is padded with zero values.
type FitConfig struct {
	UseDecay bool
	Decay    DecayOptions
	Options  []module.FitOptions
}

// Fit routes, per surrogate, the declared input/output variables plus the
// log-density values from completed evaluation records into the surrogate's
// calibration routine, un-scaling inputs when the surrogate carries its own
// scaling.
func (d *Density) Fit(records []*vars.Store, cfg FitConfig) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	surrogates := d.pipe.Surrogates()
	options := make([]module.FitOptions, len(surrogates))
	copy(options, cfg.Options)

	if cfg.UseDecay {
		samples, err := gatherRows(records, d.pipe.InputVars())
		if err != nil {
			return err
		}
		if err := d.SetDecay(samples, cfg.Decay); err != nil {
			return err
		}
	} else {
		d.useDecay = false
	}

	for i, surrogate := range surrogates {
		xRows, err := gatherRows(records, surrogate.InputVars())
		if err != nil {
			return fmt.Errorf("surrogate %s inputs: %w", surrogate.Name(), err)
		}
		if scaled, ok := surrogate.(module.Scaled); ok {
			if scales := scaled.VarScales(); scales != nil {
				for _, row := range xRows {
					if len(row) != len(scales) {
						return fmt.Errorf("%w: surrogate %s scales %d inputs, records carry %d",
							ErrRecordShape, surrogate.Name(), len(scales), len(row))
					}
					for j := range row {
						row[j] = (row[j] - scales[j][0]) / (scales[j][1] - scales[j][0])
					}
				}
			}
		}
		yRows, err := gatherRows(records, surrogate.OutputVars())
		if err != nil {
			return fmt.Errorf("surrogate %s outputs: %w", surrogate.Name(), err)
		}
		logpRows, err := gatherRows(records, []string{d.densityName})
		if err != nil {
			return fmt.Errorf("surrogate %s log-density: %w", surrogate.Name(), err)
		}
		logp := make([]float64, len(logpRows))
		for k, row := range logpRows {
			logp[k] = row[0]
		}
		if err := surrogate.Fit(rowsToDense(xRows), rowsToDense(yRows), logp, options[i]); err != nil {
			return fmt.Errorf("fitting surrogate %s: %w", surrogate.Name(), err)
		}
	}
	return nil
}

// gatherRows concatenates the named variable blocks of every record, one row
// per record.
func gatherRows(records []*vars.Store, names []string) ([][]float64, error) {
	rows := make([][]float64, len(records))
	width := -1
	for i, record := range records {
		row := make([]float64, 0)
		for _, name := range names {
			value, err := record.Value(name)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			row = append(row, value...)
		}
		if width == -1 {
			width = len(row)
		} else if len(row) != width {
			return nil, fmt.Errorf("%w: record %d has %d values, record 0 has %d", ErrRecordShape, i, len(row), width)
		}
		rows[i] = row
	}
	return rows, nil
}

func rowsToDense(rows [][]float64) *mat.Dense {
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out
}
