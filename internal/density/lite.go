package density

import (
	"errors"
	"fmt"

	"github.com/EiffL/bayesfast/internal/pipeline"
	"github.com/EiffL/bayesfast/internal/transform"
)

var ErrUndefined = errors.New("no valid definition available")

// LogpFn returns the log-density at an original-space coordinate.
type LogpFn func(x []float64) (float64, error)

// GradFn returns the log-density gradient at an original-space coordinate.
type GradFn func(x []float64) ([]float64, error)

// LogpAndGradFn returns both at once.
type LogpAndGradFn func(x []float64) (float64, []float64, error)

// Lite defines a probability density directly from logp/grad callables
// instead of a module pipeline, sharing the coordinate-transform corrections
// with Density. Missing members are derived from the ones present.
type Lite struct {
	logp  LogpFn
	grad  GradFn
	both  LogpAndGradFn
	trans *transform.Transform

	inputSize int
}

// LiteConfig declares a Lite density. At least one of Logp, Grad and
// LogpAndGrad should be set for the matching entry points to be defined.
type LiteConfig struct {
	Logp        LogpFn
	Grad        GradFn
	LogpAndGrad LogpAndGradFn
	InputSize   int
	Scales      [][2]float64
	HardBounds  [][2]bool
}

func NewLite(cfg LiteConfig) (*Lite, error) {
	if cfg.InputSize < 0 {
		return nil, fmt.Errorf("input size must be >= 0, got %d", cfg.InputSize)
	}
	trans, err := transform.New(cfg.Scales, cfg.HardBounds)
	if err != nil {
		return nil, err
	}
	return &Lite{
		logp:      cfg.Logp,
		grad:      cfg.Grad,
		both:      cfg.LogpAndGrad,
		trans:     trans,
		inputSize: cfg.InputSize,
	}, nil
}

func (l *Lite) HasLogp() bool        { return l.logp != nil || l.both != nil }
func (l *Lite) HasGrad() bool        { return l.grad != nil || l.both != nil }
func (l *Lite) HasLogpAndGrad() bool { return l.both != nil || (l.logp != nil && l.grad != nil) }

// Transform exposes the coordinate transform.
func (l *Lite) Transform() *transform.Transform { return l.trans }

// Logp evaluates the log-density at x in the given space.
func (l *Lite) Logp(x []float64, space pipeline.Space) (float64, error) {
	xo, err := l.originalOf(x, space)
	if err != nil {
		return 0, err
	}
	var logp float64
	switch {
	case l.logp != nil:
		logp, err = l.logp(xo)
	case l.both != nil:
		logp, _, err = l.both(xo)
	default:
		return 0, fmt.Errorf("%w: logp", ErrUndefined)
	}
	if err != nil {
		return 0, err
	}
	if space == pipeline.SpaceTransformed {
		diff, err := l.trans.LogJacobianDiff(nil, x)
		if err != nil {
			return 0, err
		}
		logp += diff
	}
	return logp, nil
}

// Grad evaluates the log-density gradient at x in the given space.
func (l *Lite) Grad(x []float64, space pipeline.Space) ([]float64, error) {
	xo, err := l.originalOf(x, space)
	if err != nil {
		return nil, err
	}
	var grad []float64
	switch {
	case l.grad != nil:
		grad, err = l.grad(xo)
	case l.both != nil:
		_, grad, err = l.both(xo)
	default:
		return nil, fmt.Errorf("%w: grad", ErrUndefined)
	}
	if err != nil {
		return nil, err
	}
	if space == pipeline.SpaceTransformed {
		if err := l.addSpaceCorrection(grad, x); err != nil {
			return nil, err
		}
	}
	return grad, nil
}

// LogpAndGrad evaluates both at once, composing Logp and Grad when no joint
// definition was supplied.
func (l *Lite) LogpAndGrad(x []float64, space pipeline.Space) (float64, []float64, error) {
	if l.both == nil {
		if l.logp == nil || l.grad == nil {
			return 0, nil, fmt.Errorf("%w: logp_and_grad", ErrUndefined)
		}
		logp, err := l.Logp(x, space)
		if err != nil {
			return 0, nil, err
		}
		grad, err := l.Grad(x, space)
		if err != nil {
			return 0, nil, err
		}
		return logp, grad, nil
	}
	xo, err := l.originalOf(x, space)
	if err != nil {
		return 0, nil, err
	}
	logp, grad, err := l.both(xo)
	if err != nil {
		return 0, nil, err
	}
	if space == pipeline.SpaceTransformed {
		diff, err := l.trans.LogJacobianDiff(nil, x)
		if err != nil {
			return 0, nil, err
		}
		logp += diff
		if err := l.addSpaceCorrection(grad, x); err != nil {
			return 0, nil, err
		}
	}
	return logp, grad, nil
}

func (l *Lite) originalOf(x []float64, space pipeline.Space) ([]float64, error) {
	if l.inputSize > 0 && len(x) != l.inputSize {
		return nil, fmt.Errorf("%w: got %d values, want %d", pipeline.ErrInputSize, len(x), l.inputSize)
	}
	if space == pipeline.SpaceTransformed {
		return l.trans.ToOriginal(x)
	}
	return x, nil
}

func (l *Lite) addSpaceCorrection(grad, x []float64) error {
	grad1, err := l.trans.ToOriginalGrad(x)
	if err != nil {
		return err
	}
	grad2, err := l.trans.ToOriginalGrad2(x)
	if err != nil {
		return err
	}
	if len(grad) != len(x) {
		return fmt.Errorf("%w: gradient has %d values for %d coordinates", transform.ErrSizeMismatch, len(grad), len(x))
	}
	for i := range grad {
		grad[i] += grad2[i] / grad1[i]
	}
	return nil
}
