package transform

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidScales  = errors.New("invalid variable scales")
	ErrInvalidBounds  = errors.New("invalid hard bounds")
	ErrSizeMismatch   = errors.New("size mismatch")
	ErrSpaceArgument  = errors.New("exactly one of original and transformed coordinates is required")
	ErrNotFinite      = errors.New("coordinate outside the bounded interval")
)

// Transform maps coordinates between the original space and a rescaled (and
// optionally hard-bounded) working space, dimension by dimension. A nil scale
// table makes every operation an identity. Instances are immutable once built.
type Transform struct {
	scales [][2]float64
	hard   [][2]bool
}

// UniformBounds expands a single hard-bound flag to a per-dimension-per-side mask.
func UniformBounds(n int, hard bool) [][2]bool {
	out := make([][2]bool, n)
	for i := range out {
		out[i] = [2]bool{hard, hard}
	}
	return out
}

// New validates and freezes a transform configuration. scales may be nil for
// the identity transform; hard may be nil, meaning all-soft rescaling.
func New(scales [][2]float64, hard [][2]bool) (*Transform, error) {
	if scales == nil {
		if hard != nil {
			return nil, fmt.Errorf("%w: hard bounds given without scales", ErrInvalidBounds)
		}
		return &Transform{}, nil
	}
	if len(scales) == 0 {
		return nil, fmt.Errorf("%w: empty scale table", ErrInvalidScales)
	}
	copied := make([][2]float64, len(scales))
	for i, s := range scales {
		if !(s[0] < s[1]) || math.IsInf(s[0], 0) || math.IsInf(s[1], 0) || math.IsNaN(s[0]) || math.IsNaN(s[1]) {
			return nil, fmt.Errorf("%w: dimension %d has interval [%v, %v]", ErrInvalidScales, i, s[0], s[1])
		}
		copied[i] = s
	}
	var mask [][2]bool
	if hard == nil {
		mask = UniformBounds(len(scales), false)
	} else {
		if len(hard) != len(scales) {
			return nil, fmt.Errorf("%w: %d bound rows for %d dimensions", ErrInvalidBounds, len(hard), len(scales))
		}
		mask = make([][2]bool, len(hard))
		copy(mask, hard)
	}
	return &Transform{scales: copied, hard: mask}, nil
}

// Identity reports whether the transform leaves coordinates unchanged.
func (t *Transform) Identity() bool {
	return t.scales == nil
}

// Dim returns the configured dimensionality, or 0 for the identity transform.
func (t *Transform) Dim() int {
	return len(t.scales)
}

// Scales returns a copy of the per-dimension reference intervals.
func (t *Transform) Scales() [][2]float64 {
	if t.scales == nil {
		return nil
	}
	out := make([][2]float64, len(t.scales))
	copy(out, t.scales)
	return out
}

func (t *Transform) checkDim(x []float64) error {
	if t.scales != nil && len(x) != len(t.scales) {
		return fmt.Errorf("%w: coordinate has %d dimensions, transform has %d", ErrSizeMismatch, len(x), len(t.scales))
	}
	return nil
}

// ToTransformed maps an original-space coordinate into the working space.
func (t *Transform) ToTransformed(x []float64) ([]float64, error) {
	return t.apply(x, 0, false)
}

// ToTransformedGrad returns the diagonal first derivative of ToTransformed.
func (t *Transform) ToTransformedGrad(x []float64) ([]float64, error) {
	return t.apply(x, 1, false)
}

// ToTransformedGrad2 returns the diagonal second derivative of ToTransformed.
func (t *Transform) ToTransformedGrad2(x []float64) ([]float64, error) {
	return t.apply(x, 2, false)
}

// ToOriginal maps a working-space coordinate back into the original space.
func (t *Transform) ToOriginal(x []float64) ([]float64, error) {
	return t.apply(x, 0, true)
}

// ToOriginalGrad returns the diagonal first derivative of ToOriginal.
func (t *Transform) ToOriginalGrad(x []float64) ([]float64, error) {
	return t.apply(x, 1, true)
}

// ToOriginalGrad2 returns the diagonal second derivative of ToOriginal.
func (t *Transform) ToOriginalGrad2(x []float64) ([]float64, error) {
	return t.apply(x, 2, true)
}

func (t *Transform) apply(x []float64, order int, inverse bool) ([]float64, error) {
	if err := t.checkDim(x); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	if t.scales == nil {
		switch order {
		case 0:
			copy(out, x)
		case 1:
			for i := range out {
				out[i] = 1
			}
		case 2:
			// all zeros
		}
		return out, nil
	}
	for i, v := range x {
		y, err := t.applyDim(i, v, order, inverse)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

func (t *Transform) applyDim(i int, v float64, order int, inverse bool) (float64, error) {
	low, high := t.scales[i][0], t.scales[i][1]
	delta := high - low
	lowerHard, upperHard := t.hard[i][0], t.hard[i][1]
	switch {
	case lowerHard && upperHard:
		if inverse {
			return bothToOriginal(v, low, delta, order), nil
		}
		return bothToTransformed(v, low, delta, order)
	case lowerHard:
		if inverse {
			return lowerToOriginal(v, low, high, delta, order), nil
		}
		return lowerToTransformed(v, low, high, delta, order)
	case upperHard:
		if inverse {
			return upperToOriginal(v, low, high, delta, order), nil
		}
		return upperToTransformed(v, low, high, delta, order)
	default:
		return soft(v, low, delta, order, inverse), nil
	}
}

// Soft rescaling is the affine map t = (x - low) / (high - low).
func soft(v, low, delta float64, order int, inverse bool) float64 {
	switch order {
	case 0:
		if inverse {
			return low + delta*v
		}
		return (v - low) / delta
	case 1:
		if inverse {
			return delta
		}
		return 1 / delta
	default:
		return 0
	}
}

// Two-sided hard bounds use a slope-normalized logit centered on the interval
// midpoint: t = m + (delta/4) * logit((x-low)/delta). The midpoint is a fixed
// point with unit slope, and the first derivative is strictly positive on the
// open interval.
func bothToTransformed(v, low, delta float64, order int) (float64, error) {
	u := (v - low) / delta
	if u <= 0 || u >= 1 {
		return 0, fmt.Errorf("%w: %v not inside (%v, %v)", ErrNotFinite, v, low, low+delta)
	}
	switch order {
	case 0:
		m := low + delta/2
		return m + delta/4*math.Log(u/(1-u)), nil
	case 1:
		return 1 / (4 * u * (1 - u)), nil
	default:
		s := u * (1 - u)
		return -(1 - 2*u) / (4 * s * s * delta), nil
	}
}

func bothToOriginal(v, low, delta float64, order int) float64 {
	m := low + delta/2
	s := sigmoid(4 * (v - m) / delta)
	switch order {
	case 0:
		return low + delta*s
	case 1:
		return 4 * s * (1 - s)
	default:
		return 16 / delta * s * (1 - s) * (1 - 2*s)
	}
}

// A lower-only hard bound maps (low, inf) onto the reals with
// t = high + delta * ln((x-low)/delta), anchored with unit slope at x = high.
func lowerToTransformed(v, low, high, delta float64, order int) (float64, error) {
	if v <= low {
		return 0, fmt.Errorf("%w: %v not above %v", ErrNotFinite, v, low)
	}
	switch order {
	case 0:
		return high + delta*math.Log((v-low)/delta), nil
	case 1:
		return delta / (v - low), nil
	default:
		return -delta / ((v - low) * (v - low)), nil
	}
}

func lowerToOriginal(v, low, high, delta float64, order int) float64 {
	e := math.Exp((v - high) / delta)
	switch order {
	case 0:
		return low + delta*e
	case 1:
		return e
	default:
		return e / delta
	}
}

// An upper-only hard bound maps (-inf, high) onto the reals with
// t = low - delta * ln((high-x)/delta), anchored with unit slope at x = low.
func upperToTransformed(v, low, high, delta float64, order int) (float64, error) {
	if v >= high {
		return 0, fmt.Errorf("%w: %v not below %v", ErrNotFinite, v, high)
	}
	switch order {
	case 0:
		return low - delta*math.Log((high-v)/delta), nil
	case 1:
		return delta / (high - v), nil
	default:
		return delta / ((high - v) * (high - v)), nil
	}
}

func upperToOriginal(v, low, high, delta float64, order int) float64 {
	e := math.Exp(-(v - low) / delta)
	switch order {
	case 0:
		return high - delta*e
	case 1:
		return e
	default:
		return -e / delta
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// LogJacobianDiff returns sum(log|dx/dt|) for the given coordinate, the signed
// log-determinant needed to move a log-density between spaces. Exactly one of
// xOriginal and xTransformed must be non-nil.
func (t *Transform) LogJacobianDiff(xOriginal, xTransformed []float64) (float64, error) {
	switch {
	case xOriginal != nil && xTransformed != nil:
		return 0, ErrSpaceArgument
	case xOriginal != nil:
		grad, err := t.ToTransformedGrad(xOriginal)
		if err != nil {
			return 0, err
		}
		sum := 0.0
		for _, g := range grad {
			sum -= math.Log(math.Abs(g))
		}
		return sum, nil
	case xTransformed != nil:
		grad, err := t.ToOriginalGrad(xTransformed)
		if err != nil {
			return 0, err
		}
		sum := 0.0
		for _, g := range grad {
			sum += math.Log(math.Abs(g))
		}
		return sum, nil
	default:
		return 0, ErrSpaceArgument
	}
}

// DensityToOriginal converts log-densities defined over the working space into
// original-space log-densities, one entry per coordinate row.
func (t *Transform) DensityToOriginal(logp []float64, xTransformed [][]float64) ([]float64, error) {
	if len(logp) != len(xTransformed) {
		return nil, fmt.Errorf("%w: %d densities for %d coordinates", ErrSizeMismatch, len(logp), len(xTransformed))
	}
	out := make([]float64, len(logp))
	for i, row := range xTransformed {
		diff, err := t.LogJacobianDiff(nil, row)
		if err != nil {
			return nil, err
		}
		out[i] = logp[i] - diff
	}
	return out, nil
}

// DensityToTransformed converts original-space log-densities into
// working-space log-densities, one entry per coordinate row.
func (t *Transform) DensityToTransformed(logp []float64, xOriginal [][]float64) ([]float64, error) {
	if len(logp) != len(xOriginal) {
		return nil, fmt.Errorf("%w: %d densities for %d coordinates", ErrSizeMismatch, len(logp), len(xOriginal))
	}
	out := make([]float64, len(logp))
	for i, row := range xOriginal {
		diff, err := t.LogJacobianDiff(row, nil)
		if err != nil {
			return nil, err
		}
		out[i] = logp[i] + diff
	}
	return out, nil
}
