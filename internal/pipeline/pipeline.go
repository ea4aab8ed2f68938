// Package pipeline composes named computation stages into a single
// differentiable function, with optional surrogate replacement of contiguous
// step spans and exact chain-rule bookkeeping across variable-sized blocks.
package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/transform"
)

const DefaultInputVar = "__var__"

var (
	ErrNoModules     = errors.New("pipeline has no modules")
	ErrScopeOverlap  = errors.New("surrogate scopes overlap")
	ErrStepRange     = errors.New("start step is after stop step")
	ErrInputSize     = errors.New("input size mismatch")
	ErrOutputCount   = errors.New("output block count does not match declared output variables")
	ErrJacobianShape = errors.New("local jacobian shape does not match output block")
	ErrVarDims       = errors.New("invalid variable dimensions")
)

// StepError tags an evaluation failure with the step index at which it
// occurred. The store passed to the failing evaluation is left in an
// unspecified partial state and must be discarded.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline evaluation failed at step #%d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Space selects the coordinate space of evaluation inputs.
type Space int

const (
	SpaceOriginal Space = iota
	SpaceTransformed
)

func (s Space) String() string {
	if s == SpaceTransformed {
		return "transformed"
	}
	return "original"
}

// Config declares a pipeline. InputVars defaults to a single DefaultInputVar;
// VarDims, when given, splits the flattened input across the input variables
// and must match InputVars in length.
type Config struct {
	Modules    []module.Module
	Surrogates []module.Surrogate
	InputVars  []string
	VarDims    []int
	Scales     [][2]float64
	HardBounds [][2]bool
}

type recipeEntry struct {
	surrogate int
	start     int
	extent    int
}

// Pipeline owns its module list, surrogate list, derived recipe and transform
// for its full lifetime. The recipe is rebuilt wholesale whenever the
// surrogate list is reassigned; configuration must not change concurrently
// with an in-flight evaluation.
type Pipeline struct {
	modules    []module.Module
	surrogates []module.Surrogate
	recipe     []recipeEntry
	inputVars  []string
	varDims    []int
	inputCum   []int
	trans      *transform.Transform
}

// New validates cfg and builds a pipeline. Invalid scales, bounds, variable
// dimensions or overlapping surrogate scopes fail here, never at evaluation.
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Modules) == 0 {
		return nil, ErrNoModules
	}
	inputVars := cfg.InputVars
	if len(inputVars) == 0 {
		inputVars = []string{DefaultInputVar}
	}
	var inputCum []int
	if cfg.VarDims != nil {
		if len(cfg.VarDims) != len(inputVars) {
			return nil, fmt.Errorf("%w: %d dims for %d input variables", ErrVarDims, len(cfg.VarDims), len(inputVars))
		}
		inputCum = make([]int, len(cfg.VarDims)+1)
		for i, d := range cfg.VarDims {
			if d <= 0 {
				return nil, fmt.Errorf("%w: dimension %d is %d", ErrVarDims, i, d)
			}
			inputCum[i+1] = inputCum[i] + d
		}
	}
	trans, err := transform.New(cfg.Scales, cfg.HardBounds)
	if err != nil {
		return nil, err
	}
	recipe, err := buildRecipe(cfg.Surrogates, len(cfg.Modules))
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		modules:    append([]module.Module(nil), cfg.Modules...),
		surrogates: append([]module.Surrogate(nil), cfg.Surrogates...),
		recipe:     recipe,
		inputVars:  append([]string(nil), inputVars...),
		varDims:    append([]int(nil), cfg.VarDims...),
		inputCum:   inputCum,
		trans:      trans,
	}, nil
}

// SetSurrogates replaces the surrogate list, rebuilding the recipe. On error
// the previous surrogates and recipe are kept.
func (p *Pipeline) SetSurrogates(surrogates []module.Surrogate) error {
	recipe, err := buildRecipe(surrogates, len(p.modules))
	if err != nil {
		return err
	}
	p.surrogates = append([]module.Surrogate(nil), surrogates...)
	p.recipe = recipe
	return nil
}

// buildRecipe sorts the surrogate scopes by start index modulo the module
// count and rejects overlapping spans.
func buildRecipe(surrogates []module.Surrogate, nModule int) ([]recipeEntry, error) {
	entries := make([]recipeEntry, 0, len(surrogates))
	for i, s := range surrogates {
		scope := s.Scope()
		if scope.Extent <= 0 {
			return nil, fmt.Errorf("%w: surrogate #%d (%s) has extent %d", module.ErrInvalidScope, i, s.Name(), scope.Extent)
		}
		entries = append(entries, recipeEntry{
			surrogate: i,
			start:     ((scope.Start % nModule) + nModule) % nModule,
			extent:    scope.Extent,
		})
	}
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].start < entries[b].start })
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].start+entries[i].extent > entries[i+1].start {
			return nil, fmt.Errorf("%w: surrogate #%d overlaps surrogate #%d",
				ErrScopeOverlap, entries[i].surrogate, entries[i+1].surrogate)
		}
	}
	return entries, nil
}

func (p *Pipeline) NModule() int    { return len(p.modules) }
func (p *Pipeline) NSurrogate() int { return len(p.surrogates) }

func (p *Pipeline) HasSurrogate() bool { return len(p.surrogates) > 0 }

// Surrogates returns the surrogate list in declaration order.
func (p *Pipeline) Surrogates() []module.Surrogate {
	return append([]module.Surrogate(nil), p.surrogates...)
}

// InputVars returns the input variable names in declaration order.
func (p *Pipeline) InputVars() []string {
	return append([]string(nil), p.inputVars...)
}

// InputSize returns the flattened input size, known only when VarDims was set.
func (p *Pipeline) InputSize() (int, bool) {
	if p.inputCum == nil {
		return 0, false
	}
	return p.inputCum[len(p.inputCum)-1], true
}

// Transform exposes the pipeline's coordinate transform.
func (p *Pipeline) Transform() *transform.Transform {
	return p.trans
}

// EvalOptions controls one evaluation call. Nil Start/Stop default to the
// full module range; negative indices wrap modulo the module count.
type EvalOptions struct {
	UseSurrogate bool
	Space        Space
	Start        *int
	Stop         *int
	CopyInput    bool
	Workers      int
}

// Step wraps a step index for EvalOptions.
func Step(i int) *int { return &i }

func (p *Pipeline) resolveSteps(opts EvalOptions) (int, int, error) {
	n := len(p.modules)
	wrap := func(i int) int { return ((i % n) + n) % n }
	start := 0
	if opts.Start != nil {
		start = wrap(*opts.Start)
	}
	stop := n - 1
	if opts.Stop != nil {
		stop = wrap(*opts.Stop)
	}
	if start > stop {
		return 0, 0, fmt.Errorf("%w: start %d, stop %d", ErrStepRange, start, stop)
	}
	return start, stop, nil
}
