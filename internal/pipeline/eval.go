package pipeline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/vars"
)

// Fun evaluates the module/surrogate chain on a single coordinate vector and
// returns the populated variable store.
func (p *Pipeline) Fun(x []float64, opts EvalOptions) (*vars.Store, error) {
	store, err := p.seedStore(x, opts, false)
	if err != nil {
		return nil, err
	}
	return p.runStore(store, opts, false)
}

// FunAndJac is Fun with chain-rule Jacobian accumulation: every bound
// variable additionally carries its Jacobian with respect to the pipeline's
// flattened input vector.
func (p *Pipeline) FunAndJac(x []float64, opts EvalOptions) (*vars.Store, error) {
	store, err := p.seedStore(x, opts, true)
	if err != nil {
		return nil, err
	}
	return p.runStore(store, opts, true)
}

// FunStore resumes a value-only evaluation from a pre-seeded store.
func (p *Pipeline) FunStore(store *vars.Store, opts EvalOptions) (*vars.Store, error) {
	if opts.CopyInput {
		store = store.Clone()
	}
	return p.runStore(store, opts, false)
}

// FunAndJacStore resumes a value-and-Jacobian evaluation from a pre-seeded
// store; the store must already carry Jacobians for its live variables.
func (p *Pipeline) FunAndJacStore(store *vars.Store, opts EvalOptions) (*vars.Store, error) {
	if opts.CopyInput {
		store = store.Clone()
	}
	return p.runStore(store, opts, true)
}

// FunVar evaluates and extracts a single named value.
func (p *Pipeline) FunVar(x []float64, name string, opts EvalOptions) ([]float64, error) {
	store, err := p.Fun(x, opts)
	if err != nil {
		return nil, err
	}
	return store.Value(name)
}

// FunAndJacVar evaluates and extracts a single named value with its Jacobian.
func (p *Pipeline) FunAndJacVar(x []float64, name string, opts EvalOptions) ([]float64, *mat.Dense, error) {
	store, err := p.FunAndJac(x, opts)
	if err != nil {
		return nil, nil, err
	}
	value, err := store.Value(name)
	if err != nil {
		return nil, nil, err
	}
	jacobian, err := store.Jacobian(name)
	if err != nil {
		return nil, nil, err
	}
	return value, jacobian, nil
}

// FunBatch evaluates one store per input row, index-aligned. Options apply
// unchanged to every element; Workers > 1 fans elements out to that many
// goroutines.
func (p *Pipeline) FunBatch(xs [][]float64, opts EvalOptions) ([]*vars.Store, error) {
	return p.batch(xs, opts, false)
}

// FunAndJacBatch is FunBatch in value-and-Jacobian mode.
func (p *Pipeline) FunAndJacBatch(xs [][]float64, opts EvalOptions) ([]*vars.Store, error) {
	return p.batch(xs, opts, true)
}

func (p *Pipeline) batch(xs [][]float64, opts EvalOptions, withJac bool) ([]*vars.Store, error) {
	eval := p.Fun
	if withJac {
		eval = p.FunAndJac
	}
	out := make([]*vars.Store, len(xs))
	if opts.Workers <= 1 || len(xs) < 2 {
		for i, x := range xs {
			store, err := eval(x, opts)
			if err != nil {
				return nil, fmt.Errorf("batch element %d: %w", i, err)
			}
			out[i] = store
		}
		return out, nil
	}

	workers := opts.Workers
	if workers > len(xs) {
		workers = len(xs)
	}
	jobs := make(chan int)
	errs := make([]error, len(xs))
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				store, err := eval(xs[i], opts)
				if err != nil {
					errs[i] = err
				} else {
					out[i] = store
				}
			}
			done <- struct{}{}
		}()
	}
	for i := range xs {
		jobs <- i
	}
	close(jobs)
	for w := 0; w < workers; w++ {
		<-done
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return out, nil
}

// seedStore converts x into the original space if needed, splits it across
// the declared input variables and, in Jacobian mode, seeds each block with
// the matching rows of the identity (or transform-diagonal) matrix.
func (p *Pipeline) seedStore(x []float64, opts EvalOptions, withJac bool) (*vars.Store, error) {
	if opts.CopyInput {
		x = append([]float64(nil), x...)
	}
	if p.inputCum != nil {
		if total := p.inputCum[len(p.inputCum)-1]; len(x) != total {
			return nil, fmt.Errorf("%w: got %d values, input variables need %d", ErrInputSize, len(x), total)
		}
	}

	var seed *mat.Dense
	if withJac {
		seed = mat.NewDense(len(x), len(x), nil)
		if opts.Space == SpaceTransformed {
			grad, err := p.trans.ToOriginalGrad(x)
			if err != nil {
				return nil, err
			}
			for i, g := range grad {
				seed.Set(i, i, g)
			}
		} else {
			for i := range x {
				seed.Set(i, i, 1)
			}
		}
	}
	if opts.Space == SpaceTransformed {
		original, err := p.trans.ToOriginal(x)
		if err != nil {
			return nil, err
		}
		x = original
	}

	store := vars.NewStore()
	if p.inputCum == nil {
		store.Set(p.inputVars[0], x)
		if withJac {
			store.SetJacobian(p.inputVars[0], seed)
		}
		return store, nil
	}
	for i, name := range p.inputVars {
		lo, hi := p.inputCum[i], p.inputCum[i+1]
		store.Set(name, x[lo:hi])
		if withJac {
			block := mat.NewDense(hi-lo, len(x), nil)
			block.Copy(seed.Slice(lo, hi, 0, len(x)))
			store.SetJacobian(name, block)
		}
	}
	return store, nil
}

// runStore walks the module/surrogate sequence over the resolved step range.
// When surrogate use is requested, a surrogate whose scope starts at the
// cursor replaces extent steps atomically; after the last recipe entry has
// been consumed, lookahead is disabled for the remainder of the call.
func (p *Pipeline) runStore(store *vars.Store, opts EvalOptions, withJac bool) (*vars.Store, error) {
	start, stop, err := p.resolveSteps(opts)
	if err != nil {
		return nil, err
	}
	useSurrogate := opts.UseSurrogate && len(p.recipe) > 0
	si := 0
	if useSurrogate {
		si = sort.Search(len(p.recipe), func(k int) bool { return p.recipe[k].start >= start })
		if si == len(p.recipe) {
			useSurrogate = false
		}
	}

	i := start
	for i <= stop {
		var stage module.Module = p.modules[i]
		di := 1
		if useSurrogate && i == p.recipe[si].start {
			entry := p.recipe[si]
			stage = p.surrogates[entry.surrogate]
			di = entry.extent
			if si == len(p.recipe)-1 {
				useSurrogate = false
			} else {
				si++
			}
		}
		if err := p.step(store, stage, withJac); err != nil {
			return nil, &StepError{Step: i, Err: err}
		}
		i += di
	}
	return store, nil
}

// step executes one stage against the store: gather inputs, invoke, bind
// outputs (composing Jacobians in Jacobian mode), then apply copy and delete
// directives. Partial mutation before a failure is not rolled back.
func (p *Pipeline) step(store *vars.Store, stage module.Module, withJac bool) error {
	inputVars := stage.InputVars()
	inputs := make([][]float64, len(inputVars))
	for i, name := range inputVars {
		value, err := store.Value(name)
		if err != nil {
			return fmt.Errorf("gathering inputs for %s: %w", stage.Name(), err)
		}
		inputs[i] = value
	}

	outputVars := stage.OutputVars()
	if withJac {
		inputJac, err := p.stackJacobians(store, inputVars, stage.Name())
		if err != nil {
			return err
		}
		outputs, localJacs, err := stage.FunAndJac(inputs)
		if err != nil {
			return err
		}
		if len(outputs) != len(outputVars) || len(localJacs) != len(outputVars) {
			return fmt.Errorf("%w: %s returned %d blocks and %d jacobians for %d declared outputs",
				ErrOutputCount, stage.Name(), len(outputs), len(localJacs), len(outputVars))
		}
		inRows, inCols := inputJac.Dims()
		for k, name := range outputVars {
			rows, cols := localJacs[k].Dims()
			if rows != len(outputs[k]) || cols != inRows {
				return fmt.Errorf("%w: %s output %q is %d-by-%d for a %d-value block over %d inputs",
					ErrJacobianShape, stage.Name(), name, rows, cols, len(outputs[k]), inRows)
			}
			// Chain rule: compose the local Jacobian with the accumulated
			// input Jacobian, never re-deriving from the pipeline input.
			accumulated := mat.NewDense(rows, inCols, nil)
			accumulated.Mul(localJacs[k], inputJac)
			store.Set(name, outputs[k])
			store.SetJacobian(name, accumulated)
		}
	} else {
		outputs, err := stage.Fun(inputs)
		if err != nil {
			return err
		}
		if len(outputs) != len(outputVars) {
			return fmt.Errorf("%w: %s returned %d blocks for %d declared outputs",
				ErrOutputCount, stage.Name(), len(outputs), len(outputVars))
		}
		for k, name := range outputVars {
			store.Set(name, outputs[k])
		}
	}

	pasteVars := stage.PasteVars()
	for j, name := range stage.CopyVars() {
		paste := ""
		if j < len(pasteVars) {
			paste = pasteVars[j]
		}
		if _, err := store.Copy(name, paste); err != nil {
			return fmt.Errorf("copy directive of %s: %w", stage.Name(), err)
		}
	}
	for _, name := range stage.DeleteVars() {
		store.Delete(name)
	}
	return nil
}

// stackJacobians concatenates the accumulated Jacobians of the given names,
// in input-name order, along the row axis.
func (p *Pipeline) stackJacobians(store *vars.Store, names []string, stageName string) (*mat.Dense, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s declares no input variables", ErrJacobianShape, stageName)
	}
	blocks := make([]*mat.Dense, len(names))
	totalRows, cols := 0, 0
	for i, name := range names {
		jacobian, err := store.Jacobian(name)
		if err != nil {
			return nil, fmt.Errorf("gathering jacobians for %s: %w", stageName, err)
		}
		r, c := jacobian.Dims()
		if i == 0 {
			cols = c
		} else if c != cols {
			return nil, fmt.Errorf("%w: %s input %q has %d jacobian columns, expected %d",
				ErrJacobianShape, stageName, name, c, cols)
		}
		blocks[i] = jacobian
		totalRows += r
	}
	stacked := mat.NewDense(totalRows, cols, nil)
	row := 0
	for _, block := range blocks {
		r, _ := block.Dims()
		stacked.Slice(row, row+r, 0, cols).(*mat.Dense).Copy(block)
		row += r
	}
	return stacked, nil
}
