package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/EiffL/bayesfast/internal/density"
	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/pipeline"
)

// bananaDensity is the built-in demo: a curved 2-d density obtained by
// straightening x1 against x0^2 before a standard gaussian.
func bananaDensity() (*density.Density, error) {
	squareFactory, err := module.Get("square")
	if err != nil {
		return nil, err
	}
	squareStep, err := squareFactory([]string{"x"}, []string{"x-squared"})
	if err != nil {
		return nil, err
	}

	// z0 = x0, z1 = x1 - x0^2
	weights := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, -1, 0,
	})
	straighten, err := module.NewAffine("straighten", []string{"x", "x-squared"}, []string{"z"}, weights, []float64{0, 0})
	if err != nil {
		return nil, err
	}

	gaussFactory, err := module.Get("gaussian-logp")
	if err != nil {
		return nil, err
	}
	gaussStep, err := gaussFactory([]string{"z"}, []string{density.DefaultDensityName})
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Modules:   []module.Module{squareStep, straighten, gaussStep},
		InputVars: []string{"x"},
		VarDims:   []int{2},
	})
	if err != nil {
		return nil, err
	}
	return density.New(density.Config{Pipeline: p})
}

type pipelineConfig struct {
	InputVars  []string       `json:"input_vars"`
	VarDims    []int          `json:"var_dims"`
	Scales     [][2]float64   `json:"scales"`
	HardBounds [][2]bool      `json:"hard_bounds"`
	Modules    []moduleConfig `json:"modules"`
	Density    string         `json:"density_var"`
}

type moduleConfig struct {
	Kind       string   `json:"kind"`
	InputVars  []string `json:"input_vars"`
	OutputVars []string `json:"output_vars"`
}

// loadDensityFromConfig builds a density whose steps all come from the
// module registry. Affine steps need code-level weights and are not
// expressible here.
func loadDensityFromConfig(path string) (*density.Density, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg pipelineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Modules) == 0 {
		return nil, fmt.Errorf("config %s declares no modules", path)
	}

	steps := make([]module.Module, len(cfg.Modules))
	for i, mc := range cfg.Modules {
		factory, err := module.Get(mc.Kind)
		if err != nil {
			return nil, fmt.Errorf("config module #%d: %w", i, err)
		}
		step, err := factory(mc.InputVars, mc.OutputVars)
		if err != nil {
			return nil, fmt.Errorf("config module #%d (%s): %w", i, mc.Kind, err)
		}
		steps[i] = step
	}

	p, err := pipeline.New(pipeline.Config{
		Modules:    steps,
		InputVars:  cfg.InputVars,
		VarDims:    cfg.VarDims,
		Scales:     cfg.Scales,
		HardBounds: cfg.HardBounds,
	})
	if err != nil {
		return nil, err
	}
	return density.New(density.Config{Pipeline: p, DensityName: cfg.Density})
}
