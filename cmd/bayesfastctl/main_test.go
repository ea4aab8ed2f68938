package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EiffL/bayesfast/internal/pipeline"
)

func TestParsePoint(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    []float64
		wantErr bool
	}{
		{name: "single", input: "1.5", want: []float64{1.5}},
		{name: "pair with spaces", input: " 0.5, -2 ", want: []float64{0.5, -2}},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "1,abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePoint(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.input, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected usage error for empty args")
	}
}

func TestBananaDensityValues(t *testing.T) {
	d, err := bananaDensity()
	if err != nil {
		t.Fatalf("banana density: %v", err)
	}

	// At (a, b) the straightened point is (a, b-a^2).
	logp, grad, err := d.LogpAndGrad([]float64{1, 1}, pipeline.EvalOptions{})
	if err != nil {
		t.Fatalf("logp and grad: %v", err)
	}
	want := -math.Log(2*math.Pi) - 0.5
	if math.Abs(logp-want) > 1e-12 {
		t.Fatalf("logp = %v, want %v", logp, want)
	}
	// d logp / d x1 = -(b - a^2) = 0 at (1, 1).
	if math.Abs(grad[1]) > 1e-12 {
		t.Fatalf("grad[1] = %v, want 0", grad[1])
	}
}

func TestLoadDensityFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "density.json")
	config := `{
		"input_vars": ["x"],
		"var_dims": [2],
		"modules": [
			{"kind": "gaussian-logp", "input_vars": ["x"], "output_vars": ["__var__"]}
		]
	}`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	d, err := loadDensityFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logp, err := d.Logp([]float64{0, 0}, pipeline.EvalOptions{})
	if err != nil {
		t.Fatalf("logp: %v", err)
	}
	want := -math.Log(2 * math.Pi)
	if math.Abs(logp-want) > 1e-12 {
		t.Fatalf("logp = %v, want %v", logp, want)
	}
}

func TestLoadDensityRejectsUnknownModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "density.json")
	config := `{
		"input_vars": ["x"],
		"var_dims": [1],
		"modules": [
			{"kind": "nope", "input_vars": ["x"], "output_vars": ["y"]}
		]
	}`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadDensityFromConfig(path); err == nil {
		t.Fatal("expected an error for an unknown module kind")
	}
}

func TestEvalCommand(t *testing.T) {
	if err := runEval([]string{"-x", "1,1"}); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := runEval([]string{"-x", ""}); err == nil {
		t.Fatal("expected an error for a missing point")
	}
}
