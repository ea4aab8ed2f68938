package module

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewValidation(t *testing.T) {
	fun := func(inputs [][]float64) ([][]float64, error) { return inputs, nil }
	cases := []struct {
		name string
		spec Spec
	}{
		{"missing name", Spec{OutputVars: []string{"y"}, Fun: fun}},
		{"missing outputs", Spec{Name: "m", Fun: fun}},
		{"missing fun", Spec{Name: "m", OutputVars: []string{"y"}}},
		{"empty variable name", Spec{Name: "m", InputVars: []string{""}, OutputVars: []string{"y"}, Fun: fun}},
		{"paste without copy", Spec{Name: "m", OutputVars: []string{"y"}, PasteVars: []string{"p"}, Fun: fun}},
	}
	for _, c := range cases {
		if _, err := New(c.spec); !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("%s: got %v, want %v", c.name, err, ErrInvalidSpec)
		}
	}
}

func TestFunInputCount(t *testing.T) {
	m := MustNew(Spec{
		Name:       "echo",
		InputVars:  []string{"x"},
		OutputVars: []string{"y"},
		Fun:        func(inputs [][]float64) ([][]float64, error) { return inputs, nil },
	})
	if _, err := m.Fun(nil); !errors.Is(err, ErrInputMismatch) {
		t.Fatalf("no blocks: got %v, want %v", err, ErrInputMismatch)
	}
	if _, _, err := m.FunAndJac([][]float64{{1}}); !errors.Is(err, ErrNoJacobian) {
		t.Fatalf("missing jacobian: got %v, want %v", err, ErrNoJacobian)
	}
}

func TestRegistry(t *testing.T) {
	defer resetModuleRegistryForTests()

	for _, name := range []string{"sum", "square", "gaussian-logp"} {
		if _, err := Get(name); err != nil {
			t.Fatalf("built-in %s missing: %v", name, err)
		}
	}
	if _, err := Get("nope"); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("unknown type: got %v, want %v", err, ErrModuleNotFound)
	}
	if err := Register("sum", func(in, out []string) (Module, error) { return nil, nil }); !errors.Is(err, ErrModuleExists) {
		t.Fatalf("duplicate register: got %v, want %v", err, ErrModuleExists)
	}

	names := List()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("list not sorted: %v", names)
		}
	}
}

func TestBuiltInGaussianLogp(t *testing.T) {
	factory, err := Get("gaussian-logp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m, err := factory([]string{"x"}, []string{"logp"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	x := []float64{0.5, -1.5}
	out, jac, err := m.FunAndJac([][]float64{x})
	if err != nil {
		t.Fatalf("fun and jac: %v", err)
	}
	want := -math.Log(2*math.Pi) - 0.5*(0.25+2.25)
	if math.Abs(out[0][0]-want) > 1e-12 {
		t.Fatalf("logp = %v, want %v", out[0][0], want)
	}
	for i, v := range x {
		if math.Abs(jac[0].At(0, i)+v) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, jac[0].At(0, i), -v)
		}
	}
}

func TestAffineModule(t *testing.T) {
	w := mat.NewDense(2, 3, []float64{1, 0, -1, 2, 1, 0})
	m, err := NewAffine("lin", []string{"x"}, []string{"y"}, w, []float64{0.5, -0.5})
	if err != nil {
		t.Fatalf("new affine: %v", err)
	}
	out, jac, err := m.FunAndJac([][]float64{{1, 2, 3}})
	if err != nil {
		t.Fatalf("fun and jac: %v", err)
	}
	want := []float64{1*1 + 0*2 - 1*3 + 0.5, 2*1 + 1*2 + 0*3 - 0.5}
	for i := range want {
		if math.Abs(out[0][i]-want[i]) > 1e-12 {
			t.Errorf("out[%d] = %v, want %v", i, out[0][i], want[i])
		}
	}
	if !mat.EqualApprox(jac[0], w, 1e-12) {
		t.Error("affine jacobian is not the weight matrix")
	}

	if _, err := NewAffine("bad", []string{"x"}, []string{"y"}, w, []float64{1}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("bias mismatch: got %v, want %v", err, ErrInvalidSpec)
	}
}

func TestLinearSurrogateFit(t *testing.T) {
	s, err := NewLinearSurrogate(LinearConfig{
		Name:       "lin-sur",
		InputVars:  []string{"x"},
		OutputVars: []string{"y"},
		Scope:      Scope{Start: 0, Extent: 1},
		OutDim:     2,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Fun([][]float64{{1, 2}}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("unfitted eval: got %v, want %v", err, ErrNotFitted)
	}

	// y0 = 2 x0 - x1 + 1, y1 = x0 + 3 x1 - 2, exactly recoverable.
	samples := [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {2, -1}, {-1, 2}}
	x := mat.NewDense(len(samples), 2, nil)
	y := mat.NewDense(len(samples), 2, nil)
	for i, p := range samples {
		x.Set(i, 0, p[0])
		x.Set(i, 1, p[1])
		y.Set(i, 0, 2*p[0]-p[1]+1)
		y.Set(i, 1, p[0]+3*p[1]-2)
	}
	if err := s.Fit(x, y, nil, FitOptions{}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !s.Fitted() {
		t.Fatal("fitted flag not set")
	}

	out, jac, err := s.FunAndJac([][]float64{{0.5, -0.25}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	want := []float64{2*0.5 + 0.25 + 1, 0.5 - 3*0.25 - 2}
	for i := range want {
		if math.Abs(out[0][i]-want[i]) > 1e-8 {
			t.Errorf("out[%d] = %v, want %v", i, out[0][i], want[i])
		}
	}
	wantJac := mat.NewDense(2, 2, []float64{2, -1, 1, 3})
	if !mat.EqualApprox(jac[0], wantJac, 1e-8) {
		t.Errorf("jacobian = %v, want %v", mat.Formatted(jac[0]), mat.Formatted(wantJac))
	}
}

func TestLinearSurrogateFitShapeErrors(t *testing.T) {
	s, err := NewLinearSurrogate(LinearConfig{
		Name:       "lin-sur",
		InputVars:  []string{"x"},
		OutputVars: []string{"y"},
		Scope:      Scope{Start: 0, Extent: 1},
		OutDim:     1,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	x := mat.NewDense(3, 2, nil)
	y := mat.NewDense(2, 1, nil)
	if err := s.Fit(x, y, nil, FitOptions{}); !errors.Is(err, ErrFitShape) {
		t.Fatalf("row mismatch: got %v, want %v", err, ErrFitShape)
	}
	y = mat.NewDense(3, 2, nil)
	if err := s.Fit(x, y, nil, FitOptions{}); !errors.Is(err, ErrFitShape) {
		t.Fatalf("column mismatch: got %v, want %v", err, ErrFitShape)
	}
	y = mat.NewDense(3, 1, nil)
	if err := s.Fit(x, y, []float64{1}, FitOptions{}); !errors.Is(err, ErrFitShape) {
		t.Fatalf("logp mismatch: got %v, want %v", err, ErrFitShape)
	}
}

func TestLinearSurrogateScaling(t *testing.T) {
	s, err := NewLinearSurrogate(LinearConfig{
		Name:       "scaled",
		InputVars:  []string{"x"},
		OutputVars: []string{"y"},
		Scope:      Scope{Start: 0, Extent: 1},
		OutDim:     1,
		Scales:     [][2]float64{{0, 2}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Fit on normalized u = x/2 with y = 4u + 1, so y = 2x + 1 in raw terms.
	u := mat.NewDense(3, 1, []float64{0, 0.5, 1})
	y := mat.NewDense(3, 1, []float64{1, 3, 5})
	if err := s.Fit(u, y, nil, FitOptions{}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	out, jac, err := s.FunAndJac([][]float64{{1.5}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if math.Abs(out[0][0]-4) > 1e-8 {
		t.Fatalf("out = %v, want 4", out[0][0])
	}
	if math.Abs(jac[0].At(0, 0)-2) > 1e-8 {
		t.Fatalf("jacobian = %v, want 2 in raw coordinates", jac[0].At(0, 0))
	}
}
