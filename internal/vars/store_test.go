package vars

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestValueLookup(t *testing.T) {
	s := NewStore()
	s.Set("x", []float64{1, 2})

	value, err := s.Value("x")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if len(value) != 2 || value[0] != 1 || value[1] != 2 {
		t.Fatalf("value = %v, want [1 2]", value)
	}
	if _, err := s.Value("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing lookup: got %v, want %v", err, ErrNotFound)
	}
}

func TestCopySuffixResolution(t *testing.T) {
	s := NewStore()
	s.Set("v", []float64{3})
	s.SetJacobian("v", mat.NewDense(1, 1, []float64{2}))

	first, err := s.Copy("v", "")
	if err != nil {
		t.Fatalf("first copy: %v", err)
	}
	second, err := s.Copy("v", "")
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if first != "v-Copy1" || second != "v-Copy2" {
		t.Fatalf("copy names = %q, %q, want v-Copy1, v-Copy2", first, second)
	}

	s.Delete("v")
	if s.Has("v") {
		t.Fatal("v still present after delete")
	}
	if _, err := s.Jacobian("v"); !errors.Is(err, ErrNotFound) {
		t.Fatal("jacobian of v survived delete")
	}
	for _, name := range []string{"v-Copy1", "v-Copy2"} {
		if _, err := s.Value(name); err != nil {
			t.Errorf("%s missing after deleting v: %v", name, err)
		}
		if _, err := s.Jacobian(name); err != nil {
			t.Errorf("%s jacobian missing after deleting v: %v", name, err)
		}
	}
}

func TestCopyExplicitPaste(t *testing.T) {
	s := NewStore()
	s.Set("v", []float64{1, 2})

	name, err := s.Copy("v", "w")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if name != "w" {
		t.Fatalf("paste name = %q, want w", name)
	}
	value, err := s.Value("w")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	value[0] = 99
	original, _ := s.Value("v")
	if original[0] != 1 {
		t.Fatal("copy aliases the original value block")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewStore()
	s.Set("x", []float64{1})
	s.SetJacobian("x", mat.NewDense(1, 1, []float64{5}))

	clone := s.Clone()
	value, _ := clone.Value("x")
	value[0] = -1
	jacobian, _ := clone.Jacobian("x")
	jacobian.Set(0, 0, -5)

	original, _ := s.Value("x")
	if original[0] != 1 {
		t.Fatal("clone shares the value block")
	}
	originalJacobian, _ := s.Jacobian("x")
	if originalJacobian.At(0, 0) != 5 {
		t.Fatal("clone shares the jacobian")
	}
}

func TestNamesAndSubset(t *testing.T) {
	s := NewStore()
	s.Set("b", []float64{2})
	s.Set("a", []float64{1})
	s.Set("c", []float64{3})

	names := s.Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("names = %v, want [a b c]", names)
	}

	subset, err := s.Subset([]string{"a", "c"})
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(subset) != 2 || subset["a"][0] != 1 || subset["c"][0] != 3 {
		t.Fatalf("subset = %v", subset)
	}
	if _, err := s.Subset([]string{"a", "zz"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("subset with missing name: got %v, want %v", err, ErrNotFound)
	}
}
