package neuralnet

import (
	"math"
	"testing"
)

func TestAdamApplyInvalidLearningRate(t *testing.T) {
	adam := NewAdam(0)
	if err := adam.Apply(NewParamSet(1), 0); err == nil {
		t.Error("Adam.Apply with lr=0 did not return error")
	}
	if err := adam.Apply(NewParamSet(1), -1); err == nil {
		t.Error("Adam.Apply with lr=-1 did not return error")
	}
}

func TestAdamFirstStep(t *testing.T) {
	tests := []struct {
		description string
		value       float64
		grad        float64
		weightDecay float64
		expected    float64
	}{
		// the first bias-corrected step has magnitude lr whatever the gradient scale
		{description: "positive gradient", value: 1, grad: 0.2, expected: 0.9},
		{description: "negative gradient", value: 1, grad: -50, expected: 1.1},
		{description: "weight decay flips the sign", value: 1, grad: -0.05, weightDecay: 0.1, expected: 0.9},
		{description: "zero gradient", value: 1, grad: 0, expected: 1},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			ps := NewParamSet(1)
			if err := ps.Set("w", []int{1}, []float64{tt.value}); err != nil {
				t.Fatal(err)
			}
			p, _ := ps.Get("w")
			p.Grad[0] = tt.grad
			if err := NewAdam(tt.weightDecay).Apply(ps, 0.1); err != nil {
				t.Fatal(err)
			}
			if !floatEquals(p.Value[0], tt.expected, 1e-6) {
				t.Errorf("value after one step = %v; want %v", p.Value[0], tt.expected)
			}
		})
	}
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	ps := NewParamSet(1)
	if err := ps.Set("w", []int{2}, []float64{3, -4}); err != nil {
		t.Fatal(err)
	}
	p, _ := ps.Get("w")
	adam := NewAdam(0)
	for i := 0; i < 2000; i++ {
		// f(w) = |w|^2
		for j := range p.Value {
			p.Grad[j] = 2 * p.Value[j]
		}
		if err := adam.Apply(ps, 0.05); err != nil {
			t.Fatal(err)
		}
	}
	for j, v := range p.Value {
		if math.Abs(v) > 0.1 {
			t.Errorf("w[%d] = %v; want near 0", j, v)
		}
	}
}

func TestAdamState(t *testing.T) {
	newSet := func() (*ParamSet, *Param) {
		ps := NewParamSet(1)
		_ = ps.Set("w", []int{3}, []float64{1, 2, 3})
		p, _ := ps.Get("w")
		return ps, p
	}
	step := func(o *Adam, ps *ParamSet, p *Param) {
		for i := range p.Grad {
			p.Grad[i] = p.Value[i] - 0.5
		}
		if err := o.Apply(ps, 0.01); err != nil {
			t.Fatal(err)
		}
	}

	psA, pA := newSet()
	a := NewAdam(0.01)
	for i := 0; i < 3; i++ {
		step(a, psA, pA)
	}

	psB, pB := newSet()
	copy(pB.Value, pA.Value)
	b := NewAdam(0.01)
	b.SetState(a.State())

	step(a, psA, pA)
	step(b, psB, pB)
	for i := range pA.Value {
		if pA.Value[i] != pB.Value[i] {
			t.Errorf("restored optimizer diverged at %d: %v vs %v", i, pB.Value[i], pA.Value[i])
		}
	}
	if got := a.State().Step; got != 4 {
		t.Errorf("Step = %d; want 4", got)
	}
}
