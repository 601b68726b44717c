package neuralnet

import (
	"errors"
	"fmt"
	"math"
)

// Optimizer applies the gradients held in a ParamSet at learning rate lr.
type Optimizer interface {
	Apply(ps *ParamSet, lr float64) error
}

var _ Optimizer = (*Adam)(nil)

// Adam implements the Adam update with L2 weight decay folded into the gradient.
type Adam struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdam returns Adam with the usual moment decay rates.
func NewAdam(weightDecay float64) *Adam {
	return &Adam{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// Apply performs one bias-corrected update of every parameter.
func (o *Adam) Apply(ps *ParamSet, lr float64) error {
	if lr <= 0 {
		return errors.New("invalid learning rate")
	}
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for _, p := range ps.Params() {
		m, ok := o.m[p.Name]
		if !ok {
			m = make([]float64, p.Size())
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok {
			v = make([]float64, p.Size())
			o.v[p.Name] = v
		}
		if len(m) != p.Size() || len(v) != p.Size() {
			return fmt.Errorf("optimizer state for %s has %d values, parameter has %d", p.Name, len(m), p.Size())
		}
		for i, g := range p.Grad {
			g += o.WeightDecay * p.Value[i]
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			p.Value[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.Epsilon)
		}
	}
	return nil
}

// AdamState is the serialisable part of Adam.
type AdamState struct {
	Step int                  `json:"step"`
	M    map[string][]float64 `json:"m"`
	V    map[string][]float64 `json:"v"`
}

// State returns a copy of the moment estimates and step count.
func (o *Adam) State() AdamState {
	s := AdamState{Step: o.step, M: make(map[string][]float64, len(o.m)), V: make(map[string][]float64, len(o.v))}
	for k, m := range o.m {
		s.M[k] = append([]float64(nil), m...)
	}
	for k, v := range o.v {
		s.V[k] = append([]float64(nil), v...)
	}
	return s
}

// SetState replaces the optimizer state.
func (o *Adam) SetState(s AdamState) {
	o.step = s.Step
	o.m = make(map[string][]float64, len(s.M))
	o.v = make(map[string][]float64, len(s.V))
	for k, m := range s.M {
		o.m[k] = append([]float64(nil), m...)
	}
	for k, v := range s.V {
		o.v[k] = append([]float64(nil), v...)
	}
}
