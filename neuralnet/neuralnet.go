// Package neuralnet holds the pieces that sit between model definitions and the
// gorgonia autodiff engine: parameter storage, compiled graph programs, layers,
// activations, losses, the optimizer and the learning-rate schedule.
package neuralnet

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Param is one named parameter tensor with its latest gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

// Size returns the number of scalar values in the parameter.
func (p *Param) Size() int { return len(p.Value) }

// Init fills a freshly created parameter of the given shape.
type Init func(rng *rand.Rand, shape []int) []float64

// ParamSet is the ordered collection of parameters of a network. It lives
// outside any graph so compiled programs of different batch sizes share it.
type ParamSet struct {
	params []*Param
	index  map[string]*Param
	rng    *rand.Rand
}

// NewParamSet returns an empty set whose initialisers draw from a generator seeded with seed.
func NewParamSet(seed int64) *ParamSet {
	return &ParamSet{
		index: make(map[string]*Param),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Get returns the named parameter.
func (ps *ParamSet) Get(name string) (*Param, bool) {
	p, ok := ps.index[name]
	return p, ok
}

// Params returns the parameters in creation order.
func (ps *ParamSet) Params() []*Param { return ps.params }

// Count returns the total number of scalar parameters.
func (ps *ParamSet) Count() int {
	n := 0
	for _, p := range ps.params {
		n += p.Size()
	}
	return n
}

// Ensure returns the named parameter, creating it with init when missing.
// An existing parameter must have the requested shape.
func (ps *ParamSet) Ensure(name string, init Init, shape ...int) (*Param, error) {
	if p, ok := ps.index[name]; ok {
		if !sameShape(p.Shape, shape) {
			return nil, fmt.Errorf("parameter %s has shape %v, network wants %v", name, p.Shape, shape)
		}
		return p, nil
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	vals := init(ps.rng, shape)
	if len(vals) != size {
		return nil, fmt.Errorf("initialiser for %s returned %d values, want %d", name, len(vals), size)
	}
	p := &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: vals,
		Grad:  make([]float64, size),
	}
	ps.params = append(ps.params, p)
	ps.index[name] = p
	return p, nil
}

// Set creates or replaces a parameter with the given values, used when restoring a checkpoint.
func (ps *ParamSet) Set(name string, shape []int, values []float64) error {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(values) {
		return fmt.Errorf("parameter %s: %d values for shape %v", name, len(values), shape)
	}
	if p, ok := ps.index[name]; ok {
		if !sameShape(p.Shape, shape) {
			return fmt.Errorf("parameter %s has shape %v, checkpoint has %v", name, p.Shape, shape)
		}
		copy(p.Value, values)
		return nil
	}
	p := &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: append([]float64(nil), values...),
		Grad:  make([]float64, size),
	}
	ps.params = append(ps.params, p)
	ps.index[name] = p
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fans returns fan-in and fan-out: for a (out, in, kh, kw) filter the receptive
// field multiplies both; for a matrix (in, out) they are the two axes.
func fans(shape []int) (int, int) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return shape[0], shape[0]
	case 2:
		return shape[0], shape[1]
	}
	field := 1
	for _, d := range shape[2:] {
		field *= d
	}
	return shape[1] * field, shape[0] * field
}

func xavierInit(rng *rand.Rand, numInputs int, numOutputs int) float64 {
	limit := math.Sqrt(6.0 / float64(numInputs+numOutputs))
	return 2*rng.Float64()*limit - limit
}

// GlorotUniform draws from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(rng *rand.Rand, shape []int) []float64 {
	in, out := fans(shape)
	vals := make([]float64, sizeOf(shape))
	for i := range vals {
		vals[i] = xavierInit(rng, in, out)
	}
	return vals
}

// Zeros fills with 0.
func Zeros(_ *rand.Rand, shape []int) []float64 { return make([]float64, sizeOf(shape)) }

// Ones fills with 1.
func Ones(_ *rand.Rand, shape []int) []float64 {
	vals := make([]float64, sizeOf(shape))
	for i := range vals {
		vals[i] = 1
	}
	return vals
}

// ScaledUniform draws from U(0, scale).
func ScaledUniform(scale float64) Init {
	return func(rng *rand.Rand, shape []int) []float64 {
		vals := make([]float64, sizeOf(shape))
		for i := range vals {
			vals[i] = scale * rng.Float64()
		}
		return vals
	}
}

func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// String lists parameters with their shapes; handy when a checkpoint does not match a network.
func (ps *ParamSet) String() string {
	var sb strings.Builder
	for _, p := range ps.params {
		sb.WriteString(fmt.Sprintf("%s %v\n", p.Name, p.Shape))
	}
	sb.WriteString(fmt.Sprintf("total: %d\n", ps.Count()))
	return sb.String()
}
