package neuralnet

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode selects how a Program is compiled.
type Mode int

const (
	// Eval runs the forward pass only; batch statistics still come from the batch.
	Eval Mode = iota
	// Train adds the cost and its symbolic gradients.
	Train
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// Network builds its forward pass on a graph, asking the Scope for parameters.
type Network interface {
	Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error)
}

// Objective turns the network output and the target into a scalar cost node.
type Objective func(pred, target *gorgonia.Node) (*gorgonia.Node, error)

type binding struct {
	nodes  []*gorgonia.Node
	params []*Param
}

// Scope hands out graph nodes backed by a ParamSet. Sub scopes share bindings
// and extend the name prefix.
type Scope struct {
	g      *gorgonia.ExprGraph
	params *ParamSet
	prefix string
	mode   Mode
	bind   *binding
}

// NewScope returns a root scope on g.
func NewScope(g *gorgonia.ExprGraph, params *ParamSet, mode Mode) *Scope {
	return &Scope{g: g, params: params, mode: mode, bind: &binding{}}
}

// Graph returns the graph the scope builds on.
func (s *Scope) Graph() *gorgonia.ExprGraph { return s.g }

// Mode reports whether the graph is being built for training.
func (s *Scope) Mode() Mode { return s.mode }

// Sub returns a child scope whose parameter names are prefixed with name.
func (s *Scope) Sub(name string) *Scope {
	c := *s
	if s.prefix == "" {
		c.prefix = name
	} else {
		c.prefix = s.prefix + "." + name
	}
	return &c
}

func (s *Scope) name(n string) string {
	if s.prefix == "" {
		return n
	}
	return s.prefix + "." + n
}

// Param returns a node for the named parameter, creating the parameter on first use.
func (s *Scope) Param(name string, init Init, shape ...int) (*gorgonia.Node, error) {
	full := s.name(name)
	p, err := s.params.Ensure(full, init, shape...)
	if err != nil {
		return nil, err
	}
	for i, bound := range s.bind.params {
		if bound == p {
			return s.bind.nodes[i], nil
		}
	}
	val := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(append([]float64(nil), p.Value...)))
	n := gorgonia.NewTensor(s.g, tensor.Float64, len(shape),
		gorgonia.WithShape(shape...), gorgonia.WithName(full), gorgonia.WithValue(val))
	s.bind.nodes = append(s.bind.nodes, n)
	s.bind.params = append(s.bind.params, p)
	return n, nil
}

// Constant returns a fixed tensor node, e.g. a transform basis.
func (s *Scope) Constant(name string, shape []int, data []float64) *gorgonia.Node {
	val := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return gorgonia.NewTensor(s.g, tensor.Float64, len(shape),
		gorgonia.WithShape(shape...), gorgonia.WithName(s.name(name)), gorgonia.WithValue(val))
}

// Program is a compiled graph for one input shape.
type Program struct {
	mode    Mode
	shape   tensor.Shape
	g       *gorgonia.ExprGraph
	x, y    *gorgonia.Node
	bind    *binding
	vm      gorgonia.VM
	outVal  gorgonia.Value
	costVal gorgonia.Value
}

// Compile builds net for inputs of xShape. In Train mode target shape yShape and
// objective are required.
func Compile(net Network, params *ParamSet, mode Mode, xShape, yShape []int, objective Objective) (*Program, error) {
	g := gorgonia.NewGraph()
	s := NewScope(g, params, mode)
	x := gorgonia.NewTensor(g, tensor.Float64, len(xShape), gorgonia.WithShape(xShape...), gorgonia.WithName("x"))
	out, err := net.Forward(s, x)
	if err != nil {
		return nil, err
	}
	p := &Program{mode: mode, shape: tensor.Shape(xShape).Clone(), g: g, x: x, bind: s.bind}
	gorgonia.Read(out, &p.outVal)

	if mode == Eval {
		p.vm = gorgonia.NewTapeMachine(g)
		return p, nil
	}
	if objective == nil {
		return nil, fmt.Errorf("training program needs an objective")
	}
	p.y = gorgonia.NewTensor(g, tensor.Float64, len(yShape), gorgonia.WithShape(yShape...), gorgonia.WithName("y"))
	if !out.Shape().Eq(tensor.Shape(yShape)) {
		return nil, fmt.Errorf("network output shape %v does not match target shape %v", out.Shape(), yShape)
	}
	cost, err := objective(out, p.y)
	if err != nil {
		return nil, err
	}
	gorgonia.Read(cost, &p.costVal)
	if len(p.bind.nodes) > 0 {
		if _, err := gorgonia.Grad(cost, p.bind.nodes...); err != nil {
			return nil, fmt.Errorf("gradient: %w", err)
		}
	}
	p.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(p.bind.nodes...))
	return p, nil
}

// load copies the current parameter values into the bound nodes.
func (p *Program) load() error {
	for i, n := range p.bind.nodes {
		dst, ok := n.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("parameter %s is not float64", n.Name())
		}
		copy(dst, p.bind.params[i].Value)
	}
	return nil
}

// Step runs one forward and backward pass and stores the gradients in the ParamSet.
func (p *Program) Step(x, y *tensor.Dense) (float64, error) {
	if p.mode != Train {
		return 0, fmt.Errorf("Step on an %v program", p.mode)
	}
	if err := p.load(); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(p.x, x); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(p.y, y); err != nil {
		return 0, err
	}
	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return 0, err
	}
	for i, n := range p.bind.nodes {
		gv, err := n.Grad()
		if err != nil {
			return 0, fmt.Errorf("gradient of %s: %w", n.Name(), err)
		}
		src, ok := gv.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("gradient of %s is not float64", n.Name())
		}
		copy(p.bind.params[i].Grad, src)
		if z, ok := gv.(tensor.Tensor); ok {
			z.Zero()
		}
	}
	return scalar(p.costVal)
}

// Predict runs the forward pass and returns a copy of the output.
func (p *Program) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(p.x, x); err != nil {
		return nil, err
	}
	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return nil, err
	}
	out, ok := p.outVal.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("unexpected output value %T", p.outVal)
	}
	return out.Clone().(*tensor.Dense), nil
}

// Close releases the machine.
func (p *Program) Close() error {
	return p.vm.Close()
}

func scalar(v gorgonia.Value) (float64, error) {
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("cost is not a float64 scalar: %v", v)
}

type programKey struct {
	mode  Mode
	shape string
}

// Programs caches compiled programs of one network by mode and input shape, so a
// short last batch or a full-split validation batch compiles once.
type Programs struct {
	net       Network
	params    *ParamSet
	objective Objective
	cache     map[programKey]*Program
}

// NewPrograms returns an empty cache for net.
func NewPrograms(net Network, params *ParamSet, objective Objective) *Programs {
	return &Programs{net: net, params: params, objective: objective, cache: make(map[programKey]*Program)}
}

// Get returns the program for mode and the given shapes, compiling it on first use.
func (c *Programs) Get(mode Mode, xShape, yShape tensor.Shape) (*Program, error) {
	key := programKey{mode: mode, shape: fmt.Sprint(xShape)}
	if p, ok := c.cache[key]; ok {
		return p, nil
	}
	p, err := Compile(c.net, c.params, mode, xShape, yShape, c.objective)
	if err != nil {
		return nil, fmt.Errorf("compile %v program for %v: %w", mode, xShape, err)
	}
	c.cache[key] = p
	return p, nil
}

// Step runs a training step on a batch.
func (c *Programs) Step(x, y *tensor.Dense) (float64, error) {
	p, err := c.Get(Train, x.Shape(), y.Shape())
	if err != nil {
		return 0, err
	}
	return p.Step(x, y)
}

// Predict runs the network in evaluation mode.
func (c *Programs) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	p, err := c.Get(Eval, x.Shape(), nil)
	if err != nil {
		return nil, err
	}
	return p.Predict(x)
}

// Close releases every compiled program.
func (c *Programs) Close() error {
	var first error
	for k, p := range c.cache {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.cache, k)
	}
	return first
}
