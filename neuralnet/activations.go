package neuralnet

import "gorgonia.org/gorgonia"

// ActivationFunction applies an elementwise nonlinearity to a graph node.
type ActivationFunction interface {
	Activate(x *gorgonia.Node) (*gorgonia.Node, error)
}

type ReLU struct{}

func (r ReLU) Activate(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Rectify(x)
}

type LeakyReLU struct {
	alpha float64
}

func NewLeakyReLU(alpha float64) LeakyReLU {
	return LeakyReLU{alpha: alpha}
}

func (l LeakyReLU) Activate(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.LeakyRelu(x, l.alpha)
}

type Sigmoid struct{}

func (s Sigmoid) Activate(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Sigmoid(x)
}

type Tanh struct{}

func (t Tanh) Activate(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Tanh(x)
}

type Linear struct{}

func (t Linear) Activate(x *gorgonia.Node) (*gorgonia.Node, error) {
	return x, nil
}
