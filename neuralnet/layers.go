package neuralnet

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var channelBroadcast = []byte{0, 2, 3}

// Conv2D is a square convolution over (batch, channel, height, width) inputs.
type Conv2D struct {
	Name    string
	In, Out int
	Kernel  int
	Stride  int
	Pad     int
	NoBias  bool
}

// Forward applies the convolution and the per-channel bias.
func (c Conv2D) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	ls := s.Sub(c.Name)
	stride := c.Stride
	if stride == 0 {
		stride = 1
	}
	w, err := ls.Param("weight", GlorotUniform, c.Out, c.In, c.Kernel, c.Kernel)
	if err != nil {
		return nil, err
	}
	y, err := gorgonia.Conv2d(x, w, tensor.Shape{c.Kernel, c.Kernel}, []int{c.Pad, c.Pad}, []int{stride, stride}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	if c.NoBias {
		return y, nil
	}
	b, err := ls.Param("bias", Zeros, 1, c.Out, 1, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(y, b, nil, channelBroadcast)
}

// BatchNorm normalises each channel with the statistics of the current batch
// (biased variance) and applies a learnable scale and shift.
type BatchNorm struct {
	Name     string
	Channels int
	Epsilon  float64
}

func (bn BatchNorm) Forward(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	ls := s.Sub(bn.Name)
	eps := bn.Epsilon
	if eps == 0 {
		eps = 1e-5
	}
	stat := tensor.Shape{1, bn.Channels, 1, 1}
	mean, err := gorgonia.Mean(x, 0, 2, 3)
	if err != nil {
		return nil, err
	}
	if mean, err = gorgonia.Reshape(mean, stat); err != nil {
		return nil, err
	}
	centred, err := gorgonia.BroadcastSub(x, mean, nil, channelBroadcast)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(centred)
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Mean(sq, 0, 2, 3)
	if err != nil {
		return nil, err
	}
	if variance, err = gorgonia.Reshape(variance, stat); err != nil {
		return nil, err
	}
	shifted, err := gorgonia.Add(variance, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, err
	}
	norm, err := gorgonia.BroadcastHadamardDiv(centred, std, nil, channelBroadcast)
	if err != nil {
		return nil, err
	}
	gamma, err := ls.Param("gamma", Ones, 1, bn.Channels, 1, 1)
	if err != nil {
		return nil, err
	}
	beta, err := ls.Param("beta", Zeros, 1, bn.Channels, 1, 1)
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.BroadcastHadamardProd(norm, gamma, nil, channelBroadcast)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(scaled, beta, nil, channelBroadcast)
}

// MaxPool halves both spatial axes with a 2x2 window.
func MaxPool(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
}

// ConcatChannels joins 4D nodes along the channel axis.
func ConcatChannels(xs ...*gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Concat(1, xs...)
}

// MatMulLast multiplies the last axis of a 4D node by the (n, k) matrix m.
func MatMulLast(x, m *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	if len(sh) != 4 {
		return nil, fmt.Errorf("MatMulLast wants a 4D node, got %v", sh)
	}
	flat, err := gorgonia.Reshape(x, tensor.Shape{sh[0] * sh[1] * sh[2], sh[3]})
	if err != nil {
		return nil, err
	}
	prod, err := gorgonia.Mul(flat, m)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(prod, tensor.Shape{sh[0], sh[1], sh[2], m.Shape()[1]})
}

// SwapSpatial exchanges the height and width axes.
func SwapSpatial(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Transpose(x, 0, 1, 3, 2)
}

// MatMulSpatial multiplies the height axis by rows (h, k1) and the width axis by
// cols (w, k2), giving (batch, channel, k1, k2).
func MatMulSpatial(x, rows, cols *gorgonia.Node) (*gorgonia.Node, error) {
	y, err := MatMulLast(x, cols)
	if err != nil {
		return nil, err
	}
	if y, err = SwapSpatial(y); err != nil {
		return nil, err
	}
	if y, err = MatMulLast(y, rows); err != nil {
		return nil, err
	}
	return SwapSpatial(y)
}

// Upsample2x repeats every pixel into a 2x2 block.
func Upsample2x(s *Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	if len(sh) != 4 {
		return nil, fmt.Errorf("Upsample2x wants a 4D node, got %v", sh)
	}
	rows := s.Constant(fmt.Sprintf("up%dx%d.rows", sh[2], sh[3]), []int{sh[2], 2 * sh[2]}, repeatMatrix(sh[2]))
	cols := s.Constant(fmt.Sprintf("up%dx%d.cols", sh[2], sh[3]), []int{sh[3], 2 * sh[3]}, repeatMatrix(sh[3]))
	return MatMulSpatial(x, rows, cols)
}

// repeatMatrix is the (n, 2n) matrix copying entry i to 2i and 2i+1.
func repeatMatrix(n int) []float64 {
	m := make([]float64, n*2*n)
	for i := 0; i < n; i++ {
		m[i*2*n+2*i] = 1
		m[i*2*n+2*i+1] = 1
	}
	return m
}
