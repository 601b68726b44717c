// Package scaling implements per-channel invertible normalisation of field tensors.
//
// Field tensors have shape (batch, channel, height, width). A scaler is fit on a
// training tensor and then applied, without refitting, to every split.
package scaling

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// GaussianEps is added to the standard deviation before dividing or multiplying.
const GaussianEps = 1e-5

// Kind selects a scaler.
type Kind int

const (
	Gaussian Kind = iota + 1
	MinMax
)

func (k Kind) String() string {
	switch k {
	case Gaussian:
		return "Gaussian"
	case MinMax:
		return "MinMax"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != Gaussian && k != MinMax {
		return nil, fmt.Errorf("unexpected scaler %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "Gaussian":
		*k = Gaussian
	case "MinMax":
		*k = MinMax
	default:
		return fmt.Errorf("unexpected scaler %q (want Gaussian or MinMax)", b)
	}
	return nil
}

// Scaler maps raw field values to a normalised range and back.
type Scaler interface {
	Encode(x *tensor.Dense) (*tensor.Dense, error)
	Decode(x *tensor.Dense) (*tensor.Dense, error)
	Channels() int
}

// New fits a scaler of the given kind on x.
func New(kind Kind, x *tensor.Dense) (Scaler, error) {
	switch kind {
	case Gaussian:
		return NewGaussian(x)
	case MinMax:
		return NewMinMax(x)
	}
	return nil, fmt.Errorf("unexpected scaler %v", kind)
}

// GaussianScaler standardises each channel with its mean and unbiased standard deviation.
type GaussianScaler struct {
	Mean []float64
	Std  []float64
	Eps  float64
	affine
}

// NewGaussian fits per-channel mean and std over batch and spatial axes.
func NewGaussian(x *tensor.Dense) (*GaussianScaler, error) {
	chans, err := channelValues(x)
	if err != nil {
		return nil, err
	}
	s := &GaussianScaler{
		Mean: make([]float64, len(chans)),
		Std:  make([]float64, len(chans)),
		Eps:  GaussianEps,
	}
	s.shift = make([]float64, len(chans))
	s.scale = make([]float64, len(chans))
	for c, v := range chans {
		s.Mean[c], s.Std[c] = stat.MeanStdDev(v, nil)
		s.shift[c] = s.Mean[c]
		s.scale[c] = s.Std[c] + s.Eps
	}
	return s, nil
}

// MinMaxScaler maps each channel's [min, max] onto [0, 1].
//
// A constant channel has max == min, and Encode then divides by zero. The
// resulting NaN/Inf values are passed through untouched.
type MinMaxScaler struct {
	Min []float64
	Max []float64
	affine
}

// NewMinMax fits per-channel min and max over batch and spatial axes.
func NewMinMax(x *tensor.Dense) (*MinMaxScaler, error) {
	chans, err := channelValues(x)
	if err != nil {
		return nil, err
	}
	s := &MinMaxScaler{
		Min: make([]float64, len(chans)),
		Max: make([]float64, len(chans)),
	}
	s.shift = make([]float64, len(chans))
	s.scale = make([]float64, len(chans))
	for c, v := range chans {
		s.Min[c] = floats.Min(v)
		s.Max[c] = floats.Max(v)
		s.shift[c] = s.Min[c]
		s.scale[c] = s.Max[c] - s.Min[c]
	}
	return s, nil
}

// affine holds the per-channel statistic vectors broadcast over batch and space:
// encode is (x - shift) / scale, decode is x*scale + shift.
type affine struct {
	shift []float64
	scale []float64
}

func (a affine) Channels() int { return len(a.shift) }

// Encode returns a normalised copy of x.
func (a affine) Encode(x *tensor.Dense) (*tensor.Dense, error) {
	return a.apply(x, func(v, shift, scale float64) float64 { return (v - shift) / scale })
}

// Decode returns x mapped back to raw units.
func (a affine) Decode(x *tensor.Dense) (*tensor.Dense, error) {
	return a.apply(x, func(v, shift, scale float64) float64 { return v*scale + shift })
}

func (a affine) apply(x *tensor.Dense, fn func(v, shift, scale float64) float64) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("scaling: want (batch, channel, height, width), got shape %v", shape)
	}
	if shape[1] != len(a.shift) {
		return nil, fmt.Errorf("scaling: fitted on %d channels, got %d", len(a.shift), shape[1])
	}
	if x.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("scaling: want float64 tensor, got %v", x.Dtype())
	}
	src := x.Float64s()
	dst := make([]float64, len(src))
	plane := shape[2] * shape[3]
	chans := shape[1]
	for i, v := range src {
		c := (i / plane) % chans
		dst[i] = fn(v, a.shift[c], a.scale[c])
	}
	return tensor.New(tensor.WithShape(shape.Clone()...), tensor.WithBacking(dst)), nil
}

// channelValues gathers every value of each channel into its own slice.
func channelValues(x *tensor.Dense) ([][]float64, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("scaling: want (batch, channel, height, width), got shape %v", shape)
	}
	if x.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("scaling: want float64 tensor, got %v", x.Dtype())
	}
	batch, chans, plane := shape[0], shape[1], shape[2]*shape[3]
	if batch*plane == 0 {
		return nil, fmt.Errorf("scaling: cannot fit on empty tensor %v", shape)
	}
	data := x.Float64s()
	out := make([][]float64, chans)
	for c := range out {
		out[c] = make([]float64, 0, batch*plane)
	}
	for b := 0; b < batch; b++ {
		for c := 0; c < chans; c++ {
			off := (b*chans + c) * plane
			out[c] = append(out[c], data[off:off+plane]...)
		}
	}
	return out, nil
}
