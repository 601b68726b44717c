package model

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"stressnet/config"
	"stressnet/neuralnet"
)

// LeakySlope is the negative slope of the discriminator activations.
const LeakySlope = 0.01

// Discriminator is an unpadded PatchGAN: each output logit judges one
// PatchSize x PatchSize receptive field of the (input, field) pair.
type Discriminator struct {
	InputHeads  int
	OutputHeads int
	PatchSize   int
	// Lambda weights the L1 term of the generator loss.
	Lambda float64
}

// NewDiscriminator returns the discriminator for the experiment. Only 70 pixel
// patches over a single output head exist.
func NewDiscriminator(cfg config.Config) (*Discriminator, error) {
	d := &Discriminator{
		InputHeads:  cfg.Experiment.InputHeads,
		OutputHeads: cfg.Experiment.OutputHeads,
		PatchSize:   cfg.Model.Discriminator.PatchSize,
		Lambda:      cfg.Model.Discriminator.Lambda,
	}
	if d.Lambda == 0 {
		d.Lambda = neuralnet.DefaultLambda
	}
	if d.PatchSize != 70 {
		return nil, fmt.Errorf("%w: patch size %d", ErrUnimplemented, d.PatchSize)
	}
	if d.OutputHeads != 1 {
		return nil, fmt.Errorf("%w: discriminator over %d output heads", ErrUnimplemented, d.OutputHeads)
	}
	return d, nil
}

var patchLayers = []struct {
	out    int
	stride int
}{
	{64, 2}, {128, 2}, {256, 2}, {512, 1}, {1, 1},
}

// Judge concatenates the conditioning input and a candidate field along the
// channel axis and scores every patch.
func (d *Discriminator) Judge(s *neuralnet.Scope, input, field *gorgonia.Node) (*gorgonia.Node, error) {
	x, err := neuralnet.ConcatChannels(input, field)
	if err != nil {
		return nil, err
	}
	return d.Forward(s, x)
}

// Forward scores an already concatenated (batch, InputHeads+OutputHeads, h, w) tensor.
func (d *Discriminator) Forward(s *neuralnet.Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	in := d.InputHeads + d.OutputHeads
	if len(sh) != 4 || sh[1] != in {
		return nil, fmt.Errorf("discriminator wants (batch, %d, h, w) input, got %v", in, sh)
	}
	act := neuralnet.NewLeakyReLU(LeakySlope)
	y := x
	for i, l := range patchLayers {
		ls := s.Sub(fmt.Sprintf("patch%d", i+1))
		var err error
		if y, err = (neuralnet.Conv2D{Name: "conv", In: in, Out: l.out, Kernel: 4, Stride: l.stride}).Forward(ls, y); err != nil {
			return nil, fmt.Errorf("patch layer %d: %w", i+1, err)
		}
		if y, err = (neuralnet.BatchNorm{Name: "bn", Channels: l.out}).Forward(ls, y); err != nil {
			return nil, err
		}
		if y, err = act.Activate(y); err != nil {
			return nil, err
		}
		in = l.out
	}
	return y, nil
}

// GeneratorLoss scores generated fields against target with this discriminator's
// judgement of them, weighting the L1 term by Lambda.
func (d *Discriminator) GeneratorLoss(generated, target, discGenerated *gorgonia.Node) (neuralnet.GeneratorLoss, error) {
	return neuralnet.NewGeneratorLoss(generated, target, discGenerated, d.Lambda)
}
