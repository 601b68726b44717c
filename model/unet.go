package model

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"stressnet/neuralnet"
)

// UNet is an encoder-decoder with skip connections. Level d has Features<<d channels.
type UNet struct {
	Kernel   int
	Features int
	Depth    int
	In, Out  int
}

func (u *UNet) block(s *neuralnet.Scope, x *gorgonia.Node, in, out int) (*gorgonia.Node, error) {
	y := x
	for i, c := range []int{in, out} {
		conv := neuralnet.Conv2D{Name: fmt.Sprintf("conv%d", i), In: c, Out: out, Kernel: u.Kernel, Pad: u.Kernel / 2}
		var err error
		if y, err = conv.Forward(s, y); err != nil {
			return nil, err
		}
		if y, err = (neuralnet.ReLU{}).Activate(y); err != nil {
			return nil, err
		}
	}
	return y, nil
}

func (u *UNet) Forward(s *neuralnet.Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	if len(sh) != 4 || sh[1] != u.In {
		return nil, fmt.Errorf("UNet wants (batch, %d, h, w) input, got %v", u.In, sh)
	}
	if u.Kernel%2 == 0 {
		return nil, fmt.Errorf("UNet kernel must be odd, got %d", u.Kernel)
	}
	if div := 1 << u.Depth; sh[2]%div != 0 || sh[3]%div != 0 {
		return nil, fmt.Errorf("UNet of depth %d needs spatial dims divisible by %d, got %dx%d", u.Depth, div, sh[2], sh[3])
	}

	var (
		skips []*gorgonia.Node
		err   error
	)
	y, ch := x, u.In
	for d := 0; d < u.Depth; d++ {
		f := u.Features << d
		if y, err = u.block(s.Sub(fmt.Sprintf("down%d", d)), y, ch, f); err != nil {
			return nil, err
		}
		skips = append(skips, y)
		if y, err = neuralnet.MaxPool(y); err != nil {
			return nil, err
		}
		ch = f
	}
	f := u.Features << u.Depth
	if y, err = u.block(s.Sub("bottleneck"), y, ch, f); err != nil {
		return nil, err
	}
	ch = f
	for d := u.Depth - 1; d >= 0; d-- {
		if y, err = neuralnet.Upsample2x(s, y); err != nil {
			return nil, err
		}
		if y, err = neuralnet.ConcatChannels(y, skips[d]); err != nil {
			return nil, err
		}
		f := u.Features << d
		if y, err = u.block(s.Sub(fmt.Sprintf("up%d", d)), y, ch+f, f); err != nil {
			return nil, err
		}
		ch = f
	}
	return neuralnet.Conv2D{Name: "out", In: ch, Out: u.Out, Kernel: 1}.Forward(s, y)
}
