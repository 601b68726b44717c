// Package model defines the generator and discriminator networks.
package model

import (
	"errors"
	"fmt"

	"stressnet/config"
	"stressnet/neuralnet"
)

// ErrUnimplemented is returned for configurations no network exists for.
var ErrUnimplemented = errors.New("unimplemented")

// NewGenerator returns the generator named by the experiment config.
func NewGenerator(cfg config.Config) (neuralnet.Network, error) {
	in, out := cfg.Experiment.InputHeads, cfg.Experiment.OutputHeads
	switch cfg.Experiment.Generator {
	case config.FNO:
		f := cfg.Model.FNO
		return &FNO{Modes1: f.Modes1, Modes2: f.Modes2, Width: f.Width, Layers: f.Layers, In: in, Out: out}, nil
	case config.UNet:
		u := cfg.Model.UNet
		return &UNet{Kernel: u.Kernel, Features: u.Features, Depth: u.Depth, In: in, Out: out}, nil
	}
	return nil, fmt.Errorf("%w: generator %v", ErrUnimplemented, cfg.Experiment.Generator)
}
