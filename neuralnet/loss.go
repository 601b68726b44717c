package neuralnet

import (
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
)

// LossFunction computes a loss on plain values, outside any graph.
type LossFunction interface {
	// Compute returns the loss between output and target, which have equal length.
	Compute(output []float64, target []float64) float64
}

// L1 is the mean absolute error.
type L1 struct{}

// Compute returns mean |output - target|.
func (L1) Compute(output []float64, target []float64) float64 {
	if len(output) == 0 {
		return 0
	}
	return floats.Distance(output, target, 1) / float64(len(output))
}

// L1Loss is the mean absolute error node between pred and target.
func L1Loss(pred, target *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	abs, err := gorgonia.Abs(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(abs)
}

// BCEWithLogits is the mean binary cross entropy of sigmoid(logits) against a
// constant target, computed as max(x,0) - t*x + log(1+exp(-|x|)).
func BCEWithLogits(logits *gorgonia.Node, target float64) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(logits)
	if err != nil {
		return nil, err
	}
	abs, err := gorgonia.Abs(logits)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, err
	}
	exp, err := gorgonia.Exp(neg)
	if err != nil {
		return nil, err
	}
	soft, err := gorgonia.Log1p(exp)
	if err != nil {
		return nil, err
	}
	per, err := gorgonia.Add(pos, soft)
	if err != nil {
		return nil, err
	}
	if target != 0 {
		tx, err := gorgonia.Mul(logits, gorgonia.NewConstant(target))
		if err != nil {
			return nil, err
		}
		if per, err = gorgonia.Sub(per, tx); err != nil {
			return nil, err
		}
	}
	return gorgonia.Mean(per)
}

// DefaultLambda weights the L1 term of the generator loss.
const DefaultLambda = 100.0

// GeneratorLoss holds the generator cost and its two terms.
type GeneratorLoss struct {
	Total       *gorgonia.Node
	Adversarial *gorgonia.Node
	L1          *gorgonia.Node
}

// NewGeneratorLoss builds BCE(discGenerated, 1) + lambda * L1(generated, target).
func NewGeneratorLoss(generated, target, discGenerated *gorgonia.Node, lambda float64) (GeneratorLoss, error) {
	adv, err := BCEWithLogits(discGenerated, 1)
	if err != nil {
		return GeneratorLoss{}, err
	}
	l1, err := L1Loss(generated, target)
	if err != nil {
		return GeneratorLoss{}, err
	}
	weighted, err := gorgonia.Mul(l1, gorgonia.NewConstant(lambda))
	if err != nil {
		return GeneratorLoss{}, err
	}
	total, err := gorgonia.Add(adv, weighted)
	if err != nil {
		return GeneratorLoss{}, err
	}
	return GeneratorLoss{Total: total, Adversarial: adv, L1: l1}, nil
}

// DiscriminatorLoss holds the discriminator cost and its two terms.
type DiscriminatorLoss struct {
	Total     *gorgonia.Node
	Generated *gorgonia.Node
	Real      *gorgonia.Node
}

// NewDiscriminatorLoss builds BCE(discGenerated, 0) + BCE(discReal, 1).
func NewDiscriminatorLoss(discGenerated, discReal *gorgonia.Node) (DiscriminatorLoss, error) {
	gen, err := BCEWithLogits(discGenerated, 0)
	if err != nil {
		return DiscriminatorLoss{}, err
	}
	onReal, err := BCEWithLogits(discReal, 1)
	if err != nil {
		return DiscriminatorLoss{}, err
	}
	total, err := gorgonia.Add(gen, onReal)
	if err != nil {
		return DiscriminatorLoss{}, err
	}
	return DiscriminatorLoss{Total: total, Generated: gen, Real: onReal}, nil
}
