package dataset

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Batch is a contiguous block of samples copied out of a Split.
type Batch struct {
	Input  *tensor.Dense
	Target *tensor.Dense
}

// Batches cuts s into batches of size samples. When rng is non-nil the sample
// order is shuffled first. The last batch keeps the remainder.
func Batches(s Split, size int, rng *rand.Rand) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", size)
	}
	n := s.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var out []Batch
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		idx := order[start:end]
		out = append(out, Batch{Input: Gather(s.Input, idx), Target: Gather(s.Output, idx)})
	}
	return out, nil
}

// Gather copies the samples at idx (along axis 0) into a new tensor.
func Gather(t *tensor.Dense, idx []int) *tensor.Dense {
	shape := t.Shape().Clone()
	per := t.Shape().TotalSize() / shape[0]
	src := t.Float64s()
	dst := make([]float64, 0, len(idx)*per)
	for _, i := range idx {
		dst = append(dst, src[i*per:(i+1)*per]...)
	}
	shape[0] = len(idx)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dst))
}

// Stack concatenates tensors along axis 0. All parts must agree on the trailing axes.
func Stack(parts []*tensor.Dense) (*tensor.Dense, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("stack of zero tensors")
	}
	shape := parts[0].Shape().Clone()
	var data []float64
	rows := 0
	for _, p := range parts {
		ps := p.Shape()
		if !ps[1:].Eq(shape[1:]) {
			return nil, fmt.Errorf("stack: shape %v does not match %v", ps, shape)
		}
		rows += ps[0]
		data = append(data, p.Float64s()...)
	}
	shape[0] = rows
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}
