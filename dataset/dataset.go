// Package dataset loads the train/val/test field pairs from MAT files and cuts them into batches.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"

	"gorgonia.org/tensor"

	"stressnet/matfile"
)

var (
	// ErrUnsupportedHeads is returned for output head counts without a source file pair.
	ErrUnsupportedHeads = errors.New("unexpected number of output heads")
	// ErrUnsupportedRank is returned when an array has a rank the loader cannot reshape.
	ErrUnsupportedRank = errors.New("unexpected array rank")
)

// SplitName identifies one of the three source files.
type SplitName string

const (
	Train SplitName = "train"
	Val   SplitName = "val"
	Test  SplitName = "test"
)

// Split is one (input, target) pair of field tensors, both (batch, channel, height, width).
type Split struct {
	Input  *tensor.Dense
	Output *tensor.Dense
}

// Len returns the number of samples; zero for an empty split.
func (s Split) Len() int {
	if s.Input == nil {
		return 0
	}
	return s.Input.Shape()[0]
}

// Empty reports whether the split holds no data.
func (s Split) Empty() bool { return s.Input == nil }

// Dataset holds the three splits.
type Dataset struct {
	Train Split
	Val   Split
	Test  Split
}

// FilePrefix returns the source file prefix for the given number of output heads.
func FilePrefix(outputHeads int) (string, error) {
	switch outputHeads {
	case 1:
		return filepath.Join("mat_files", "PK11"), nil
	case 5:
		return filepath.Join("mat_files", "PK15689"), nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnsupportedHeads, outputHeads)
}

// Import loads the splits under root, truncating each to the matching count of
// split (train, val, test). With onlyTest the train and val splits are left empty.
func Import(root string, split [3]int, outputHeads int, onlyTest bool) (*Dataset, error) {
	ds := &Dataset{}
	test, err := LoadSplit(root, outputHeads, Test, split[2])
	if err != nil {
		return nil, err
	}
	ds.Test = test
	if onlyTest {
		return ds, nil
	}
	if ds.Train, err = LoadSplit(root, outputHeads, Train, split[0]); err != nil {
		return nil, err
	}
	if ds.Val, err = LoadSplit(root, outputHeads, Val, split[1]); err != nil {
		return nil, err
	}
	return ds, nil
}

// LoadSplit reads <root>/<prefix>_<name>.mat and returns its first n samples.
func LoadSplit(root string, outputHeads int, name SplitName, n int) (Split, error) {
	prefix, err := FilePrefix(outputHeads)
	if err != nil {
		return Split{}, err
	}
	path := filepath.Join(root, fmt.Sprintf("%s_%s.mat", prefix, name))
	f, err := matfile.Open(path)
	if err != nil {
		return Split{}, err
	}
	in, err := f.Get("input")
	if err != nil {
		return Split{}, fmt.Errorf("%s: %w", path, err)
	}
	out, err := f.Get("output")
	if err != nil {
		return Split{}, fmt.Errorf("%s: %w", path, err)
	}
	input, err := channelFirst(in, n)
	if err != nil {
		return Split{}, fmt.Errorf("%s input: %w", path, err)
	}
	output, err := channelFirst(out, n)
	if err != nil {
		return Split{}, fmt.Errorf("%s output: %w", path, err)
	}
	return Split{Input: input, Output: output}, nil
}

// channelFirst truncates a to n samples and returns it as (batch, channel, height, width).
// Rank 3 arrays are (batch, height, width) and gain a unit channel axis; rank 4 arrays
// are channel-last.
func channelFirst(a *matfile.Array, n int) (*tensor.Dense, error) {
	if a.Rank() != 3 && a.Rank() != 4 {
		return nil, fmt.Errorf("%w: %d (shape %v)", ErrUnsupportedRank, a.Rank(), a.Shape)
	}
	shape := append([]int(nil), a.Shape...)
	if n < shape[0] {
		shape[0] = n
	}
	rows := shape[0]
	per := 1
	for _, d := range shape[1:] {
		per *= d
	}
	data := append([]float64(nil), a.Data[:rows*per]...)

	if len(shape) == 3 {
		return tensor.New(tensor.WithShape(shape[0], 1, shape[1], shape[2]), tensor.WithBacking(data)), nil
	}
	b, h, w, c := shape[0], shape[1], shape[2], shape[3]
	permuted := make([]float64, len(data))
	for i := 0; i < b; i++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				src := ((i*h+y)*w + x) * c
				for ch := 0; ch < c; ch++ {
					permuted[((i*c+ch)*h+y)*w+x] = data[src+ch]
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(permuted)), nil
}
