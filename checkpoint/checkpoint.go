// Package checkpoint saves and restores the training state of one experiment.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stressnet/neuralnet"
)

// Tensor is one serialised parameter.
type Tensor struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Record is everything needed to resume training.
type Record struct {
	EpochCompleted int                      `json:"epoch_completed"`
	Generator      string                   `json:"generator"`
	Created        time.Time                `json:"created"`
	Model          []Tensor                 `json:"model_state_dict"`
	Optimizer      neuralnet.AdamState      `json:"optimizer_state_dict"`
	Scheduler      neuralnet.SchedulerState `json:"scheduler_state_dict"`
	TrainingLoss   []float64                `json:"training_loss"`
	ValidationLoss []float64                `json:"validation_loss"`
}

// Capture copies the parameter values out of ps.
func Capture(ps *neuralnet.ParamSet) []Tensor {
	out := make([]Tensor, 0, len(ps.Params()))
	for _, p := range ps.Params() {
		out = append(out, Tensor{
			Name:   p.Name,
			Shape:  append([]int(nil), p.Shape...),
			Values: append([]float64(nil), p.Value...),
		})
	}
	return out
}

// Restore loads saved tensors into ps. Parameters the network creates later
// pick the restored values up by name.
func Restore(ps *neuralnet.ParamSet, tensors []Tensor) error {
	for _, t := range tensors {
		if err := ps.Set(t.Name, t.Shape, t.Values); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	return nil
}

// Save writes r to path, replacing any earlier checkpoint. The file is written
// next to path first and renamed over it.
func Save(path string, r *Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := json.NewEncoder(tmp).Encode(r); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the checkpoint at path.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r Record
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &r, nil
}
