package train

import (
	"os"
	"path/filepath"

	"stressnet/config"
)

// Paths are the per-experiment output locations.
type Paths struct {
	ModelDir   string
	Checkpoint string
	LogDir     string
	Log        string
	LossPlot   string
	Inference  string
}

// NewPaths lays out <saveModel>/<model>/<generator>/<name>/ for checkpoints,
// <saveModel>/training_log/<model>/<generator>/<name>/ for the log and plots, and
// <inference>/<model>/<generator>/<name>/ for evaluation output.
func NewPaths(cfg config.Config) Paths {
	e := cfg.Experiment
	rel := filepath.Join(e.Model, e.Generator.String(), e.Name)
	p := Paths{
		ModelDir:  filepath.Join(cfg.Path.SaveModel, rel),
		LogDir:    filepath.Join(cfg.Path.SaveModel, "training_log", rel),
		Inference: filepath.Join(cfg.Path.Inference, rel),
	}
	p.Checkpoint = filepath.Join(p.ModelDir, e.Name+".ckpt")
	p.Log = filepath.Join(p.LogDir, e.Name+".log")
	p.LossPlot = filepath.Join(p.LogDir, "loss_plot")
	return p
}

// MakeTraining creates the checkpoint, log and plot directories.
func (p Paths) MakeTraining() error {
	for _, dir := range []string{p.ModelDir, p.LogDir, p.LossPlot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// MakeInference creates the evaluation output directory.
func (p Paths) MakeInference() error {
	return os.MkdirAll(p.Inference, 0o755)
}
