package train

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gorgonia.org/tensor"

	"stressnet/checkpoint"
	"stressnet/config"
	"stressnet/dataset"
	"stressnet/matfile"
	"stressnet/model"
	"stressnet/neuralnet"
	"stressnet/plotting"
)

// Evaluation is the outcome of running a trained generator on the test split.
type Evaluation struct {
	EpochCompleted int
	// Loss is L1(decode(pred), decode(target)) / 1e6 averaged over test batches.
	Loss        float64
	Predictions string
	Previews    []string
}

// Evaluate restores the experiment checkpoint, predicts the test split and writes
// the physical-unit fields to <inference>/<name>_predictions.mat with PNG previews
// of the first sample.
func Evaluate(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Evaluation, error) {
	paths := NewPaths(cfg)
	rec, err := checkpoint.Load(paths.Checkpoint)
	if err != nil {
		return nil, err
	}
	if rec.Generator != cfg.Experiment.Generator.String() {
		return nil, fmt.Errorf("%w: checkpoint holds a %s generator, config asks for %v", config.ErrInvalid, rec.Generator, cfg.Experiment.Generator)
	}
	split := cfg.Training.Split()

	// scalers are refit on the training split so the test data is encoded as in training
	trainSplit, err := dataset.LoadSplit(cfg.Path.Data, cfg.Experiment.OutputHeads, dataset.Train, split[0])
	if err != nil {
		return nil, err
	}
	sc, err := fitScalers(cfg.DataProcessing.Scaler, trainSplit)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Import(cfg.Path.Data, split, cfg.Experiment.OutputHeads, true)
	if err != nil {
		return nil, err
	}
	if err := checkHeads(cfg, ds.Test); err != nil {
		return nil, err
	}
	test, err := sc.encode(ds.Test)
	if err != nil {
		return nil, err
	}

	net, err := model.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	params := neuralnet.NewParamSet(cfg.Training.Seed)
	if err := checkpoint.Restore(params, rec.Model); err != nil {
		return nil, err
	}
	progs := neuralnet.NewPrograms(net, params, neuralnet.L1Loss)
	defer progs.Close()

	batches, err := dataset.Batches(test, cfg.Training.BatchSize, nil)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("empty test split")
	}
	var (
		metric neuralnet.L1
		total  float64
		preds  []*tensor.Dense
	)
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred, err := progs.Predict(b.Input)
		if err != nil {
			return nil, err
		}
		predPhys, err := sc.y.Decode(pred)
		if err != nil {
			return nil, err
		}
		targetPhys, err := sc.y.Decode(b.Target)
		if err != nil {
			return nil, err
		}
		total += metric.Compute(predPhys.Float64s(), targetPhys.Float64s()) / metricScale
		preds = append(preds, predPhys)
	}
	prediction, err := dataset.Stack(preds)
	if err != nil {
		return nil, err
	}
	eval := &Evaluation{
		EpochCompleted: rec.EpochCompleted,
		Loss:           total / float64(len(batches)),
	}
	logger.Info("test split evaluated", "epoch_completed", rec.EpochCompleted, "g_test_loss", eval.Loss, "samples", test.Len())

	if err := paths.MakeInference(); err != nil {
		return nil, err
	}
	w := &matfile.Writer{Compress: true}
	for _, v := range []struct {
		name string
		t    *tensor.Dense
	}{
		{"input", ds.Test.Input},
		{"target", ds.Test.Output},
		{"prediction", prediction},
	} {
		if err := w.Add(v.name, v.t.Shape(), v.t.Float64s()); err != nil {
			return nil, err
		}
	}
	eval.Predictions = filepath.Join(paths.Inference, cfg.Experiment.Name+"_predictions.mat")
	if err := w.WriteFile(eval.Predictions); err != nil {
		return nil, err
	}

	for _, v := range []struct {
		prefix string
		t      *tensor.Dense
	}{
		{"input", ds.Test.Input},
		{"target", ds.Test.Output},
		{"prediction", prediction},
	} {
		written, err := plotting.Preview(paths.Inference, cfg.Experiment.Name+"_"+v.prefix, v.t, 0)
		if err != nil {
			return nil, err
		}
		eval.Previews = append(eval.Previews, written...)
	}
	logger.Info("predictions written", "path", eval.Predictions, "previews", len(eval.Previews))
	return eval, nil
}
