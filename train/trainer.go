// Package train runs the supervised training loop and the test-set evaluation.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"stressnet/checkpoint"
	"stressnet/config"
	"stressnet/dataset"
	"stressnet/history"
	"stressnet/model"
	"stressnet/neuralnet"
	"stressnet/plotting"
	"stressnet/scaling"
)

// metricScale converts the physical-unit L1 metric to the reported unit.
const metricScale = 1e6

// Result summarises a finished run.
type Result struct {
	EpochCompleted int
	TrainingLoss   []float64
	ValidationLoss []float64
	Parameters     int
	Paths          Paths
}

// scalers normalise inputs and targets with statistics of the training split.
type scalers struct {
	x, y scaling.Scaler
}

func fitScalers(kind scaling.Kind, train dataset.Split) (scalers, error) {
	xs, err := scaling.New(kind, train.Input)
	if err != nil {
		return scalers{}, fmt.Errorf("input scaler: %w", err)
	}
	ys, err := scaling.New(kind, train.Output)
	if err != nil {
		return scalers{}, fmt.Errorf("output scaler: %w", err)
	}
	return scalers{x: xs, y: ys}, nil
}

func (s scalers) encode(split dataset.Split) (dataset.Split, error) {
	in, err := s.x.Encode(split.Input)
	if err != nil {
		return dataset.Split{}, err
	}
	out, err := s.y.Encode(split.Output)
	if err != nil {
		return dataset.Split{}, err
	}
	return dataset.Split{Input: in, Output: out}, nil
}

func checkHeads(cfg config.Config, s dataset.Split) error {
	if got := s.Input.Shape()[1]; got != cfg.Experiment.InputHeads {
		return fmt.Errorf("%w: data has %d input channels, experiment.inputHeads is %d", config.ErrInvalid, got, cfg.Experiment.InputHeads)
	}
	if got := s.Output.Shape()[1]; got != cfg.Experiment.OutputHeads {
		return fmt.Errorf("%w: data has %d output channels, experiment.outputHeads is %d", config.ErrInvalid, got, cfg.Experiment.OutputHeads)
	}
	return nil
}

// validate returns the mean over batches of L1(decode(pred), decode(target)) / 1e6.
func validate(progs *neuralnet.Programs, ys scaling.Scaler, val dataset.Split, batchSize int) (float64, error) {
	batches, err := dataset.Batches(val, batchSize, nil)
	if err != nil {
		return 0, err
	}
	if len(batches) == 0 {
		return 0, errors.New("empty validation split")
	}
	var metric neuralnet.L1
	total := 0.0
	for _, b := range batches {
		pred, err := progs.Predict(b.Input)
		if err != nil {
			return 0, err
		}
		predPhys, err := ys.Decode(pred)
		if err != nil {
			return 0, err
		}
		targetPhys, err := ys.Decode(b.Target)
		if err != nil {
			return 0, err
		}
		total += metric.Compute(predPhys.Float64s(), targetPhys.Float64s()) / metricScale
	}
	return total / float64(len(batches)), nil
}

// Run trains the configured generator for cfg.Training.Epochs epochs, starting
// fresh or from the experiment checkpoint, then saves the checkpoint and plots.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Result, error) {
	paths := NewPaths(cfg)
	if err := paths.MakeTraining(); err != nil {
		return nil, err
	}
	resume := cfg.Experiment.ContinueTraining

	var (
		rec            *checkpoint.Record
		epochCompleted int
		trainHistory   []float64
		valHistory     []float64
	)
	if resume {
		var err error
		if rec, err = checkpoint.Load(paths.Checkpoint); err != nil {
			return nil, fmt.Errorf("continue training: %w", err)
		}
		if rec.Generator != cfg.Experiment.Generator.String() {
			return nil, fmt.Errorf("%w: checkpoint holds a %s generator, config asks for %v", config.ErrInvalid, rec.Generator, cfg.Experiment.Generator)
		}
		epochCompleted = rec.EpochCompleted
		trainHistory = rec.TrainingLoss
		valHistory = rec.ValidationLoss
	}
	logf, err := openLog(paths.Log, resume)
	if err != nil {
		return nil, err
	}
	defer logf.Close()

	ds, err := dataset.Import(cfg.Path.Data, cfg.Training.Split(), cfg.Experiment.OutputHeads, false)
	if err != nil {
		return nil, err
	}
	if err := checkHeads(cfg, ds.Train); err != nil {
		return nil, err
	}
	sc, err := fitScalers(cfg.DataProcessing.Scaler, ds.Train)
	if err != nil {
		return nil, err
	}
	train, err := sc.encode(ds.Train)
	if err != nil {
		return nil, err
	}
	val, err := sc.encode(ds.Val)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded",
		"train_input", train.Input.Shape(), "train_target", train.Output.Shape(),
		"val_input", val.Input.Shape(), "val_target", val.Output.Shape())

	net, err := model.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	params := neuralnet.NewParamSet(cfg.Training.Seed)
	adam := neuralnet.NewAdam(cfg.Training.WeightDecay)
	sched := neuralnet.NewStepLR(cfg.Training.LearningRate, cfg.Training.StepSize, cfg.Training.Gamma)
	if rec != nil {
		if err := checkpoint.Restore(params, rec.Model); err != nil {
			return nil, err
		}
		adam.SetState(rec.Optimizer)
		sched.SetState(rec.Scheduler)
	}
	progs := neuralnet.NewPrograms(net, params, neuralnet.L1Loss)
	defer progs.Close()

	// building the validation program creates every parameter
	valBatch := cfg.Training.Split()[1]
	first := val.Input.Shape().Clone()
	if first[0] > valBatch {
		first[0] = valBatch
	}
	if _, err := progs.Get(neuralnet.Eval, first, nil); err != nil {
		return nil, err
	}
	if epochCompleted == 0 {
		if err := logf.header(cfg, params.Count()); err != nil {
			return nil, err
		}
	}
	logger.Info("model ready", "generator", cfg.Experiment.Generator, "parameters", params.Count(), "resume_from", epochCompleted)

	var (
		store *history.Store
		runID uuid.UUID
	)
	if cfg.Path.History != "" {
		if store, err = history.Open(cfg.Path.History); err != nil {
			return nil, err
		}
		defer store.Close()
		dump, err := cfg.JSON()
		if err != nil {
			return nil, err
		}
		if runID, err = store.StartRun(ctx, cfg.Experiment.Name, cfg.Experiment.Generator.String(), resume, dump); err != nil {
			return nil, err
		}
	}

	save := func(ep int) error {
		return checkpoint.Save(paths.Checkpoint, &checkpoint.Record{
			EpochCompleted: ep,
			Generator:      cfg.Experiment.Generator.String(),
			Created:        time.Now().UTC(),
			Model:          checkpoint.Capture(params),
			Optimizer:      adam.State(),
			Scheduler:      sched.State(),
			TrainingLoss:   trainHistory,
			ValidationLoss: valHistory,
		})
	}

	rng := rand.New(rand.NewSource(cfg.Training.Seed + int64(epochCompleted)))
	last := epochCompleted + cfg.Training.Epochs
	ep := epochCompleted + 1
	for ; ep <= last; ep++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		batches, err := dataset.Batches(train, cfg.Training.BatchSize, rng)
		if err != nil {
			return nil, err
		}
		epochLoss := 0.0
		for i, b := range batches {
			cost, err := progs.Step(b.Input, b.Target)
			if err != nil {
				return nil, fmt.Errorf("epoch %d batch %d: %w", ep, i, err)
			}
			if err := adam.Apply(params, sched.LR()); err != nil {
				return nil, err
			}
			epochLoss += cost
		}
		sched.Step()
		elapsed := time.Since(start)

		epochLoss /= float64(len(batches))
		trainHistory = append(trainHistory, epochLoss)
		valLoss, err := validate(progs, sc.y, val, valBatch)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", ep, err)
		}
		valHistory = append(valHistory, valLoss)

		rss := residentBytes()
		if err := logf.epoch(ep, elapsed.Seconds(), epochLoss, valLoss); err != nil {
			return nil, err
		}
		logger.Info("epoch",
			"epoch", ep, "seconds", elapsed.Seconds(),
			"g_train_loss", epochLoss, "g_val_loss", valLoss,
			"lr", sched.LR(), "mem_mb", float64(rss)/(1<<20))
		if store != nil {
			err := store.RecordEpoch(ctx, runID, history.Epoch{
				Epoch: ep, Duration: elapsed, TrainingLoss: epochLoss, ValidationLoss: valLoss, RSS: rss,
			})
			if err != nil {
				return nil, err
			}
		}
		if every := cfg.Training.CheckpointEvery; every > 0 && (ep-epochCompleted)%every == 0 && ep < last {
			if err := save(ep); err != nil {
				return nil, err
			}
			logger.Debug("checkpoint saved", "epoch", ep, "path", paths.Checkpoint)
		}
	}

	if err := save(ep - 1); err != nil {
		return nil, err
	}
	logger.Info("checkpoint saved", "epoch", ep-1, "path", paths.Checkpoint)
	if len(trainHistory) > 0 {
		if err := plotting.LossPlots(paths.LossPlot, cfg.Experiment.Name, trainHistory, valHistory); err != nil {
			return nil, err
		}
	}
	return &Result{
		EpochCompleted: ep - 1,
		TrainingLoss:   trainHistory,
		ValidationLoss: valHistory,
		Parameters:     params.Count(),
		Paths:          paths,
	}, nil
}
