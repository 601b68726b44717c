package train

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"stressnet/checkpoint"
	"stressnet/config"
	"stressnet/dataset"
	"stressnet/history"
	"stressnet/matfile"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeData writes single head splits whose target field is twice the input field.
func writeData(t *testing.T, root string, counts map[dataset.SplitName]int) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	const h, w = 8, 8
	for name, n := range counts {
		in := make([]float64, n*h*w)
		out := make([]float64, len(in))
		for i := range in {
			in[i] = rng.NormFloat64()*1e6 + 5e5
			out[i] = 2 * in[i]
		}
		mw := &matfile.Writer{}
		require.NoError(t, mw.Add("input", []int{n, h, w, 1}, in))
		require.NoError(t, mw.Add("output", []int{n, h, w}, out))
		path := filepath.Join(root, "mat_files", "PK11_"+string(name)+".mat")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, mw.WriteFile(path))
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	writeData(t, root, map[dataset.SplitName]int{dataset.Train: 8, dataset.Val: 4, dataset.Test: 4})
	cfg := config.Default()
	cfg.Experiment.Name = "pointwise"
	cfg.Experiment.InputHeads = 1
	cfg.Experiment.OutputHeads = 1
	cfg.Training.TrainValTestSplit = []int{8, 4, 4}
	cfg.Training.BatchSize = 2
	cfg.Training.LearningRate = 0.005
	cfg.Training.WeightDecay = 0
	cfg.Training.Gamma = 1
	cfg.Training.Epochs = 20
	cfg.Model.FNO = config.FNOConfig{Modes1: 2, Modes2: 2, Width: 4, Layers: 1}
	cfg.Path = config.Path{
		Data:      root,
		SaveModel: filepath.Join(root, "saved_models"),
		Inference: filepath.Join(root, "inference"),
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// meanPredictorLoss is the validation metric of always predicting the mean training target.
func meanPredictorLoss(t *testing.T, cfg config.Config) float64 {
	t.Helper()
	split := cfg.Training.Split()
	train, err := dataset.LoadSplit(cfg.Path.Data, 1, dataset.Train, split[0])
	require.NoError(t, err)
	val, err := dataset.LoadSplit(cfg.Path.Data, 1, dataset.Val, split[1])
	require.NoError(t, err)
	mean := stat.Mean(train.Output.Float64s(), nil)
	total := 0.0
	for _, v := range val.Output.Float64s() {
		total += math.Abs(v - mean)
	}
	return total / float64(len(val.Output.Float64s())) / 1e6
}

func TestRunLearnsPointwiseMap(t *testing.T) {
	cfg := testConfig(t)
	res, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 20, res.EpochCompleted)
	require.Len(t, res.TrainingLoss, 20)
	require.Len(t, res.ValidationLoss, 20)
	require.Greater(t, res.Parameters, 0)
	for i := range res.TrainingLoss {
		require.False(t, math.IsNaN(res.TrainingLoss[i]) || math.IsInf(res.TrainingLoss[i], 0), "training loss %d", i)
		require.False(t, math.IsNaN(res.ValidationLoss[i]) || math.IsInf(res.ValidationLoss[i], 0), "validation loss %d", i)
	}
	for i := 1; i < 5; i++ {
		require.LessOrEqual(t, res.TrainingLoss[i], res.TrainingLoss[i-1], "training loss rose at epoch %d", i+1)
	}
	require.Less(t, res.TrainingLoss[19], res.TrainingLoss[0])
	require.Less(t, res.ValidationLoss[19], res.ValidationLoss[0])
	require.Less(t, res.ValidationLoss[19], meanPredictorLoss(t, cfg))

	rec, err := checkpoint.Load(res.Paths.Checkpoint)
	require.NoError(t, err)
	require.Equal(t, 20, rec.EpochCompleted)
	require.Equal(t, "FNO", rec.Generator)
	require.Equal(t, res.TrainingLoss, rec.TrainingLoss)
	require.Equal(t, 20, rec.Scheduler.Epoch)

	log, err := os.ReadFile(res.Paths.Log)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(log), "-----------config-----------\n"))
	require.Contains(t, string(log), "Number of parameters: ")
	require.Equal(t, 20, strings.Count(string(log), "\nEpoch: "))

	for _, name := range []string{"pointwise_train_loss.png", "pointwise_val_loss.png"} {
		_, err := os.Stat(filepath.Join(res.Paths.LossPlot, name))
		require.NoError(t, err, name)
	}
}

func TestRunResumes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Epochs = 2
	cfg.Path.History = filepath.Join(t.TempDir(), "history.db")
	first, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 2, first.EpochCompleted)

	cfg.Experiment.ContinueTraining = true
	second, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 4, second.EpochCompleted)
	require.Len(t, second.TrainingLoss, 4)
	require.Equal(t, first.TrainingLoss, second.TrainingLoss[:2])

	rec, err := checkpoint.Load(second.Paths.Checkpoint)
	require.NoError(t, err)
	require.Equal(t, 4, rec.EpochCompleted)
	require.Equal(t, 4, rec.Scheduler.Epoch)
	require.Greater(t, rec.Optimizer.Step, 0)

	log, err := os.ReadFile(second.Paths.Log)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(log), "-----------config-----------"))
	require.Equal(t, 4, strings.Count(string(log), "\nEpoch: "))
	require.Contains(t, string(log), "\nEpoch: 4\t")

	store, err := history.Open(cfg.Path.History)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background(), "pointwise")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	var epochs []int
	for _, r := range runs {
		got, err := store.Epochs(context.Background(), r.ID)
		require.NoError(t, err)
		for _, e := range got {
			epochs = append(epochs, e.Epoch)
		}
	}
	require.ElementsMatch(t, []int{1, 2, 3, 4}, epochs)
}

// cancelAfter cancels a run once the epoch record for epoch has been logged.
type cancelAfter struct {
	epoch  int
	cancel context.CancelFunc
}

func (h cancelAfter) Enabled(context.Context, slog.Level) bool { return true }

func (h cancelAfter) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "epoch" {
		return nil
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "epoch" && a.Value.Kind() == slog.KindInt64 && a.Value.Int64() == int64(h.epoch) {
			h.cancel()
		}
		return true
	})
	return nil
}

func (h cancelAfter) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h cancelAfter) WithGroup(string) slog.Handler      { return h }

func TestRunCheckpointsPeriodically(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Epochs = 4
	cfg.Training.CheckpointEvery = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(cancelAfter{epoch: 3, cancel: cancel})

	_, err := Run(ctx, cfg, logger)
	require.ErrorIs(t, err, context.Canceled)

	rec, err := checkpoint.Load(NewPaths(cfg).Checkpoint)
	require.NoError(t, err)
	require.Equal(t, 2, rec.EpochCompleted)
	require.Len(t, rec.TrainingLoss, 2)
	require.Len(t, rec.ValidationLoss, 2)
	require.Equal(t, 2, rec.Scheduler.Epoch)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		description string
		modify      func(cfg *config.Config)
		ctx         func() context.Context
		target      error
	}{
		{
			description: "continue without a checkpoint",
			modify:      func(cfg *config.Config) { cfg.Experiment.ContinueTraining = true },
			target:      os.ErrNotExist,
		},
		{
			description: "input heads disagree with the data",
			modify:      func(cfg *config.Config) { cfg.Experiment.InputHeads = 3 },
			target:      config.ErrInvalid,
		},
		{
			description: "unsupported output heads",
			modify:      func(cfg *config.Config) { cfg.Experiment.OutputHeads = 2 },
			target:      dataset.ErrUnsupportedHeads,
		},
		{
			description: "cancelled",
			modify:      func(cfg *config.Config) {},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			target: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(&cfg)
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			_, err := Run(ctx, cfg, quietLogger())
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestEvaluate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Epochs = 3
	_, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	cfg.Training.BatchSize = 3
	eval, err := Evaluate(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 3, eval.EpochCompleted)
	require.False(t, math.IsNaN(eval.Loss) || math.IsInf(eval.Loss, 0))
	require.Greater(t, eval.Loss, 0.0)
	require.Len(t, eval.Previews, 3)

	f, err := matfile.Open(eval.Predictions)
	require.NoError(t, err)
	for _, name := range []string{"input", "target", "prediction"} {
		a, err := f.Get(name)
		require.NoError(t, err, name)
		require.Equal(t, []int{4, 1, 8, 8}, a.Shape, name)
	}
	target, err := f.Get("target")
	require.NoError(t, err)
	input, err := f.Get("input")
	require.NoError(t, err)
	require.InDelta(t, 2*input.Data[5], target.Data[5], 1e-6)
}

func TestEvaluateWithoutCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	_, err := Evaluate(context.Background(), cfg, quietLogger())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Experiment.Name = "exp"
	cfg.Experiment.Generator = config.UNet
	cfg.Path.SaveModel = "models"
	cfg.Path.Inference = "inf"
	p := NewPaths(cfg)
	require.Equal(t, filepath.Join("models", "surrogate", "UNet", "exp", "exp.ckpt"), p.Checkpoint)
	require.Equal(t, filepath.Join("models", "training_log", "surrogate", "UNet", "exp", "exp.log"), p.Log)
	require.Equal(t, filepath.Join("models", "training_log", "surrogate", "UNet", "exp", "loss_plot"), p.LossPlot)
	require.Equal(t, filepath.Join("inf", "surrogate", "UNet", "exp"), p.Inference)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := openLog(path, false)
	require.NoError(t, err)
	require.NoError(t, l.epoch(3, 1.5, 0.25, 0.125))
	require.NoError(t, l.Close())

	l, err = openLog(path, true)
	require.NoError(t, err)
	require.NoError(t, l.epoch(4, 2, 0.5, 0.75))
	require.NoError(t, l.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "\nEpoch: 3\t Time(s): 1.5 \t g_train_loss: 0.25\t g_val_loss: 0.125" +
		"\nEpoch: 4\t Time(s): 2 \t g_train_loss: 0.5\t g_val_loss: 0.75"
	require.Equal(t, want, string(got))

	l, err = openLog(path, false)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResidentBytes(t *testing.T) {
	require.Greater(t, residentBytes(), uint64(0))
}
