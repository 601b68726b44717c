package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stressnet/scaling"
)

const sample = `
experiment:
  name: run1
  model: surrogate
  generator: UNet
  inputHeads: 3
  outputHeads: 5
  continueTraining: true
training:
  trainValTestSplit: [10, 4, 2]
  batchSize: 2
  learningRate: 0.01
  weightDecay: 0
  stepSize: 5
  gamma: 0.9
  epochs: 3
  checkpointEvery: 1
dataProcessing:
  scaler: MinMax
model:
  UNet:
    kernel: 5
    features: 8
    depth: 2
path:
  data: /data
  saveModel: /models
  inference: /inf
logLevel: debug
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, "run1", cfg.Experiment.Name)
	require.Equal(t, UNet, cfg.Experiment.Generator)
	require.Equal(t, 5, cfg.Experiment.OutputHeads)
	require.True(t, cfg.Experiment.ContinueTraining)
	require.Equal(t, [3]int{10, 4, 2}, cfg.Training.Split())
	require.Equal(t, scaling.MinMax, cfg.DataProcessing.Scaler)
	require.Equal(t, UNetConfig{Kernel: 5, Features: 8, Depth: 2}, cfg.Model.UNet)
	// keys left out keep their defaults
	require.Equal(t, Default().Model.FNO, cfg.Model.FNO)
	require.Equal(t, 100.0, cfg.Model.Discriminator.Lambda)
	require.Equal(t, int64(1), cfg.Training.Seed)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		description string
		yaml        string
	}{
		{description: "unknown generator", yaml: "experiment: {name: a, generator: ResNet}"},
		{description: "unknown scaler", yaml: "experiment: {name: a}\ndataProcessing: {scaler: Robust}"},
		{description: "missing name", yaml: "training: {epochs: 1}"},
		{description: "short split", yaml: "experiment: {name: a}\ntraining: {trainValTestSplit: [1, 2]}"},
		{description: "even kernel", yaml: "experiment: {name: a, generator: UNet}\nmodel: {UNet: {kernel: 4}}"},
		{description: "unknown key", yaml: "experiment: {name: a, colour: red}"},
		{description: "bad level", yaml: "experiment: {name: a}\nlogLevel: loud"},
		{description: "negative lambda", yaml: "experiment: {name: a}\nmodel: {discriminator: {lambda: -1}}"},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid), "error %v does not wrap ErrInvalid", err)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Training.BatchSize = 0
	cfg.Training.Gamma = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "experiment.name")
	require.Contains(t, err.Error(), "training.batchSize")
	require.Contains(t, err.Error(), "training.gamma")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/models", cfg.Path.SaveModel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestJSON(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	out, err := cfg.JSON()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "{\n    \"experiment\": {\n        \"name\": \"run1\""), out)

	var back struct {
		Experiment     map[string]any `json:"experiment"`
		DataProcessing map[string]any `json:"dataProcessing"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	require.Equal(t, "UNet", back.Experiment["generator"])
	require.Equal(t, "MinMax", back.DataProcessing["scaler"])
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "example.yaml"))
	require.NoError(t, err)
	require.Equal(t, FNO, cfg.Experiment.Generator)
	require.Equal(t, 10, cfg.Training.CheckpointEvery)
	require.Equal(t, "saved_models/history.db", cfg.Path.History)
}
