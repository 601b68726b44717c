// Package config loads the experiment configuration from YAML.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stressnet/scaling"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Generator names the generator architecture.
type Generator int

const (
	FNO Generator = iota + 1
	UNet
)

func (g Generator) String() string {
	switch g {
	case FNO:
		return "FNO"
	case UNet:
		return "UNet"
	}
	return fmt.Sprintf("Generator(%d)", int(g))
}

func (g Generator) MarshalText() ([]byte, error) {
	if g != FNO && g != UNet {
		return nil, fmt.Errorf("unknown generator %d", int(g))
	}
	return []byte(g.String()), nil
}

func (g *Generator) UnmarshalText(text []byte) error {
	switch string(text) {
	case "FNO":
		*g = FNO
	case "UNet":
		*g = UNet
	default:
		return fmt.Errorf("%w: unexpected generator %q", ErrInvalid, text)
	}
	return nil
}

// Config holds all experiment configuration.
type Config struct {
	Experiment     Experiment     `yaml:"experiment" json:"experiment"`
	Training       Training       `yaml:"training" json:"training"`
	DataProcessing DataProcessing `yaml:"dataProcessing" json:"dataProcessing"`
	Model          Model          `yaml:"model" json:"model"`
	Path           Path           `yaml:"path" json:"path"`
	LogLevel       string         `yaml:"logLevel" json:"logLevel"`
}

type Experiment struct {
	Name             string    `yaml:"name" json:"name"`
	Model            string    `yaml:"model" json:"model"`
	Generator        Generator `yaml:"generator" json:"generator"`
	InputHeads       int       `yaml:"inputHeads" json:"inputHeads"`
	OutputHeads      int       `yaml:"outputHeads" json:"outputHeads"`
	ContinueTraining bool      `yaml:"continueTraining" json:"continueTraining"`
}

type Training struct {
	// TrainValTestSplit is the number of train, val and test samples.
	TrainValTestSplit []int   `yaml:"trainValTestSplit" json:"trainValTestSplit"`
	BatchSize         int     `yaml:"batchSize" json:"batchSize"`
	LearningRate      float64 `yaml:"learningRate" json:"learningRate"`
	WeightDecay       float64 `yaml:"weightDecay" json:"weightDecay"`
	StepSize          int     `yaml:"stepSize" json:"stepSize"`
	Gamma             float64 `yaml:"gamma" json:"gamma"`
	Epochs            int     `yaml:"epochs" json:"epochs"`
	// CheckpointEvery also saves every N epochs when positive.
	CheckpointEvery int   `yaml:"checkpointEvery" json:"checkpointEvery"`
	Seed            int64 `yaml:"seed" json:"seed"`
}

// Split returns the split counts as an array.
func (t Training) Split() [3]int {
	var s [3]int
	copy(s[:], t.TrainValTestSplit)
	return s
}

type DataProcessing struct {
	Scaler scaling.Kind `yaml:"scaler" json:"scaler"`
}

type Model struct {
	FNO           FNOConfig           `yaml:"FNO" json:"FNO"`
	UNet          UNetConfig          `yaml:"UNet" json:"UNet"`
	Discriminator DiscriminatorConfig `yaml:"discriminator" json:"discriminator"`
}

type FNOConfig struct {
	Modes1 int `yaml:"modes1" json:"modes1"`
	Modes2 int `yaml:"modes2" json:"modes2"`
	Width  int `yaml:"width" json:"width"`
	Layers int `yaml:"layers" json:"layers"`
}

type UNetConfig struct {
	Kernel   int `yaml:"kernel" json:"kernel"`
	Features int `yaml:"features" json:"features"`
	Depth    int `yaml:"depth" json:"depth"`
}

type DiscriminatorConfig struct {
	PatchSize int     `yaml:"patchSize" json:"patchSize"`
	Lambda    float64 `yaml:"lambda" json:"lambda"`
}

type Path struct {
	Data      string `yaml:"data" json:"data"`
	SaveModel string `yaml:"saveModel" json:"saveModel"`
	Inference string `yaml:"inference" json:"inference"`
	// History is an optional sqlite file recording every epoch.
	History string `yaml:"history" json:"history"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Experiment: Experiment{
			Model:       "surrogate",
			Generator:   FNO,
			InputHeads:  3,
			OutputHeads: 1,
		},
		Training: Training{
			TrainValTestSplit: []int{800, 100, 100},
			BatchSize:         20,
			LearningRate:      1e-3,
			WeightDecay:       1e-4,
			StepSize:          100,
			Gamma:             0.5,
			Epochs:            100,
			Seed:              1,
		},
		DataProcessing: DataProcessing{Scaler: scaling.Gaussian},
		Model: Model{
			FNO:           FNOConfig{Modes1: 20, Modes2: 20, Width: 32, Layers: 4},
			UNet:          UNetConfig{Kernel: 3, Features: 16, Depth: 3},
			Discriminator: DiscriminatorConfig{PatchSize: 70, Lambda: 100},
		},
		Path: Path{
			Data:      ".",
			SaveModel: "saved_models",
			Inference: "inference",
		},
		LogLevel: "info",
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.Experiment.Name != "", "experiment.name is empty")
	check(c.Experiment.Generator == FNO || c.Experiment.Generator == UNet, "experiment.generator is not set")
	check(c.Experiment.InputHeads > 0, "experiment.inputHeads must be positive")
	check(c.Experiment.OutputHeads > 0, "experiment.outputHeads must be positive")
	check(len(c.Training.TrainValTestSplit) == 3, "training.trainValTestSplit needs 3 counts, got %d", len(c.Training.TrainValTestSplit))
	for i, n := range c.Training.TrainValTestSplit {
		check(n > 0, "training.trainValTestSplit[%d] must be positive", i)
	}
	check(c.Training.BatchSize > 0, "training.batchSize must be positive")
	check(c.Training.LearningRate > 0, "training.learningRate must be positive")
	check(c.Training.WeightDecay >= 0, "training.weightDecay must not be negative")
	check(c.Training.StepSize > 0, "training.stepSize must be positive")
	check(c.Training.Gamma > 0, "training.gamma must be positive")
	check(c.Training.Epochs >= 0, "training.epochs must not be negative")
	check(c.Training.CheckpointEvery >= 0, "training.checkpointEvery must not be negative")
	check(c.DataProcessing.Scaler == scaling.Gaussian || c.DataProcessing.Scaler == scaling.MinMax, "dataProcessing.scaler is not set")
	switch c.Experiment.Generator {
	case FNO:
		f := c.Model.FNO
		check(f.Modes1 > 0 && f.Modes2 > 0, "model.FNO modes must be positive")
		check(f.Width > 0, "model.FNO.width must be positive")
		check(f.Layers > 0, "model.FNO.layers must be positive")
	case UNet:
		u := c.Model.UNet
		check(u.Kernel > 0 && u.Kernel%2 == 1, "model.UNet.kernel must be odd, got %d", u.Kernel)
		check(u.Features > 0, "model.UNet.features must be positive")
		check(u.Depth >= 0, "model.UNet.depth must not be negative")
	}
	check(c.Model.Discriminator.Lambda >= 0, "model.discriminator.lambda must not be negative")
	check(c.Path.SaveModel != "", "path.saveModel is empty")
	_, err := ParseLevel(c.LogLevel)
	check(err == nil, "logLevel %q", c.LogLevel)
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}

// JSON renders the config with 4-space indentation, as written at the top of a training log.
func (c Config) JSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
