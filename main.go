package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"stressnet/config"
	"stressnet/dataset"
	"stressnet/plotting"
	"stressnet/train"
)

const usage = `usage: stressnet <command> [flags]

commands:
  train      train the configured generator, resuming when experiment.continueTraining is set
  evaluate   predict the test split from the saved checkpoint
  preview    write PNG previews of one sample of a split
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "experiment configuration file")
	verbose := fs.Bool("v", false, "log at debug level")
	split := fs.String("split", string(dataset.Test), "split to preview (train, val or test)")
	sample := fs.Int("sample", 0, "sample index to preview")
	out := fs.String("out", "preview", "preview output directory")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "train":
		var res *train.Result
		if res, err = train.Run(ctx, cfg, logger); err == nil {
			logger.Info("training finished", "epoch_completed", res.EpochCompleted, "checkpoint", res.Paths.Checkpoint)
		}
	case "evaluate":
		var eval *train.Evaluation
		if eval, err = train.Evaluate(ctx, cfg, logger); err == nil {
			fmt.Printf("g_test_loss: %v\n", eval.Loss)
		}
	case "preview":
		err = preview(cfg, dataset.SplitName(*split), *sample, *out, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

// preview writes the raw input and target fields of one sample as PNGs.
func preview(cfg config.Config, name dataset.SplitName, sample int, dir string, logger *slog.Logger) error {
	counts := cfg.Training.Split()
	n := map[dataset.SplitName]int{dataset.Train: counts[0], dataset.Val: counts[1], dataset.Test: counts[2]}[name]
	if n == 0 {
		return fmt.Errorf("unknown split %q", name)
	}
	s, err := dataset.LoadSplit(cfg.Path.Data, cfg.Experiment.OutputHeads, name, n)
	if err != nil {
		return err
	}
	prefix := fmt.Sprintf("%s_%s_%d", cfg.Experiment.Name, name, sample)
	inputs, err := plotting.Preview(dir, prefix+"_input", s.Input, sample)
	if err != nil {
		return err
	}
	targets, err := plotting.Preview(dir, prefix+"_target", s.Output, sample)
	if err != nil {
		return err
	}
	for _, p := range append(inputs, targets...) {
		logger.Info("preview written", "path", p)
	}
	return nil
}
