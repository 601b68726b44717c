package train

import (
	"fmt"
	"os"

	"stressnet/config"
)

// logFile is the human readable training log.
type logFile struct {
	f *os.File
}

// openLog truncates the log for a fresh run and appends to it when resuming.
func openLog(path string, resume bool) (*logFile, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return &logFile{f: f}, nil
}

// header records the configuration and model size at the start of a run.
func (l *logFile) header(cfg config.Config, params int) error {
	dump, err := cfg.JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(l.f, "-----------config-----------\n%s\n--------------------------------\nNumber of parameters: %d\n", dump, params)
	return err
}

func (l *logFile) epoch(ep int, seconds, trainLoss, valLoss float64) error {
	_, err := fmt.Fprintf(l.f, "\nEpoch: %d\t Time(s): %v \t g_train_loss: %v\t g_val_loss: %v", ep, seconds, trainLoss, valLoss)
	if err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *logFile) Close() error { return l.f.Close() }
