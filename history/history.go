// Package history keeps a sqlite record of training runs and their epochs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Epoch is the outcome of one training epoch.
type Epoch struct {
	Epoch          int
	Duration       time.Duration
	TrainingLoss   float64
	ValidationLoss float64
	RSS            uint64
}

// Run is one invocation of the trainer.
type Run struct {
	ID        uuid.UUID
	Name      string
	Generator string
	Started   time.Time
	Resumed   bool
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			generator TEXT NOT NULL,
			started REAL NOT NULL,
			resumed INTEGER NOT NULL,
			config TEXT NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS epochs(
			run_id TEXT NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			seconds REAL NOT NULL,
			train_loss REAL NOT NULL,
			val_loss REAL NOT NULL,
			rss INTEGER NOT NULL,
			PRIMARY KEY (run_id, epoch)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create epochs: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartRun registers a new run and returns its identifier.
func (s *Store) StartRun(ctx context.Context, name, generator string, resumed bool, config string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(id, name, generator, started, resumed, config) VALUES(?,?,?,?,?,?)",
		id.String(), name, generator, float64(time.Now().UnixMilli())/1000.0, resumed, config)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// RecordEpoch stores one epoch of run.
func (s *Store) RecordEpoch(ctx context.Context, run uuid.UUID, e Epoch) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO epochs(run_id, epoch, seconds, train_loss, val_loss, rss) VALUES(?,?,?,?,?,?)",
		run.String(), e.Epoch, e.Duration.Seconds(), e.TrainingLoss, e.ValidationLoss, int64(e.RSS))
	if err != nil {
		return fmt.Errorf("record epoch %d: %w", e.Epoch, err)
	}
	return nil
}

// Runs returns the runs of the named experiment, oldest first.
func (s *Store) Runs(ctx context.Context, name string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, generator, started, resumed FROM runs WHERE name = ? ORDER BY started, rowid", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			started float64
		)
		if err := rows.Scan(&id, &r.Name, &r.Generator, &started, &r.Resumed); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(int64(started * 1000))
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Epochs returns the epochs of run in order.
func (s *Store) Epochs(ctx context.Context, run uuid.UUID) ([]Epoch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT epoch, seconds, train_loss, val_loss, rss FROM epochs WHERE run_id = ? ORDER BY epoch", run.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var epochs []Epoch
	for rows.Next() {
		var (
			e       Epoch
			seconds float64
			rss     int64
		)
		if err := rows.Scan(&e.Epoch, &seconds, &e.TrainingLoss, &e.ValidationLoss, &rss); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(seconds * float64(time.Second))
		e.RSS = uint64(rss)
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}
