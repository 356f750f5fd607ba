// Package stats records one statistics row per generation run in a
// CSV-appendable file keyed by run id.
package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/petrel-dev/petrel/core"
)

// Record is the per-run statistics row.
type Record struct {
	RunID          string
	Algorithm      string
	Module         string
	Seed           int64
	Coverage       float64
	CoveredGoals   int
	TotalGoals     int
	ArchiveSize    int
	Iterations     int
	TestsExecuted  int64
	MutationScore  float64
	WallTime       time.Duration
	StoppedBy      string
	ConfigSnapshot string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// ConfigSnapshot renders the option fields worth keeping with the row.
func ConfigSnapshot(cfg *core.Config) string {
	return fmt.Sprintf("algorithm=%s;population=%d;max_test_len=%d;crossover=%.2f;selection=%s;assertions=%s;subprocess=%t",
		cfg.Algorithm, cfg.PopulationSize, cfg.MaxTestLength,
		cfg.CrossoverProb, cfg.Selection, cfg.AssertionStrategy, cfg.Subprocess)
}

var header = []string{
	"run_id", "algorithm", "module", "seed", "coverage", "covered_goals",
	"total_goals", "archive_size", "iterations", "tests_executed",
	"mutation_score", "wall_time_ms", "stopped_by", "config",
}

// Append writes the record to path, emitting the header when the file
// is new.
func Append(path string, r Record) error {
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open statistics file: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	row := []string{
		r.RunID,
		r.Algorithm,
		r.Module,
		strconv.FormatInt(r.Seed, 10),
		strconv.FormatFloat(r.Coverage, 'f', 4, 64),
		strconv.Itoa(r.CoveredGoals),
		strconv.Itoa(r.TotalGoals),
		strconv.Itoa(r.ArchiveSize),
		strconv.Itoa(r.Iterations),
		strconv.FormatInt(r.TestsExecuted, 10),
		strconv.FormatFloat(r.MutationScore, 'f', 4, 64),
		strconv.FormatInt(r.WallTime.Milliseconds(), 10),
		r.StoppedBy,
		r.ConfigSnapshot,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
