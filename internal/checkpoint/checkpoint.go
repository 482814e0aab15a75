// Package checkpoint persists periodic training statistics and value-function
// parameters. Writes are blocking and fire-and-forget from the driver's point
// of view; there are no concurrent readers.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// StatsRecord is one row of training statistics.
type StatsRecord struct {
	RunID          string    `json:"run_id"`
	Timestep       int       `json:"timestep"`
	Episodes       int       `json:"episodes"`
	MeanReward     float64   `json:"mean_reward"`
	BestMeanReward float64   `json:"best_mean_reward"`
	SuccessRate    float64   `json:"success_rate"`
	CollisionRate  float64   `json:"collision_rate"`
	OvertimeRate   float64   `json:"overtime_rate"`
	Exploration    float64   `json:"exploration"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Sink accepts periodic statistics and serialized parameters.
type Sink interface {
	WriteStats(rec StatsRecord) error
	WriteWeights(step int, params []float32) error
	Close() error
}

// weightsBlob is the gob wire form of a saved parameter vector.
type weightsBlob struct {
	Step    int
	Params  []float32
	SavedAt time.Time
}

// FileSink writes statistics as JSON lines and parameters as a gob blob
// under a single run directory.
type FileSink struct {
	dir    string
	file   *os.File
	w      *bufio.Writer
	enc    *json.Encoder
	logger zerolog.Logger

	statsWritten   int64
	weightsWritten int64
}

// NewFileSink creates the run directory and opens the statistics file.
func NewFileSink(dir string, logger zerolog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating run directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "statistics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening statistics file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &FileSink{
		dir:    dir,
		file:   f,
		w:      w,
		enc:    json.NewEncoder(w),
		logger: logger.With().Str("component", "checkpoint_sink").Logger(),
	}, nil
}

// WriteStats appends one statistics record and flushes it to disk.
func (s *FileSink) WriteStats(rec StatsRecord) error {
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("checkpoint: encoding stats: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("checkpoint: flushing stats: %w", err)
	}
	s.statsWritten++
	return nil
}

// WriteWeights replaces the saved parameter blob. The write goes through a
// temp file and rename so a crash never leaves a torn blob behind.
func (s *FileSink) WriteWeights(step int, params []float32) error {
	tmp := filepath.Join(s.dir, "weights.gob.tmp")
	final := filepath.Join(s.dir, "weights.gob")

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("checkpoint: creating weights file: %w", err)
	}
	blob := weightsBlob{Step: step, Params: params, SavedAt: time.Now()}
	if err := gob.NewEncoder(f).Encode(&blob); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: encoding weights: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing weights file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("checkpoint: replacing weights file: %w", err)
	}
	s.weightsWritten++
	s.logger.Debug().Int("step", step).Int("params", len(params)).Msg("Weights checkpoint written")
	return nil
}

// ReadWeights loads the saved parameter blob from a run directory.
func ReadWeights(dir string) (int, []float32, error) {
	f, err := os.Open(filepath.Join(dir, "weights.gob"))
	if err != nil {
		return 0, nil, fmt.Errorf("checkpoint: opening weights file: %w", err)
	}
	defer f.Close()
	var blob weightsBlob
	if err := gob.NewDecoder(f).Decode(&blob); err != nil {
		return 0, nil, fmt.Errorf("checkpoint: decoding weights: %w", err)
	}
	return blob.Step, blob.Params, nil
}

// Close flushes and closes the statistics file.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("checkpoint: flushing on close: %w", err)
	}
	s.logger.Info().
		Int64("stats_written", s.statsWritten).
		Int64("weights_written", s.weightsWritten).
		Msg("Checkpoint sink closed")
	return s.file.Close()
}

// NopSink discards everything; used when checkpointing is disabled and in
// tests.
type NopSink struct{}

func (NopSink) WriteStats(StatsRecord) error      { return nil }
func (NopSink) WriteWeights(int, []float32) error { return nil }
func (NopSink) Close() error                      { return nil }
