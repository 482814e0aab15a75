package replay

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// snapshot is the gob wire form of a buffer, used for warm restarts. The RNG
// state is not carried; a restored buffer reseeds from its config.
type snapshot struct {
	Cfg Config

	Frames []float32
	Goals  []float32

	Actions []int32
	Rewards []float32
	Dones   []bool
	Values  []float32

	Written      []bool
	Completed    []bool
	HasValue     []bool
	EpisodeStart []bool

	Next           int
	Size           int
	Last           int
	Pending        int
	CompletedCount int
	TotalWrites    int64
	Overwrites     int64
}

// WriteSnapshot serializes the buffer contents for a later warm restart.
// Not intended for the hot path; a full buffer snapshot is large.
func (b *Buffer) WriteSnapshot(w io.Writer) error {
	s := snapshot{
		Cfg:            b.cfg,
		Frames:         b.frames,
		Goals:          b.goals,
		Actions:        b.actions,
		Rewards:        b.rewards,
		Dones:          b.dones,
		Values:         b.values,
		Written:        b.written,
		Completed:      b.completed,
		HasValue:       b.hasValue,
		EpisodeStart:   b.episodeStart,
		Next:           b.next,
		Size:           b.size,
		Last:           b.last,
		Pending:        b.pending,
		CompletedCount: b.completedCount,
		TotalWrites:    b.totalWrites,
		Overwrites:     b.overwrites,
	}
	if err := gob.NewEncoder(w).Encode(&s); err != nil {
		return fmt.Errorf("replay: encoding snapshot: %w", err)
	}
	b.logger.Info().Int("size", b.size).Int64("total_writes", b.totalWrites).Msg("Buffer snapshot written")
	return nil
}

// ReadSnapshot reconstructs a buffer from a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader, logger zerolog.Logger) (*Buffer, error) {
	var s snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("replay: decoding snapshot: %w", err)
	}
	b, err := New(s.Cfg, logger)
	if err != nil {
		return nil, err
	}
	copy(b.frames, s.Frames)
	copy(b.goals, s.Goals)
	copy(b.actions, s.Actions)
	copy(b.rewards, s.Rewards)
	copy(b.dones, s.Dones)
	copy(b.values, s.Values)
	copy(b.written, s.Written)
	copy(b.completed, s.Completed)
	copy(b.hasValue, s.HasValue)
	copy(b.episodeStart, s.EpisodeStart)
	b.next = s.Next
	b.size = s.Size
	b.last = s.Last
	b.pending = s.Pending
	b.completedCount = s.CompletedCount
	b.totalWrites = s.TotalWrites
	b.overwrites = s.Overwrites
	b.logger.Info().Int("size", b.size).Msg("Buffer restored from snapshot")
	return b, nil
}
