package replay

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Config sizes a Buffer. Frame dimensions are taken from the environment's
// observation space once at setup; Capacity and FrameHistory come from the
// training configuration.
type Config struct {
	Capacity      int
	FrameHistory  int
	FrameHeight   int
	FrameWidth    int
	FrameChannels int
	GoalDim       int
	Seed          int64 // 0 means seed from the clock
}

// Validate checks that all dimensions are positive.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.FrameHistory <= 0 {
		return fmt.Errorf("%w: frame history must be positive, got %d", ErrInvalidConfig, c.FrameHistory)
	}
	if c.FrameHeight <= 0 || c.FrameWidth <= 0 || c.FrameChannels <= 0 {
		return fmt.Errorf("%w: frame shape must be positive, got %dx%dx%d",
			ErrInvalidConfig, c.FrameHeight, c.FrameWidth, c.FrameChannels)
	}
	if c.GoalDim <= 0 {
		return fmt.Errorf("%w: goal dimension must be positive, got %d", ErrInvalidConfig, c.GoalDim)
	}
	return nil
}

// FrameLen returns the number of float32 values in a single frame.
func (c Config) FrameLen() int {
	return c.FrameHeight * c.FrameWidth * c.FrameChannels
}

// Buffer is a fixed-capacity circular store of (observation, action, reward,
// done) transitions. Observations are stored as single frames plus a goal
// vector; stacked multi-frame views are reconstructed on demand so each frame
// is held exactly once regardless of the history depth.
//
// Writes are two-phase: StoreObservation reserves a slot and returns its
// index, StoreEffect completes it. The buffer is single-writer single-reader
// and must not be shared across goroutines.
type Buffer struct {
	cfg      Config
	frameLen int

	// Flat arenas, one stride per slot. Allocated once at construction.
	frames []float32
	goals  []float32

	actions []int32
	rewards []float32
	dones   []bool
	values  []float32

	written      []bool
	completed    []bool
	hasValue     []bool
	episodeStart []bool

	next    int // next write position
	size    int // min(totalWrites, capacity)
	last    int // most recently written slot, -1 if none
	pending int // slot with an observation but no effect yet, -1 if none

	completedCount int
	totalWrites    int64
	overwrites     int64

	rng    *rand.Rand
	logger zerolog.Logger
}

// New creates a buffer with preallocated storage for cfg.Capacity transitions.
func New(cfg Config, logger zerolog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	frameLen := cfg.FrameLen()
	b := &Buffer{
		cfg:          cfg,
		frameLen:     frameLen,
		frames:       make([]float32, cfg.Capacity*frameLen),
		goals:        make([]float32, cfg.Capacity*cfg.GoalDim),
		actions:      make([]int32, cfg.Capacity),
		rewards:      make([]float32, cfg.Capacity),
		dones:        make([]bool, cfg.Capacity),
		values:       make([]float32, cfg.Capacity),
		written:      make([]bool, cfg.Capacity),
		completed:    make([]bool, cfg.Capacity),
		hasValue:     make([]bool, cfg.Capacity),
		episodeStart: make([]bool, cfg.Capacity),
		last:         -1,
		pending:      -1,
		rng:          rand.New(rand.NewSource(seed)),
		logger:       logger.With().Str("component", "replay_buffer").Logger(),
	}
	b.logger.Debug().
		Int("capacity", cfg.Capacity).
		Int("frame_history", cfg.FrameHistory).
		Int("frame_len", frameLen).
		Int("goal_dim", cfg.GoalDim).
		Msg("Replay buffer allocated")
	return b, nil
}

// StoreObservation writes a frame and its paired goal vector at the current
// write cursor and returns the index of the just-written slot. The slot's
// action/reward/done fields are undefined until StoreEffect is called with
// that index. Overwriting a full buffer evicts the oldest slot's data.
func (b *Buffer) StoreObservation(frame, goal []float32) (int, error) {
	if len(frame) != b.frameLen {
		return 0, fmt.Errorf("replay: frame length %d, want %d", len(frame), b.frameLen)
	}
	if len(goal) != b.cfg.GoalDim {
		return 0, fmt.Errorf("replay: goal length %d, want %d", len(goal), b.cfg.GoalDim)
	}

	idx := b.next
	if b.written[idx] {
		// Capacity wraparound: the old transition at this index is gone.
		b.overwrites++
		if b.completed[idx] {
			b.completedCount--
		}
	}
	if b.pending != -1 && b.pending != idx {
		// An observation whose effect was never stored stays incomplete and
		// is excluded from sampling forever.
		b.logger.Warn().Int("index", b.pending).Msg("Pending slot abandoned without effect")
	}

	// First frame of an episode iff the buffer is empty or the previous
	// transition terminated its episode.
	start := b.last == -1 || (b.completed[b.last] && b.dones[b.last])

	copy(b.frames[idx*b.frameLen:(idx+1)*b.frameLen], frame)
	copy(b.goals[idx*b.cfg.GoalDim:(idx+1)*b.cfg.GoalDim], goal)
	b.written[idx] = true
	b.completed[idx] = false
	b.hasValue[idx] = false
	b.episodeStart[idx] = start

	b.last = idx
	b.pending = idx
	b.next = (b.next + 1) % b.cfg.Capacity
	if b.size < b.cfg.Capacity {
		b.size++
	}
	b.totalWrites++
	return idx, nil
}

// StoreEffect fills in the action, reward and done fields of the slot
// returned by the matching StoreObservation call. Only the pending slot may
// be completed; any other index (stale, overwritten, already completed)
// returns ErrInvalidIndex.
func (b *Buffer) StoreEffect(idx int, action int, reward float32, done bool) error {
	if idx != b.pending {
		return fmt.Errorf("%w: %d is not the pending slot", ErrInvalidIndex, idx)
	}
	b.actions[idx] = int32(action)
	b.rewards[idx] = reward
	b.dones[idx] = done
	b.completed[idx] = true
	b.completedCount++
	b.pending = -1
	return nil
}

// StoreValue attaches a Monte-Carlo return to an already-completed slot.
func (b *Buffer) StoreValue(idx int, value float32) error {
	if idx < 0 || idx >= b.cfg.Capacity || !b.written[idx] || !b.completed[idx] {
		return fmt.Errorf("%w: %d is not a completed slot", ErrInvalidIndex, idx)
	}
	b.values[idx] = value
	b.hasValue[idx] = true
	return nil
}

// oldest returns the physical index of the oldest written slot.
func (b *Buffer) oldest() int {
	return (b.next - b.size + b.cfg.Capacity) % b.cfg.Capacity
}

// EncodeRecentObservation returns the FrameHistory most recent frames and
// goals ending at the last written slot, oldest first, zero-padded on the
// left when the episode or the buffer is shorter than the history depth.
func (b *Buffer) EncodeRecentObservation() (Stacked, error) {
	if b.last == -1 {
		return Stacked{}, fmt.Errorf("%w: buffer is empty", ErrInsufficientData)
	}
	s := Stacked{
		Frames: make([]float32, b.cfg.FrameHistory*b.frameLen),
		Goals:  make([]float32, b.cfg.FrameHistory*b.cfg.GoalDim),
	}
	b.encodeStackInto(b.last, s.Frames, s.Goals)
	return s, nil
}

// encodeStackInto writes the stacked view ending at idx into dst slices of
// length FrameHistory*frameLen and FrameHistory*GoalDim. Walks backwards from
// idx, stopping at an episode start or at the oldest valid slot; positions
// before the stop point are left zeroed.
func (b *Buffer) encodeStackInto(idx int, framesDst, goalsDst []float32) {
	h := b.cfg.FrameHistory
	cur := idx
	for k := h - 1; k >= 0; k-- {
		copy(framesDst[k*b.frameLen:(k+1)*b.frameLen], b.frames[cur*b.frameLen:(cur+1)*b.frameLen])
		copy(goalsDst[k*b.cfg.GoalDim:(k+1)*b.cfg.GoalDim], b.goals[cur*b.cfg.GoalDim:(cur+1)*b.cfg.GoalDim])
		if b.episodeStart[cur] || cur == b.oldest() {
			break
		}
		cur = (cur - 1 + b.cfg.Capacity) % b.cfg.Capacity
	}
}

// sampleableCount returns how many completed transitions have a defined
// successor. The most recent write never qualifies: no step has been taken
// from it yet.
func (b *Buffer) sampleableCount() int {
	n := b.completedCount
	if b.last != -1 && b.completed[b.last] {
		n--
	}
	return n
}

// CanSample reports whether a batch of the given size can be drawn.
func (b *Buffer) CanSample(batchSize int) bool {
	return batchSize > 0 && b.sampleableCount() >= batchSize
}

// Sample draws batchSize transitions uniformly at random without replacement
// from the completed slots that have a valid successor. Each entry carries
// the stacked observation ending at the slot, the stored effect, and the
// stacked observation ending at the successor slot.
func (b *Buffer) Sample(batchSize int) (*Batch, error) {
	return b.sample(batchSize, false)
}

// SampleWithValues is Sample restricted to slots carrying a stored
// Monte-Carlo return; the batch's Values field is populated.
func (b *Buffer) SampleWithValues(batchSize int) (*Batch, error) {
	return b.sample(batchSize, true)
}

func (b *Buffer) sample(batchSize int, withValue bool) (*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, batchSize)
	}
	avail := b.sampleableCount()
	if withValue {
		avail = 0
		for off := 0; off < b.size; off++ {
			idx := (b.oldest() + off) % b.cfg.Capacity
			if b.sampleable(idx) && b.hasValue[idx] {
				avail++
			}
		}
	}
	if avail < batchSize {
		return nil, fmt.Errorf("%w: %d sampleable transitions, need %d", ErrInsufficientData, avail, batchSize)
	}

	batch := newBatch(batchSize, b.cfg, withValue)
	picked := make(map[int]struct{}, batchSize)
	stackFrames := b.cfg.FrameHistory * b.frameLen
	stackGoals := b.cfg.FrameHistory * b.cfg.GoalDim
	for n := 0; n < batchSize; {
		idx := (b.oldest() + b.rng.Intn(b.size)) % b.cfg.Capacity
		if _, dup := picked[idx]; dup || !b.sampleable(idx) || (withValue && !b.hasValue[idx]) {
			continue
		}
		picked[idx] = struct{}{}

		b.encodeStackInto(idx, batch.Frames[n*stackFrames:(n+1)*stackFrames], batch.Goals[n*stackGoals:(n+1)*stackGoals])
		succ := (idx + 1) % b.cfg.Capacity
		b.encodeStackInto(succ, batch.NextFrames[n*stackFrames:(n+1)*stackFrames], batch.NextGoals[n*stackGoals:(n+1)*stackGoals])

		batch.Actions[n] = b.actions[idx]
		batch.Rewards[n] = b.rewards[idx]
		if b.dones[idx] {
			batch.DoneMask[n] = 1
		}
		if withValue {
			batch.Values[n] = b.values[idx]
		}
		n++
	}
	return batch, nil
}

func (b *Buffer) sampleable(idx int) bool {
	return b.completed[idx] && idx != b.last
}

// Size returns the current number of stored observations.
func (b *Buffer) Size() int {
	return b.size
}

// Capacity returns the maximum number of stored observations.
func (b *Buffer) Capacity() int {
	return b.cfg.Capacity
}

// FrameHistory returns the stacking depth.
func (b *Buffer) FrameHistory() int {
	return b.cfg.FrameHistory
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Size:           b.size,
		Capacity:       b.cfg.Capacity,
		Completed:      b.completedCount,
		Sampleable:     b.sampleableCount(),
		TotalWrites:    b.totalWrites,
		Overwrites:     b.overwrites,
		HasPending:     b.pending != -1,
		UtilizationPct: float64(b.size) / float64(b.cfg.Capacity) * 100,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Size           int
	Capacity       int
	Completed      int
	Sampleable     int
	TotalWrites    int64
	Overwrites     int64
	HasPending     bool
	UtilizationPct float64
}
