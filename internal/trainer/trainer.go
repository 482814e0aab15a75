// Package trainer implements the training driver: it interleaves environment
// interaction with learning updates, owns the replay buffer, and never shares
// it across goroutines. Execution is single-threaded and synchronous.
package trainer

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vita-epfl/VisualNav/internal/checkpoint"
	"github.com/vita-epfl/VisualNav/internal/common"
	"github.com/vita-epfl/VisualNav/internal/env"
	"github.com/vita-epfl/VisualNav/internal/qfunc"
	"github.com/vita-epfl/VisualNav/internal/replay"
	"github.com/vita-epfl/VisualNav/internal/schedule"
)

// UpdateMode selects the learning variant. It is fixed at construction; the
// collect/learn step pair of the chosen variant runs for the whole training
// run.
type UpdateMode int

const (
	// ModeTD bootstraps one-step temporal-difference targets from the
	// target network.
	ModeTD UpdateMode = iota
	// ModeMC regresses toward full-episode discounted returns.
	ModeMC
	// ModeEpisodeBatched buffers whole episodes and commits them only when
	// the terminal outcome matches the accept list.
	ModeEpisodeBatched
)

// ParseMode parses a configuration string into an UpdateMode.
func ParseMode(s string) (UpdateMode, error) {
	switch strings.ToLower(s) {
	case "td":
		return ModeTD, nil
	case "mc":
		return ModeMC, nil
	case "episode":
		return ModeEpisodeBatched, nil
	default:
		return 0, fmt.Errorf("trainer: unknown update mode %q", s)
	}
}

func (m UpdateMode) String() string {
	switch m {
	case ModeTD:
		return "td"
	case ModeMC:
		return "mc"
	case ModeEpisodeBatched:
		return "episode"
	default:
		return fmt.Sprintf("UpdateMode(%d)", int(m))
	}
}

// Config holds driver settings.
type Config struct {
	BatchSize        int
	Gamma            float64
	LearningStarts   int
	LearningFreq     int
	TargetUpdateFreq int
	NumTimesteps     int
	LogEveryNSteps   int
	Mode             UpdateMode
	// EpisodeAccept lists the terminal Info values that cause an episode to
	// be committed in ModeEpisodeBatched. Matching is case-insensitive.
	EpisodeAccept []string
	Seed          int64 // 0 means seed from the clock
}

// Validate checks driver settings.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("trainer: batch size must be positive, got %d", c.BatchSize)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("trainer: gamma must be in (0, 1], got %v", c.Gamma)
	}
	if c.LearningStarts < 0 {
		return fmt.Errorf("trainer: learning starts must be non-negative, got %d", c.LearningStarts)
	}
	if c.LearningFreq <= 0 {
		return fmt.Errorf("trainer: learning freq must be positive, got %d", c.LearningFreq)
	}
	if c.TargetUpdateFreq <= 0 {
		return fmt.Errorf("trainer: target update freq must be positive, got %d", c.TargetUpdateFreq)
	}
	if c.NumTimesteps <= 0 {
		return fmt.Errorf("trainer: num timesteps must be positive, got %d", c.NumTimesteps)
	}
	if c.LogEveryNSteps <= 0 {
		return fmt.Errorf("trainer: log interval must be positive, got %d", c.LogEveryNSteps)
	}
	if c.Mode == ModeEpisodeBatched && len(c.EpisodeAccept) == 0 {
		return fmt.Errorf("trainer: episode mode requires a non-empty accept list")
	}
	return nil
}

// Trainer drives a training run. It is the sole owner and mutator of the
// replay buffer.
type Trainer struct {
	cfg    Config
	env    env.Environment
	buf    *replay.Buffer
	pair   *qfunc.Pair
	sched  schedule.Schedule
	sink   checkpoint.Sink
	stats  *TrainingStats
	rng    *rand.Rand
	logger zerolog.Logger

	runID string
	// discount is gamma raised to the environment's physical time step, so
	// environments with longer steps discount more per transition.
	discount float32

	t            int
	paramUpdates int
	lastLogged   int
}

// New wires a trainer from its collaborators. The buffer must be sized for
// the environment's observation space.
func New(cfg Config, environment env.Environment, buf *replay.Buffer, pair *qfunc.Pair,
	sched schedule.Schedule, sink checkpoint.Sink, logger zerolog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tr := &Trainer{
		cfg:      cfg,
		env:      environment,
		buf:      buf,
		pair:     pair,
		sched:    sched,
		sink:     sink,
		stats:    NewTrainingStats(100),
		rng:      rand.New(rand.NewSource(seed)),
		runID:    uuid.New().String(),
		discount: float32(math.Pow(cfg.Gamma, environment.TimeStep())),
		logger:   logger.With().Str("component", "trainer").Logger(),
	}
	return tr, nil
}

// RunID identifies this training run in checkpoints and statistics.
func (tr *Trainer) RunID() string {
	return tr.runID
}

// Stats exposes the run's training statistics.
func (tr *Trainer) Stats() *TrainingStats {
	return tr.stats
}

// Run executes the training loop for the configured mode until the timestep
// ceiling. Environment and buffer errors are fatal; the last known-good
// checkpoint is flushed before returning them.
func (tr *Trainer) Run() error {
	tr.logger.Info().
		Str("run_id", tr.runID).
		Stringer("mode", tr.cfg.Mode).
		Int("num_timesteps", tr.cfg.NumTimesteps).
		Int("batch_size", tr.cfg.BatchSize).
		Msg("Starting training run")

	var err error
	switch tr.cfg.Mode {
	case ModeTD:
		err = tr.runTD()
	case ModeMC:
		err = tr.runMC()
	case ModeEpisodeBatched:
		err = tr.runEpisodeBatched()
	default:
		return fmt.Errorf("trainer: unknown update mode %d", tr.cfg.Mode)
	}

	if err != nil {
		// Flush the last known-good state before surfacing the failure.
		tr.writeCheckpoint()
		return err
	}
	tr.writeCheckpoint()
	tr.logger.Info().
		Int("timesteps", tr.t).
		Int("episodes", tr.stats.Episodes()).
		Float64("mean_reward", tr.stats.MeanReward()).
		Msg("Training run finished")
	return nil
}

// selectAction is epsilon-greedy over the live estimator once learning has
// started, uniform random before that.
func (tr *Trainer) selectAction(frames, goals []float32) int {
	numActions := tr.pair.Live().NumActions()
	if tr.t <= tr.cfg.LearningStarts {
		return tr.rng.Intn(numActions)
	}
	if tr.rng.Float64() < tr.sched.Value(tr.t) {
		return tr.rng.Intn(numActions)
	}
	return common.Argmax(tr.pair.Live().Predict(frames, goals))
}

// learnGate reports whether a learning step is due at the current timestep.
func (tr *Trainer) learnGate() bool {
	return tr.t > tr.cfg.LearningStarts &&
		tr.t%tr.cfg.LearningFreq == 0 &&
		tr.buf.CanSample(tr.cfg.BatchSize)
}

// afterLearn bumps the optimizer-step counter and hard-syncs the target
// network every TargetUpdateFreq learning steps.
func (tr *Trainer) afterLearn() error {
	tr.paramUpdates++
	if tr.paramUpdates%tr.cfg.TargetUpdateFreq == 0 {
		if err := tr.pair.SyncTarget(); err != nil {
			return fmt.Errorf("trainer: syncing target network: %w", err)
		}
		tr.logger.Debug().Int("param_updates", tr.paramUpdates).Msg("Target network synchronized")
	}
	return nil
}

// maybeCheckpoint writes statistics and weights every LogEveryNSteps steps
// once learning has started.
func (tr *Trainer) maybeCheckpoint() {
	if tr.t <= tr.cfg.LearningStarts || tr.t-tr.lastLogged < tr.cfg.LogEveryNSteps {
		return
	}
	tr.lastLogged = tr.t
	tr.writeCheckpoint()
	tr.logger.Info().
		Int("timestep", tr.t).
		Int("episodes", tr.stats.Episodes()).
		Float64("mean_reward", tr.stats.MeanReward()).
		Float64("best_mean_reward", tr.stats.BestMeanReward()).
		Float64("success_rate", tr.stats.OutcomeRate("success")).
		Float64("exploration", tr.sched.Value(tr.t)).
		Msg("Training progress")
}

// writeCheckpoint is fire-and-forget: sink failures are logged, not fatal.
func (tr *Trainer) writeCheckpoint() {
	rec := tr.stats.Record(tr.runID, tr.t, tr.sched.Value(tr.t))
	if err := tr.sink.WriteStats(rec); err != nil {
		tr.logger.Warn().Err(err).Msg("Failed to write statistics")
	}
	if err := tr.sink.WriteWeights(tr.t, tr.pair.Live().Parameters()); err != nil {
		tr.logger.Warn().Err(err).Msg("Failed to write weights checkpoint")
	}
}

func (tr *Trainer) finishEpisode(info string) {
	tr.stats.EndEpisode(strings.ToLower(info))
	tr.logger.Debug().
		Int("timestep", tr.t).
		Int("episodes", tr.stats.Episodes()).
		Str("outcome", info).
		Msg("Episode finished")
}
