package trainer

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vita-epfl/VisualNav/internal/checkpoint"
	"github.com/vita-epfl/VisualNav/internal/env"
	"github.com/vita-epfl/VisualNav/internal/qfunc"
	"github.com/vita-epfl/VisualNav/internal/replay"
	"github.com/vita-epfl/VisualNav/internal/schedule"
)

// scriptedEnv is a deterministic environment with fixed-length episodes and
// a repeating cycle of terminal outcomes.
type scriptedEnv struct {
	epLen    int
	outcomes []string

	steps    int
	episode  int
	failAt   int // step count at which Step returns an error; 0 disables
	totSteps int
}

func newScriptedEnv(epLen int, outcomes ...string) *scriptedEnv {
	if len(outcomes) == 0 {
		outcomes = []string{"success"}
	}
	return &scriptedEnv{epLen: epLen, outcomes: outcomes}
}

func (e *scriptedEnv) observation() env.Observation {
	frame := make([]float32, 4)
	for i := range frame {
		frame[i] = float32(e.steps) * 0.1
	}
	return env.Observation{Frame: frame, Goal: []float32{float32(e.episode), float32(e.steps)}}
}

func (e *scriptedEnv) Reset() (env.Observation, error) {
	e.steps = 0
	return e.observation(), nil
}

func (e *scriptedEnv) Step(action int) (env.StepResult, error) {
	e.steps++
	e.totSteps++
	if e.failAt > 0 && e.totSteps >= e.failAt {
		return env.StepResult{}, errors.New("scripted failure")
	}
	res := env.StepResult{Obs: e.observation(), Reward: 0.1}
	if e.steps >= e.epLen {
		res.Done = true
		res.Reward = 1
		res.Info = e.outcomes[e.episode%len(e.outcomes)]
		e.episode++
	}
	return res, nil
}

func (e *scriptedEnv) FrameShape() (int, int, int) { return 2, 2, 1 }
func (e *scriptedEnv) GoalDim() int                { return 2 }
func (e *scriptedEnv) NumActions() int             { return 3 }
func (e *scriptedEnv) TimeStep() float64           { return 1.0 }

// recordingSink captures checkpoint writes for assertions.
type recordingSink struct {
	stats   []checkpoint.StatsRecord
	weights int
}

func (s *recordingSink) WriteStats(rec checkpoint.StatsRecord) error {
	s.stats = append(s.stats, rec)
	return nil
}

func (s *recordingSink) WriteWeights(int, []float32) error {
	s.weights++
	return nil
}

func (s *recordingSink) Close() error { return nil }

func testTrainerConfig(mode UpdateMode) Config {
	return Config{
		BatchSize:        8,
		Gamma:            0.9,
		LearningStarts:   50,
		LearningFreq:     4,
		TargetUpdateFreq: 5,
		NumTimesteps:     300,
		LogEveryNSteps:   100,
		Mode:             mode,
		EpisodeAccept:    []string{"success", "collision"},
		Seed:             1,
	}
}

func newTestTrainer(t *testing.T, cfg Config, e env.Environment, sink checkpoint.Sink) *Trainer {
	t.Helper()
	logger := zerolog.Nop()
	buf, err := replay.New(replay.Config{
		Capacity:      200,
		FrameHistory:  2,
		FrameHeight:   2,
		FrameWidth:    2,
		FrameChannels: 1,
		GoalDim:       2,
		Seed:          1,
	}, logger)
	require.NoError(t, err)

	live, err := qfunc.NewLinear(2*4, 2*2, e.NumActions(), 0.05, 1)
	require.NoError(t, err)
	target, err := qfunc.NewLinear(2*4, 2*2, e.NumActions(), 0.05, 2)
	require.NoError(t, err)
	pair, err := qfunc.NewPair(live, target)
	require.NoError(t, err)

	sched, err := schedule.NewLinear(200, 0.1, 1.0)
	require.NoError(t, err)

	tr, err := New(cfg, e, buf, pair, sched, sink, logger)
	require.NoError(t, err)
	return tr
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"bad gamma", func(c *Config) { c.Gamma = 1.5 }},
		{"zero gamma", func(c *Config) { c.Gamma = 0 }},
		{"negative learning starts", func(c *Config) { c.LearningStarts = -1 }},
		{"zero learning freq", func(c *Config) { c.LearningFreq = 0 }},
		{"zero target freq", func(c *Config) { c.TargetUpdateFreq = 0 }},
		{"zero timesteps", func(c *Config) { c.NumTimesteps = 0 }},
		{"zero log interval", func(c *Config) { c.LogEveryNSteps = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testTrainerConfig(ModeTD)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := testTrainerConfig(ModeEpisodeBatched)
	cfg.EpisodeAccept = nil
	assert.Error(t, cfg.Validate())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("td")
	require.NoError(t, err)
	assert.Equal(t, ModeTD, m)

	m, err = ParseMode("MC")
	require.NoError(t, err)
	assert.Equal(t, ModeMC, m)

	m, err = ParseMode("episode")
	require.NoError(t, err)
	assert.Equal(t, ModeEpisodeBatched, m)

	_, err = ParseMode("bogus")
	assert.Error(t, err)
}

func TestTDTargetMasking(t *testing.T) {
	// Terminal transitions must not bootstrap, no matter what the target
	// network claims about the next state.
	assert.Equal(t, float32(1.0), tdTarget(1.0, 1, 0.9, 1e6))
	assert.Equal(t, float32(-0.25), tdTarget(-0.25, 1, 0.9, -1e6))

	// Non-terminal transitions add the discounted next-state value.
	assert.InDelta(t, 0.5+0.9*2.0, float64(tdTarget(0.5, 0, 0.9, 2.0)), 1e-6)
}

func TestDiscountedReturn(t *testing.T) {
	assert.InDelta(t, 1.75, float64(discountedReturn([]float32{1, 1, 1}, 0.5)), 1e-6)
	assert.InDelta(t, 0.0, float64(discountedReturn(nil, 0.5)), 1e-6)
	assert.InDelta(t, 3.0, float64(discountedReturn([]float32{3}, 0.5)), 1e-6)
}

func TestStackTail(t *testing.T) {
	frames := [][]float32{{1, 1}, {2, 2}, {3, 3}}
	goals := [][]float32{{10}, {20}, {30}}

	sf, sg := stackTail(frames, goals, 2)
	assert.Equal(t, []float32{2, 2, 3, 3}, sf)
	assert.Equal(t, []float32{20, 30}, sg)

	// Short history is zero-padded on the left.
	sf, sg = stackTail(frames[:1], goals[:1], 4)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, 1, 1}, sf)
	assert.Equal(t, []float32{0, 0, 0, 10}, sg)
}

func TestTargetSyncCadence(t *testing.T) {
	e := newScriptedEnv(10)
	cfg := testTrainerConfig(ModeTD)
	cfg.TargetUpdateFreq = 3
	tr := newTestTrainer(t, cfg, e, checkpoint.NopSink{})

	// Warm the buffer with completed transitions.
	for i := 0; i < 30; i++ {
		frame := []float32{float32(i), 0, 0, 0}
		idx, err := tr.buf.StoreObservation(frame, []float32{1, float32(i)})
		require.NoError(t, err)
		require.NoError(t, tr.buf.StoreEffect(idx, i%3, 0.5, i%10 == 9))
	}

	live := tr.pair.Live()
	target := tr.pair.Target()
	require.Equal(t, live.Parameters(), target.Parameters())

	frozen := target.Parameters()
	require.NoError(t, tr.tdUpdate())
	require.NoError(t, tr.tdUpdate())

	// Two learning steps in: live has moved, target is still frozen.
	assert.NotEqual(t, live.Parameters(), frozen)
	assert.Equal(t, frozen, target.Parameters())

	// Third learning step triggers the hard sync.
	require.NoError(t, tr.tdUpdate())
	assert.Equal(t, live.Parameters(), target.Parameters())

	// And the copy freezes again until the next multiple.
	synced := target.Parameters()
	require.NoError(t, tr.tdUpdate())
	assert.Equal(t, synced, target.Parameters())
	assert.NotEqual(t, live.Parameters(), target.Parameters())
}

func TestRunTD(t *testing.T) {
	e := newScriptedEnv(10, "success", "collision")
	sink := &recordingSink{}
	tr := newTestTrainer(t, testTrainerConfig(ModeTD), e, sink)

	require.NoError(t, tr.Run())

	assert.Equal(t, 30, tr.stats.Episodes())
	assert.Greater(t, tr.paramUpdates, 0)
	assert.InDelta(t, 0.5, tr.stats.OutcomeRate("success"), 1e-9)
	assert.InDelta(t, 0.5, tr.stats.OutcomeRate("collision"), 1e-9)

	// Periodic checkpoints plus the final flush.
	require.NotEmpty(t, sink.stats)
	assert.Equal(t, len(sink.stats), sink.weights)
	last := sink.stats[len(sink.stats)-1]
	assert.Equal(t, tr.RunID(), last.RunID)
	assert.Equal(t, 300, last.Timestep)
}

func TestRunTDFatalEnvironmentError(t *testing.T) {
	e := newScriptedEnv(10)
	e.failAt = 75
	sink := &recordingSink{}
	tr := newTestTrainer(t, testTrainerConfig(ModeTD), e, sink)

	err := tr.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepping environment")

	// The last known-good checkpoint is flushed even on failure.
	assert.NotEmpty(t, sink.stats)
	assert.Greater(t, sink.weights, 0)
}

func TestRunMC(t *testing.T) {
	e := newScriptedEnv(10)
	sink := &recordingSink{}
	cfg := testTrainerConfig(ModeMC)
	tr := newTestTrainer(t, cfg, e, sink)

	require.NoError(t, tr.Run())

	assert.Equal(t, 30, tr.stats.Episodes())
	assert.Greater(t, tr.paramUpdates, 0)

	// Committed transitions carry stored returns.
	batch, err := tr.buf.SampleWithValues(cfg.BatchSize)
	require.NoError(t, err)
	require.NotNil(t, batch.Values)
}

// aliasingEnv reuses one backing array for every observation it returns, the
// way an allocation-averse environment might.
type aliasingEnv struct {
	frame []float32
	goal  []float32
	steps int
	epLen int
}

func newAliasingEnv(epLen int) *aliasingEnv {
	return &aliasingEnv{frame: make([]float32, 4), goal: make([]float32, 2), epLen: epLen}
}

func (e *aliasingEnv) fill() env.Observation {
	for i := range e.frame {
		e.frame[i] = float32(e.steps)
	}
	e.goal[0] = float32(e.steps)
	e.goal[1] = -float32(e.steps)
	return env.Observation{Frame: e.frame, Goal: e.goal}
}

func (e *aliasingEnv) Reset() (env.Observation, error) {
	e.steps = 0
	return e.fill(), nil
}

func (e *aliasingEnv) Step(int) (env.StepResult, error) {
	e.steps++
	res := env.StepResult{Obs: e.fill(), Reward: 0.1}
	if e.steps >= e.epLen {
		res.Done = true
		res.Info = "success"
	}
	return res, nil
}

func (e *aliasingEnv) FrameShape() (int, int, int) { return 2, 2, 1 }
func (e *aliasingEnv) GoalDim() int                { return 2 }
func (e *aliasingEnv) NumActions() int             { return 3 }
func (e *aliasingEnv) TimeStep() float64           { return 1.0 }

func TestRunMCEpisodeLongerThanCapacity(t *testing.T) {
	// Episodes of 30 steps against a 16-slot buffer: collection wraps and the
	// earliest returns have no slot left, but the run must survive.
	e := newScriptedEnv(30)
	cfg := testTrainerConfig(ModeMC)
	cfg.NumTimesteps = 60
	cfg.LearningStarts = 10

	logger := zerolog.Nop()
	buf, err := replay.New(replay.Config{
		Capacity:      16,
		FrameHistory:  2,
		FrameHeight:   2,
		FrameWidth:    2,
		FrameChannels: 1,
		GoalDim:       2,
		Seed:          1,
	}, logger)
	require.NoError(t, err)
	live, err := qfunc.NewLinear(2*4, 2*2, e.NumActions(), 0.05, 1)
	require.NoError(t, err)
	target, err := qfunc.NewLinear(2*4, 2*2, e.NumActions(), 0.05, 2)
	require.NoError(t, err)
	pair, err := qfunc.NewPair(live, target)
	require.NoError(t, err)
	sched, err := schedule.NewLinear(200, 0.1, 1.0)
	require.NoError(t, err)
	tr, err := New(cfg, e, buf, pair, sched, checkpoint.NopSink{}, logger)
	require.NoError(t, err)

	require.NoError(t, tr.Run())
	assert.Equal(t, 2, tr.stats.Episodes())

	// Every surviving slot still carries the return of its resident step.
	batch, err := tr.buf.SampleWithValues(8)
	require.NoError(t, err)
	require.NotNil(t, batch.Values)
}

func TestEpisodeBatchedCopiesStagedObservations(t *testing.T) {
	// The environment mutates a shared observation buffer every step; the
	// committed episode must still hold each step's own frame.
	e := newAliasingEnv(4)
	cfg := testTrainerConfig(ModeEpisodeBatched)
	cfg.NumTimesteps = 4
	tr := newTestTrainer(t, cfg, e, checkpoint.NopSink{})

	require.NoError(t, tr.Run())
	require.Equal(t, int64(4), tr.buf.Stats().TotalWrites)

	stacked, err := tr.buf.EncodeRecentObservation()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2, 2}, stacked.Frames[:4])
	assert.Equal(t, []float32{3, 3, 3, 3}, stacked.Frames[4:])
	assert.Equal(t, []float32{2, -2, 3, -3}, stacked.Goals)
}

func TestEpisodeBatchedAcceptFiltering(t *testing.T) {
	// Episodes alternate between an accepted and a rejected outcome; only
	// the accepted half may reach the buffer.
	e := newScriptedEnv(10, "success", "overtime")
	cfg := testTrainerConfig(ModeEpisodeBatched)
	cfg.EpisodeAccept = []string{"Success"} // case-insensitive match
	tr := newTestTrainer(t, cfg, e, checkpoint.NopSink{})

	require.NoError(t, tr.Run())

	assert.Equal(t, 30, tr.stats.Episodes())
	stats := tr.buf.Stats()
	assert.Equal(t, int64(150), stats.TotalWrites, "only accepted episodes are committed")
}

func TestEpisodeBatchedRejectAll(t *testing.T) {
	e := newScriptedEnv(10, "overtime")
	cfg := testTrainerConfig(ModeEpisodeBatched)
	tr := newTestTrainer(t, cfg, e, checkpoint.NopSink{})

	require.NoError(t, tr.Run())
	assert.Equal(t, int64(0), tr.buf.Stats().TotalWrites)
	assert.Equal(t, 0, tr.paramUpdates)
}
