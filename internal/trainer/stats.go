package trainer

import (
	"math"
	"time"

	"github.com/vita-epfl/VisualNav/internal/checkpoint"
)

// episodeRecord is one finished episode's reward and terminal outcome.
type episodeRecord struct {
	reward  float64
	outcome string
}

// TrainingStats tracks episode rewards and terminal outcomes over a sliding
// window. It is owned by the driver and passed by reference wherever
// statistics are needed; there is no global state.
type TrainingStats struct {
	window   int
	episodes []episodeRecord
	current  float64
	best     float64
}

// NewTrainingStats creates stats with the given averaging window.
func NewTrainingStats(window int) *TrainingStats {
	if window <= 0 {
		window = 100
	}
	return &TrainingStats{window: window, best: math.Inf(-1)}
}

// AddStepReward accumulates reward into the current episode.
func (s *TrainingStats) AddStepReward(r float32) {
	s.current += float64(r)
}

// EndEpisode closes the current episode with its terminal outcome. The best
// mean reward only starts tracking once a full window of episodes exists.
func (s *TrainingStats) EndEpisode(outcome string) {
	s.episodes = append(s.episodes, episodeRecord{reward: s.current, outcome: outcome})
	s.current = 0
	if len(s.episodes) > s.window {
		if m := s.MeanReward(); m > s.best {
			s.best = m
		}
	}
}

// Episodes returns the number of finished episodes.
func (s *TrainingStats) Episodes() int {
	return len(s.episodes)
}

func (s *TrainingStats) recent() []episodeRecord {
	if len(s.episodes) <= s.window {
		return s.episodes
	}
	return s.episodes[len(s.episodes)-s.window:]
}

// MeanReward returns the mean episode reward over the window, 0 before any
// episode finishes.
func (s *TrainingStats) MeanReward() float64 {
	recent := s.recent()
	if len(recent) == 0 {
		return 0
	}
	var sum float64
	for _, e := range recent {
		sum += e.reward
	}
	return sum / float64(len(recent))
}

// BestMeanReward returns the best windowed mean observed so far, 0 until a
// full window exists.
func (s *TrainingStats) BestMeanReward() float64 {
	if math.IsInf(s.best, -1) {
		return 0
	}
	return s.best
}

// OutcomeRate returns the fraction of windowed episodes ending with outcome.
func (s *TrainingStats) OutcomeRate(outcome string) float64 {
	recent := s.recent()
	if len(recent) == 0 {
		return 0
	}
	n := 0
	for _, e := range recent {
		if e.outcome == outcome {
			n++
		}
	}
	return float64(n) / float64(len(recent))
}

// Record produces a checkpoint statistics row for the current state.
func (s *TrainingStats) Record(runID string, timestep int, exploration float64) checkpoint.StatsRecord {
	return checkpoint.StatsRecord{
		RunID:          runID,
		Timestep:       timestep,
		Episodes:       len(s.episodes),
		MeanReward:     s.MeanReward(),
		BestMeanReward: s.BestMeanReward(),
		SuccessRate:    s.OutcomeRate("success"),
		CollisionRate:  s.OutcomeRate("collision"),
		OvertimeRate:   s.OutcomeRate("overtime"),
		Exploration:    exploration,
		RecordedAt:     time.Now(),
	}
}
