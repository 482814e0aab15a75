package trainer

import (
	"errors"
	"fmt"

	"github.com/vita-epfl/VisualNav/internal/replay"
)

// runMC collects whole episodes, stores closed-form discounted returns next
// to each transition, and regresses the value estimate toward them instead
// of bootstrapping.
func (tr *Trainer) runMC() error {
	for tr.t < tr.cfg.NumTimesteps {
		indices, rewards, info, err := tr.collectEpisode()
		if err != nil {
			return err
		}

		// An episode longer than the buffer wraps during collection and the
		// earliest slots now hold later steps; their returns have nothing
		// left to attach to.
		start := 0
		if over := len(indices) - tr.buf.Capacity(); over > 0 {
			start = over
			tr.logger.Warn().
				Int("episode_length", len(indices)).
				Int("dropped", over).
				Msg("Episode outran buffer capacity; earliest returns dropped")
		}
		for i := start; i < len(indices); i++ {
			if err := tr.buf.StoreValue(indices[i], discountedReturn(rewards[i:], tr.discount)); err != nil {
				return fmt.Errorf("trainer: storing return: %w", err)
			}
		}
		tr.finishEpisode(info)

		if tr.t > tr.cfg.LearningStarts {
			updates := len(indices) / tr.cfg.LearningFreq
			if updates == 0 {
				updates = 1
			}
			for i := 0; i < updates; i++ {
				if err := tr.mcUpdate(); err != nil {
					return err
				}
			}
		}
		tr.maybeCheckpoint()
	}
	return nil
}

// collectEpisode runs one episode through the buffer's two-phase write path
// and returns the slot indices and per-step rewards in order.
func (tr *Trainer) collectEpisode() (indices []int, rewards []float32, info string, err error) {
	obs, err := tr.env.Reset()
	if err != nil {
		return nil, nil, "", fmt.Errorf("trainer: resetting environment: %w", err)
	}
	for {
		idx, err := tr.buf.StoreObservation(obs.Frame, obs.Goal)
		if err != nil {
			return nil, nil, "", fmt.Errorf("trainer: storing observation: %w", err)
		}
		stacked, err := tr.buf.EncodeRecentObservation()
		if err != nil {
			return nil, nil, "", fmt.Errorf("trainer: encoding recent observation: %w", err)
		}
		action := tr.selectAction(stacked.Frames, stacked.Goals)

		res, err := tr.env.Step(action)
		if err != nil {
			return nil, nil, "", fmt.Errorf("trainer: stepping environment: %w", err)
		}
		if err := tr.buf.StoreEffect(idx, action, res.Reward, res.Done); err != nil {
			return nil, nil, "", fmt.Errorf("trainer: storing effect: %w", err)
		}
		tr.stats.AddStepReward(res.Reward)
		indices = append(indices, idx)
		rewards = append(rewards, res.Reward)
		tr.t++

		obs = res.Obs
		if res.Done {
			return indices, rewards, res.Info, nil
		}
	}
}

// mcUpdate regresses the live estimate for each sampled action toward the
// stored Monte-Carlo return with a squared-error objective.
func (tr *Trainer) mcUpdate() error {
	batch, err := tr.buf.SampleWithValues(tr.cfg.BatchSize)
	if errors.Is(err, replay.ErrInsufficientData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trainer: sampling value batch: %w", err)
	}

	live := tr.pair.Live()
	for i := 0; i < batch.Size; i++ {
		frames := batch.StackedFrames(i)
		goals := batch.StackedGoals(i)
		cur := live.Predict(frames, goals)[batch.Actions[i]]
		live.ApplyTD(frames, goals, int(batch.Actions[i]), batch.Values[i]-cur)
	}
	return tr.afterLearn()
}

// discountedReturn computes sum over t of discount^t * rewards[t].
func discountedReturn(rewards []float32, discount float32) float32 {
	var v float32
	g := float32(1)
	for _, r := range rewards {
		v += g * r
		g *= discount
	}
	return v
}
