package trainer

import (
	"errors"
	"fmt"

	"github.com/vita-epfl/VisualNav/internal/common"
	"github.com/vita-epfl/VisualNav/internal/replay"
)

// runTD is the standard collect/learn loop: every step writes one transition
// into the buffer and a bootstrapped learning update runs every LearningFreq
// steps once the buffer is warm.
func (tr *Trainer) runTD() error {
	obs, err := tr.env.Reset()
	if err != nil {
		return fmt.Errorf("trainer: resetting environment: %w", err)
	}

	for tr.t < tr.cfg.NumTimesteps {
		idx, err := tr.buf.StoreObservation(obs.Frame, obs.Goal)
		if err != nil {
			return fmt.Errorf("trainer: storing observation: %w", err)
		}
		stacked, err := tr.buf.EncodeRecentObservation()
		if err != nil {
			return fmt.Errorf("trainer: encoding recent observation: %w", err)
		}
		action := tr.selectAction(stacked.Frames, stacked.Goals)

		res, err := tr.env.Step(action)
		if err != nil {
			return fmt.Errorf("trainer: stepping environment: %w", err)
		}
		if err := tr.buf.StoreEffect(idx, action, res.Reward, res.Done); err != nil {
			return fmt.Errorf("trainer: storing effect: %w", err)
		}
		tr.stats.AddStepReward(res.Reward)

		obs = res.Obs
		if res.Done {
			tr.finishEpisode(res.Info)
			obs, err = tr.env.Reset()
			if err != nil {
				return fmt.Errorf("trainer: resetting environment: %w", err)
			}
		}
		tr.t++

		if tr.learnGate() {
			if err := tr.tdUpdate(); err != nil {
				return err
			}
		}
		tr.maybeCheckpoint()
	}
	return nil
}

// tdUpdate samples a minibatch and performs one temporal-difference
// optimizer step. An under-filled buffer defers the update; it is not an
// error at this level.
func (tr *Trainer) tdUpdate() error {
	batch, err := tr.buf.Sample(tr.cfg.BatchSize)
	if errors.Is(err, replay.ErrInsufficientData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trainer: sampling batch: %w", err)
	}

	live := tr.pair.Live()
	target := tr.pair.Target()
	for i := 0; i < batch.Size; i++ {
		frames := batch.StackedFrames(i)
		goals := batch.StackedGoals(i)
		cur := live.Predict(frames, goals)[batch.Actions[i]]

		maxNext := maxValue(target.Predict(batch.NextStackedFrames(i), batch.NextStackedGoals(i)))
		tgt := tdTarget(batch.Rewards[i], batch.DoneMask[i], tr.discount, maxNext)

		// Error clipping bounds the update magnitude; the gradient is the
		// clipped error, not a norm-clipped gradient.
		live.ApplyTD(frames, goals, int(batch.Actions[i]), common.Clip(tgt-cur, -1, 1))
	}
	return tr.afterLearn()
}

// tdTarget computes the bootstrap target. doneMask is 1.0 for terminal
// transitions, which zeroes the next-state term exactly regardless of the
// target network's output.
func tdTarget(reward, doneMask, discount, maxNext float32) float32 {
	return reward + (1-doneMask)*discount*maxNext
}

func maxValue(values []float32) float32 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}
