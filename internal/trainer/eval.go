package trainer

import (
	"fmt"

	"github.com/vita-epfl/VisualNav/internal/common"
)

// Evaluate runs the given number of episodes with pure greedy action
// selection: no exploration, no learning updates and no buffer writes.
// Stacked observations are staged in memory like episode-batched collection.
// Used to measure a policy restored from a checkpoint.
func (tr *Trainer) Evaluate(episodes int) error {
	if episodes <= 0 {
		return fmt.Errorf("trainer: evaluation episodes must be positive, got %d", episodes)
	}
	tr.logger.Info().Int("episodes", episodes).Msg("Starting greedy evaluation")

	live := tr.pair.Live()
	for ep := 0; ep < episodes; ep++ {
		obs, err := tr.env.Reset()
		if err != nil {
			return fmt.Errorf("trainer: resetting environment: %w", err)
		}
		var frames, goals [][]float32
		for {
			frames = append(frames, cloneFloats(obs.Frame))
			goals = append(goals, cloneFloats(obs.Goal))
			sf, sg := stackTail(frames, goals, tr.historyDepth())
			action := common.Argmax(live.Predict(sf, sg))

			res, err := tr.env.Step(action)
			if err != nil {
				return fmt.Errorf("trainer: stepping environment: %w", err)
			}
			tr.stats.AddStepReward(res.Reward)
			obs = res.Obs
			if res.Done {
				tr.finishEpisode(res.Info)
				break
			}
		}
	}

	tr.logger.Info().
		Int("episodes", tr.stats.Episodes()).
		Float64("mean_reward", tr.stats.MeanReward()).
		Float64("success_rate", tr.stats.OutcomeRate("success")).
		Float64("collision_rate", tr.stats.OutcomeRate("collision")).
		Float64("overtime_rate", tr.stats.OutcomeRate("overtime")).
		Msg("Evaluation finished")
	return nil
}
