package trainer

import (
	"fmt"
	"strings"
)

// effect is the deferred second half of a two-phase write, held while an
// episode is staged outside the buffer.
type effect struct {
	action int
	reward float32
	done   bool
}

// runEpisodeBatched stages each episode in memory and commits it to the
// buffer only when the terminal outcome is on the accept list. Episodes with
// uninformative terminals are discarded wholesale, which biases the buffer
// toward transitions the accept list considers worth learning from.
func (tr *Trainer) runEpisodeBatched() error {
	obs, err := tr.env.Reset()
	if err != nil {
		return fmt.Errorf("trainer: resetting environment: %w", err)
	}

	for tr.t < tr.cfg.NumTimesteps {
		var (
			frames  [][]float32
			goals   [][]float32
			effects []effect
			info    string
		)

		// Collect one whole episode without touching the buffer. Stacked
		// observations for action selection are built from the staged
		// frames instead. Staged slices are copied: environments may reuse
		// their observation buffers between steps.
		for {
			frames = append(frames, cloneFloats(obs.Frame))
			goals = append(goals, cloneFloats(obs.Goal))
			sf, sg := stackTail(frames, goals, tr.historyDepth())
			action := tr.selectAction(sf, sg)

			res, err := tr.env.Step(action)
			if err != nil {
				return fmt.Errorf("trainer: stepping environment: %w", err)
			}
			effects = append(effects, effect{action: action, reward: res.Reward, done: res.Done})
			tr.stats.AddStepReward(res.Reward)
			tr.t++

			obs = res.Obs
			if res.Done {
				info = res.Info
				break
			}
		}

		if tr.episodeAccepted(info) {
			for i := range frames {
				idx, err := tr.buf.StoreObservation(frames[i], goals[i])
				if err != nil {
					return fmt.Errorf("trainer: committing episode: %w", err)
				}
				e := effects[i]
				if err := tr.buf.StoreEffect(idx, e.action, e.reward, e.done); err != nil {
					return fmt.Errorf("trainer: committing episode: %w", err)
				}
				if tr.t > tr.cfg.LearningStarts && i%tr.cfg.LearningFreq == 0 && tr.buf.CanSample(tr.cfg.BatchSize) {
					if err := tr.tdUpdate(); err != nil {
						return err
					}
				}
			}
		} else {
			tr.logger.Debug().Str("outcome", info).Int("length", len(frames)).Msg("Episode discarded")
		}
		tr.finishEpisode(info)

		obs, err = tr.env.Reset()
		if err != nil {
			return fmt.Errorf("trainer: resetting environment: %w", err)
		}
		tr.maybeCheckpoint()
	}
	return nil
}

func (tr *Trainer) episodeAccepted(info string) bool {
	for _, accept := range tr.cfg.EpisodeAccept {
		if strings.EqualFold(accept, info) {
			return true
		}
	}
	return false
}

// historyDepth asks the buffer how deep stacks are; staged episodes must
// stack identically to buffer-encoded ones.
func (tr *Trainer) historyDepth() int {
	return tr.buf.FrameHistory()
}

func cloneFloats(s []float32) []float32 {
	out := make([]float32, len(s))
	copy(out, s)
	return out
}

// stackTail builds a stacked observation from the last h staged frames and
// goals, zero-padded on the left like the buffer's encoding.
func stackTail(frames, goals [][]float32, h int) ([]float32, []float32) {
	frameLen := len(frames[len(frames)-1])
	goalLen := len(goals[len(goals)-1])
	sf := make([]float32, h*frameLen)
	sg := make([]float32, h*goalLen)
	n := len(frames)
	for k := h - 1; k >= 0; k-- {
		src := n - (h - k)
		if src < 0 {
			break
		}
		copy(sf[k*frameLen:(k+1)*frameLen], frames[src])
		copy(sg[k*goalLen:(k+1)*goalLen], goals[src])
	}
	return sf, sg
}
