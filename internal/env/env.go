// Package env defines the environment contract consumed by the training
// driver. Environments are trusted collaborators: step failures are fatal to
// a run and are not retried.
package env

// Observation is a single raw frame plus the goal vector sampled at the same
// timestep. Frames are row-major height x width x channels, values in [0, 1].
type Observation struct {
	Frame []float32
	Goal  []float32
}

// StepResult is everything an environment returns for one action.
type StepResult struct {
	Obs    Observation
	Reward float32
	Done   bool
	// Info describes the terminal outcome ("success", "collision",
	// "overtime") and is empty for non-terminal steps.
	Info string
}

// Environment is the contract between the simulator and the training driver.
// Introspection methods are queried once at setup to size the replay buffer
// and the value function.
type Environment interface {
	Reset() (Observation, error)
	Step(action int) (StepResult, error)

	FrameShape() (height, width, channels int)
	GoalDim() int
	NumActions() int
	// TimeStep is the physical duration of one step in seconds, used to
	// scale the discount factor.
	TimeStep() float64
}
