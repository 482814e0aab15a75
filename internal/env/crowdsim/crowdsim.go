// Package crowdsim is a small overhead navigation simulator: a robot crosses
// a square world to a fixed goal while pedestrians drift through it. Each
// step renders an overhead grayscale frame and reports the goal position in
// the robot frame, which together form the observation.
package crowdsim

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"github.com/vita-epfl/VisualNav/internal/common"
	"github.com/vita-epfl/VisualNav/internal/env"
)

// ErrEpisodeOver is returned by Step after a terminal transition; callers
// must Reset first.
var ErrEpisodeOver = errors.New("crowdsim: episode is over")

// Terminal outcome values reported in StepResult.Info.
const (
	InfoSuccess   = "success"
	InfoCollision = "collision"
	InfoOvertime  = "overtime"
)

const (
	worldSize   = 10.0 // meters per side
	renderScale = 16   // pixels per meter in the pre-downscale render
	robotRadius = 0.3
	pedRadius   = 0.3
	goalRadius  = 0.5
	pedSpeedMax = 1.0
)

// Config holds simulator settings.
type Config struct {
	FrameHeight     int
	FrameWidth      int
	NumPedestrians  int
	TimeStep        float64 // seconds of simulated time per step
	MaxEpisodeSteps int
	RewardShaping   bool
	Seed            int64 // 0 means seed from the clock
}

// DefaultConfig returns the settings used by the training CLI defaults.
func DefaultConfig() Config {
	return Config{
		FrameHeight:     84,
		FrameWidth:      84,
		NumPedestrians:  5,
		TimeStep:        0.25,
		MaxEpisodeSteps: 200,
		RewardShaping:   true,
	}
}

type pedestrian struct {
	x, y   float64
	vx, vy float64
}

type action struct {
	speed    float64
	rotation float64
}

// Sim implements env.Environment.
type Sim struct {
	cfg     Config
	actions []action
	rng     *rand.Rand
	logger  zerolog.Logger

	robotX, robotY float64
	heading        float64
	goalX, goalY   float64
	peds           []pedestrian

	steps    int
	done     bool
	prevDist float64

	world *image.Gray // full-resolution render target, reused across steps
	frame *image.Gray // downscaled observation, reused across steps
}

// New creates a simulator. The discrete action set is the cross product of
// three speeds and three heading deltas.
func New(cfg Config, logger zerolog.Logger) (*Sim, error) {
	if cfg.FrameHeight <= 0 || cfg.FrameWidth <= 0 {
		return nil, fmt.Errorf("crowdsim: frame shape must be positive, got %dx%d", cfg.FrameHeight, cfg.FrameWidth)
	}
	if cfg.TimeStep <= 0 {
		return nil, fmt.Errorf("crowdsim: time step must be positive, got %v", cfg.TimeStep)
	}
	if cfg.MaxEpisodeSteps <= 0 {
		return nil, fmt.Errorf("crowdsim: max episode steps must be positive, got %d", cfg.MaxEpisodeSteps)
	}
	if cfg.NumPedestrians < 0 {
		return nil, fmt.Errorf("crowdsim: pedestrian count must be non-negative, got %d", cfg.NumPedestrians)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var actions []action
	for _, speed := range []float64{0.25, 0.5, 1.0} {
		for _, rot := range []float64{-math.Pi / 4, 0, math.Pi / 4} {
			actions = append(actions, action{speed: speed, rotation: rot})
		}
	}

	worldPx := int(worldSize * renderScale)
	s := &Sim{
		cfg:     cfg,
		actions: actions,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logger.With().Str("component", "crowdsim").Logger(),
		peds:    make([]pedestrian, cfg.NumPedestrians),
		world:   image.NewGray(image.Rect(0, 0, worldPx, worldPx)),
		frame:   image.NewGray(image.Rect(0, 0, cfg.FrameWidth, cfg.FrameHeight)),
	}
	return s, nil
}

// Reset starts a new episode and returns the first observation.
func (s *Sim) Reset() (env.Observation, error) {
	s.robotX = worldSize / 2
	s.robotY = 0.5
	s.heading = math.Pi / 2 // facing the goal side
	s.goalX = worldSize / 2
	s.goalY = worldSize - 0.5

	for i := range s.peds {
		s.peds[i] = pedestrian{
			x:  1 + s.rng.Float64()*(worldSize-2),
			y:  2 + s.rng.Float64()*(worldSize-4), // keep spawn clear of start and goal
			vx: (s.rng.Float64()*2 - 1) * pedSpeedMax,
			vy: (s.rng.Float64()*2 - 1) * pedSpeedMax,
		}
	}
	s.steps = 0
	s.done = false
	s.prevDist = s.goalDist()
	return s.observe(), nil
}

// Step advances the world by one time step.
func (s *Sim) Step(a int) (env.StepResult, error) {
	if s.done {
		return env.StepResult{}, ErrEpisodeOver
	}
	if a < 0 || a >= len(s.actions) {
		return env.StepResult{}, fmt.Errorf("crowdsim: action %d out of range [0, %d)", a, len(s.actions))
	}

	act := s.actions[a]
	s.heading += act.rotation
	s.robotX = common.Clamp(s.robotX+act.speed*math.Cos(s.heading)*s.cfg.TimeStep, robotRadius, worldSize-robotRadius)
	s.robotY = common.Clamp(s.robotY+act.speed*math.Sin(s.heading)*s.cfg.TimeStep, robotRadius, worldSize-robotRadius)

	for i := range s.peds {
		p := &s.peds[i]
		p.x += p.vx * s.cfg.TimeStep
		p.y += p.vy * s.cfg.TimeStep
		if p.x < pedRadius || p.x > worldSize-pedRadius {
			p.vx = -p.vx
			p.x = common.Clamp(p.x, pedRadius, worldSize-pedRadius)
		}
		if p.y < pedRadius || p.y > worldSize-pedRadius {
			p.vy = -p.vy
			p.y = common.Clamp(p.y, pedRadius, worldSize-pedRadius)
		}
	}
	s.steps++

	res := env.StepResult{Obs: s.observe()}
	dist := s.goalDist()
	switch {
	case s.collided():
		res.Reward = -0.25
		res.Done = true
		res.Info = InfoCollision
	case dist < goalRadius:
		res.Reward = 1.0
		res.Done = true
		res.Info = InfoSuccess
	case s.steps >= s.cfg.MaxEpisodeSteps:
		res.Done = true
		res.Info = InfoOvertime
	default:
		if s.cfg.RewardShaping {
			res.Reward = float32(0.1 * (s.prevDist - dist))
		}
	}
	s.prevDist = dist
	s.done = res.Done
	return res, nil
}

// FrameShape returns the observation frame dimensions.
func (s *Sim) FrameShape() (int, int, int) {
	return s.cfg.FrameHeight, s.cfg.FrameWidth, 1
}

// GoalDim returns the goal vector length.
func (s *Sim) GoalDim() int {
	return 2
}

// NumActions returns the discrete action count.
func (s *Sim) NumActions() int {
	return len(s.actions)
}

// TimeStep returns the simulated duration of one step.
func (s *Sim) TimeStep() float64 {
	return s.cfg.TimeStep
}

func (s *Sim) goalDist() float64 {
	return math.Hypot(s.goalX-s.robotX, s.goalY-s.robotY)
}

func (s *Sim) collided() bool {
	for i := range s.peds {
		if math.Hypot(s.peds[i].x-s.robotX, s.peds[i].y-s.robotY) < robotRadius+pedRadius {
			return true
		}
	}
	return false
}

// observe renders the overhead frame and computes the robot-frame goal
// vector. The goal vector is normalized by the world size.
func (s *Sim) observe() env.Observation {
	for i := range s.world.Pix {
		s.world.Pix[i] = 0
	}
	fillCircle(s.world, s.goalX, s.goalY, goalRadius, 64)
	for i := range s.peds {
		fillCircle(s.world, s.peds[i].x, s.peds[i].y, pedRadius, 128)
	}
	fillCircle(s.world, s.robotX, s.robotY, robotRadius, 255)

	xdraw.ApproxBiLinear.Scale(s.frame, s.frame.Bounds(), s.world, s.world.Bounds(), xdraw.Src, nil)

	frame := make([]float32, s.cfg.FrameHeight*s.cfg.FrameWidth)
	for i, p := range s.frame.Pix {
		frame[i] = float32(p) / 255.0
	}

	dx := (s.goalX - s.robotX) / worldSize
	dy := (s.goalY - s.robotY) / worldSize
	sin, cos := math.Sincos(s.heading)
	goal := []float32{
		float32(dx*cos + dy*sin),
		float32(-dx*sin + dy*cos),
	}
	return env.Observation{Frame: frame, Goal: goal}
}

func fillCircle(img *image.Gray, cx, cy, r float64, v uint8) {
	pcx, pcy, pr := cx*renderScale, cy*renderScale, r*renderScale
	x0 := int(pcx - pr)
	x1 := int(pcx + pr)
	y0 := int(pcy - pr)
	y1 := int(pcy + pr)
	b := img.Bounds()
	for y := max(y0, b.Min.Y); y <= min(y1, b.Max.Y-1); y++ {
		for x := max(x0, b.Min.X); x <= min(x1, b.Max.X-1); x++ {
			dx := float64(x) - pcx
			dy := float64(y) - pcy
			if dx*dx+dy*dy <= pr*pr {
				img.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
}
