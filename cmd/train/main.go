package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vita-epfl/VisualNav/internal/checkpoint"
	"github.com/vita-epfl/VisualNav/internal/config"
	"github.com/vita-epfl/VisualNav/internal/env/crowdsim"
	"github.com/vita-epfl/VisualNav/internal/qfunc"
	"github.com/vita-epfl/VisualNav/internal/replay"
	"github.com/vita-epfl/VisualNav/internal/schedule"
	"github.com/vita-epfl/VisualNav/internal/trainer"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error) (empty to use config default)")
	mode := flag.String("mode", "", "Update mode (td, mc, episode) (empty to use config default)")
	numTimesteps := flag.Int("num-timesteps", -1, "Total environment steps (-1 to use config default)")
	checkpointDir := flag.String("checkpoint-dir", "", "Checkpoint output directory (empty to use config default)")
	seed := flag.Int64("seed", 0, "Seed for all components (0 to use config defaults)")
	resume := flag.Bool("resume", false, "Load saved weights (and buffer snapshot if present) from the checkpoint directory before training")
	evalEpisodes := flag.Int("eval-episodes", 0, "Run N greedy evaluation episodes with saved weights instead of training")
	flag.Parse()

	// Initialize configuration
	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}

	cfg := config.Get()

	// Use config defaults if not overridden by flags
	if *logLevel == "" {
		*logLevel = cfg.Logging.Level
	}
	if *mode == "" {
		*mode = cfg.Training.Mode
	}
	if *numTimesteps == -1 {
		*numTimesteps = cfg.Training.NumTimesteps
	}
	if *checkpointDir == "" {
		*checkpointDir = cfg.Checkpoint.Dir
	}
	replaySeed := cfg.Replay.Seed
	envSeed := cfg.Env.Seed
	trainSeed := cfg.Training.Seed
	if *seed != 0 {
		replaySeed, envSeed, trainSeed = *seed, *seed+1, *seed+2
	}

	// Setup logging
	setupLogging(*logLevel, cfg.Logging.Format)

	updateMode, err := trainer.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid update mode")
	}

	log.Info().
		Str("mode", *mode).
		Int("num_timesteps", *numTimesteps).
		Int("replay_capacity", cfg.Replay.Capacity).
		Int("frame_history", cfg.Replay.FrameHistory).
		Msg("Starting visual navigation training")

	sim, err := crowdsim.New(crowdsim.Config{
		FrameHeight:     cfg.Env.FrameHeight,
		FrameWidth:      cfg.Env.FrameWidth,
		NumPedestrians:  cfg.Env.NumPedestrians,
		TimeStep:        cfg.Env.TimeStep,
		MaxEpisodeSteps: cfg.Env.MaxEpisodeSteps,
		RewardShaping:   cfg.Env.RewardShaping,
		Seed:            envSeed,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create environment")
	}

	// The buffer is sized from the environment's observation space. A resumed
	// run restores the previous run's buffer snapshot when one exists.
	h, w, c := sim.FrameShape()
	snapshotPath := filepath.Join(*checkpointDir, "replay.gob")
	var buf *replay.Buffer
	if *resume {
		if f, err := os.Open(snapshotPath); err == nil {
			buf, err = replay.ReadSnapshot(f, log.Logger)
			f.Close()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to restore buffer snapshot")
			}
		}
	}
	if buf == nil {
		buf, err = replay.New(replay.Config{
			Capacity:      cfg.Replay.Capacity,
			FrameHistory:  cfg.Replay.FrameHistory,
			FrameHeight:   h,
			FrameWidth:    w,
			FrameChannels: c,
			GoalDim:       sim.GoalDim(),
			Seed:          replaySeed,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create replay buffer")
		}
	}

	// Live and target estimators take stacked observations as input.
	frameLen := cfg.Replay.FrameHistory * h * w * c
	goalLen := cfg.Replay.FrameHistory * sim.GoalDim()
	live, err := qfunc.NewLinear(frameLen, goalLen, sim.NumActions(), cfg.Training.LearningRate, trainSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create live estimator")
	}
	target, err := qfunc.NewLinear(frameLen, goalLen, sim.NumActions(), cfg.Training.LearningRate, trainSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create target estimator")
	}
	pair, err := qfunc.NewPair(live, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create estimator pair")
	}

	// Resumed and evaluation runs start from the saved weights.
	if *resume || *evalEpisodes > 0 {
		step, params, err := checkpoint.ReadWeights(*checkpointDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", *checkpointDir).Msg("Failed to load saved weights")
		}
		if err := live.SetParameters(params); err != nil {
			log.Fatal().Err(err).Msg("Failed to restore weights")
		}
		if err := pair.SyncTarget(); err != nil {
			log.Fatal().Err(err).Msg("Failed to sync restored weights")
		}
		log.Info().Int("saved_at_step", step).Int("params", len(params)).Msg("Restored weights from checkpoint")
	}

	var sched schedule.Schedule
	if cfg.Exploration.DecaySteps == 0 {
		sched, err = schedule.NewConstant(cfg.Exploration.End)
	} else {
		sched, err = schedule.NewLinear(cfg.Exploration.DecaySteps, cfg.Exploration.End, cfg.Exploration.Start)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exploration schedule")
	}

	var sink checkpoint.Sink = checkpoint.NopSink{}
	if cfg.Checkpoint.Enabled && *evalEpisodes == 0 {
		fs, err := checkpoint.NewFileSink(*checkpointDir, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create checkpoint sink")
		}
		defer fs.Close()
		sink = fs
	}

	tr, err := trainer.New(trainer.Config{
		BatchSize:        cfg.Training.BatchSize,
		Gamma:            cfg.Training.Gamma,
		LearningStarts:   cfg.Training.LearningStarts,
		LearningFreq:     cfg.Training.LearningFreq,
		TargetUpdateFreq: cfg.Training.TargetUpdateFreq,
		NumTimesteps:     *numTimesteps,
		LogEveryNSteps:   cfg.Training.LogEveryNSteps,
		Mode:             updateMode,
		EpisodeAccept:    cfg.Training.EpisodeAccept,
		Seed:             trainSeed,
	}, sim, buf, pair, sched, sink, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trainer")
	}

	if *evalEpisodes > 0 {
		if err := tr.Evaluate(*evalEpisodes); err != nil {
			log.Fatal().Err(err).Str("run_id", tr.RunID()).Msg("Evaluation failed")
		}
		return
	}

	if err := tr.Run(); err != nil {
		log.Fatal().Err(err).Str("run_id", tr.RunID()).Msg("Training run failed")
	}

	// Persist the buffer so a later -resume can pick up where this run left
	// off.
	if cfg.Checkpoint.Enabled {
		f, err := os.Create(snapshotPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create buffer snapshot file")
			return
		}
		if err := buf.WriteSnapshot(f); err != nil {
			log.Error().Err(err).Msg("Failed to write buffer snapshot")
		}
		f.Close()
	}
}

func setupLogging(level, format string) {
	// Parse log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	if format == "json" {
		// JSON output for long unattended runs
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}
