package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Replay      ReplayConfig      `mapstructure:"replay"`
	Env         EnvConfig         `mapstructure:"env"`
	Exploration ExplorationConfig `mapstructure:"exploration"`
	Training    TrainingConfig    `mapstructure:"training"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ReplayConfig holds replay buffer settings
type ReplayConfig struct {
	Capacity     int   `mapstructure:"capacity"`
	FrameHistory int   `mapstructure:"frame_history"`
	Seed         int64 `mapstructure:"seed"`
}

// EnvConfig holds crowd simulator settings
type EnvConfig struct {
	FrameHeight     int     `mapstructure:"frame_height"`
	FrameWidth      int     `mapstructure:"frame_width"`
	NumPedestrians  int     `mapstructure:"num_pedestrians"`
	TimeStep        float64 `mapstructure:"time_step"`
	MaxEpisodeSteps int     `mapstructure:"max_episode_steps"`
	RewardShaping   bool    `mapstructure:"reward_shaping"`
	Seed            int64   `mapstructure:"seed"`
}

// ExplorationConfig holds the epsilon schedule settings. A decay_steps of
// zero selects a constant schedule pinned at end.
type ExplorationConfig struct {
	Start      float64 `mapstructure:"start"`
	End        float64 `mapstructure:"end"`
	DecaySteps int     `mapstructure:"decay_steps"`
}

// TrainingConfig holds training loop settings
type TrainingConfig struct {
	Mode             string   `mapstructure:"mode"`
	BatchSize        int      `mapstructure:"batch_size"`
	Gamma            float64  `mapstructure:"gamma"`
	LearningRate     float64  `mapstructure:"learning_rate"`
	LearningStarts   int      `mapstructure:"learning_starts"`
	LearningFreq     int      `mapstructure:"learning_freq"`
	TargetUpdateFreq int      `mapstructure:"target_update_freq"`
	NumTimesteps     int      `mapstructure:"num_timesteps"`
	LogEveryNSteps   int      `mapstructure:"log_every_n_steps"`
	EpisodeAccept    []string `mapstructure:"episode_accept"`
	Seed             int64    `mapstructure:"seed"`
}

// CheckpointConfig holds checkpoint output settings
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	// Global config instance
	cfg *Config
	v   *viper.Viper
)

// setViperDefaults sets all default values using Viper's SetDefault
func setViperDefaults(v *viper.Viper) {
	// Replay defaults
	v.SetDefault("replay.capacity", 100000)
	v.SetDefault("replay.frame_history", 4)
	v.SetDefault("replay.seed", 0)

	// Environment defaults
	v.SetDefault("env.frame_height", 84)
	v.SetDefault("env.frame_width", 84)
	v.SetDefault("env.num_pedestrians", 5)
	v.SetDefault("env.time_step", 0.25)
	v.SetDefault("env.max_episode_steps", 200)
	v.SetDefault("env.reward_shaping", true)
	v.SetDefault("env.seed", 0)

	// Exploration defaults
	v.SetDefault("exploration.start", 1.0)
	v.SetDefault("exploration.end", 0.1)
	v.SetDefault("exploration.decay_steps", 1000000)

	// Training defaults
	v.SetDefault("training.mode", "td")
	v.SetDefault("training.batch_size", 32)
	v.SetDefault("training.gamma", 0.9)
	v.SetDefault("training.learning_rate", 0.00025)
	v.SetDefault("training.learning_starts", 50000)
	v.SetDefault("training.learning_freq", 4)
	v.SetDefault("training.target_update_freq", 10000)
	v.SetDefault("training.num_timesteps", 2000000)
	v.SetDefault("training.log_every_n_steps", 10000)
	v.SetDefault("training.episode_accept", []string{"success", "collision"})
	v.SetDefault("training.seed", 0)

	// Checkpoint defaults
	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.dir", "data/output")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Init initializes the configuration
func Init(configPath string) error {
	v = viper.New()

	// Set defaults before loading any config
	setViperDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("VNAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// If we have a specific config path and it doesn't exist, that's ok - use defaults
		if configPath != "" {
			// Specific file requested but not found - that's ok, use defaults
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// For default locations, only ignore ConfigFileNotFoundError
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults
	}

	// Unmarshal into config struct
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		// Initialize with defaults if not already initialized
		if err := Init(""); err != nil {
			panic("failed to initialize config with defaults: " + err.Error())
		}
	}
	return cfg
}

// Set allows runtime config updates
func Set(key string, value interface{}) {
	v.Set(key, value)
	// Re-unmarshal to update struct
	v.Unmarshal(cfg)
}

// ConfigFilePath returns the path of the loaded config file
func ConfigFilePath() string {
	return v.ConfigFileUsed()
}

// WatchConfig enables hot-reloading of config file
func WatchConfig(onChange func()) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		// Re-unmarshal on change
		v.Unmarshal(cfg)
		if onChange != nil {
			onChange()
		}
	})
}

// Validate validates the configuration values
func Validate(c *Config) error {
	// Validate replay buffer settings
	if c.Replay.Capacity <= 0 {
		return fmt.Errorf("replay.capacity must be positive")
	}
	if c.Replay.FrameHistory <= 0 {
		return fmt.Errorf("replay.frame_history must be positive")
	}

	// Validate environment settings
	if c.Env.FrameHeight <= 0 || c.Env.FrameWidth <= 0 {
		return fmt.Errorf("env frame dimensions must be positive")
	}
	if c.Env.NumPedestrians < 0 {
		return fmt.Errorf("env.num_pedestrians must be non-negative")
	}
	if c.Env.TimeStep <= 0 {
		return fmt.Errorf("env.time_step must be positive")
	}
	if c.Env.MaxEpisodeSteps <= 0 {
		return fmt.Errorf("env.max_episode_steps must be positive")
	}

	// Validate exploration schedule
	if c.Exploration.Start < 0 || c.Exploration.Start > 1 {
		return fmt.Errorf("exploration.start must be between 0 and 1")
	}
	if c.Exploration.End < 0 || c.Exploration.End > 1 {
		return fmt.Errorf("exploration.end must be between 0 and 1")
	}
	if c.Exploration.DecaySteps < 0 {
		return fmt.Errorf("exploration.decay_steps must be non-negative")
	}

	// Validate training settings
	switch c.Training.Mode {
	case "td", "mc", "episode":
	default:
		return fmt.Errorf("training.mode must be one of td, mc, episode")
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive")
	}
	if c.Training.Gamma <= 0 || c.Training.Gamma > 1 {
		return fmt.Errorf("training.gamma must be in (0, 1]")
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive")
	}
	if c.Training.LearningStarts < 0 {
		return fmt.Errorf("training.learning_starts must be non-negative")
	}
	if c.Training.LearningFreq <= 0 {
		return fmt.Errorf("training.learning_freq must be positive")
	}
	if c.Training.TargetUpdateFreq <= 0 {
		return fmt.Errorf("training.target_update_freq must be positive")
	}
	if c.Training.NumTimesteps <= 0 {
		return fmt.Errorf("training.num_timesteps must be positive")
	}
	if c.Training.LogEveryNSteps <= 0 {
		return fmt.Errorf("training.log_every_n_steps must be positive")
	}
	if c.Training.Mode == "episode" && len(c.Training.EpisodeAccept) == 0 {
		return fmt.Errorf("training.episode_accept must not be empty in episode mode")
	}

	// Validate checkpoint settings
	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir must be set when checkpointing is enabled")
	}

	return nil
}
