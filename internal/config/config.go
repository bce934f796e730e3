// Package config loads swarm configuration from YAML layered over embedded
// defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/arena"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/controller"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidConfig = errors.New("invalid config")

const (
	TransportMemory    = "memory"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

type Config struct {
	Seed         int64                 `yaml:"seed"`
	Evolution    EvolutionConfig       `yaml:"evolution"`
	Network      NetworkConfig         `yaml:"network"`
	Coordination CoordinationConfig    `yaml:"coordination"`
	Transport    TransportConfig       `yaml:"transport"`
	Robot        RobotConfig           `yaml:"robot"`
	Arena        arena.Config          `yaml:"arena"`
	Placement    arena.PlacementConfig `yaml:"placement"`
	Results      ResultsConfig         `yaml:"results"`
	Storage      StorageConfig         `yaml:"storage"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	Logging      LoggingConfig         `yaml:"logging"`
}

type EvolutionConfig struct {
	Evals        int     `yaml:"evals"`
	EvalTime     int     `yaml:"eval_time"`
	PostEvalTime int     `yaml:"post_eval_time"`
	ReEvalProb   float64 `yaml:"re_eval_prob"`
	ReEvalWeight float64 `yaml:"re_eval_weight"`
	MutationRate float64 `yaml:"mutation_rate"`
}

type NetworkConfig struct {
	Dimensions           model.Dimensions `yaml:"dimensions"`
	ActionActivation     string           `yaml:"action_activation"`
	PredictionActivation string           `yaml:"prediction_activation"`
}

// CoordinationConfig: Robots is the quorum of reports that closes a
// generation.
type CoordinationConfig struct {
	Robots           int           `yaml:"robots"`
	GraceTicks       int           `yaml:"grace_ticks"`
	InitDelayTicks   int           `yaml:"init_delay_ticks"`
	InitTimeoutTicks int           `yaml:"init_timeout_ticks"`
	StartDelay       time.Duration `yaml:"start_delay"`
	Period           time.Duration `yaml:"period"`
}

type TransportConfig struct {
	Kind         string `yaml:"kind"`
	Listen       string `yaml:"listen"`
	Master       string `yaml:"master"`
	WSPath       string `yaml:"ws_path"`
	FragmentSize int    `yaml:"fragment_size"`
}

type RobotConfig struct {
	Name       string                      `yaml:"name"`
	Sensor     string                      `yaml:"sensor"`
	Drive      string                      `yaml:"drive"`
	Limits     robotio.Limits              `yaml:"limits"`
	Protection controller.ProtectionConfig `yaml:"protection"`
}

type ResultsConfig struct {
	Dir        string `yaml:"dir"`
	PredLog    bool   `yaml:"pred_log"`
	Trajectory bool   `yaml:"trajectory"`
}

type StorageConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// MetricsConfig: an empty Listen disables the /metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Parse overlays data on the embedded defaults. Only keys present in data
// change.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return cfg, nil
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.Coordination.Period <= 0 {
		return fmt.Errorf("%w: period must be positive", ErrInvalidConfig)
	}
	switch c.Transport.Kind {
	case TransportMemory, TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if c.Transport.FragmentSize < 0 {
		return fmt.Errorf("%w: fragment size must be >= 0", ErrInvalidConfig)
	}
	if err := c.Robot.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: robot: %v", ErrInvalidConfig, err)
	}
	if err := c.Arena.Validate(); err != nil {
		return err
	}
	if _, err := c.Logging.level(); err != nil {
		return err
	}
	return nil
}

// Params maps the evolution and coordination sections onto coordinator
// parameters.
func (c *Config) Params() coord.Params {
	return coord.Params{
		Evals:            c.Evolution.Evals,
		EvalTime:         c.Evolution.EvalTime,
		PostEvalTime:     c.Evolution.PostEvalTime,
		ReEvalProb:       c.Evolution.ReEvalProb,
		ReEvalWeight:     c.Evolution.ReEvalWeight,
		MutationRate:     c.Evolution.MutationRate,
		Quorum:           c.Coordination.Robots,
		GraceTicks:       c.Coordination.GraceTicks,
		InitDelayTicks:   c.Coordination.InitDelayTicks,
		InitTimeoutTicks: c.Coordination.InitTimeoutTicks,
		StartDelay:       c.Coordination.StartDelay,
		Individual: agent.Config{
			Dimensions:           c.Network.Dimensions,
			ActionActivation:     c.Network.ActionActivation,
			PredictionActivation: c.Network.PredictionActivation,
		},
	}
}

func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return enc.Close()
}

func (c *Config) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := c.WriteYAML(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("%w: log level %q", ErrInvalidConfig, l.Level)
	}
	return level, nil
}

// Logger builds the process logger: JSON or text on w at the configured
// level.
func (l LoggingConfig) Logger(w io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
