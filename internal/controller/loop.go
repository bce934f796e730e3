package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
)

// DefaultPeriod is the control period of the Thymio loop.
const DefaultPeriod = 100 * time.Millisecond

type AgentOptions struct {
	Agent      *coord.Agent
	Channel    coord.Channel
	Sensors    robotio.SensorArray
	Drive      robotio.Drive
	Limits     robotio.Limits
	Protection ProtectionConfig
	// PredLog receives one row per post-evaluation tick. Optional.
	PredLog *stats.PredLog
	Logger  *slog.Logger
}

// AgentController moves one robot with the genome its coordinator is
// evaluating.
type AgentController struct {
	opts      AgentOptions
	log       *slog.Logger
	protected int
	ticks     int
}

func NewAgentController(opts AgentOptions) (*AgentController, error) {
	if opts.Agent == nil {
		return nil, errors.New("agent coordinator is required")
	}
	if opts.Sensors == nil || opts.Drive == nil {
		return nil, errors.New("sensors and drive are required")
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AgentController{
		opts: opts,
		log:  opts.Logger.With("role", "agent-controller", "name", opts.Agent.Name()),
	}, nil
}

// Protected counts the ticks where hardware protection overrode the network.
func (c *AgentController) Protected() int { return c.protected }

func (c *AgentController) Ticks() int { return c.ticks }

// Tick runs one control period. Coordinator errors are returned after the
// motors have been stopped; the caller may keep ticking.
func (c *AgentController) Tick(ctx context.Context) error {
	c.ticks++
	sensors, err := c.opts.Sensors.Read(ctx)
	if err != nil {
		return errors.Join(err, c.stop(ctx))
	}
	out, ok, stepErr := c.opts.Agent.Step(sensors)
	if !ok {
		return errors.Join(stepErr, c.stop(ctx))
	}

	left, right, err := c.opts.Limits.Motors(out.Action)
	if err != nil {
		return errors.Join(err, c.stop(ctx))
	}
	appliedL, appliedR, protected := Protect(left, right, sensors, c.opts.Protection)
	if protected {
		c.protected++
	}
	if err := c.opts.Drive.Write(ctx, appliedL, appliedR); err != nil {
		return err
	}

	if c.opts.PredLog != nil && c.opts.Agent.PostEval() {
		err := c.opts.PredLog.Append(stats.PredRow{
			Agent:       c.opts.Agent.Name(),
			EvalID:      c.opts.Agent.EvalID(),
			Tick:        c.opts.Agent.Tick(),
			Protected:   protected,
			Predictions: stats.Vector(out.Prediction),
			Sensors:     stats.Vector(sensors),
			Selected:    stats.Vector{left, right},
			Applied:     stats.Vector{appliedL, appliedR},
		})
		if err != nil {
			c.log.Warn("pred log write failed", "err", err)
		}
	}
	return stepErr
}

func (c *AgentController) stop(ctx context.Context) error {
	return c.opts.Drive.Write(ctx, 0, 0)
}

// Run ticks every period until ctx is cancelled, then stops the motors and
// closes the channel. Tick errors are logged and do not end the loop.
func (c *AgentController) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.Shutdown()
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("tick failed", "tick", c.ticks, "err", err)
			}
		}
	}
}

// Shutdown writes a final stop command and closes the channel.
func (c *AgentController) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.stop(ctx)
	if c.opts.Channel != nil {
		err = errors.Join(err, c.opts.Channel.Close())
	}
	c.log.Info("agent stopped", "ticks", c.ticks, "protected", c.protected)
	return err
}

type MasterOptions struct {
	Master  *coord.Master
	Channel coord.Channel
	Logger  *slog.Logger
}

type MasterController struct {
	opts  MasterOptions
	log   *slog.Logger
	ticks int
}

func NewMasterController(opts MasterOptions) (*MasterController, error) {
	if opts.Master == nil {
		return nil, errors.New("master coordinator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MasterController{opts: opts, log: opts.Logger.With("role", "master-controller")}, nil
}

func (c *MasterController) Ticks() int { return c.ticks }

func (c *MasterController) Tick(ctx context.Context) error {
	c.ticks++
	return c.opts.Master.Tick(ctx)
}

// Run ticks until the master reaches Stop or ctx is cancelled, then closes
// the channel.
func (c *MasterController) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for c.opts.Master.State() != coord.Stop {
		select {
		case <-ctx.Done():
			return c.Shutdown()
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("tick failed", "tick", c.ticks, "eval_id", c.opts.Master.EvalCount(), "err", err)
			}
		}
	}
	c.log.Info("evolution complete", "ticks", c.ticks, "score_king", c.opts.Master.ScoreKing())
	return c.Shutdown()
}

func (c *MasterController) Shutdown() error {
	if c.opts.Channel == nil {
		return nil
	}
	return c.opts.Channel.Close()
}
