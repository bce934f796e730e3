package surprise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/arena"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/controller"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/metrics"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/transport"
)

// simulation is a master and its agents sharing one memory hub, one arena
// and one simulated clock.
type simulation struct {
	master   *coord.Master
	mc       *controller.MasterController
	agents   []*controller.AgentController
	names    []string
	predLogs []*stats.PredLog
	traj     *stats.TrajectoryLog
	field    *arena.Arena
	log      *slog.Logger

	period time.Duration
	now    time.Time
	ticks  int
}

func (s *simulation) clock() time.Time { return s.now }

func (c *Client) buildSim(params coord.Params, seed int64, field *arena.Arena, run *runLog, collector *metrics.Collector, log *slog.Logger) (*simulation, error) {
	s := &simulation{
		field:  field,
		log:    log,
		period: c.cfg.Coordination.Period,
		now:    time.Now(),
	}
	hub := transport.NewHub(transport.HubOptions{FragmentSize: c.cfg.Transport.FragmentSize})

	masterCh := hub.Master()
	master, err := coord.NewMaster(coord.MasterOptions{
		RunID:    run.params.RunID,
		Params:   params,
		Channel:  masterCh,
		Rand:     rand.New(rand.NewSource(seed + 1)),
		KingLog:  coord.KingLogs{run.results, c.store},
		Listener: run.observe,
		Recorder: collector,
		Logger:   log,
		Clock:    s.clock,
	})
	if err != nil {
		return nil, err
	}
	mc, err := controller.NewMasterController(controller.MasterOptions{Master: master, Channel: masterCh, Logger: log})
	if err != nil {
		return nil, err
	}
	s.master, s.mc = master, mc

	for i := 0; i < field.Len(); i++ {
		name := fmt.Sprintf("sim-%02d", i+1)
		ch := hub.Agent(name)
		ag, err := coord.NewAgent(coord.AgentOptions{
			Name:     name,
			Params:   params,
			Channel:  ch,
			Rand:     rand.New(rand.NewSource(seed + int64(i) + 2)),
			Recorder: collector,
			Logger:   log,
			Clock:    s.clock,
		})
		if err != nil {
			return nil, errors.Join(err, s.shutdown())
		}
		var predLog *stats.PredLog
		if c.cfg.Results.PredLog {
			if predLog, err = stats.OpenPredLog(run.results.Dir(), name); err != nil {
				return nil, errors.Join(err, s.shutdown())
			}
			s.predLogs = append(s.predLogs, predLog)
		}
		robot := field.Robot(i)
		ac, err := controller.NewAgentController(controller.AgentOptions{
			Agent:      ag,
			Channel:    ch,
			Sensors:    robot,
			Drive:      robot,
			Limits:     c.cfg.Arena.Limits,
			Protection: c.cfg.Robot.Protection,
			PredLog:    predLog,
			Logger:     log,
		})
		if err != nil {
			return nil, errors.Join(err, s.shutdown())
		}
		s.agents = append(s.agents, ac)
		s.names = append(s.names, name)
	}

	if c.cfg.Results.Trajectory {
		if s.traj, err = run.results.OpenTrajectory(); err != nil {
			return nil, errors.Join(err, s.shutdown())
		}
	}
	return s, nil
}

// loop ticks master, agents and arena in that order until the master stops.
// replace runs once, on the first tick the master is in post-evaluation.
func (s *simulation) loop(ctx context.Context, maxTicks int, replace func() error) error {
	placed := false
	for s.master.State() != coord.Stop {
		if maxTicks > 0 && s.ticks >= maxTicks {
			s.log.Warn("tick budget exhausted", "ticks", s.ticks, "eval_id", s.master.EvalCount())
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mc.Tick(ctx); err != nil {
			s.log.Warn("master tick failed", "tick", s.ticks, "err", err)
		}
		if s.master.PostEval() && !placed {
			if err := replace(); err != nil {
				return fmt.Errorf("post-eval placement: %w", err)
			}
			placed = true
		}
		for _, ac := range s.agents {
			if err := ac.Tick(ctx); err != nil {
				s.log.Debug("agent tick failed", "tick", s.ticks, "err", err)
			}
		}
		s.field.Step()
		if placed {
			s.logTrajectory()
		}
		s.ticks++
		s.now = s.now.Add(s.period)
	}
	return nil
}

func (s *simulation) logTrajectory() {
	if s.traj == nil {
		return
	}
	poses := s.field.Poses()
	rows := make([]stats.TrajectoryRow, len(poses))
	for i, p := range poses {
		rows[i] = stats.TrajectoryRow{Tick: s.ticks, Robot: s.names[i], X: p.X, Y: p.Y, Heading: p.Heading}
	}
	if err := s.traj.Append(rows...); err != nil {
		s.log.Warn("trajectory write failed", "tick", s.ticks, "err", err)
	}
}

func (s *simulation) protected() int {
	total := 0
	for _, ac := range s.agents {
		total += ac.Protected()
	}
	return total
}

// shutdown stops every robot, closes the hub endpoints and flushes the logs.
func (s *simulation) shutdown() error {
	var errs []error
	for _, ac := range s.agents {
		errs = append(errs, ac.Shutdown())
	}
	if s.mc != nil {
		errs = append(errs, s.mc.Shutdown())
	}
	for _, l := range s.predLogs {
		errs = append(errs, l.Close())
	}
	if s.traj != nil {
		errs = append(errs, s.traj.Close())
	}
	return errors.Join(errs...)
}
