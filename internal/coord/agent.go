package coord

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/wire"
)

type AgentOptions struct {
	Name     string
	Params   Params
	Channel  Channel
	Rand     *rand.Rand
	Recorder Recorder
	Logger   *slog.Logger
	Clock    Clock
}

// Output is the motor command and sensor prediction for one tick.
type Output struct {
	Action     []float64
	Prediction []float64
}

// Agent evaluates whatever genome the master last broadcast and reports its
// score back.
type Agent struct {
	name   string
	params Params
	ch     Channel
	rec    Recorder
	log    *slog.Logger
	clock  Clock
	reasm  *wire.Reassembler

	state     State
	mutant    *agent.Individual
	helloSent bool
	evalID    int
	postEval  bool
	maxAge    int
	tick      int
	startAt   time.Time
}

func NewAgent(opts AgentOptions) (*Agent, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("channel is required")
	}
	if opts.Rand == nil {
		return nil, errors.New("random source is required")
	}
	mutant, err := agent.New(opts.Params.Individual, opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("create individual: %w", err)
	}
	a := &Agent{
		name:   opts.Name,
		params: opts.Params,
		ch:     opts.Channel,
		rec:    opts.Recorder,
		log:    opts.Logger,
		clock:  opts.Clock,
		reasm:  wire.NewReassembler(wire.DimensionsFor(opts.Params.Individual.Dimensions)),
		state:  Init,
		mutant: mutant,
		evalID: -1,
		maxAge: opts.Params.EvalTime,
		tick:   -1,
	}
	if a.rec == nil {
		a.rec = nopRecorder{}
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	a.log = a.log.With("role", "agent", "name", opts.Name)
	return a, nil
}

func (a *Agent) Name() string { return a.name }
func (a *Agent) State() State { return a.state }
func (a *Agent) EvalID() int { return a.evalID }
func (a *Agent) PostEval() bool { return a.postEval }
func (a *Agent) Tick() int { return a.tick }
func (a *Agent) Mutant() *agent.Individual { return a.mutant }

// Step consumes one sensor reading. ok is false when the caller should hold
// or stop the motors: before a genome arrived, before the start stamp, and on
// the tick that closes an evaluation window.
func (a *Agent) Step(sensor []float64) (out Output, ok bool, err error) {
	switch a.state {
	case Init:
		return Output{}, false, a.stepInit()
	case Wait:
		return Output{}, false, a.stepWait()
	case Run:
		return a.stepRun(sensor)
	case Stop:
		return Output{}, false, nil
	default:
		return Output{}, false, fmt.Errorf("%w: agent in %s", ErrUnhandledState, a.state)
	}
}

func (a *Agent) stepInit() error {
	if !a.helloSent {
		if err := a.ch.Send(wire.MustEncode(wire.Hello{Name: a.name})); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}
		a.helloSent = true
	}
	chunks := a.ch.Poll()
	if len(chunks) == 0 {
		return nil
	}
	a.reasm.Feed(chunks...)
	a.state = Wait
	a.log.Info("master contact")
	return nil
}

func (a *Agent) stepWait() error {
	a.reasm.Feed(a.ch.Poll()...)
	var latest *wire.Broadcast
	for {
		res := a.reasm.Next()
		if res.Kind == wire.Incomplete {
			break
		}
		if res.Kind == wire.Invalid {
			a.rec.InvalidFrame()
			a.log.Warn("invalid frame", "err", res.Err)
			continue
		}
		if b, ok := res.Message.(wire.Broadcast); ok {
			latest = &b
		}
	}
	if latest == nil {
		return nil
	}
	if err := a.mutant.Install(latest.Action, latest.Prediction); err != nil {
		a.log.Warn("rejected genome", "eval_id", latest.EvalID, "err", err)
		return nil
	}
	a.evalID = latest.EvalID
	a.postEval = latest.PostEval
	a.maxAge = a.params.EvalTime
	if a.postEval {
		a.maxAge = a.params.PostEvalTime
	}
	a.tick = -1
	a.startAt = fromUnixSeconds(latest.Stamp)
	a.state = Run
	a.log.Debug("installed genome", "eval_id", a.evalID, "post_eval", a.postEval, "start_at", a.startAt)
	return nil
}

func (a *Agent) stepRun(sensor []float64) (Output, bool, error) {
	if a.clock().Before(a.startAt) {
		return Output{}, false, nil
	}
	a.tick++
	if a.tick >= a.maxAge {
		return Output{}, false, a.finish(sensor)
	}
	if a.tick > 0 {
		if err := a.mutant.StoreSensor(sensor); err != nil {
			return Output{}, false, err
		}
	}
	action, err := a.mutant.Action(sensor)
	if err != nil {
		return Output{}, false, err
	}
	prediction, err := a.mutant.Predict(sensor)
	if err != nil {
		return Output{}, false, err
	}
	return Output{Action: action, Prediction: prediction}, true, nil
}

// finish closes the window. A failed evaluation sends nothing; the master
// will time out and re-broadcast.
func (a *Agent) finish(sensor []float64) error {
	a.tick = -1
	a.state = Wait
	if err := a.mutant.StoreSensor(sensor); err != nil {
		a.log.Error("evaluation abandoned", "eval_id", a.evalID, "err", err)
		return err
	}
	score, err := a.mutant.Evaluate()
	if err != nil {
		a.log.Error("evaluation abandoned", "eval_id", a.evalID, "err", err)
		return err
	}
	a.rec.AgentEvaluation(score)
	a.log.Info("evaluated", "eval_id", a.evalID, "score", score)
	frame, err := wire.Encode(wire.Report{EvalID: a.evalID, Score: score})
	if err != nil {
		return err
	}
	if err := a.ch.Send(frame); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
