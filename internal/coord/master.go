package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/wire"
)

type MasterOptions struct {
	RunID    string
	Params   Params
	Channel  Channel
	Rand     *rand.Rand
	KingLog  KingLog
	Listener Listener
	Recorder Recorder
	Logger   *slog.Logger
	Clock    Clock
}

// Master runs the 1+1 evolution: it broadcasts the mutant, collects one score
// per agent, and promotes or discards the mutant.
type Master struct {
	runID    string
	params   Params
	ch       Channel
	rng      *rand.Rand
	kingLog  KingLog
	listener Listener
	rec      Recorder
	log      *slog.Logger
	clock    Clock
	reasm    *wire.Reassembler

	state     State
	king      *agent.Individual
	mutant    *agent.Individual
	scoreKing float64
	scoreTemp float64
	hasTemp   bool
	evalCount int
	postEval  bool
	maxAge    int
	tick      int
	scores    []float64

	contacts  map[string]struct{}
	initTicks int
	delayLeft int
	current   wire.Broadcast
}

func NewMaster(opts MasterOptions) (*Master, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Channel == nil {
		return nil, errors.New("channel is required")
	}
	if opts.Rand == nil {
		return nil, errors.New("random source is required")
	}
	king, err := agent.New(opts.Params.Individual, opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("create king: %w", err)
	}
	mutant, err := king.Mutate(opts.Params.MutationRate, opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("create mutant: %w", err)
	}
	m := &Master{
		runID:     opts.RunID,
		params:    opts.Params,
		ch:        opts.Channel,
		rng:       opts.Rand,
		kingLog:   opts.KingLog,
		listener:  opts.Listener,
		rec:       opts.Recorder,
		log:       opts.Logger,
		clock:     opts.Clock,
		reasm:     wire.NewReassembler(wire.DimensionsFor(opts.Params.Individual.Dimensions)),
		state:     Init,
		king:      king,
		mutant:    mutant,
		maxAge:    opts.Params.EvalTime,
		contacts:  make(map[string]struct{}),
		delayLeft: opts.Params.InitDelayTicks,
	}
	if m.rec == nil {
		m.rec = nopRecorder{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	m.log = m.log.With("role", "master")
	return m, nil
}

func (m *Master) State() State { return m.state }
func (m *Master) EvalCount() int { return m.evalCount }
func (m *Master) ScoreKing() float64 { return m.scoreKing }
func (m *Master) PostEval() bool { return m.postEval }
func (m *Master) King() *agent.Individual { return m.king }
func (m *Master) Contacts() int { return len(m.contacts) }

// Outstanding is the last broadcast sent.
func (m *Master) Outstanding() wire.Broadcast { return m.current }

// Tick advances the master by one control period. It never blocks.
func (m *Master) Tick(ctx context.Context) error {
	switch m.state {
	case Init:
		return m.tickInit(ctx)
	case Wait, WaitPuffer:
		return m.tickWait(ctx)
	case Stop:
		return nil
	default:
		return fmt.Errorf("%w: master in %s", ErrUnhandledState, m.state)
	}
}

func (m *Master) poll() []wire.Message {
	m.reasm.Feed(m.ch.Poll()...)
	msgs, invalid := m.reasm.Drain()
	for i := 0; i < invalid; i++ {
		m.rec.InvalidFrame()
	}
	if invalid > 0 {
		m.log.Warn("dropped invalid frames", "count", invalid)
	}
	return msgs
}

func (m *Master) tickInit(ctx context.Context) error {
	m.initTicks++
	for _, msg := range m.poll() {
		if hello, ok := msg.(wire.Hello); ok {
			if _, seen := m.contacts[hello.Name]; !seen {
				m.contacts[hello.Name] = struct{}{}
				m.log.Info("agent contact", "name", hello.Name, "contacts", len(m.contacts), "quorum", m.params.Quorum)
			}
		}
	}

	ready := false
	if len(m.contacts) >= m.params.Quorum {
		if m.delayLeft <= 0 {
			ready = true
		}
		m.delayLeft--
	}
	if m.params.InitTimeoutTicks > 0 && m.initTicks >= m.params.InitTimeoutTicks {
		m.log.Warn("init timeout, starting without quorum", "contacts", len(m.contacts), "quorum", m.params.Quorum)
		ready = true
	}
	if !ready {
		return nil
	}
	if err := m.ch.Send(wire.MustEncode(wire.Start{})); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	m.log.Info("starting evolution", "evals", m.params.Evals, "contacts", len(m.contacts))
	return m.broadcast()
}

func (m *Master) tickWait(ctx context.Context) error {
	m.tick++
	for _, msg := range m.poll() {
		switch v := msg.(type) {
		case wire.Report:
			if v.EvalID != m.evalCount {
				m.rec.ReportStale()
				m.log.Debug("stale report", "eval_id", v.EvalID, "outstanding", m.evalCount)
				continue
			}
			m.scores = append(m.scores, v.Score)
			m.rec.ReportAccepted()
		case wire.Hello:
			m.contacts[v.Name] = struct{}{}
			m.log.Info("late agent contact", "name", v.Name)
		}
	}

	if len(m.scores) >= m.params.Quorum {
		return m.advance(ctx, false)
	}
	if m.state == Wait && m.tick >= m.maxAge {
		m.state = WaitPuffer
	}
	if m.tick >= m.maxAge+m.params.GraceTicks {
		return m.advance(ctx, true)
	}
	return nil
}

func (m *Master) advance(ctx context.Context, timedOut bool) error {
	ev := GenerationEvent{
		EvalID:       m.evalCount,
		ScoreKing:    m.scoreKing,
		Reports:      len(m.scores),
		ReEvaluation: m.hasTemp,
		TimedOut:     timedOut,
		PostEval:     m.postEval,
	}
	if timedOut {
		m.log.Warn("no quorum, re-broadcasting", "eval_id", m.evalCount, "reports", len(m.scores), "quorum", m.params.Quorum)
		m.scores = nil
		m.emit(ev)
		return m.broadcast()
	}

	scoreMutant := stat.Mean(m.scores, nil)
	if m.hasTemp {
		w := m.params.ReEvalWeight
		scoreMutant = w*scoreMutant + (1-w)*m.scoreTemp
		m.hasTemp = false
	}
	m.scores = nil
	ev.ScoreMutant = scoreMutant

	var logErr error
	if scoreMutant >= m.scoreKing {
		m.king = m.mutant
		m.scoreKing = scoreMutant
		ev.Promoted = true
		logErr = m.logKing(ctx, ev.EvalID, scoreMutant)
	}
	m.log.Info("generation",
		"eval_id", ev.EvalID,
		"score_king", ev.ScoreKing,
		"score_mutant", scoreMutant,
		"promoted", ev.Promoted,
		"reeval", ev.ReEvaluation,
	)

	if m.rng.Float64() < m.params.ReEvalProb {
		m.mutant = m.king.Clone()
		m.mutant.Reset()
		m.scoreTemp = m.scoreKing
		m.hasTemp = true
		m.scoreKing = -1
	} else {
		child, err := m.king.Mutate(m.params.MutationRate, m.rng)
		if err != nil {
			return errors.Join(logErr, fmt.Errorf("mutate king: %w", err))
		}
		m.mutant = child
	}
	m.evalCount++
	m.emit(ev)

	if m.evalCount == m.params.Evals {
		m.mutant = m.king.Clone()
		m.mutant.Reset()
		m.scoreKing = -1
		m.hasTemp = false
		m.maxAge = m.params.PostEvalTime
		m.postEval = true
		m.log.Info("post evaluation", "eval_id", m.evalCount, "ticks", m.maxAge)
	}
	if m.evalCount > m.params.Evals {
		m.state = Stop
		m.log.Info("evolution finished", "evals", m.params.Evals, "score_king", m.scoreKing)
		return logErr
	}
	return errors.Join(logErr, m.broadcast())
}

func (m *Master) logKing(ctx context.Context, evalID int, score float64) error {
	if m.kingLog == nil {
		return nil
	}
	action, prediction := m.king.Genomes()
	err := m.kingLog.AppendKing(ctx, model.KingRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
		RunID:           m.runID,
		EvalID:          evalID,
		Score:           score,
		Action:          action,
		Prediction:      prediction,
		CreatedAt:       m.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("log king: %w", err)
	}
	return nil
}

func (m *Master) emit(ev GenerationEvent) {
	m.rec.Generation(ev)
	if m.listener != nil {
		m.listener(ev)
	}
}

// broadcast sends the mutant tagged with the outstanding eval id and restarts
// the wait window.
func (m *Master) broadcast() error {
	action, prediction := m.mutant.Genomes()
	b := wire.Broadcast{
		EvalID:     m.evalCount,
		Stamp:      unixSeconds(m.clock().Add(m.params.StartDelay)),
		PostEval:   m.postEval,
		Action:     action,
		Prediction: prediction,
	}
	m.current = b
	m.tick = 0
	m.state = Wait
	frame, err := wire.Encode(b)
	if err != nil {
		return err
	}
	if err := m.ch.Send(frame); err != nil {
		return fmt.Errorf("broadcast eval %d: %w", b.EvalID, err)
	}
	return nil
}
