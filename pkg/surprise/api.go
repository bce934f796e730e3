// Package surprise is the public entry point for running minimize-surprise
// evolution on a Thymio swarm: a master over the network, one agent per
// robot, or the whole swarm in a simulated arena.
package surprise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/arena"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/config"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/controller"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/metrics"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/platform"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/storage"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/transport"
)

const (
	defaultExportsDir = "exports"

	modeMaster   = "master"
	modeSimulate = "sim"
)

var ErrMemoryTransport = errors.New("memory transport is only available to simulations")

type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	Logger *slog.Logger
}

type Client struct {
	cfg   *config.Config
	log   *slog.Logger
	store storage.Store
}

type MasterRequest struct {
	// RunID names the results directory. Empty draws a random id.
	RunID string
}

type MasterSummary struct {
	RunID       string
	ResultsDir  string
	Generations int
	Promotions  int
	Timeouts    int
	FinalScore  float64
	Completed   bool
}

type AgentRequest struct {
	// Name overrides robot.name; the hostname is used when both are empty.
	Name string
}

type AgentSummary struct {
	Name      string
	Ticks     int
	Protected int
}

type SimRequest struct {
	RunID string
	// Robots overrides coordination.robots.
	Robots int
	// MaxTicks bounds the simulation. Zero runs until the master stops.
	MaxTicks int
}

type SimSummary struct {
	RunID       string
	ResultsDir  string
	Ticks       int
	Generations int
	Promotions  int
	Timeouts    int
	Protected   int
	FinalScore  float64
	Completed   bool
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store, err := storage.NewStore(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: logger, store: store}, nil
}

func (c *Client) Config() *config.Config { return c.cfg }

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// RunMaster serves the configured transport and runs evolution until the
// post-evaluation generation completes or ctx is cancelled.
func (c *Client) RunMaster(ctx context.Context, req MasterRequest) (MasterSummary, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	params := c.cfg.Params()
	seed := c.seed()
	log := c.log.With("run_id", runID)

	node, collector, err := c.newNode(modeMaster, log)
	if err != nil {
		return MasterSummary{}, err
	}
	ch, err := c.masterChannel(node.Supervisor(), log)
	if err != nil {
		return MasterSummary{}, err
	}
	if err := node.AddSupportModule(ch); err != nil {
		return MasterSummary{}, err
	}
	if err := node.Init(ctx); err != nil {
		return MasterSummary{}, err
	}
	defer node.Stop()

	run, err := c.openRun(c.parameters(runID, seed, params), log)
	if err != nil {
		return MasterSummary{}, err
	}
	master, err := coord.NewMaster(coord.MasterOptions{
		RunID:    runID,
		Params:   params,
		Channel:  ch,
		Rand:     rand.New(rand.NewSource(seed)),
		KingLog:  coord.KingLogs{run.results, c.store},
		Listener: run.observe,
		Recorder: collector,
		Logger:   log,
	})
	if err != nil {
		return MasterSummary{}, errors.Join(err, run.close())
	}
	mc, err := controller.NewMasterController(controller.MasterOptions{Master: master, Channel: ch, Logger: log})
	if err != nil {
		return MasterSummary{}, errors.Join(err, run.close())
	}
	log.Info("master started", "transport", c.cfg.Transport.Kind, "quorum", params.Quorum, "evals", params.Evals, "seed", seed)
	runErr := mc.Run(ctx, c.cfg.Coordination.Period)

	summary := MasterSummary{
		RunID:       runID,
		ResultsDir:  run.results.Dir(),
		Generations: run.generations,
		Promotions:  run.promotions,
		Timeouts:    run.timeouts,
		FinalScore:  master.ScoreKing(),
		Completed:   master.State() == coord.Stop,
	}
	err = errors.Join(runErr, run.close(), run.index(modeMaster, master.ScoreKing()))
	return summary, err
}

// RunAgent connects to the master and drives the configured robot until ctx
// is cancelled.
func (c *Client) RunAgent(ctx context.Context, req AgentRequest) (AgentSummary, error) {
	name := req.Name
	if name == "" {
		name = c.cfg.Robot.Name
	}
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return AgentSummary{}, fmt.Errorf("agent name: %w", err)
		}
		name = host
	}
	params := c.cfg.Params()
	log := c.log.With("agent", name)

	node, collector, err := c.newNode("agent", log)
	if err != nil {
		return AgentSummary{}, err
	}
	ch, err := c.agentChannel(node.Supervisor(), log)
	if err != nil {
		return AgentSummary{}, err
	}
	if err := node.AddSupportModule(ch); err != nil {
		return AgentSummary{}, err
	}
	if err := node.Init(ctx); err != nil {
		return AgentSummary{}, err
	}
	defer node.Stop()

	sensors, err := robotio.ResolveSensor(c.cfg.Robot.Sensor, params.Individual.Dimensions.Sensors)
	if err != nil {
		return AgentSummary{}, err
	}
	drive, err := robotio.ResolveDrive(c.cfg.Robot.Drive)
	if err != nil {
		return AgentSummary{}, err
	}
	var predLog *stats.PredLog
	if c.cfg.Results.PredLog {
		if predLog, err = stats.OpenPredLog(c.cfg.Results.Dir, name); err != nil {
			return AgentSummary{}, err
		}
		defer predLog.Close()
	}

	ag, err := coord.NewAgent(coord.AgentOptions{
		Name:     name,
		Params:   params,
		Channel:  ch,
		Rand:     rand.New(rand.NewSource(c.seed())),
		Recorder: collector,
		Logger:   log,
	})
	if err != nil {
		return AgentSummary{}, err
	}
	ac, err := controller.NewAgentController(controller.AgentOptions{
		Agent:      ag,
		Channel:    ch,
		Sensors:    sensors,
		Drive:      drive,
		Limits:     c.cfg.Robot.Limits,
		Protection: c.cfg.Robot.Protection,
		PredLog:    predLog,
		Logger:     log,
	})
	if err != nil {
		return AgentSummary{}, err
	}
	log.Info("agent started", "transport", c.cfg.Transport.Kind, "master", c.cfg.Transport.Master)
	err = ac.Run(ctx, c.cfg.Coordination.Period)
	return AgentSummary{Name: name, Ticks: ac.Ticks(), Protected: ac.Protected()}, err
}

// Simulate runs a master and one agent per robot in a simulated arena, all
// ticked in lockstep on a simulated clock. Robots are placed at random and
// placed again when the post-evaluation genome is broadcast.
func (c *Client) Simulate(ctx context.Context, req SimRequest) (SimSummary, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	params := c.cfg.Params()
	if req.Robots > 0 {
		params.Quorum = req.Robots
	}
	if params.Individual.Dimensions.Sensors != robotio.SensorCount {
		return SimSummary{}, fmt.Errorf("%w: simulated robots expose %d sensors, network expects %d",
			config.ErrInvalidConfig, robotio.SensorCount, params.Individual.Dimensions.Sensors)
	}
	if err := params.Validate(); err != nil {
		return SimSummary{}, err
	}
	seed := c.seed()
	rng := rand.New(rand.NewSource(seed))
	log := c.log.With("run_id", runID)

	node, collector, err := c.newNode(modeSimulate, log)
	if err != nil {
		return SimSummary{}, err
	}
	if err := node.Init(ctx); err != nil {
		return SimSummary{}, err
	}
	defer node.Stop()

	field, err := arena.New(c.cfg.Arena, params.Quorum)
	if err != nil {
		return SimSummary{}, err
	}
	if err := field.Place(c.cfg.Placement, rng); err != nil {
		return SimSummary{}, err
	}

	runParams := c.parameters(runID, seed, params)
	runParams.ArenaX, runParams.ArenaY = c.cfg.Arena.Width, c.cfg.Arena.Height
	runParams.Transport = config.TransportMemory
	run, err := c.openRun(runParams, log)
	if err != nil {
		return SimSummary{}, err
	}
	sim, err := c.buildSim(params, seed, field, run, collector, log)
	if err != nil {
		return SimSummary{}, errors.Join(err, run.close())
	}
	log.Info("simulation started", "robots", params.Quorum, "evals", params.Evals, "seed", seed)
	loopErr := sim.loop(ctx, req.MaxTicks, func() error { return field.Place(c.cfg.Placement, rng) })

	summary := SimSummary{
		RunID:       runID,
		ResultsDir:  run.results.Dir(),
		Ticks:       sim.ticks,
		Generations: run.generations,
		Promotions:  run.promotions,
		Timeouts:    run.timeouts,
		Protected:   sim.protected(),
		FinalScore:  sim.master.ScoreKing(),
		Completed:   sim.master.State() == coord.Stop,
	}
	err = errors.Join(loopErr, sim.shutdown(), run.close(), run.index(modeSimulate, sim.master.ScoreKing()))
	return summary, err
}

// Kings lists the promoted kings of a run from the store.
func (c *Client) Kings(ctx context.Context, runID string) ([]model.KingRecord, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.Kings(ctx, runID)
}

func (c *Client) Generations(ctx context.Context, runID string) ([]model.GenerationRecord, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.Generations(ctx, runID)
}

// Runs lists the results directory index, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.cfg.Results.Dir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = defaultExportsDir
	}
	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.cfg.Results.Dir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}
	dir, err := stats.ExportRun(c.cfg.Results.Dir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

// seed resolves a zero seed to the current time.
func (c *Client) seed() int64 {
	if c.cfg.Seed != 0 {
		return c.cfg.Seed
	}
	return time.Now().UnixNano()
}

func (c *Client) parameters(runID string, seed int64, params coord.Params) stats.Parameters {
	p := stats.ParametersFrom(runID, params)
	p.Seed = seed
	p.Transport = c.cfg.Transport.Kind
	return p
}

// newNode builds a node around the client store with a fresh metrics
// registry. The /metrics endpoint is queued when metrics.listen is set.
func (c *Client) newNode(role string, log *slog.Logger) (*platform.Node, *metrics.Collector, error) {
	node := platform.NewNode(platform.Config{Store: c.store, Logger: log})
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, role)
	if err != nil {
		return nil, nil, err
	}
	if c.cfg.Metrics.Listen != "" {
		if err := node.AddSupportModule(metrics.NewServer(c.cfg.Metrics.Listen, reg, node.Supervisor(), log)); err != nil {
			return nil, nil, err
		}
	}
	return node, collector, nil
}

type channelModule interface {
	coord.Channel
	platform.SupportModule
}

func (c *Client) masterChannel(sup *platform.Supervisor, log *slog.Logger) (channelModule, error) {
	t := c.cfg.Transport
	switch t.Kind {
	case config.TransportTCP:
		s, err := transport.NewTCPServer(transport.TCPServerOptions{Addr: t.Listen, Supervisor: sup, Logger: log})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.TransportWebSocket:
		s, err := transport.NewWSServer(transport.WSServerOptions{Addr: t.Listen, Path: t.WSPath, Supervisor: sup, Logger: log})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.TransportMemory:
		return nil, ErrMemoryTransport
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, t.Kind)
	}
}

func (c *Client) agentChannel(sup *platform.Supervisor, log *slog.Logger) (channelModule, error) {
	t := c.cfg.Transport
	switch t.Kind {
	case config.TransportTCP:
		cl, err := transport.NewTCPClient(transport.TCPClientOptions{Addr: t.Master, Supervisor: sup, Logger: log})
		if err != nil {
			return nil, err
		}
		return cl, nil
	case config.TransportWebSocket:
		path := t.WSPath
		if path == "" {
			path = transport.DefaultWebSocketPath
		}
		cl, err := transport.NewWSClient(transport.WSClientOptions{URL: "ws://" + t.Master + path, Supervisor: sup, Logger: log})
		if err != nil {
			return nil, err
		}
		return cl, nil
	case config.TransportMemory:
		return nil, ErrMemoryTransport
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, t.Kind)
	}
}
