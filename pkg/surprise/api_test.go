package surprise

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/config"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Seed = 7
	cfg.Evolution.Evals = 4
	cfg.Evolution.EvalTime = 5
	cfg.Evolution.PostEvalTime = 6
	cfg.Network.Dimensions.HiddenAction = 4
	cfg.Network.Dimensions.HiddenPrediction = 4
	cfg.Coordination.Robots = 3
	cfg.Coordination.GraceTicks = 20
	cfg.Coordination.InitDelayTicks = 1
	cfg.Coordination.StartDelay = 200 * time.Millisecond
	cfg.Transport.Kind = config.TransportMemory
	cfg.Transport.FragmentSize = 11
	cfg.Results.Dir = filepath.Join(t.TempDir(), "results")
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	client, err := New(Options{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestSimulateRunsToPostEvaluation(t *testing.T) {
	cfg := testConfig(t)
	client := newTestClient(t, cfg)
	ctx := context.Background()

	summary, err := client.Simulate(ctx, SimRequest{RunID: "sim-run", MaxTicks: 5000})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected completed simulation, got %+v", summary)
	}
	if summary.Timeouts != 0 {
		t.Fatalf("expected no timeouts over the memory hub, got %d", summary.Timeouts)
	}
	if summary.Generations != cfg.Evolution.Evals+1 {
		t.Fatalf("expected %d generations, got %d", cfg.Evolution.Evals+1, summary.Generations)
	}
	if summary.FinalScore < 0 || summary.FinalScore > 1 {
		t.Fatalf("king score out of range: %f", summary.FinalScore)
	}

	rows, err := stats.ReadRun(filepath.Join(summary.ResultsDir, stats.RunFile))
	if err != nil {
		t.Fatalf("read run.csv: %v", err)
	}
	if len(rows) != summary.Generations {
		t.Fatalf("expected %d run rows, got %d", summary.Generations, len(rows))
	}
	if !rows[len(rows)-1].PostEval {
		t.Fatalf("last run row should be post-evaluation: %+v", rows[len(rows)-1])
	}

	params, err := stats.ReadParameters(filepath.Join(summary.ResultsDir, stats.ParametersFile))
	if err != nil {
		t.Fatalf("read parameters: %v", err)
	}
	if params.Seed != 7 || params.Robots != 3 || params.Transport != config.TransportMemory || params.ArenaX != cfg.Arena.Width {
		t.Fatalf("unexpected parameters: %+v", params)
	}

	pred, err := stats.ReadPred(filepath.Join(summary.ResultsDir, stats.PredFile("sim-01")))
	if err != nil {
		t.Fatalf("read pred log: %v", err)
	}
	if len(pred) == 0 {
		t.Fatal("expected post-evaluation prediction rows")
	}
	for _, row := range pred {
		if row.EvalID != cfg.Evolution.Evals {
			t.Fatalf("pred row outside post-evaluation: %+v", row)
		}
	}

	traj, err := stats.ReadTrajectory(filepath.Join(summary.ResultsDir, stats.TrajectoryFile))
	if err != nil {
		t.Fatalf("read trajectory: %v", err)
	}
	if len(traj) == 0 || len(traj)%3 != 0 {
		t.Fatalf("expected whole trajectory frames for 3 robots, got %d rows", len(traj))
	}

	kings, err := client.Kings(ctx, "sim-run")
	if err != nil {
		t.Fatalf("kings: %v", err)
	}
	if len(kings) != summary.Promotions {
		t.Fatalf("expected %d stored kings, got %d", summary.Promotions, len(kings))
	}
	genomes, err := stats.ReadGenomes(filepath.Join(summary.ResultsDir, stats.GenomesFile))
	if err != nil {
		t.Fatalf("read genomes: %v", err)
	}
	if len(genomes) != summary.Promotions {
		t.Fatalf("expected %d genome pairs, got %d", summary.Promotions, len(genomes))
	}

	gens, err := client.Generations(ctx, "sim-run")
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(gens) != len(rows) {
		t.Fatalf("expected %d stored generations, got %d", len(rows), len(gens))
	}
}

func TestSimulateRunsAndExport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Results.PredLog = false
	cfg.Results.Trajectory = false
	client := newTestClient(t, cfg)
	ctx := context.Background()

	if _, err := client.Simulate(ctx, SimRequest{RunID: "first", Robots: 2, MaxTicks: 5000}); err != nil {
		t.Fatalf("simulate first: %v", err)
	}
	if _, err := client.Simulate(ctx, SimRequest{RunID: "second", Robots: 2, MaxTicks: 5000}); err != nil {
		t.Fatalf("simulate second: %v", err)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 10})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 indexed runs, got %+v", runs)
	}
	for _, r := range runs {
		if r.Mode != modeSimulate || r.Robots != 2 || r.Evals != cfg.Evolution.Evals {
			t.Fatalf("unexpected index entry: %+v", r)
		}
	}

	outDir := filepath.Join(t.TempDir(), "exports")
	exported, err := client.Export(ctx, ExportRequest{RunID: "first", OutDir: outDir})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.Directory != filepath.Join(outDir, "first") {
		t.Fatalf("unexpected export dir: %s", exported.Directory)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, stats.RunFile)); err != nil {
		t.Fatalf("exported run.csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, stats.PredFile("sim-01"))); !os.IsNotExist(err) {
		t.Fatalf("pred log should be disabled, stat err=%v", err)
	}

	if _, err := client.Export(ctx, ExportRequest{RunID: "first", Latest: true}); err == nil {
		t.Fatal("expected error for run id plus latest")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
}

func TestSimulateStopsAtTickBudget(t *testing.T) {
	cfg := testConfig(t)
	client := newTestClient(t, cfg)

	summary, err := client.Simulate(context.Background(), SimRequest{MaxTicks: 3})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if summary.Completed || summary.Ticks != 3 {
		t.Fatalf("expected an incomplete run after 3 ticks, got %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatal("expected a generated run id")
	}
}

func TestSimulateHonorsCancellation(t *testing.T) {
	client := newTestClient(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Simulate(ctx, SimRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSimulateRejectsSensorMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Dimensions.Sensors = 4
	client := newTestClient(t, cfg)

	_, err := client.Simulate(context.Background(), SimRequest{})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNetworkRolesRejectMemoryTransport(t *testing.T) {
	client := newTestClient(t, testConfig(t))
	ctx := context.Background()

	if _, err := client.RunMaster(ctx, MasterRequest{}); !errors.Is(err, ErrMemoryTransport) {
		t.Fatalf("master: expected ErrMemoryTransport, got %v", err)
	}
	if _, err := client.RunAgent(ctx, AgentRequest{Name: "T1"}); !errors.Is(err, ErrMemoryTransport) {
		t.Fatalf("agent: expected ErrMemoryTransport, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Evolution.Evals = 0
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestRunAgentStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Kind = config.TransportTCP
	cfg.Transport.Master = "127.0.0.1:1"
	cfg.Coordination.Period = 5 * time.Millisecond
	cfg.Results.Dir = t.TempDir()
	client := newTestClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	summary, err := client.RunAgent(ctx, AgentRequest{Name: "T7"})
	if err != nil {
		t.Fatalf("run agent: %v", err)
	}
	if summary.Name != "T7" || summary.Ticks == 0 {
		t.Fatalf("unexpected agent summary: %+v", summary)
	}
}
