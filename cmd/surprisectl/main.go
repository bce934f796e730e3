package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/config"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/pkg/surprise"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "master":
		return runMaster(ctx, args[1:])
	case "agent":
		return runAgent(ctx, args[1:])
	case "sim":
		return runSim(ctx, args[1:])
	case "kings":
		return runKings(ctx, args[1:])
	case "generations":
		return runGenerations(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "defaults":
		return runDefaults(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runMaster(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("master", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "results directory name; random when empty")
	transport := fs.String("transport", "", "transport: tcp|websocket")
	listen := fs.String("listen", "", "listen address for agents")
	robots := fs.Int("robots", 0, "quorum of agent reports per generation")
	metricsAddr := fs.String("metrics", "", "serve /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client(fs, func(cfg *config.Config) {
		setString(&cfg.Transport.Kind, *transport)
		setString(&cfg.Transport.Listen, *listen)
		setString(&cfg.Metrics.Listen, *metricsAddr)
		setInt(&cfg.Coordination.Robots, *robots)
	})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.RunMaster(ctx, surprise.MasterRequest{RunID: *runID})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run_id=%s completed=%t generations=%d promotions=%d timeouts=%d score_king=%.6f results=%s\n",
		summary.RunID,
		summary.Completed,
		summary.Generations,
		summary.Promotions,
		summary.Timeouts,
		summary.FinalScore,
		summary.ResultsDir,
	)
	return nil
}

func runAgent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	common := registerCommon(fs)
	name := fs.String("name", "", "robot name reported to the master")
	transport := fs.String("transport", "", "transport: tcp|websocket")
	master := fs.String("master", "", "master address")
	sensor := fs.String("sensor", "", "registered sensor array")
	drive := fs.String("drive", "", "registered drive")
	metricsAddr := fs.String("metrics", "", "serve /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client(fs, func(cfg *config.Config) {
		setString(&cfg.Transport.Kind, *transport)
		setString(&cfg.Transport.Master, *master)
		setString(&cfg.Robot.Sensor, *sensor)
		setString(&cfg.Robot.Drive, *drive)
		setString(&cfg.Metrics.Listen, *metricsAddr)
	})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.RunAgent(ctx, surprise.AgentRequest{Name: *name})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "agent=%s ticks=%d protected=%d\n", summary.Name, summary.Ticks, summary.Protected)
	return nil
}

func runSim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sim", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "results directory name; random when empty")
	robots := fs.Int("robots", 0, "number of simulated robots")
	evals := fs.Int("evals", 0, "generations before post-evaluation")
	maxTicks := fs.Int("max-ticks", 0, "stop after this many ticks; 0 runs to completion")
	fragment := fs.Int("fragment", -1, "split master frames into chunks of this many bytes")
	jsonOut := fs.Bool("json", false, "emit summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *maxTicks < 0 {
		return errors.New("max-ticks must be >= 0")
	}

	client, err := common.client(fs, func(cfg *config.Config) {
		cfg.Transport.Kind = config.TransportMemory
		setInt(&cfg.Evolution.Evals, *evals)
		if *fragment >= 0 {
			cfg.Transport.FragmentSize = *fragment
		}
	})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Simulate(ctx, surprise.SimRequest{RunID: *runID, Robots: *robots, MaxTicks: *maxTicks})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}
	fmt.Fprintf(stdout, "run_id=%s completed=%t ticks=%d generations=%d promotions=%d timeouts=%d protected=%d score_king=%.6f results=%s\n",
		summary.RunID,
		summary.Completed,
		summary.Ticks,
		summary.Generations,
		summary.Promotions,
		summary.Timeouts,
		summary.Protected,
		summary.FinalScore,
		summary.ResultsDir,
	)
	return nil
}

func runKings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kings", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	jsonOut := fs.Bool("json", false, "emit kings as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("kings requires --run-id")
	}

	client, err := common.client(fs, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	kings, err := client.Kings(ctx, *runID)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(kings)
	}
	if len(kings) == 0 {
		fmt.Fprintln(stdout, "no kings found")
		return nil
	}
	for _, k := range kings {
		fmt.Fprintf(stdout, "eval_id=%d score=%.6f action_len=%d prediction_len=%d created_at=%s\n",
			k.EvalID, k.Score, len(k.Action), len(k.Prediction), k.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func runGenerations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generations", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	jsonOut := fs.Bool("json", false, "emit generations as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("generations requires --run-id")
	}

	client, err := common.client(fs, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	gens, err := client.Generations(ctx, *runID)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(gens)
	}
	if len(gens) == 0 {
		fmt.Fprintln(stdout, "no generations found")
		return nil
	}
	for _, g := range gens {
		fmt.Fprintf(stdout, "eval_id=%d king=%.6f mutant=%.6f reports=%d promoted=%t reeval=%t timeout=%t post_eval=%t\n",
			g.EvalID, g.ScoreKing, g.ScoreMutant, g.Reports, g.Promoted, g.ReEvaluation, g.TimedOut, g.PostEval)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommon(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.client(fs, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := client.Runs(ctx, surprise.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s mode=%s robots=%d evals=%d seed=%d final_king=%.6f\n",
			e.RunID, e.CreatedAtUTC, e.Mode, e.Robots, e.Evals, e.Seed, e.FinalKing)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "exports", "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}

	client, err := common.client(fs, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	exported, err := client.Export(ctx, surprise.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runDefaults(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("defaults", flag.ContinueOnError)
	out := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := config.Default()
	if *out != "" {
		return cfg.WriteFile(*out)
	}
	return cfg.WriteYAML(stdout)
}

func writeJSON(value any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: surprisectl <master|agent|sim|kings|generations|runs|export|defaults> [flags]", msg)
}
