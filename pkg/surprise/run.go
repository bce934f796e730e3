package surprise

import (
	"context"
	"log/slog"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/storage"
)

// runLog ties one master run to its results directory and the store.
type runLog struct {
	params  stats.Parameters
	baseDir string
	results *stats.Results
	store   storage.Store
	log     *slog.Logger

	generations int
	promotions  int
	timeouts    int
}

func (c *Client) openRun(params stats.Parameters, log *slog.Logger) (*runLog, error) {
	results, err := stats.OpenResults(c.cfg.Results.Dir, params.RunID)
	if err != nil {
		return nil, err
	}
	if err := results.WriteParameters(params); err != nil {
		_ = results.Close()
		return nil, err
	}
	return &runLog{
		params:  params,
		baseDir: c.cfg.Results.Dir,
		results: results,
		store:   c.store,
		log:     log,
	}, nil
}

// observe is the master's generation listener.
func (r *runLog) observe(ev coord.GenerationEvent) {
	switch {
	case ev.TimedOut:
		r.timeouts++
	default:
		r.generations++
	}
	if ev.Promoted {
		r.promotions++
	}
	r.results.Generation(ev)

	rec := model.GenerationRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:        r.params.RunID,
		EvalID:       ev.EvalID,
		ScoreKing:    ev.ScoreKing,
		ScoreMutant:  ev.ScoreMutant,
		Reports:      ev.Reports,
		Promoted:     ev.Promoted,
		ReEvaluation: ev.ReEvaluation,
		TimedOut:     ev.TimedOut,
		PostEval:     ev.PostEval,
	}
	if err := r.store.AppendGeneration(context.Background(), rec); err != nil {
		r.log.Warn("store generation failed", "eval_id", ev.EvalID, "err", err)
	}
}

func (r *runLog) close() error {
	return r.results.Close()
}

// index records the finished run in the results directory index.
func (r *runLog) index(mode string, finalKing float64) error {
	return stats.AppendRunIndex(r.baseDir, stats.RunIndexEntry{
		RunID:        r.params.RunID,
		Mode:         mode,
		Robots:       r.params.Robots,
		Evals:        r.params.Evals,
		Seed:         r.params.Seed,
		FinalKing:    finalKing,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	})
}
