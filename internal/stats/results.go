// Package stats writes the per-run results directory: genomes.csv,
// run.csv, pred.csv and parameters.yaml.
package stats

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

const (
	GenomesFile    = "genomes.csv"
	RunFile        = "run.csv"
	ParametersFile = "parameters.yaml"
)

// FailedScore marks both columns of run.csv for a generation that timed out.
const FailedScore = -2.0

var ErrClosed = errors.New("results closed")

// Parameters is the parameters.yaml document of a run.
type Parameters struct {
	RunID          string           `yaml:"run_id"`
	Evals          int              `yaml:"evals"`
	EvalTime       int              `yaml:"eval_time"`
	PostEvalTime   int              `yaml:"post_eval_time"`
	ReEvalProb     float64          `yaml:"re_eval_prob"`
	ReEvalWeight   float64          `yaml:"re_eval_weight"`
	MutationRate   float64          `yaml:"mutation_rate"`
	Dimensions     model.Dimensions `yaml:"dimensions"`
	ActionFunc     string           `yaml:"transfer_function_action"`
	PredictionFunc string           `yaml:"transfer_function_prediction"`
	Robots         int              `yaml:"robots"`
	ArenaX         float64          `yaml:"arena_x,omitempty"`
	ArenaY         float64          `yaml:"arena_y,omitempty"`
	Transport      string           `yaml:"transport,omitempty"`
	Seed           int64            `yaml:"seed"`
}

// ParametersFrom copies the coordinator parameters into a parameters.yaml
// document. Robot count and arena size are left to the caller.
func ParametersFrom(runID string, p coord.Params) Parameters {
	return Parameters{
		RunID:          runID,
		Evals:          p.Evals,
		EvalTime:       p.EvalTime,
		PostEvalTime:   p.PostEvalTime,
		ReEvalProb:     p.ReEvalProb,
		ReEvalWeight:   p.ReEvalWeight,
		MutationRate:   p.MutationRate,
		Dimensions:     p.Individual.Dimensions,
		ActionFunc:     p.Individual.ActionActivation,
		PredictionFunc: p.Individual.PredictionActivation,
		Robots:         p.Quorum,
	}
}

// RunRow is one line of run.csv.
type RunRow struct {
	EvalID       int     `csv:"eval_id"`
	King         float64 `csv:"king"`
	Mutant       float64 `csv:"mutant"`
	Reports      int     `csv:"reports"`
	Promoted     bool    `csv:"promoted"`
	ReEvaluation bool    `csv:"re_evaluation"`
	TimedOut     bool    `csv:"timed_out"`
	PostEval     bool    `csv:"post_eval"`
}

func RunRowFrom(ev coord.GenerationEvent) RunRow {
	row := RunRow{
		EvalID:       ev.EvalID,
		King:         ev.ScoreKing,
		Mutant:       ev.ScoreMutant,
		Reports:      ev.Reports,
		Promoted:     ev.Promoted,
		ReEvaluation: ev.ReEvaluation,
		TimedOut:     ev.TimedOut,
		PostEval:     ev.PostEval,
	}
	if ev.TimedOut {
		row.King, row.Mutant = FailedScore, FailedScore
	}
	return row
}

// Results owns the master's files of one run directory. It implements
// coord.KingLog, and Generation fits coord.Listener.
type Results struct {
	dir string

	mu           sync.Mutex
	genomes      *os.File
	genomesCSV   *csv.Writer
	run          *csvLog[RunRow]
	closed       bool
	lastWriteErr error
}

var _ coord.KingLog = (*Results)(nil)

// OpenResults creates baseDir/runID and opens its CSV files for appending.
func OpenResults(baseDir, runID string) (*Results, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	genomes, err := openAppend(filepath.Join(dir, GenomesFile))
	if err != nil {
		return nil, err
	}
	run, err := openCSVLog[RunRow](filepath.Join(dir, RunFile), "run")
	if err != nil {
		_ = genomes.Close()
		return nil, err
	}
	return &Results{
		dir:        dir,
		genomes:    genomes,
		genomesCSV: csv.NewWriter(genomes),
		run:        run,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (r *Results) Dir() string { return r.dir }

func (r *Results) WriteParameters(p Parameters) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, ParametersFile), data, 0o644)
}

// AppendKing writes the promoted king as two rows: the action genome and then
// the prediction genome.
func (r *Results) AppendKing(_ context.Context, record model.KingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.genomesCSV.Write(formatGenome(record.Action)); err != nil {
		return err
	}
	if err := r.genomesCSV.Write(formatGenome(record.Prediction)); err != nil {
		return err
	}
	r.genomesCSV.Flush()
	return r.genomesCSV.Error()
}

func formatGenome(g model.Genome) []string {
	out := make([]string, len(g))
	for i, v := range g {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// Generation appends one run.csv row. Listener callbacks cannot fail, so a
// write error is kept and returned by Err and Close.
func (r *Results) Generation(ev coord.GenerationEvent) {
	if err := r.AppendRun(RunRowFrom(ev)); err != nil {
		r.mu.Lock()
		r.lastWriteErr = err
		r.mu.Unlock()
	}
}

func (r *Results) AppendRun(row RunRow) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return r.run.append(row)
}

func (r *Results) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWriteErr
}

func (r *Results) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.genomesCSV.Flush()
	return errors.Join(r.lastWriteErr, r.genomesCSV.Error(), r.genomes.Close(), r.run.close())
}

// ReadGenomes returns the kings of genomes.csv in promotion order as
// (action, prediction) pairs.
func ReadGenomes(path string) ([][2]model.Genome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	var kings [][2]model.Genome
	var pending model.Genome
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		g := make(model.Genome, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("genome row %d: %w", len(kings)*2+len(pending), err)
			}
			g[i] = v
		}
		if pending == nil {
			pending = g
			continue
		}
		kings = append(kings, [2]model.Genome{pending, g})
		pending = nil
	}
	if pending != nil {
		return nil, fmt.Errorf("genome file ends with an unpaired action row")
	}
	return kings, nil
}

func ReadRun(path string) ([]RunRow, error) {
	return readCSV[RunRow](path)
}

func ReadParameters(path string) (Parameters, error) {
	var p Parameters
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	err = yaml.Unmarshal(data, &p)
	return p, err
}
