package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is the flat weight encoding of one network. Its length is a pure
// function of the network dimensions.
type Genome []float64

func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	return append(Genome(nil), g...)
}

func (g Genome) Equal(other Genome) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

// Dimensions fixes the topology shared by every individual of a run.
type Dimensions struct {
	Sensors          int `json:"sensors" yaml:"sensors"`
	Actions          int `json:"actions" yaml:"actions"`
	HiddenAction     int `json:"hidden_action" yaml:"hidden_action"`
	HiddenPrediction int `json:"hidden_prediction" yaml:"hidden_prediction"`
}

// Inputs is the observation width fed to both networks: sensors plus the
// last action.
func (d Dimensions) Inputs() int {
	return d.Sensors + d.Actions
}

func (d Dimensions) ActionGenomeLen() int {
	return d.HiddenAction*(d.Inputs()+1) + d.Actions*(d.HiddenAction+1)
}

func (d Dimensions) PredictionGenomeLen() int {
	return d.HiddenPrediction*(d.Inputs()+1) + 2*d.HiddenPrediction + d.Sensors*(d.HiddenPrediction+1)
}

// KingRecord is written every time a mutant displaces the king.
type KingRecord struct {
	VersionedRecord
	RunID      string    `json:"run_id"`
	EvalID     int       `json:"eval_id"`
	Score      float64   `json:"score"`
	Action     Genome    `json:"action"`
	Prediction Genome    `json:"prediction"`
	CreatedAt  time.Time `json:"created_at"`
}

// GenerationRecord summarizes one generation decision on the master.
type GenerationRecord struct {
	VersionedRecord
	RunID        string  `json:"run_id"`
	EvalID       int     `json:"eval_id"`
	ScoreKing    float64 `json:"score_king"`
	ScoreMutant  float64 `json:"score_mutant"`
	Reports      int     `json:"reports"`
	Promoted     bool    `json:"promoted"`
	ReEvaluation bool    `json:"re_evaluation"`
	TimedOut     bool    `json:"timed_out"`
	PostEval     bool    `json:"post_eval"`
}
