package stats

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Vector is a float slice stored in one CSV cell, space separated.
type Vector []float64

func (v Vector) MarshalCSV() (string, error) {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " "), nil
}

func (v *Vector) UnmarshalCSV(cell string) error {
	fields := strings.Fields(cell)
	out := make(Vector, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return err
		}
		out[i] = x
	}
	*v = out
	return nil
}

// PredRow is one post-evaluation tick of an agent: the prediction for the
// next tick, the current sensors, the motors the network chose and the
// motors actually applied after hardware protection.
type PredRow struct {
	Agent       string `csv:"agent"`
	EvalID      int    `csv:"eval_id"`
	Tick        int    `csv:"tick"`
	Protected   bool   `csv:"obstacle_avoidance"`
	Predictions Vector `csv:"predictions"`
	Sensors     Vector `csv:"sensors"`
	Selected    Vector `csv:"motors_selected"`
	Applied     Vector `csv:"motors_applied"`
}

// PredLog appends rows to an agent's pred.csv.
type PredLog struct {
	log *csvLog[PredRow]
}

// PredFile names the prediction log of one agent.
func PredFile(agent string) string {
	if agent == "" {
		return "pred.csv"
	}
	return "pred-" + agent + ".csv"
}

func OpenPredLog(dir, agent string) (*PredLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	log, err := openCSVLog[PredRow](filepath.Join(dir, PredFile(agent)), "pred")
	if err != nil {
		return nil, err
	}
	return &PredLog{log: log}, nil
}

func (l *PredLog) Append(row PredRow) error { return l.log.append(row) }

func (l *PredLog) Close() error { return l.log.close() }

func ReadPred(path string) ([]PredRow, error) {
	return readCSV[PredRow](path)
}
