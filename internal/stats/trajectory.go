package stats

import "path/filepath"

const TrajectoryFile = "trajectory.csv"

// TrajectoryRow is one robot pose during a simulated post-evaluation.
type TrajectoryRow struct {
	Tick    int     `csv:"tick"`
	Robot   string  `csv:"robot"`
	X       float64 `csv:"x"`
	Y       float64 `csv:"y"`
	Heading float64 `csv:"heading"`
}

type TrajectoryLog struct {
	log *csvLog[TrajectoryRow]
}

func (r *Results) OpenTrajectory() (*TrajectoryLog, error) {
	log, err := openCSVLog[TrajectoryRow](filepath.Join(r.dir, TrajectoryFile), "trajectory")
	if err != nil {
		return nil, err
	}
	return &TrajectoryLog{log: log}, nil
}

func (l *TrajectoryLog) Append(rows ...TrajectoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	return l.log.append(rows...)
}

func (l *TrajectoryLog) Close() error { return l.log.close() }

func ReadTrajectory(path string) ([]TrajectoryRow, error) {
	return readCSV[TrajectoryRow](path)
}
