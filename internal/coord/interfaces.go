package coord

import (
	"context"
	"errors"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// Channel is the raw byte transport between master and agents. Poll must not
// block and may return partial or concatenated frames.
type Channel interface {
	Send(payload []byte) error
	Poll() [][]byte
	Close() error
}

// KingLog receives every promoted king.
type KingLog interface {
	AppendKing(ctx context.Context, record model.KingRecord) error
}

// KingLogs fans a promotion out to several logs. Every log is attempted.
type KingLogs []KingLog

func (l KingLogs) AppendKing(ctx context.Context, record model.KingRecord) error {
	var errs []error
	for _, log := range l {
		if log == nil {
			continue
		}
		if err := log.AppendKing(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GenerationEvent is emitted after every master decision, including retries.
// ScoreKing is the king's score before the decision.
type GenerationEvent struct {
	EvalID       int
	ScoreKing    float64
	ScoreMutant  float64
	Reports      int
	Promoted     bool
	ReEvaluation bool
	TimedOut     bool
	PostEval     bool
}

type Listener func(GenerationEvent)

// Recorder observes coordinator activity for metrics.
type Recorder interface {
	Generation(GenerationEvent)
	ReportAccepted()
	ReportStale()
	InvalidFrame()
	AgentEvaluation(score float64)
}

type nopRecorder struct{}

func (nopRecorder) Generation(GenerationEvent) {}
func (nopRecorder) ReportAccepted() {}
func (nopRecorder) ReportStale() {}
func (nopRecorder) InvalidFrame() {}
func (nopRecorder) AgentEvaluation(float64) {}

type Clock func() time.Time

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
