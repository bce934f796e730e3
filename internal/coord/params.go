package coord

import (
	"errors"
	"fmt"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
)

var ErrInvalidParams = errors.New("invalid coordinator parameters")

// Params drives both coordinator roles. Durations other than StartDelay are in
// ticks.
type Params struct {
	Evals        int
	EvalTime     int
	PostEvalTime int
	ReEvalProb   float64
	ReEvalWeight float64
	MutationRate float64

	Quorum           int
	GraceTicks       int
	InitDelayTicks   int
	InitTimeoutTicks int
	StartDelay       time.Duration

	Individual agent.Config
}

func DefaultParams() Params {
	return Params{
		Evals:            400,
		EvalTime:         100,
		PostEvalTime:     1000,
		ReEvalProb:       0.2,
		ReEvalWeight:     0.2,
		MutationRate:     0.1,
		Quorum:           10,
		GraceTicks:       50,
		InitDelayTicks:   50,
		InitTimeoutTicks: 0,
		StartDelay:       time.Second,
		Individual:       agent.DefaultConfig(),
	}
}

func (p Params) Validate() error {
	switch {
	case p.Evals < 1:
		return fmt.Errorf("%w: evals must be >= 1", ErrInvalidParams)
	case p.EvalTime < 1 || p.PostEvalTime < 1:
		return fmt.Errorf("%w: eval time and post eval time must be >= 1", ErrInvalidParams)
	case p.ReEvalProb < 0 || p.ReEvalProb > 1:
		return fmt.Errorf("%w: re-eval probability must be within [0, 1]", ErrInvalidParams)
	case p.ReEvalWeight < 0 || p.ReEvalWeight > 1:
		return fmt.Errorf("%w: re-eval weight must be within [0, 1]", ErrInvalidParams)
	case p.MutationRate < 0 || p.MutationRate > 1:
		return fmt.Errorf("%w: mutation rate must be within [0, 1]", ErrInvalidParams)
	case p.Quorum < 1:
		return fmt.Errorf("%w: quorum must be >= 1", ErrInvalidParams)
	case p.GraceTicks < 0 || p.InitDelayTicks < 0 || p.InitTimeoutTicks < 0:
		return fmt.Errorf("%w: tick counts must be >= 0", ErrInvalidParams)
	case p.StartDelay < 0:
		return fmt.Errorf("%w: start delay must be >= 0", ErrInvalidParams)
	}
	return nil
}
