package storage

import (
	"context"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// Store persists the evolution history of master runs. Records come back in
// append order.
type Store interface {
	Init(ctx context.Context) error
	AppendKing(ctx context.Context, record model.KingRecord) error
	Kings(ctx context.Context, runID string) ([]model.KingRecord, error)
	AppendGeneration(ctx context.Context, record model.GenerationRecord) error
	Generations(ctx context.Context, runID string) ([]model.GenerationRecord, error)
	Runs(ctx context.Context) ([]string, error)
}
