package storage

import (
	"context"

	"tracemh/internal/model"
)

// Store defines persistence operations for inference runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns run summaries newest first, optionally filtered by
	// model. A non-positive limit returns every run.
	ListRuns(ctx context.Context, modelName string, limit int) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveSamples(ctx context.Context, chain model.SampleChain) error
	GetSamples(ctx context.Context, runID string) (model.SampleChain, bool, error)
}
