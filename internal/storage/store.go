package storage

import (
	"context"

	"github.com/EiffL/bayesfast/internal/model"
)

// Store defines persistence operations for evaluation records, decay
// states and fit reports, grouped by run.
type Store interface {
	Init(ctx context.Context) error
	SaveEvalRecord(ctx context.Context, record model.EvalRecord) error
	GetEvalRecord(ctx context.Context, id string) (model.EvalRecord, bool, error)
	ListEvalRecords(ctx context.Context, runID string) ([]model.EvalRecord, error)
	SaveDecayState(ctx context.Context, state model.DecayState) error
	GetDecayState(ctx context.Context, runID string) (model.DecayState, bool, error)
	SaveFitReport(ctx context.Context, report model.FitReport) error
	ListFitReports(ctx context.Context, runID string) ([]model.FitReport, error)
}
