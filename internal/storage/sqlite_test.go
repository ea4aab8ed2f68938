//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/EiffL/bayesfast/internal/model"
)

func TestSQLiteStoreEvalRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "bayesfast.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	first := model.EvalRecord{
		VersionedRecord: versioned(),
		ID:              "rec-1",
		RunID:           "run-1",
		Variables:       map[string][]float64{"x": {0.25, 0.75}},
		Logp:            -1.5,
		CreatedAt:       time.Unix(10, 0).UTC(),
	}
	second := model.EvalRecord{
		VersionedRecord: versioned(),
		ID:              "rec-2",
		RunID:           "run-1",
		Variables:       map[string][]float64{"x": {1, 1}},
		Logp:            -3,
		CreatedAt:       time.Unix(5, 0).UTC(),
	}
	for _, record := range []model.EvalRecord{first, second} {
		if err := store.SaveEvalRecord(ctx, record); err != nil {
			t.Fatalf("save record %s: %v", record.ID, err)
		}
	}

	loaded, ok, err := store.GetEvalRecord(ctx, "rec-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !ok {
		t.Fatal("expected record rec-1")
	}
	if loaded.Logp != first.Logp || len(loaded.Variables["x"]) != 2 {
		t.Fatalf("unexpected record: %+v", loaded)
	}

	records, err := store.ListEvalRecords(ctx, "run-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 2 || records[0].ID != "rec-2" || records[1].ID != "rec-1" {
		t.Fatalf("unexpected listing: %+v", records)
	}
}

func TestSQLiteStoreDecayStateAndFitReports(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "bayesfast.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	state := model.DecayState{
		VersionedRecord: versioned(),
		RunID:           "run-1",
		Mu:              []float64{0, 0.5},
		InvCov:          [][]float64{{4, 0}, {0, 4}},
		Alpha:           1.2,
		Gamma:           0.1,
	}
	if err := store.SaveDecayState(ctx, state); err != nil {
		t.Fatalf("save decay state: %v", err)
	}
	// Saving again overwrites the run's state.
	state.Alpha = 2.4
	if err := store.SaveDecayState(ctx, state); err != nil {
		t.Fatalf("overwrite decay state: %v", err)
	}

	loaded, ok, err := store.GetDecayState(ctx, "run-1")
	if err != nil {
		t.Fatalf("get decay state: %v", err)
	}
	if !ok {
		t.Fatal("expected decay state")
	}
	if loaded.Alpha != 2.4 || loaded.InvCov[1][1] != 4 {
		t.Fatalf("unexpected decay state: %+v", loaded)
	}

	report := model.FitReport{
		VersionedRecord: versioned(),
		ID:              "fit-1",
		RunID:           "run-1",
		SurrogateNames:  []string{"tail"},
		RecordCount:     8,
		UseDecay:        true,
		CreatedAt:       time.Unix(20, 0).UTC(),
	}
	if err := store.SaveFitReport(ctx, report); err != nil {
		t.Fatalf("save fit report: %v", err)
	}
	reports, err := store.ListFitReports(ctx, "run-1")
	if err != nil {
		t.Fatalf("list fit reports: %v", err)
	}
	if len(reports) != 1 || reports[0].SurrogateNames[0] != "tail" {
		t.Fatalf("unexpected fit reports: %+v", reports)
	}
}
