package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/EiffL/bayesfast/internal/model"
)

func TestEvalRecordCodecRoundTrip(t *testing.T) {
	input := model.EvalRecord{
		VersionedRecord: versioned(),
		ID:              "rec-1",
		RunID:           "run-1",
		Variables:       map[string][]float64{"x": {1, 2}, "__var__": {-0.5}},
		Logp:            -0.5,
		Surrogate:       true,
		CreatedAt:       time.Unix(42, 0).UTC(),
	}

	data, err := EncodeEvalRecord(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeEvalRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || output.Logp != input.Logp || !output.Surrogate {
		t.Fatalf("unexpected record: %+v", output)
	}
	if got := output.Variables["x"]; len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected variables: %+v", output.Variables)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	stale := model.EvalRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "rec-stale",
	}
	data, err := EncodeEvalRecord(stale)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeEvalRecord(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	state := model.DecayState{RunID: "run-1"}
	data, err = EncodeDecayState(state)
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	if _, err := DecodeDecayState(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestDecayStateCodecRoundTrip(t *testing.T) {
	input := model.DecayState{
		VersionedRecord: versioned(),
		RunID:           "run-1",
		Mu:              []float64{0.5, -0.5},
		InvCov:          [][]float64{{1, 0.2}, {0.2, 1}},
		Alpha:           2,
		Gamma:           0.1,
	}
	data, err := EncodeDecayState(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeDecayState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.RunID != input.RunID || output.Alpha != input.Alpha || output.InvCov[0][1] != 0.2 {
		t.Fatalf("unexpected state: %+v", output)
	}
}

func TestFitReportCodecRoundTrip(t *testing.T) {
	input := model.FitReport{
		VersionedRecord: versioned(),
		ID:              "fit-1",
		RunID:           "run-1",
		SurrogateNames:  []string{"tail", "head"},
		RecordCount:     7,
		CreatedAt:       time.Unix(9, 0).UTC(),
	}
	data, err := EncodeFitReport(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeFitReport(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || len(output.SurrogateNames) != 2 || output.RecordCount != 7 {
		t.Fatalf("unexpected report: %+v", output)
	}
}
