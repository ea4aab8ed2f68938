package storage

import (
	"encoding/json"
	"errors"

	"github.com/EiffL/bayesfast/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeEvalRecord(r model.EvalRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeEvalRecord(data []byte) (model.EvalRecord, error) {
	var record model.EvalRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.EvalRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.EvalRecord{}, err
	}
	return record, nil
}

func EncodeDecayState(s model.DecayState) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeDecayState(data []byte) (model.DecayState, error) {
	var state model.DecayState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.DecayState{}, err
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return model.DecayState{}, err
	}
	return state, nil
}

func EncodeFitReport(r model.FitReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeFitReport(data []byte) (model.FitReport, error) {
	var report model.FitReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.FitReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.FitReport{}, err
	}
	return report, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
