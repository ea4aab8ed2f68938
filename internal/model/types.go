package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// EvalRecord is one persisted pipeline evaluation: the named variable
// blocks produced by the run, keyed by variable name. Jacobians are not
// persisted; they are cheap to recompute from the input block.
type EvalRecord struct {
	VersionedRecord
	ID        string               `json:"id"`
	RunID     string               `json:"run_id"`
	Variables map[string][]float64 `json:"variables"`
	Logp      float64              `json:"logp"`
	Surrogate bool                 `json:"surrogate"`
	CreatedAt time.Time            `json:"created_at"`
}

// DecayState is a calibrated trust region: sample mean, inverse sample
// covariance, radius and penalty strength.
type DecayState struct {
	VersionedRecord
	RunID  string      `json:"run_id"`
	Mu     []float64   `json:"mu"`
	InvCov [][]float64 `json:"inv_cov"`
	Alpha  float64     `json:"alpha"`
	Gamma  float64     `json:"gamma"`
}

// FitReport summarizes one surrogate refit.
type FitReport struct {
	VersionedRecord
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	SurrogateNames []string  `json:"surrogate_names"`
	RecordCount    int       `json:"record_count"`
	UseDecay       bool      `json:"use_decay"`
	CreatedAt      time.Time `json:"created_at"`
}
