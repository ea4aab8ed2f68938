// Package bayesfast is the public client for evaluating pipeline densities
// and persisting evaluation records, surrogate fits and decay states.
package bayesfast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/EiffL/bayesfast/internal/density"
	"github.com/EiffL/bayesfast/internal/model"
	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/pipeline"
	"github.com/EiffL/bayesfast/internal/storage"
	"github.com/EiffL/bayesfast/internal/vars"
)

const (
	defaultDBPath = "bayesfast.db"
	defaultRunID  = "default"
)

type Options struct {
	StoreKind string
	DBPath    string
}

type Client struct {
	store storage.Store
}

// RecordRequest evaluates a density at a point and persists the resulting
// variable blocks. Run defaults to "default".
type RecordRequest struct {
	Run     string
	Density *density.Density
	X       []float64
	Options pipeline.EvalOptions
}

// FitRequest calibrates a density's surrogates from the persisted records
// of a run.
type FitRequest struct {
	Run      string
	Density  *density.Density
	UseDecay bool
	Decay    density.DecayOptions
	Options  []ModuleFitOptions
}

// ModuleFitOptions mirrors the per-surrogate calibration switches.
type ModuleFitOptions struct {
	UseLogp bool
}

type FitSummary struct {
	Run            string
	RecordCount    int
	SurrogateNames []string
	UseDecay       bool
	Alpha          float64
	Gamma          float64
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Record runs the full pipeline at req.X and persists every variable block
// the evaluation produced, including the log-density value.
func (c *Client) Record(ctx context.Context, req RecordRequest) (model.EvalRecord, error) {
	if req.Density == nil {
		return model.EvalRecord{}, errors.New("record requires a density")
	}
	run := req.Run
	if run == "" {
		run = defaultRunID
	}

	result, err := req.Density.Pipeline().Fun(req.X, req.Options)
	if err != nil {
		return model.EvalRecord{}, err
	}

	variables := make(map[string][]float64)
	for _, name := range result.Names() {
		value, err := result.Value(name)
		if err != nil {
			return model.EvalRecord{}, err
		}
		variables[name] = append([]float64(nil), value...)
	}

	record := model.EvalRecord{
		VersionedRecord: currentVersions(),
		ID:              uuid.NewString(),
		RunID:           run,
		Variables:       variables,
		Surrogate:       req.Options.UseSurrogate,
		CreatedAt:       time.Now().UTC(),
	}
	if logp, ok := variables[req.Density.DensityName()]; ok && len(logp) > 0 {
		record.Logp = logp[0]
	}

	if err := c.store.SaveEvalRecord(ctx, record); err != nil {
		return model.EvalRecord{}, err
	}
	return record, nil
}

// Records lists the persisted evaluations of a run in creation order.
func (c *Client) Records(ctx context.Context, run string) ([]model.EvalRecord, error) {
	if run == "" {
		run = defaultRunID
	}
	return c.store.ListEvalRecords(ctx, run)
}

// Fit loads a run's records, calibrates the density's surrogates from them,
// and persists a fit report plus any refreshed decay state.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	if req.Density == nil {
		return FitSummary{}, errors.New("fit requires a density")
	}
	run := req.Run
	if run == "" {
		run = defaultRunID
	}

	records, err := c.store.ListEvalRecords(ctx, run)
	if err != nil {
		return FitSummary{}, err
	}
	stores := make([]*vars.Store, len(records))
	for i, record := range records {
		store := vars.NewStore()
		for name, value := range record.Variables {
			store.Set(name, value)
		}
		stores[i] = store
	}

	options := make([]module.FitOptions, len(req.Options))
	for i, opt := range req.Options {
		options[i] = module.FitOptions{UseLogp: opt.UseLogp}
	}
	if err := req.Density.Fit(stores, density.FitConfig{
		UseDecay: req.UseDecay,
		Decay:    req.Decay,
		Options:  options,
	}); err != nil {
		return FitSummary{}, err
	}

	surrogates := req.Density.Pipeline().Surrogates()
	names := make([]string, len(surrogates))
	for i, surrogate := range surrogates {
		names[i] = surrogate.Name()
	}
	report := model.FitReport{
		VersionedRecord: currentVersions(),
		ID:              uuid.NewString(),
		RunID:           run,
		SurrogateNames:  names,
		RecordCount:     len(records),
		UseDecay:        req.Density.UseDecay(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.store.SaveFitReport(ctx, report); err != nil {
		return FitSummary{}, err
	}

	summary := FitSummary{
		Run:            run,
		RecordCount:    len(records),
		SurrogateNames: names,
		UseDecay:       req.Density.UseDecay(),
	}
	if mu, invCov, alpha, gamma, ok := req.Density.DecaySnapshot(); ok {
		summary.Alpha = alpha
		summary.Gamma = gamma
		state := model.DecayState{
			VersionedRecord: currentVersions(),
			RunID:           run,
			Mu:              mu,
			InvCov:          invCov,
			Alpha:           alpha,
			Gamma:           gamma,
		}
		if err := c.store.SaveDecayState(ctx, state); err != nil {
			return FitSummary{}, err
		}
	}
	return summary, nil
}

// FitReports lists the persisted fit reports of a run.
func (c *Client) FitReports(ctx context.Context, run string) ([]model.FitReport, error) {
	if run == "" {
		run = defaultRunID
	}
	return c.store.ListFitReports(ctx, run)
}

// DecayState returns the persisted trust-region state of a run, if any.
func (c *Client) DecayState(ctx context.Context, run string) (model.DecayState, bool, error) {
	if run == "" {
		run = defaultRunID
	}
	return c.store.GetDecayState(ctx, run)
}

func currentVersions() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
