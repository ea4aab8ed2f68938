package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/EiffL/bayesfast/internal/density"
	"github.com/EiffL/bayesfast/internal/module"
	"github.com/EiffL/bayesfast/internal/pipeline"
	bfapi "github.com/EiffL/bayesfast/pkg/bayesfast"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "eval":
		return runEval(args[1:])
	case "grad":
		return runGrad(args[1:])
	case "record":
		return runRecord(ctx, args[1:])
	case "records":
		return runRecords(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "modules":
		return runModules(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type densityFlags struct {
	configPath *string
	surrogate  *bool
	space      *string
}

func addDensityFlags(fs *flag.FlagSet) densityFlags {
	return densityFlags{
		configPath: fs.String("config", "", "JSON pipeline config (default: built-in banana density)"),
		surrogate:  fs.Bool("surrogate", false, "evaluate through fitted surrogates"),
		space:      fs.String("space", "original", "input space: original|transformed"),
	}
}

func (f densityFlags) density() (*density.Density, error) {
	if *f.configPath == "" {
		return bananaDensity()
	}
	return loadDensityFromConfig(*f.configPath)
}

func (f densityFlags) evalOptions() (pipeline.EvalOptions, error) {
	opts := pipeline.EvalOptions{UseSurrogate: *f.surrogate}
	switch *f.space {
	case "", "original":
		opts.Space = pipeline.SpaceOriginal
	case "transformed":
		opts.Space = pipeline.SpaceTransformed
	default:
		return pipeline.EvalOptions{}, fmt.Errorf("unknown space: %s", *f.space)
	}
	return opts, nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	point := fs.String("x", "", "comma-separated input point")
	df := addDensityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	x, err := parsePoint(*point)
	if err != nil {
		return err
	}
	d, err := df.density()
	if err != nil {
		return err
	}
	opts, err := df.evalOptions()
	if err != nil {
		return err
	}

	logp, err := d.Logp(x, opts)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"x": x, "logp": logp})
}

func runGrad(args []string) error {
	fs := flag.NewFlagSet("grad", flag.ContinueOnError)
	point := fs.String("x", "", "comma-separated input point")
	df := addDensityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	x, err := parsePoint(*point)
	if err != nil {
		return err
	}
	d, err := df.density()
	if err != nil {
		return err
	}
	opts, err := df.evalOptions()
	if err != nil {
		return err
	}

	logp, grad, err := d.LogpAndGrad(x, opts)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"x": x, "logp": logp, "grad": grad})
}

func runRecord(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	point := fs.String("x", "", "comma-separated input point")
	runID := fs.String("run", "", "run identifier")
	storeKind := fs.String("store", "", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "", "sqlite database path")
	df := addDensityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	x, err := parsePoint(*point)
	if err != nil {
		return err
	}
	d, err := df.density()
	if err != nil {
		return err
	}
	opts, err := df.evalOptions()
	if err != nil {
		return err
	}

	client, err := bfapi.New(bfapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	record, err := client.Record(ctx, bfapi.RecordRequest{
		Run:     *runID,
		Density: d,
		X:       x,
		Options: opts,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": record.ID, "run": record.RunID, "logp": record.Logp})
}

func runRecords(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	runID := fs.String("run", "", "run identifier")
	storeKind := fs.String("store", "", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := bfapi.New(bfapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	records, err := client.Records(ctx, *runID)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Printf("%s  %s  logp=%.6g  surrogate=%t\n",
			record.CreatedAt.Format("2006-01-02T15:04:05Z"), record.ID, record.Logp, record.Surrogate)
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	runID := fs.String("run", "", "run identifier")
	storeKind := fs.String("store", "", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "", "sqlite database path")
	useDecay := fs.Bool("decay", false, "calibrate the trust-region penalty from the run's records")
	gamma := fs.Float64("gamma", 0, "decay penalty strength (0 keeps the default)")
	alphaP := fs.Float64("alpha-p", 0, "decay radius percentile (>=100 scales the max radius)")
	df := addDensityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := df.density()
	if err != nil {
		return err
	}

	client, err := bfapi.New(bfapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Fit(ctx, bfapi.FitRequest{
		Run:      *runID,
		Density:  d,
		UseDecay: *useDecay,
		Decay:    density.DecayOptions{Gamma: *gamma, AlphaP: *alphaP},
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"run":        summary.Run,
		"records":    summary.RecordCount,
		"surrogates": summary.SurrogateNames,
		"use_decay":  summary.UseDecay,
		"alpha":      summary.Alpha,
		"gamma":      summary.Gamma,
	})
}

func runModules(args []string) error {
	fs := flag.NewFlagSet("modules", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range module.List() {
		fmt.Println(name)
	}
	return nil
}

func parsePoint(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("missing -x point")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse point component %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf(`%s

usage: bayesfastctl <command> [flags]

commands:
  eval      evaluate the log-density at a point
  grad      evaluate the log-density and its gradient at a point
  record    evaluate and persist an evaluation record
  records   list the persisted records of a run
  fit       calibrate surrogates from a run's records
  modules   list registered module factories`, msg)
}
