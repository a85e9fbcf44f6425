// Package runner orchestrates retrieval runs: it resolves the site schema,
// fans out per-unit pipelines, and collects artifacts and failure records.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gridsense/unitexport/internal/export"
	"github.com/gridsense/unitexport/internal/retrieval"
	"github.com/gridsense/unitexport/internal/schema"
)

// StoreFactory builds the SeriesStore for a run. The request carries the
// store address, so the backend is chosen per run, never process-global.
type StoreFactory func(req retrieval.Request) (retrieval.SeriesStore, error)

// UnitSummary reports per-unit retrieval outcomes for caller display.
type UnitSummary struct {
	UnitID    string `json:"unit_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	RowCount  int    `json:"row_count"`
	Exported  bool   `json:"exported"`
}

// RunResult is everything a run produced: the artifacts that were written
// and the failures that were isolated, never an all-or-nothing outcome.
type RunResult struct {
	RunID     string
	Artifacts []export.Artifact
	Failures  []retrieval.Failure
	Summaries []UnitSummary
}

// Runner executes retrieval runs. Units are processed in parallel; they
// share no mutable state, so one unit's failure never affects a sibling.
type Runner struct {
	registry *schema.Registry
	newStore StoreFactory
	execCfg  retrieval.ExecutorConfig
	cache    *retrieval.QueryCache
	writer   *export.Writer
	logger   *logrus.Logger
}

// New wires a runner. The query cache lives on the runner rather than in
// the per-run executor, so a re-run of an identical request (scheduled or
// manual) is served from cache instead of the store.
func New(registry *schema.Registry, newStore StoreFactory, execCfg retrieval.ExecutorConfig, writer *export.Writer, logger *logrus.Logger) (*Runner, error) {
	cache, err := retrieval.NewQueryCache(execCfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Runner{
		registry: registry,
		newStore: newStore,
		execCfg:  execCfg,
		cache:    cache,
		writer:   writer,
		logger:   logger,
	}, nil
}

// unitOutcome gathers one unit's results so the combined run output can be
// assembled in request unit order regardless of completion order.
type unitOutcome struct {
	artifact *export.Artifact
	failures []retrieval.Failure
	summary  UnitSummary
}

// Run performs one retrieval run. It returns an error only for run-fatal
// conditions (invalid request, unknown prefix, store construction); unit
// and query failures are reported in the result instead.
func (r *Runner) Run(ctx context.Context, req retrieval.Request) (RunResult, error) {
	if err := req.Validate(); err != nil {
		return RunResult{}, err
	}
	mapping, err := r.registry.Resolve(req.Prefix)
	if err != nil {
		return RunResult{}, err
	}
	store, err := r.newStore(req)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create store: %w", err)
	}
	executor, err := retrieval.NewExecutor(store, r.cache, r.execCfg, r.logger)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create executor: %w", err)
	}

	runID := uuid.NewString()
	log := r.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"prefix": req.Prefix,
		"store":  req.StoreAddress(),
	})
	log.WithField("units", len(req.UnitIDs)).Info("Starting retrieval run")

	outcomes := make([]unitOutcome, len(req.UnitIDs))
	var wg sync.WaitGroup
	for i, unitID := range req.UnitIDs {
		wg.Add(1)
		go func(i int, unitID string) {
			defer wg.Done()
			outcomes[i] = r.runUnit(ctx, req, mapping, executor, runID, unitID)
		}(i, unitID)
	}
	wg.Wait()

	result := RunResult{RunID: runID}
	for _, o := range outcomes {
		if o.artifact != nil {
			result.Artifacts = append(result.Artifacts, *o.artifact)
		}
		result.Failures = append(result.Failures, o.failures...)
		result.Summaries = append(result.Summaries, o.summary)
	}

	log.WithFields(logrus.Fields{
		"artifacts": len(result.Artifacts),
		"failures":  len(result.Failures),
	}).Info("Retrieval run finished")
	return result, nil
}

// runUnit executes the full pipeline for one unit: build, execute,
// reconcile, stats, export.
func (r *Runner) runUnit(ctx context.Context, req retrieval.Request, mapping schema.FieldMapping, executor *retrieval.Executor, runID, unitID string) unitOutcome {
	summary := UnitSummary{UnitID: unitID}

	queries, err := retrieval.BuildUnitQueries(req, mapping, unitID)
	if err != nil {
		return unitOutcome{
			failures: []retrieval.Failure{{UnitID: unitID, Kind: retrieval.FailureInvalidUnit, Err: err}},
			summary:  summary,
		}
	}

	series, failures := executor.Execute(ctx, queries)
	summary.Succeeded = len(series)
	summary.Failed = len(failures)

	// An abandoned run must not publish partial artifacts.
	if ctx.Err() != nil {
		failures = append(failures, retrieval.Failure{
			UnitID: unitID, Kind: retrieval.FailureTransient, Err: ctx.Err(),
		})
		return unitOutcome{failures: failures, summary: summary}
	}

	// When every query for the unit failed there is nothing to export:
	// the unit is reported as one failure record instead of an artifact
	// fabricated entirely from missing cells.
	if len(series) == 0 && len(failures) > 0 {
		return unitOutcome{
			failures: []retrieval.Failure{{UnitID: unitID, Kind: failures[0].Kind, Err: failures[0].Err}},
			summary:  summary,
		}
	}

	columns := mapping.Quantities(unitID)
	table := retrieval.Reconcile(unitID, columns, series)
	stats := retrieval.ComputeStats(table)
	summary.RowCount = len(table.Rows)

	artifact, err := r.writer.Export(req, runID, mapping.EntriesFor(unitID), table, stats, failures)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"run_id": runID,
			"unit":   unitID,
		}).WithError(err).Error("Export failed")
		failures = append(failures, retrieval.Failure{
			UnitID: unitID, Kind: retrieval.FailureExport, Err: err,
		})
		return unitOutcome{failures: failures, summary: summary}
	}

	summary.Exported = true
	return unitOutcome{artifact: &artifact, failures: failures, summary: summary}
}
