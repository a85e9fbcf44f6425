// Package unitexport retrieves time-series sensor and energy readings for
// the units of a site and exports them as per-unit CSV files with metadata
// manifests.
//
// # Architecture
//
// The pipeline is structured into several key packages:
//   - schema: data-driven registry mapping site prefixes to field-naming
//     conventions
//   - retrieval: request validation, query building, concurrent execution
//     with retries, reconciliation and statistics
//   - store: SeriesStore backends (InfluxDB HTTP API, TimescaleDB)
//   - export: atomic CSV and manifest serialization
//   - runner: per-unit orchestration and scheduled re-export
//   - config: YAML configuration with environment overrides
//
// Control flow: a caller-supplied request is expanded into one query per
// (unit, logical quantity) pair, executed concurrently against the store,
// reconciled into a timestamp-ordered table per unit, summarized with
// per-column statistics, and written atomically to the output directory.
// Failures are isolated per unit and per quantity; the caller always
// receives both the produced artifacts and the failure records.
package unitexport
