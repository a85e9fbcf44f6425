// Package export serializes reconciled unit tables to CSV files with a
// JSON metadata manifest alongside each one.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridsense/unitexport/internal/retrieval"
	"github.com/gridsense/unitexport/internal/schema"
)

// Artifact is the exported output for one unit and date range.
type Artifact struct {
	UnitID       string `json:"unit_id"`
	CSVPath      string `json:"csv_path"`
	ManifestPath string `json:"manifest_path"`
	RowCount     int    `json:"row_count"`
}

// ManifestField records one field-mapping entry actually used for a unit.
type ManifestField struct {
	Quantity string `json:"quantity"`
	Field    string `json:"field"`
	TagKey   string `json:"tag_key"`
	TagValue string `json:"tag_value"`
}

// ManifestFailure is the serializable form of a failure record.
type ManifestFailure struct {
	Quantity string `json:"quantity,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message,omitempty"`
}

// Manifest describes one exported CSV: the field mapping used, per-column
// statistics, and run metadata.
type Manifest struct {
	RunID       string                  `json:"run_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Store       string                  `json:"store"`
	Prefix      string                  `json:"prefix"`
	UnitID      string                  `json:"unit_id"`
	Start       string                  `json:"start_date"`
	End         string                  `json:"end_date"`
	Resolution  string                  `json:"resolution"`
	RowCount    int                     `json:"row_count"`
	FieldMap    []ManifestField         `json:"field_mapping"`
	Columns     []retrieval.ColumnStats `json:"column_stats"`
	Failures    []ManifestFailure       `json:"failures,omitempty"`
}

// Writer exports unit tables under a fixed output root. Filenames are
// deterministic per (prefix, unit, resolution, date range), so a re-run of
// the same request overwrites rather than accumulates; in-progress files
// are staged under run-scoped temp names so concurrent runs never collide.
type Writer struct {
	dir    string
	logger *logrus.Logger
}

// NewWriter creates the output root if needed.
func NewWriter(dir string, logger *logrus.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// BaseName returns the deterministic artifact stem for a unit in a request.
func BaseName(req retrieval.Request, unitID string) string {
	const day = "20060102"
	return fmt.Sprintf("%s_%s_%s_%s_to_%s",
		req.Prefix, unitID, req.Resolution,
		req.Start.Format(day), req.End.Format(day))
}

// Export writes the unit's CSV and manifest. The write is atomic from the
// caller's perspective: both files are staged to temp names and renamed into
// place, so a failure leaves no partially written artifact addressable.
func (w *Writer) Export(req retrieval.Request, runID string, entries []schema.Entry, table retrieval.UnitTable, stats []retrieval.ColumnStats, failures []retrieval.Failure) (Artifact, error) {
	base := BaseName(req, table.UnitID)
	csvPath := filepath.Join(w.dir, base+".csv")
	manifestPath := filepath.Join(w.dir, base+".manifest.json")

	csvTmp := csvPath + ".tmp." + runID
	manifestTmp := manifestPath + ".tmp." + runID

	if err := w.writeCSV(csvTmp, table); err != nil {
		os.Remove(csvTmp)
		return Artifact{}, err
	}
	manifest := buildManifest(req, runID, entries, table, stats, failures)
	if err := w.writeManifest(manifestTmp, manifest); err != nil {
		os.Remove(csvTmp)
		os.Remove(manifestTmp)
		return Artifact{}, err
	}

	if err := os.Rename(csvTmp, csvPath); err != nil {
		os.Remove(csvTmp)
		os.Remove(manifestTmp)
		return Artifact{}, fmt.Errorf("failed to publish csv: %w", err)
	}
	if err := os.Rename(manifestTmp, manifestPath); err != nil {
		os.Remove(manifestTmp)
		return Artifact{}, fmt.Errorf("failed to publish manifest: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"unit": table.UnitID,
		"rows": len(table.Rows),
		"csv":  csvPath,
	}).Info("Exported unit table")

	return Artifact{
		UnitID:       table.UnitID,
		CSVPath:      csvPath,
		ManifestPath: manifestPath,
		RowCount:     len(table.Rows),
	}, nil
}

// writeCSV serializes the table: a header of logical quantity names, one
// row per timestamp, missing cells as the empty string. Floats use the
// shortest representation that round-trips exactly.
func (w *Writer) writeCSV(path string, table retrieval.UnitTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := append([]string{"time"}, table.Columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range table.Rows {
		record[0] = row.Time.UTC().Format(time.RFC3339Nano)
		for i, cell := range row.Cells {
			if cell.Valid {
				record[i+1] = strconv.FormatFloat(cell.Value, 'g', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return f.Sync()
}

func (w *Writer) writeManifest(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return f.Sync()
}

func buildManifest(req retrieval.Request, runID string, entries []schema.Entry, table retrieval.UnitTable, stats []retrieval.ColumnStats, failures []retrieval.Failure) Manifest {
	fields := make([]ManifestField, len(entries))
	for i, e := range entries {
		fields[i] = ManifestField{
			Quantity: e.Quantity,
			Field:    e.Field,
			TagKey:   e.EffectiveTagKey(),
			TagValue: e.EffectiveTagValue(),
		}
	}
	var mf []ManifestFailure
	for _, f := range failures {
		mf = append(mf, ManifestFailure{
			Quantity: f.Quantity,
			Kind:     string(f.Kind),
			Message:  f.Message(),
		})
	}
	return Manifest{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Store:       req.StoreAddress(),
		Prefix:      req.Prefix,
		UnitID:      table.UnitID,
		Start:       req.Start.Format("2006-01-02"),
		End:         req.End.Format("2006-01-02"),
		Resolution:  req.Resolution,
		RowCount:    len(table.Rows),
		FieldMap:    fields,
		Columns:     stats,
		Failures:    mf,
	}
}
