package retrieval

import (
	"fmt"
	"time"

	"github.com/gridsense/unitexport/internal/schema"
)

// Query addresses one (unit, logical quantity) series in the store.
type Query struct {
	UnitID   string
	Quantity string

	// Store is the source address (host:port/database). It scopes the
	// signature so a cached result from one store never answers for another.
	Store string

	// Measurement is the series container; for this schema family it is the
	// unit identifier itself.
	Measurement string
	Field       string
	TagKey      string
	TagValue    string

	Start      time.Time
	End        time.Time
	Resolution string
}

// Signature is a deterministic key for the query, used for result caching
// and run diffing. Two queries with equal signatures fetch the same data.
func (q Query) Signature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s=%s|%s|%s|%s",
		q.Store, q.Measurement, q.Field, q.Resolution,
		q.TagKey, q.TagValue,
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339),
		q.Quantity)
}

// validUnitID reports whether a unit identifier is safe to interpolate into
// the store's addressing scheme. Observed unit names are alphanumeric with
// dashes, underscores and dots (BD361-0, N-F-430214-21-07905, energy_data).
func validUnitID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// BuildUnitQueries produces the ordered query list for one unit: one query
// per applicable mapping entry, in mapping order. A unit identifier the
// store cannot address fails fast with ErrInvalidUnitID instead of being
// sent upstream.
func BuildUnitQueries(req Request, mapping schema.FieldMapping, unitID string) ([]Query, error) {
	if !validUnitID(unitID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUnitID, unitID)
	}
	start, end := req.Window()
	entries := mapping.EntriesFor(unitID)
	queries := make([]Query, 0, len(entries))
	for _, e := range entries {
		queries = append(queries, Query{
			UnitID:      unitID,
			Quantity:    e.Quantity,
			Store:       req.StoreAddress(),
			Measurement: unitID,
			Field:       e.Field,
			TagKey:      e.EffectiveTagKey(),
			TagValue:    e.EffectiveTagValue(),
			Start:       start,
			End:         end,
			Resolution:  req.Resolution,
		})
	}
	return queries, nil
}

// BuildQueries produces the query set for the whole request, ordered by
// request unit order then mapping entry order. Units with invalid
// identifiers are reported as failures and skipped; their siblings are
// unaffected.
func BuildQueries(req Request, mapping schema.FieldMapping) ([]Query, []Failure) {
	var queries []Query
	var failures []Failure
	for _, unitID := range req.UnitIDs {
		qs, err := BuildUnitQueries(req, mapping, unitID)
		if err != nil {
			failures = append(failures, Failure{UnitID: unitID, Kind: FailureInvalidUnit, Err: err})
			continue
		}
		queries = append(queries, qs...)
	}
	return queries, failures
}
