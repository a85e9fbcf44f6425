// Package store provides SeriesStore implementations for the supported
// time-series backends: the InfluxDB 1.x HTTP query API and
// TimescaleDB/Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridsense/unitexport/internal/retrieval"
)

// InfluxStore queries an InfluxDB 1.x-compatible store over its HTTP /query
// endpoint. Values are fetched bucketed at the request resolution with
// LAST() and FILL(previous), so each bucket carries the most recent reading.
type InfluxStore struct {
	queryURL string
	database string
	client   *http.Client
	logger   *logrus.Logger
}

// NewInfluxStore creates a store client for host:port/database. The HTTP
// client carries no timeout of its own; per-query deadlines come from the
// caller's context.
func NewInfluxStore(host string, port int, database string, logger *logrus.Logger) *InfluxStore {
	return &InfluxStore{
		queryURL: fmt.Sprintf("http://%s:%d/query", host, port),
		database: database,
		client:   &http.Client{},
		logger:   logger,
	}
}

// influxResponse mirrors the JSON shape of the 1.x query API. Each value row
// is [timestamp, value]; the value is null for empty FILL buckets.
type influxResponse struct {
	Results []struct {
		Error  string `json:"error"`
		Series []struct {
			Columns []string        `json:"columns"`
			Values  [][]interface{} `json:"values"`
		} `json:"series"`
	} `json:"results"`
	Error string `json:"error"`
}

// Query implements retrieval.SeriesStore.
func (s *InfluxStore) Query(ctx context.Context, q retrieval.Query) ([]retrieval.SeriesPoint, error) {
	stmt := fmt.Sprintf(
		`SELECT LAST(%q) AS value FROM %q WHERE %q = '%s' AND time >= '%s' AND time <= '%s' GROUP BY time(%s) FILL(previous)`,
		q.Field, q.Measurement, q.TagKey, q.TagValue,
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339),
		q.Resolution,
	)

	params := url.Values{}
	params.Set("db", s.database)
	params.Set("q", stmt)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.queryURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", retrieval.ErrQueryRejected, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", retrieval.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", retrieval.ErrQueryRejected, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", retrieval.ErrStoreUnavailable, resp.StatusCode)
	}

	var body influxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", retrieval.ErrStoreUnavailable, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("%w: %s", retrieval.ErrQueryRejected, body.Error)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	result := body.Results[0]
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", retrieval.ErrQueryRejected, result.Error)
	}
	if len(result.Series) == 0 {
		// Reachable store, no data in the window.
		return nil, nil
	}

	series := result.Series[0]
	points := make([]retrieval.SeriesPoint, 0, len(series.Values))
	for _, row := range series.Values {
		if len(row) < 2 || row[1] == nil {
			continue // empty bucket
		}
		ts, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string timestamp in response", retrieval.ErrStoreUnavailable)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q: %v", retrieval.ErrStoreUnavailable, ts, err)
		}
		v, ok := row[1].(float64)
		if !ok {
			continue // non-numeric field values are not exported
		}
		points = append(points, retrieval.SeriesPoint{Time: t.UTC(), Value: v})
	}

	s.logger.WithFields(logrus.Fields{
		"unit":     q.UnitID,
		"quantity": q.Quantity,
		"points":   len(points),
	}).Debug("Store query completed")

	return points, nil
}

// Compile-time interface implementation check
var _ retrieval.SeriesStore = (*InfluxStore)(nil)
