package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("localhost", 8086, "farmsum_db", "FRM",
		[]string{"BD361-0", "H356-0"}, date(2024, 1, 1), date(2024, 1, 2), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultResolution, req.Resolution)
	assert.Equal(t, "localhost:8086/farmsum_db", req.StoreAddress())

	start, end := req.Window()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC), end)
}

func TestNewRequestCopiesUnits(t *testing.T) {
	units := []string{"BD361-0"}
	req, err := NewRequest("localhost", 8086, "db", "FRM", units, date(2024, 1, 1), date(2024, 1, 1), "1m")
	require.NoError(t, err)

	units[0] = "mutated"
	assert.Equal(t, "BD361-0", req.UnitIDs[0])
}

func TestRequestValidation(t *testing.T) {
	valid := func() Request {
		return Request{
			Host:       "localhost",
			Port:       8086,
			Database:   "db",
			Prefix:     "FRM",
			UnitIDs:    []string{"BD361-0"},
			Start:      date(2024, 1, 1),
			End:        date(2024, 1, 2),
			Resolution: "1m",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing host", func(r *Request) { r.Host = "" }},
		{"port out of range", func(r *Request) { r.Port = 0 }},
		{"missing database", func(r *Request) { r.Database = "" }},
		{"missing prefix", func(r *Request) { r.Prefix = "" }},
		{"empty unit list", func(r *Request) { r.UnitIDs = nil }},
		{"empty unit id", func(r *Request) { r.UnitIDs = []string{""} }},
		{"missing dates", func(r *Request) { r.Start = time.Time{} }},
		{"start after end", func(r *Request) { r.Start = date(2024, 2, 1) }},
		{"bad resolution", func(r *Request) { r.Resolution = "3m" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	assert.NoError(t, valid().Validate())
}
