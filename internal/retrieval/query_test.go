package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsense/unitexport/internal/schema"
)

func testMapping() schema.FieldMapping {
	return schema.FieldMapping{
		Prefix: "FRM",
		Entries: []schema.Entry{
			{Quantity: "s_code", Field: "value_f"},
			{Quantity: "running", Field: "value_b"},
			{Quantity: "Omega_percent", TagValue: "WaterContentInformation", Field: "Omega_percent"},
			{Quantity: "gas_energy", Unit: "energy_data", TagKey: "type", TagValue: "gas", Field: "value"},
		},
	}
}

func testRequest(t *testing.T, units ...string) Request {
	t.Helper()
	req, err := NewRequest("localhost", 8086, "farmsum_db", "FRM", units,
		date(2024, 1, 1), date(2024, 1, 2), "1m")
	require.NoError(t, err)
	return req
}

func TestBuildUnitQueries(t *testing.T) {
	req := testRequest(t, "BD361-0")

	queries, err := BuildUnitQueries(req, testMapping(), "BD361-0")
	require.NoError(t, err)
	require.Len(t, queries, 3) // gas_energy is restricted to energy_data

	q := queries[0]
	assert.Equal(t, "BD361-0", q.UnitID)
	assert.Equal(t, "localhost:8086/farmsum_db", q.Store)
	assert.Equal(t, "s_code", q.Quantity)
	assert.Equal(t, "BD361-0", q.Measurement)
	assert.Equal(t, "value_f", q.Field)
	assert.Equal(t, "unit", q.TagKey)
	assert.Equal(t, "s_code", q.TagValue)
	assert.Equal(t, "1m", q.Resolution)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC), q.End)

	omega := queries[2]
	assert.Equal(t, "WaterContentInformation", omega.TagValue)
	assert.Equal(t, "Omega_percent", omega.Field)
}

func TestBuildUnitQueriesEnergyUnit(t *testing.T) {
	req := testRequest(t, "energy_data")

	queries, err := BuildUnitQueries(req, testMapping(), "energy_data")
	require.NoError(t, err)
	require.Len(t, queries, 4)

	gas := queries[3]
	assert.Equal(t, "gas_energy", gas.Quantity)
	assert.Equal(t, "energy_data", gas.Measurement)
	assert.Equal(t, "type", gas.TagKey)
	assert.Equal(t, "gas", gas.TagValue)
	assert.Equal(t, "value", gas.Field)
}

func TestBuildUnitQueriesInvalidID(t *testing.T) {
	req := testRequest(t, "BD361-0")

	tests := []string{"", "bad unit", "unit'; DROP", "a\"b", "x\ny"}
	for _, id := range tests {
		_, err := BuildUnitQueries(req, testMapping(), id)
		require.Error(t, err, "id %q", id)
		assert.ErrorIs(t, err, ErrInvalidUnitID)
	}

	// The awkward-but-real identifiers must pass.
	for _, id := range []string{"BD361-0", "N-F-430214-21-07905", "energy_data", "CB20B"} {
		_, err := BuildUnitQueries(req, testMapping(), id)
		assert.NoError(t, err, "id %q", id)
	}
}

func TestBuildQueriesOrderingAndDeterminism(t *testing.T) {
	req := testRequest(t, "H356-0", "BD361-0")

	first, failures := BuildQueries(req, testMapping())
	require.Empty(t, failures)
	second, _ := BuildQueries(req, testMapping())

	// Identical inputs produce an identical, order-stable query set.
	assert.Equal(t, first, second)

	// Ordering is request unit order then mapping entry order.
	var got []string
	for _, q := range first {
		got = append(got, q.UnitID+"/"+q.Quantity)
	}
	assert.Equal(t, []string{
		"H356-0/s_code", "H356-0/running", "H356-0/Omega_percent",
		"BD361-0/s_code", "BD361-0/running", "BD361-0/Omega_percent",
	}, got)
}

func TestBuildQueriesIsolatesInvalidUnit(t *testing.T) {
	req := testRequest(t, "bad unit", "BD361-0")

	queries, failures := BuildQueries(req, testMapping())
	require.Len(t, failures, 1)
	assert.Equal(t, "bad unit", failures[0].UnitID)
	assert.Equal(t, FailureInvalidUnit, failures[0].Kind)

	// The sibling unit still gets its queries.
	require.Len(t, queries, 3)
	assert.Equal(t, "BD361-0", queries[0].UnitID)
}

func TestQuerySignatureDistinguishesStores(t *testing.T) {
	req := testRequest(t, "BD361-0")
	queries, err := BuildUnitQueries(req, testMapping(), "BD361-0")
	require.NoError(t, err)

	// The same series on another store must never share a cache entry.
	other := queries[0]
	other.Store = "localhost:8086/teesside_db"
	assert.NotEqual(t, queries[0].Signature(), other.Signature())
}

func TestQuerySignatureDistinguishesQueries(t *testing.T) {
	req := testRequest(t, "BD361-0")
	queries, err := BuildUnitQueries(req, testMapping(), "BD361-0")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, q := range queries {
		sig := q.Signature()
		assert.False(t, seen[sig], "duplicate signature %s", sig)
		seen[sig] = true
		assert.Equal(t, sig, q.Signature())
	}
}
