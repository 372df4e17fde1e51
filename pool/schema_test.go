package pool_test

import (
	"math"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/thek-os/segheap/memutils"
	"github.com/thek-os/segheap/pool"
)

func TestSchemaValidate(t *testing.T) {
	testCases := map[string]struct {
		schema pool.Schema
		valid  bool
	}{
		"Default":   {schema: pool.DefaultSchema, valid: true},
		"Small":     {schema: pool.SmallSchema(), valid: true},
		"Big":       {schema: pool.BigSchema(), valid: true},
		"Empty":     {schema: pool.Schema{}},
		"TooMany":   {schema: pool.Schema{{8, 20}, {16, 20}, {24, 20}, {32, 20}, {40, 10}, {48, 10}}},
		"ZeroSize":  {schema: pool.Schema{{0, 100}}},
		"Negative":  {schema: pool.Schema{{-8, 100}}},
		"Over100":   {schema: pool.Schema{{64, 101}}},
		"Sum99":     {schema: pool.Schema{{64, 50}, {128, 49}}},
		"Sum101":    {schema: pool.Schema{{64, 50}, {128, 51}}},
		"Unordered": {schema: pool.Schema{{128, 50}, {64, 50}}},
		"Duplicate": {schema: pool.Schema{{64, 50}, {64, 50}}},
		"ZeroPct":   {schema: pool.Schema{{64, 0}, {128, 100}}, valid: true},
		"FivePools": {schema: pool.Schema{{8, 20}, {16, 20}, {24, 20}, {32, 20}, {math.MaxInt, 20}}, valid: true},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			err := testCase.schema.Validate()
			if testCase.valid {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, memutils.ErrConfiguration)
		})
	}
}

func TestSchemaOrDefault(t *testing.T) {
	require.Equal(t, pool.DefaultSchema, pool.Schema(nil).OrDefault())
	require.Equal(t, pool.SmallSchema(), pool.SmallSchema().OrDefault())
}

func TestParseSchema(t *testing.T) {
	schema, err := pool.ParseSchema([]byte(`[
		{"segmentSize": 256, "percentage": 80},
		{"percentage": 10, "segmentSize": 1024},
		{"segmentSize": "max-1", "percentage": 5, "comment": "ignored"},
		{"segmentSize": "max", "percentage": 5}
	]`))
	require.NoError(t, err)
	require.Equal(t, pool.SmallSchema(), schema)
}

func TestParseSchemaErrors(t *testing.T) {
	testCases := map[string]string{
		"NotArray":        `{"segmentSize": 256, "percentage": 100}`,
		"MissingPercent":  `[{"segmentSize": 256}]`,
		"MissingSize":     `[{"percentage": 100}]`,
		"FractionalSize":  `[{"segmentSize": 25.5, "percentage": 100}]`,
		"NegativeSize":    `[{"segmentSize": -1, "percentage": 100}]`,
		"UnknownString":   `[{"segmentSize": "huge", "percentage": 100}]`,
		"BoolSize":        `[{"segmentSize": true, "percentage": 100}]`,
		"PercentTooLarge": `[{"segmentSize": 256, "percentage": 300}]`,
		"BadSum":          `[{"segmentSize": 256, "percentage": 90}]`,
		"TrailingData":    `[{"segmentSize": 256, "percentage": 100}] []`,
		"Empty":           `[]`,
	}

	for name, document := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := pool.ParseSchema([]byte(document))
			require.ErrorIs(t, err, memutils.ErrConfiguration)
		})
	}
}

func TestSchemaWriteJSONRoundTrip(t *testing.T) {
	w := jwriter.NewWriter()
	pool.BigSchema().WriteJSON(&w)
	require.NoError(t, w.Error())

	require.JSONEq(t, `[
		{"segmentSize": 4096, "percentage": 10},
		{"segmentSize": 131072, "percentage": 80},
		{"segmentSize": "max-1", "percentage": 5},
		{"segmentSize": "max", "percentage": 5}
	]`, string(w.Bytes()))

	schema, err := pool.ParseSchema(w.Bytes())
	require.NoError(t, err)
	require.Equal(t, pool.BigSchema(), schema)
}
