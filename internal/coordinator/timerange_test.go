package coordinator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/statement"
)

func rangeOf(t *testing.T, sql string) timeRange {
	t.Helper()
	stmt, err := statement.Parse(sql)
	require.NoError(t, err)
	return timeRangeOf(stmt.(*statement.SelectSQLStatement).Condition)
}

func TestTimeRangeExtraction(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want timeRange
	}{
		{"no condition", "SELECT * FROM m", fullRange},
		{"conjunction", "SELECT * FROM m WHERE timestamp >= 2 AND timestamp <= 4", timeRange{2, 4}},
		{"open upper", "SELECT * FROM m WHERE timestamp >= 10", timeRange{10, math.MaxInt64}},
		{"strict lower", "SELECT * FROM m WHERE timestamp > 10", timeRange{11, math.MaxInt64}},
		{"strict upper", "SELECT * FROM m WHERE timestamp < 10", timeRange{math.MinInt64, 9}},
		{"equality", "SELECT * FROM m WHERE timestamp = 7", timeRange{7, 7}},
		{"in range", "SELECT * FROM m WHERE timestamp IN RANGE (2, 4)", timeRange{2, 4}},
		{"not flips", "SELECT * FROM m WHERE NOT(timestamp >= 10)", timeRange{math.MinInt64, 9}},
		{"double negation", "SELECT * FROM m WHERE NOT(NOT(timestamp >= 10))", timeRange{10, math.MaxInt64}},
		{"non-timestamp ignored", "SELECT * FROM m WHERE name = 'x'", fullRange},
		{"mixed conjunction", "SELECT * FROM m WHERE name = 'x' AND timestamp <= 4", timeRange{math.MinInt64, 4}},
		{"disjunction hull", "SELECT * FROM m WHERE timestamp = 2 OR timestamp = 9", timeRange{2, 9}},
		{"not equality keeps both sides", "SELECT * FROM m WHERE NOT(timestamp = 5)", fullRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rangeOf(t, tt.sql))
		})
	}
}

func TestTimeRangeEmpty(t *testing.T) {
	r := rangeOf(t, "SELECT * FROM m WHERE timestamp > 10 AND timestamp < 5")
	assert.True(t, r.empty())

	r = rangeOf(t, "SELECT * FROM m WHERE timestamp IN RANGE (9, 2)")
	assert.True(t, r.empty())
}
