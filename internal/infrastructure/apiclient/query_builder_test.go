package apiclient

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unquote parses a single-quoted literal back into its value
func unquote(t *testing.T, lit string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'"), lit)
	body := lit[1 : len(lit)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\'' {
			require.True(t, i+1 < len(body) && body[i+1] == '\'', "unescaped quote in %q", lit)
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String()
}

func TestEscapeStringRoundTrip(t *testing.T) {
	inputs := []string{"", "plain", "O'Brien", "''", "a'b'c'", "'; DROP TABLE item; --", "ünï'cödé"}
	for _, in := range inputs {
		assert.Equal(t, in, unquote(t, EscapeString(in)), in)
	}
}

func TestBuildQuery(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name       string
		base       string
		conditions map[string]any
		opts       QueryOptions
		want       string
	}{
		{
			name:       "escapes quotes",
			base:       "SELECT * FROM item",
			conditions: map[string]any{"name": "O'Brien"},
			want:       "SELECT * FROM item WHERE name = 'O''Brien'",
		},
		{
			name:       "boolean literal",
			base:       "SELECT * FROM item",
			conditions: map[string]any{"isinactive": false},
			want:       "SELECT * FROM item WHERE isinactive = 'F'",
		},
		{
			name:       "null and list",
			base:       "SELECT id FROM item",
			conditions: map[string]any{"parent": nil, "id": []int{1, 2, 3}},
			want:       "SELECT id FROM item WHERE id IN (1, 2, 3) AND parent IS NULL",
		},
		{
			name:       "appends to existing where",
			base:       "SELECT * FROM item WHERE isinactive = 'F'",
			conditions: map[string]any{"itemtype": "InvtPart"},
			want:       "SELECT * FROM item WHERE isinactive = 'F' AND itemtype = 'InvtPart'",
		},
		{
			name:       "comparison with time and decimal",
			base:       "SELECT * FROM item",
			conditions: map[string]any{"lastmodifieddate": After(ts), "baseprice": Comparison{Operator: ">=", Value: decimal.RequireFromString("9.99")}},
			want:       "SELECT * FROM item WHERE baseprice >= 9.99 AND lastmodifieddate > TO_TIMESTAMP('2024-03-01 10:30:00', 'YYYY-MM-DD HH24:MI:SS')",
		},
		{
			name: "select order limit offset",
			base: "SELECT * FROM item",
			opts: QueryOptions{Select: []string{"id", "item.itemid"}, OrderBy: "lastmodifieddate asc, id", Limit: Limit(50), Offset: 100},
			want: "SELECT id, item.itemid FROM item ORDER BY lastmodifieddate ASC, id LIMIT 50 OFFSET 100",
		},
		{
			name: "limit zero clamps to one",
			base: "SELECT * FROM item",
			opts: QueryOptions{Limit: Limit(0)},
			want: "SELECT * FROM item LIMIT 1 OFFSET 0",
		},
		{
			name: "limit above cap clamps",
			base: "SELECT * FROM item",
			opts: QueryOptions{Limit: Limit(20000), Offset: -5},
			want: "SELECT * FROM item LIMIT 10000 OFFSET 0",
		},
		{
			name: "existing limit is kept",
			base: "SELECT * FROM item ORDER BY id LIMIT 5",
			opts: QueryOptions{OrderBy: "name", Limit: Limit(50)},
			want: "SELECT * FROM item ORDER BY id LIMIT 5",
		},
		{
			name:       "literal mentioning limit does not suppress clause",
			base:       "SELECT * FROM item",
			conditions: map[string]any{"memo": "no limit"},
			opts:       QueryOptions{Limit: Limit(10)},
			want:       "SELECT * FROM item WHERE memo = 'no limit' LIMIT 10 OFFSET 0",
		},
		{
			name:       "conditions go before existing order by",
			base:       "SELECT id FROM item ORDER BY id",
			conditions: map[string]any{"isinactive": false},
			want:       "SELECT id FROM item WHERE isinactive = 'F' ORDER BY id",
		},
		{
			name:       "conditions and order go before existing limit",
			base:       "SELECT * FROM item WHERE isinactive = 'F' LIMIT 5 OFFSET 10",
			conditions: map[string]any{"memo": "no limit"},
			opts:       QueryOptions{OrderBy: "id desc", Limit: Limit(50)},
			want:       "SELECT * FROM item WHERE isinactive = 'F' AND memo = 'no limit' ORDER BY id DESC LIMIT 5 OFFSET 10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildQuery(tt.base, tt.conditions, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildQueryRejects(t *testing.T) {
	tests := []struct {
		name       string
		base       string
		conditions map[string]any
		opts       QueryOptions
	}{
		{"empty base", "  ", nil, QueryOptions{}},
		{"bad column", "SELECT * FROM item", map[string]any{"name; drop": "x"}, QueryOptions{}},
		{"three part identifier", "SELECT * FROM item", map[string]any{"a.b.c": 1}, QueryOptions{}},
		{"empty list", "SELECT * FROM item", map[string]any{"id": []string{}}, QueryOptions{}},
		{"map value", "SELECT * FROM item", map[string]any{"id": map[string]int{"a": 1}}, QueryOptions{}},
		{"list of maps", "SELECT * FROM item", map[string]any{"id": []map[string]int{{"a": 1}}}, QueryOptions{}},
		{"struct value", "SELECT * FROM item", map[string]any{"id": struct{}{}}, QueryOptions{}},
		{"bad operator", "SELECT * FROM item", map[string]any{"id": Comparison{Operator: "LIKE", Value: "x"}}, QueryOptions{}},
		{"null ordering", "SELECT * FROM item", map[string]any{"id": Comparison{Operator: ">", Value: nil}}, QueryOptions{}},
		{"bad select", "SELECT * FROM item", nil, QueryOptions{Select: []string{"id, 1=1"}}},
		{"select without projection", "item", nil, QueryOptions{Select: []string{"id"}}},
		{"bad order by", "SELECT * FROM item", nil, QueryOptions{OrderBy: "id; DROP"}},
		{"bad direction", "SELECT * FROM item", nil, QueryOptions{OrderBy: "id SIDEWAYS"}},
		{"nan", "SELECT * FROM item", map[string]any{"rate": math.NaN()}, QueryOptions{}},
		{"infinity", "SELECT * FROM item", map[string]any{"rate": Comparison{Operator: "<", Value: math.Inf(1)}}, QueryOptions{}},
		{"negative infinity in list", "SELECT * FROM item", map[string]any{"rate": []float64{1, math.Inf(-1)}}, QueryOptions{}},
		{"float32 nan", "SELECT * FROM item", map[string]any{"rate": float32(math.NaN())}, QueryOptions{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildQuery(tt.base, tt.conditions, tt.opts)
			var ve *integration.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"id", "_x", "item.id", "A1_b"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "1id", "a-b", "a.b.c", "a b", "a.", "id'"} {
		assert.Error(t, ValidateIdentifier(bad), bad)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(-3))
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 500, ClampLimit(500))
	assert.Equal(t, 10000, ClampLimit(10001))
}
