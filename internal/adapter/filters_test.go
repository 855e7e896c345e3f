package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"erpmigrate/internal/protocol/odata"
)

func TestODataFilter(t *testing.T) {
	filters := []Filter{
		{Field: "CompanyCode", Value: "1000"},
		{Field: "Amount", Op: OpGt, Value: 10},
		{Field: "Type", Op: OpIn, Value: []string{"SA", "KR"}},
		{Field: "Name", Op: "like", Value: "%O'Neil%"},
	}

	assert.Equal(t,
		"CompanyCode eq '1000' and Amount gt 10 and (Type eq 'SA' or Type eq 'KR') and contains(Name,'O''Neil')",
		ODataFilter(filters, odata.V4))
	assert.Equal(t,
		"CompanyCode eq '1000' and Amount gt 10 and (Type eq 'SA' or Type eq 'KR') and substringof('O''Neil',Name)",
		ODataFilter(filters, odata.V2))
	assert.Empty(t, ODataFilter(nil, odata.V4))
}

func TestSQLFilter(t *testing.T) {
	got := SQLFilter([]Filter{
		{Field: "BUKRS", Value: "1000"},
		{Field: "GJAHR", Op: OpGe, Value: 2023},
		{Field: "BLART", Op: OpIn, Value: []interface{}{"SA", "KR"}},
	})
	assert.Equal(t, "BUKRS = '1000' AND GJAHR >= 2023 AND BLART IN ('SA', 'KR')", got)

	assert.Equal(t, "(MANDT = '100') AND BUKRS = '1000'", combineWhere("MANDT = '100'", "BUKRS = '1000'", " AND "))
	assert.Equal(t, "BUKRS = '1000'", combineWhere("  ", "BUKRS = '1000'", " AND "))
	assert.Equal(t, "MANDT = '100'", combineWhere("MANDT = '100'", "", " AND "))
}

func TestLandmarkFilter(t *testing.T) {
	got := LandmarkFilter([]Filter{
		{Field: "Company", Value: 1},
		{Field: "Status", Op: OpNe, Value: "closed"},
		{Field: "Name", Op: OpLike, Value: "acme%"},
		{Field: "Group", Op: OpIn, Value: []string{"A", "B"}},
	})
	assert.Equal(t, `Company="1" and Status!="closed" and Name.contains("acme") and (Group="A" or Group="B")`, got)
}

func TestMatches(t *testing.T) {
	row := Record{"t$perd": 3, "t$ccur": "usd", "t$nama": "Acme Corporation", "t$amnt": 12.5}

	tests := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{"no filters", nil, true},
		{"numeric equality across types", []Filter{{Field: "t$perd", Value: "3"}}, true},
		{"string equality", []Filter{{Field: "t$ccur", Value: "eur"}}, false},
		{"range", []Filter{{Field: "t$amnt", Op: OpLt, Value: 100}, {Field: "t$perd", Op: OpGe, Value: 3}}, true},
		{"in", []Filter{{Field: "t$ccur", Op: OpIn, Value: []string{"eur", "usd"}}}, true},
		{"like contains", []Filter{{Field: "t$nama", Op: OpLike, Value: "%corp%"}}, true},
		{"like prefix", []Filter{{Field: "t$nama", Op: OpLike, Value: "globex%"}}, false},
		{"not equal", []Filter{{Field: "t$ccur", Op: OpNe, Value: "usd"}}, false},
		{"missing field", []Filter{{Field: "t$cpnb", Value: 100}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(row, tt.filters))
		})
	}
}
