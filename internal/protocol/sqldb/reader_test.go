package sqldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/pkg/errors"
)

func newTestReader() *Reader {
	return New(nil, Config{Company: "100"}, nil)
}

func TestPhysicalTable(t *testing.T) {
	r := newTestReader()

	name, err := r.PhysicalTable("tfgld106")
	require.NoError(t, err)
	assert.Equal(t, "ttfgld106100", name)

	name, err = r.PhysicalTable(" TCIBD001 ")
	require.NoError(t, err)
	assert.Equal(t, "ttcibd001100", name)

	_, err = r.PhysicalTable("tfgld106; DROP TABLE x")
	require.Error(t, err)
	assert.Equal(t, errors.KindInforDb, errors.KindOf(err))
}

func TestColumnMapping(t *testing.T) {
	col, err := Column("t$leac")
	require.NoError(t, err)
	assert.Equal(t, "t_leac", col)

	assert.Equal(t, "t$leac", Field("t_leac"))
	assert.Equal(t, "id", Field("id"))

	_, err = Column("t$leac OR 1=1")
	assert.Error(t, err)
}

func TestBuildSelect(t *testing.T) {
	r := newTestReader()

	stmt, args, err := r.BuildSelect(Query{
		Table:  "tfgld106",
		Fields: []string{"t$leac", "t$amnt"},
		Filters: []Filter{
			{Field: "t$year", Value: 2024},
			{Field: "t$perd", Op: OpLe, Value: 3},
			{Field: "t$dctp", Op: OpIn, Value: []string{"NOR", "INV"}},
		},
		OrderBy: []string{"t$leac", "-t$amnt"},
		Limit:   50,
		Offset:  100,
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "t_leac", "t_amnt" FROM "ttfgld106100" WHERE "t_year" = $1 AND "t_perd" <= $2 AND "t_dctp" = ANY($3) ORDER BY "t_leac", "t_amnt" DESC LIMIT 50 OFFSET 100`,
		stmt)
	require.Len(t, args, 3)
	assert.Equal(t, 2024, args[0])
	assert.Equal(t, 3, args[1])
}

func TestBuildSelectRejectsUnsafeInput(t *testing.T) {
	r := newTestReader()

	tests := []struct {
		name string
		q    Query
	}{
		{"bad field", Query{Table: "tfgld106", Fields: []string{"t$leac, pg_sleep(10)"}}},
		{"bad filter field", Query{Table: "tfgld106", Filters: []Filter{{Field: "1=1 --", Value: 1}}}},
		{"bad operator", Query{Table: "tfgld106", Filters: []Filter{{Field: "t$year", Op: "; DELETE", Value: 1}}}},
		{"bad order", Query{Table: "tfgld106", OrderBy: []string{"t$leac; DROP"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.BuildSelect(tt.q)
			require.Error(t, err)
			assert.Equal(t, errors.KindInforDb, errors.KindOf(err))
		})
	}
}

func TestNormalize(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 12500.5, normalize([]byte("12500.50"), "NUMERIC"))
	assert.Equal(t, "ABC", normalize([]byte("ABC"), "VARCHAR"))
	assert.Equal(t, "2024-01-15", normalize(day, "DATE"))
	assert.Equal(t, "2024-01-15T00:00:00Z", normalize(day, "TIMESTAMP"))
	assert.Equal(t, "NOR", normalize("NOR  ", "BPCHAR"))
	assert.Equal(t, int64(7), normalize(int64(7), "INT4"))
	assert.Nil(t, normalize(nil, "VARCHAR"))
}
