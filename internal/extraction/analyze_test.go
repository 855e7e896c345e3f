package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"erpmigrate/internal/adapter"
)

func analyzeSession() *Session {
	rc := NewRunContext("r", adapter.ModeMock, nil, nil)
	return newSession(rc, &Descriptor{ID: "T"}, nil)
}

func TestUnbalancedPeriods(t *testing.T) {
	s := analyzeSession()
	out := newOutput("T")
	out.Add("gl", []adapter.Record{
		{"year": 2024, "perd": 1, "amnt": 100.0, "dbcr": "D"},
		{"year": 2024, "perd": 1, "amnt": 100.0, "dbcr": "C"},
		{"year": 2024, "perd": 2, "amnt": 50.0, "dbcr": "D"},
		{"year": 2024, "perd": 2, "amnt": "49.99", "dbcr": "c"},
	})

	unbalancedPeriods("gl", periodFields{year: "year", period: "perd", amount: "amnt", debitCredit: "dbcr", creditMarker: "C"})(s, out)

	assert.Equal(t, 2, out.Summary["periods"])
	assert.Equal(t, []string{"2024/02"}, out.Summary["unbalancedPeriods"])
	assert.Equal(t, []string{"[T] 1 fiscal periods do not balance: 2024/02"}, s.validation)
}

func TestDuplicateNamesAndMissingValues(t *testing.T) {
	s := analyzeSession()
	out := newOutput("T")
	out.Add("bp", []adapter.Record{
		{"id": "1", "name": "Globex ", "unit": "pcs"},
		{"id": "2", "name": "globex", "unit": ""},
		{"id": "3", "name": "Initech"},
	})

	chain(
		duplicateNames("bp", "id", "name"),
		missingValue("bp", "id", "unit", "withoutUnit"),
		countBy("bp", "unit", "units"),
	)(s, out)

	assert.Equal(t, 1, out.Summary["duplicateNameGroups"])
	assert.Equal(t, 2, out.Summary["withoutUnit"])
	assert.Equal(t, map[string]int{"pcs": 1, "": 2}, out.Summary["units"])
	assert.Equal(t, []string{
		`[T] possible duplicate partners 1, 2 share name "globex"`,
		"[T] 2 records in bp have no unit (first: 2)",
	}, s.validation)
}

func TestCustomPackages(t *testing.T) {
	s := analyzeSession()
	out := newOutput("T")
	out.Add("ses", []adapter.Record{
		{"pkg": "tc", "ses": "a"},
		{"pkg": "XQ", "ses": "b"},
		{"pkg": "", "ses": "c"},
	})

	customPackages("ses", "pkg", "ses", "tc")(s, out)
	assert.Equal(t, 1, out.Summary["customSessions"])
	assert.Len(t, s.validation, 1)
}
