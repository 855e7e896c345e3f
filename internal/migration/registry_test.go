package migration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/mapping"
	"erpmigrate/pkg/errors"
)

func testObject(id string, deps ...string) Object {
	return Object{
		ID:           id,
		Dependencies: deps,
		SourceTable:  "t_" + id,
		Rules:        []mapping.Rule{{Source: "id", Target: "ID"}},
	}
}

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry(nil)
	require.NoError(t, err)

	ids := r.ListObjectIDs()
	assert.Len(t, ids, 29)
	assert.Equal(t, "FI_CONFIG", ids[0])

	obj, ok := r.Get("JOURNAL_ENTRY")
	require.True(t, ok)
	assert.Equal(t, "LN-FI", obj.RuleSetID)
	assert.Equal(t, []string{"FI_CONFIG", "GL_ACCOUNT"}, r.TransitiveDependencies("JOURNAL_ENTRY"))
}

func TestEveryCatalogObjectHasARuleSet(t *testing.T) {
	r, err := DefaultRegistry(nil)
	require.NoError(t, err)
	catalog, err := mapping.LoadBuiltinCatalog(nil)
	require.NoError(t, err)

	for _, id := range r.ListObjectIDs() {
		obj, _ := r.Get(id)
		rules, err := obj.FieldMappings(catalog)
		require.NoError(t, err, id)
		assert.NotEmpty(t, rules, id)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(testObject("A")))

	cases := []struct {
		name string
		obj  Object
	}{
		{"missing id", Object{SourceTable: "t", RuleSetID: "X"}},
		{"no mapping", Object{ID: "B", SourceTable: "t"}},
		{"no source", Object{ID: "B", RuleSetID: "X"}},
		{"duplicate", testObject("A")},
		{"unregistered dependency", testObject("B", "Z")},
		{"self dependency", testObject("B", "B")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Register(tc.obj)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration))
		})
	}
	assert.Equal(t, []string{"A"}, r.ListObjectIDs())
}

func TestFieldMappingsUnknownRuleSet(t *testing.T) {
	catalog := mapping.NewCatalog(nil)
	obj := Object{ID: "X", RuleSetID: "LN-NOPE"}
	_, err := obj.FieldMappings(catalog)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

type scriptedRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (s *scriptedRunner) RunObject(_ context.Context, id string) (*Reconciliation, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.mu.Unlock()
	if err := s.fail[id]; err != nil {
		return &Reconciliation{ObjectID: id, Status: StatusFailed, Error: err.Error()}, err
	}
	return &Reconciliation{ObjectID: id, Status: StatusCompleted}, nil
}

func chainRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(testObject("CONFIG")))
	require.NoError(t, r.Register(testObject("PARTNER")))
	require.NoError(t, r.Register(testObject("ACCOUNT", "CONFIG")))
	require.NoError(t, r.Register(testObject("CUSTOMER", "PARTNER", "CONFIG")))
	require.NoError(t, r.Register(testObject("BALANCE", "ACCOUNT")))
	require.NoError(t, r.Register(testObject("ORDER", "CUSTOMER")))
	return r
}

func TestRunAllOrdersWaves(t *testing.T) {
	r := chainRegistry(t)
	runner := &scriptedRunner{}

	report, err := r.RunAll(context.Background(), runner, RunAllOptions{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, [][]string{{"CONFIG", "PARTNER"}, {"ACCOUNT", "CUSTOMER"}, {"BALANCE", "ORDER"}}, report.Waves)
	assert.Len(t, report.Objects, 6)

	position := make(map[string]int)
	for i, id := range runner.calls {
		position[id] = i
	}
	for _, id := range []string{"ACCOUNT", "CUSTOMER"} {
		assert.Greater(t, position[id], position["CONFIG"])
		assert.Greater(t, position[id], position["PARTNER"])
	}
	assert.Greater(t, position["ORDER"], position["CUSTOMER"])
}

func TestRunAllSkipsDependentsOfFailedObjects(t *testing.T) {
	r := chainRegistry(t)
	runner := &scriptedRunner{fail: map[string]error{
		"PARTNER": errors.ErrTableRead.New("read failed"),
	}}

	report, err := r.RunAll(context.Background(), runner, RunAllOptions{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, report.Status)

	assert.Equal(t, StatusFailed, report.Objects["PARTNER"].Status)
	assert.Equal(t, StatusSkipped, report.Objects["CUSTOMER"].Status)
	assert.Equal(t, "prerequisite failed: PARTNER", report.Objects["CUSTOMER"].Reason)
	assert.Equal(t, StatusSkipped, report.Objects["ORDER"].Status)
	assert.Equal(t, "prerequisite failed: CUSTOMER", report.Objects["ORDER"].Reason)
	assert.Equal(t, StatusCompleted, report.Objects["BALANCE"].Status)

	assert.NotContains(t, runner.calls, "CUSTOMER")
	assert.NotContains(t, runner.calls, "ORDER")
}

func TestRunAllStopsOnFatalErrors(t *testing.T) {
	r := chainRegistry(t)
	runner := &scriptedRunner{fail: map[string]error{
		"CONFIG": errors.ErrMigrationObject.New("object failed").WithCause(errors.ErrCircuitBreakerOpen.New("breaker open")),
	}}

	report, err := r.RunAll(context.Background(), runner, RunAllOptions{RunID: "run-1"})
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "run aborted", report.Objects["BALANCE"].Reason)
	assert.Len(t, runner.calls, 2)
}

func TestRunAllSubset(t *testing.T) {
	r := chainRegistry(t)
	runner := &scriptedRunner{}

	report, err := r.RunAll(context.Background(), runner, RunAllOptions{Objects: []string{"ORDER", "PARTNER"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"PARTNER"}, {"ORDER"}}, report.Waves)
	assert.ElementsMatch(t, []string{"PARTNER", "ORDER"}, runner.calls)

	_, err = r.RunAll(context.Background(), runner, RunAllOptions{Objects: []string{"NOPE"}})
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}
