package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/extraction"
	"erpmigrate/internal/migration"
)

func TestMemoryResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryResults()

	assert.Error(t, m.Save(ctx, &extraction.Result{}))
	require.NoError(t, m.Save(ctx, &extraction.Result{RunID: "b"}))
	require.NoError(t, m.Save(ctx, &extraction.Result{RunID: "a"}))

	got, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.RunID)

	missing, err := m.Load(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ids, err := m.ListRunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRuns()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveReconciliation(ctx, &migration.Reconciliation{RunID: "r1", ObjectID: "GL_ACCOUNT", StartedAt: base}))
	require.NoError(t, m.SaveReconciliation(ctx, &migration.Reconciliation{RunID: "r1", ObjectID: "COST_CENTER", StartedAt: base}))
	partial, err := m.GetRunReport(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, partial.Objects, 2)

	require.NoError(t, m.SaveRunReport(ctx, &migration.RunReport{RunID: "r2", Status: migration.StatusCompleted, StartedAt: base.Add(time.Hour)}))
	recent, err := m.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "r2", recent[0].RunID)

	assert.Error(t, m.SaveRunReport(ctx, nil))
}
