package store

import (
	"context"
	"sort"
	"sync"

	"erpmigrate/internal/extraction"
	"erpmigrate/internal/migration"
	"erpmigrate/pkg/errors"
)

// MemoryResults holds extraction results in process. Used when Redis is not configured.
type MemoryResults struct {
	mu      sync.RWMutex
	results map[string]*extraction.Result
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[string]*extraction.Result)}
}

func (m *MemoryResults) Save(_ context.Context, result *extraction.Result) error {
	if result == nil || result.RunID == "" {
		return errors.ErrConfiguration.New("extraction result needs a run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.RunID] = result
	return nil
}

func (m *MemoryResults) Load(_ context.Context, runID string) (*extraction.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results[runID], nil
}

func (m *MemoryResults) ListRunIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.results))
	for id := range m.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryRuns holds run reports in process. Used when MongoDB is not configured.
type MemoryRuns struct {
	mu      sync.RWMutex
	reports map[string]*migration.RunReport
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{reports: make(map[string]*migration.RunReport)}
}

func (m *MemoryRuns) SaveReconciliation(_ context.Context, rec *migration.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[rec.RunID]
	if !ok {
		report = &migration.RunReport{
			RunID:     rec.RunID,
			Objects:   make(map[string]*migration.Reconciliation),
			StartedAt: rec.StartedAt,
		}
		m.reports[rec.RunID] = report
	}
	report.Objects[rec.ObjectID] = rec
	return nil
}

func (m *MemoryRuns) SaveRunReport(_ context.Context, report *migration.RunReport) error {
	if report == nil || report.RunID == "" {
		return errors.ErrConfiguration.New("run report needs a run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.RunID] = report
	return nil
}

func (m *MemoryRuns) GetRunReport(_ context.Context, runID string) (*migration.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reports[runID], nil
}

func (m *MemoryRuns) RecentRuns(_ context.Context, limit int64) ([]*migration.RunReport, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}
	m.mu.RLock()
	out := make([]*migration.RunReport, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
