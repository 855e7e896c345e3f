package extraction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/progress"
)

func TestOrchestratorFullLNMockRun(t *testing.T) {
	bus := progress.NewBus(progress.Config{MaxHistory: 5000}, nil)
	o := NewOrchestrator(DefaultRegistry(), bus, nil)

	result, err := o.Run(context.Background(), mockSource(t, adapter.SystemLN), Options{RunID: "forensic-1", MaxConcurrency: 3})
	require.NoError(t, err)

	assert.Equal(t, "forensic-1", result.RunID)
	assert.Equal(t, adapter.ModeMock, result.Mode)
	assert.Len(t, result.Results, 39)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Succeeded("FI_TRANSACTIONS"))
	assert.Equal(t, 190, result.Extractors["FI_TRANSACTIONS"].RecordCount)

	assert.Equal(t, []TableRef{{ExtractorID: "SYS_SECURITY", Table: "ttaad200", Reason: "No authorization to read table ttaad200"}},
		result.GapReport.Authorization)
	assert.Equal(t, result.GapReport.Authorization, result.GapReport.MissingCriticalTables)
	assert.Empty(t, result.GapReport.FailedExtractors)

	assert.Equal(t, 50, result.Confidence.ByArea["SYS"])
	assert.Equal(t, 100, result.Confidence.ByArea["FI"])
	assert.Equal(t, 97, result.Confidence.Overall)

	assert.Contains(t, result.HumanValidation, "[BP_PARTNERS] possible duplicate partners BP900001, BP900002 share name \"acme corporation\"")
	assert.Equal(t, 12, result.Results["MM_MATERIALS"].Summary["itemsWithoutUnit"])
	assert.Equal(t, 10, result.Results["SYS_CUSTOMIZATIONS"].Summary["customSessions"])

	progressEvents := bus.History(0, constants.EventExtractionProgress)
	assert.Len(t, progressEvents, 39)
	last := progressEvents[len(progressEvents)-1].Data.(map[string]interface{})
	assert.Equal(t, 39, last["completed"])
	assert.Len(t, bus.History(0, constants.EventExtractionStart), 39)
}

func TestOrchestratorIncludeExclude(t *testing.T) {
	o := NewOrchestrator(DefaultRegistry(), nil, nil)
	src := mockSource(t, adapter.SystemLN)

	result, err := o.Run(context.Background(), src, Options{
		Include: []string{"FI_TRANSACTIONS", "MM_MATERIALS", "BP_PARTNERS"},
		Exclude: []string{"BP_PARTNERS"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Results, 2)
	assert.Len(t, result.Extractors, 2)

	_, err = o.Run(context.Background(), src, Options{Include: []string{"NOPE"}})
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))

	_, err = o.Run(context.Background(), src, Options{Include: []string{"SAP_FI_DOCUMENTS"}})
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestOrchestratorOtherSystems(t *testing.T) {
	tests := []struct {
		system   adapter.SourceSystem
		authGap  string
		failedID string
		overall  int
	}{
		{adapter.SystemSAP, "USR02", "", 100},
		{adapter.SystemM3, "", "", 100},
		{adapter.SystemCSI, "SLChartOfAccounts", "CSI_CHART_OF_ACCOUNTS", 80},
		{adapter.SystemLawson, "EMPLOYEE", "LAWSON_EMPLOYEES", 80},
	}
	for _, tt := range tests {
		t.Run(string(tt.system), func(t *testing.T) {
			o := NewOrchestrator(DefaultRegistry(), nil, nil)
			result, err := o.Run(context.Background(), mockSource(t, tt.system), Options{})
			require.NoError(t, err)

			assert.Equal(t, tt.overall, result.Confidence.Overall)
			if tt.authGap == "" {
				assert.Empty(t, result.GapReport.Authorization)
			} else {
				require.Len(t, result.GapReport.Authorization, 1)
				assert.Equal(t, tt.authGap, result.GapReport.Authorization[0].Table)
			}
			if tt.failedID == "" {
				assert.Empty(t, result.GapReport.FailedExtractors)
			} else {
				assert.Equal(t, []string{tt.failedID}, result.GapReport.FailedExtractors)
				assert.Equal(t, StatusFailed, result.Extractors[tt.failedID].Status)
			}
		})
	}
}

// gatedSource blocks every read until released and records peak concurrency.
type gatedSource struct {
	adapter.SourceAdapter
	gate     chan struct{}
	inFlight int32
	peak     int32
	started  chan string
	mu       sync.Mutex
}

func (g *gatedSource) ReadTable(ctx context.Context, table string, opts adapter.ReadOptions) ([]adapter.Record, error) {
	n := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)
	g.mu.Lock()
	if n > g.peak {
		g.peak = n
	}
	g.mu.Unlock()
	select {
	case g.started <- table:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []adapter.Record{{"table": table}}, nil
}

func gatedRegistry(n int) *Registry {
	r := NewRegistry()
	for i := 0; i < n; i++ {
		r.MustRegister(Descriptor{
			ID: fmt.Sprintf("X%02d", i), Module: "XX", SourceSystem: adapter.SystemLN,
			Tables: []ExpectedTable{critical(fmt.Sprintf("t%02d", i), "")},
		})
	}
	return r
}

func TestOrchestratorBoundsConcurrency(t *testing.T) {
	src := &gatedSource{SourceAdapter: mockSource(t, adapter.SystemLN), gate: make(chan struct{}), started: make(chan string, 16)}
	o := NewOrchestrator(gatedRegistry(8), nil, nil)

	done := make(chan *Result, 1)
	go func() {
		result, _ := o.Run(context.Background(), src, Options{MaxConcurrency: 2})
		done <- result
	}()

	for i := 0; i < 2; i++ {
		<-src.started
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.inFlight))
	close(src.gate)

	select {
	case result := <-done:
		assert.Len(t, result.Results, 8)
		assert.Equal(t, 100, result.Confidence.Overall)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
	}
	assert.LessOrEqual(t, src.peak, int32(2))
}

func TestOrchestratorCancellationStopsDispatch(t *testing.T) {
	src := &gatedSource{SourceAdapter: mockSource(t, adapter.SystemLN), gate: make(chan struct{}), started: make(chan string, 16)}
	o := NewOrchestrator(gatedRegistry(6), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.Run(ctx, src, Options{MaxConcurrency: 2})
		done <- outcome{result, err}
	}()

	<-src.started
	<-src.started
	cancel()

	select {
	case out := <-done:
		require.ErrorIs(t, out.err, context.Canceled)
		require.NotNil(t, out.result)
		assert.Len(t, out.result.GapReport.NotRun, 4)
		assert.Len(t, out.result.GapReport.FailedExtractors, 2)
		assert.Equal(t, StatusNotRun, out.result.Extractors["X05"].Status)
		assert.Equal(t, int32(0), atomic.LoadInt32(&src.inFlight))
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestScoreConfidence(t *testing.T) {
	coverage := []CoverageRecord{
		{Module: "FI", Table: "a", Critical: true, Status: CoverageExtracted},
		{Module: "FI", Table: "b", Critical: true, Status: CoverageFailed},
		{Module: "FI", Table: "c", Status: CoverageFailed},
		{Module: "PRJ", Table: "d", Status: CoverageExtracted},
	}
	conf := scoreConfidence(coverage)
	assert.Equal(t, 50, conf.ByArea["FI"])
	assert.Equal(t, 100, conf.ByArea["PRJ"])
	assert.Equal(t, 67, conf.Overall)

	assert.Equal(t, 0, scoreConfidence(nil).Overall)
}
