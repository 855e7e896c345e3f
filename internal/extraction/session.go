package extraction

import (
	"context"
	"fmt"
	"sync"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/progress"
)

// RunContext is shared by every extractor of one forensic pass.
type RunContext struct {
	RunID   string
	Mode    adapter.Mode
	Logger  logger.Logger
	Emitter progress.Emitter

	mu         sync.Mutex
	coverage   []CoverageRecord
	validation []string
}

func NewRunContext(runID string, mode adapter.Mode, log logger.Logger, emitter progress.Emitter) *RunContext {
	if log == nil {
		log = logger.NopLogger()
	}
	return &RunContext{RunID: runID, Mode: mode, Logger: log, Emitter: emitter}
}

func (rc *RunContext) merge(run *Run) {
	rc.mu.Lock()
	rc.coverage = append(rc.coverage, run.Coverage...)
	rc.validation = append(rc.validation, run.Validation...)
	rc.mu.Unlock()
}

// Coverage returns every coverage record merged so far.
func (rc *RunContext) Coverage() []CoverageRecord {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]CoverageRecord, len(rc.coverage))
	copy(out, rc.coverage)
	return out
}

func (rc *RunContext) HumanValidation() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.validation))
	copy(out, rc.validation)
	return out
}

func (rc *RunContext) emit(eventType string, data map[string]interface{}) {
	if rc.Emitter == nil {
		return
	}
	data["runId"] = rc.RunID
	rc.Emitter.Emit(eventType, data)
}

// Session is the view one extractor run has on the source. It owns the coverage of
// that run; reads made through it are recorded automatically.
type Session struct {
	run        *RunContext
	desc       *Descriptor
	source     adapter.SourceAdapter
	logger     logger.Logger
	coverage   map[string]CoverageRecord
	order      []string
	validation []string
}

func newSession(rc *RunContext, d *Descriptor, src adapter.SourceAdapter) *Session {
	return &Session{
		run:      rc,
		desc:     d,
		source:   src,
		logger:   rc.Logger.With("extractor_id", d.ID),
		coverage: make(map[string]CoverageRecord),
	}
}

func (s *Session) Mode() adapter.Mode {
	return s.run.Mode
}

func (s *Session) Descriptor() *Descriptor {
	return s.desc
}

func (s *Session) Source() adapter.SourceAdapter {
	return s.source
}

func (s *Session) Logger() logger.Logger {
	return s.logger
}

// ReadTable reads from the source and records coverage for table. Authorization
// failures are recorded as skipped, other failures as failed.
func (s *Session) ReadTable(ctx context.Context, table string, opts adapter.ReadOptions) ([]adapter.Record, error) {
	rows, err := s.source.ReadTable(ctx, table, opts)
	s.recordRead(table, rows, err)
	return rows, err
}

// QueryEntities is ReadTable for business entities; coverage is keyed by entity name.
func (s *Session) QueryEntities(ctx context.Context, entity string, q adapter.Query) ([]adapter.Record, error) {
	rows, err := s.source.QueryEntities(ctx, entity, q)
	s.recordRead(entity, rows, err)
	return rows, err
}

func (s *Session) recordRead(table string, rows []adapter.Record, err error) {
	if err == nil {
		s.TrackCoverage(table, CoverageExtracted, len(rows), "")
		return
	}
	if errors.IsAuthorization(err) {
		s.track(table, CoverageSkipped, 0, reasonOf(err), true)
		return
	}
	s.TrackCoverage(table, CoverageFailed, 0, reasonOf(err))
}

// TrackCoverage records the outcome for table. A later record for the same table
// replaces the earlier one. A skip whose reason reads as an authorization gap is
// classified as one.
func (s *Session) TrackCoverage(table string, status CoverageStatus, rowCount int, reason string) {
	s.track(table, status, rowCount, reason, status == CoverageSkipped && errors.MatchesAuthorization(reason))
}

func (s *Session) track(table string, status CoverageStatus, rowCount int, reason string, authorization bool) {
	expected, _ := s.desc.expected(table)
	if _, ok := s.coverage[table]; !ok {
		s.order = append(s.order, table)
	}
	s.coverage[table] = CoverageRecord{
		ExtractorID:   s.desc.ID,
		Module:        s.desc.Module,
		Table:         table,
		Status:        status,
		RowCount:      rowCount,
		Reason:        reason,
		Critical:      expected.Critical,
		Authorization: authorization,
	}
	s.logger.Debugw("Coverage tracked", "table", table, "status", status, "rows", rowCount)
}

// FlagForValidation queues a finding that a person has to confirm.
func (s *Session) FlagForValidation(format string, args ...interface{}) {
	s.validation = append(s.validation, fmt.Sprintf("[%s] %s", s.desc.ID, fmt.Sprintf(format, args...)))
}

// complete fills in a record for every expected table the run did not touch and
// returns coverage in declaration order followed by any undeclared reads.
func (s *Session) complete(runErr error) []CoverageRecord {
	for _, t := range s.desc.Tables {
		if _, ok := s.coverage[t.Name]; ok {
			continue
		}
		switch {
		case runErr == nil:
			s.TrackCoverage(t.Name, CoverageSkipped, 0, "not read by extractor")
		case errors.IsAuthorization(runErr):
			s.track(t.Name, CoverageSkipped, 0, reasonOf(runErr), true)
		default:
			s.TrackCoverage(t.Name, CoverageFailed, 0, reasonOf(runErr))
		}
	}

	out := make([]CoverageRecord, 0, len(s.coverage))
	done := make(map[string]struct{}, len(s.coverage))
	for _, t := range s.desc.Tables {
		out = append(out, s.coverage[t.Name])
		done[t.Name] = struct{}{}
	}
	for _, name := range s.order {
		if _, ok := done[name]; !ok {
			out = append(out, s.coverage[name])
		}
	}
	for _, rec := range out {
		metrics.IncTableCoverage(string(rec.Status))
	}
	return out
}

func reasonOf(err error) string {
	if appErr, ok := errors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
