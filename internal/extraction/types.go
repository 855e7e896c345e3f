package extraction

import (
	"context"
	"time"

	"erpmigrate/internal/adapter"
)

type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryMasterData    Category = "master_data"
	CategoryTransactional Category = "transactional"
	CategoryInterfaces    Category = "interfaces"
	CategorySystem        Category = "system"
)

type CoverageStatus string

const (
	CoverageExtracted CoverageStatus = "extracted"
	CoverageSkipped   CoverageStatus = "skipped"
	CoverageFailed    CoverageStatus = "failed"
)

// ExpectedTable is a source table (or entity) an extractor promises to read.
type ExpectedTable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Critical    bool   `json:"critical"`
}

type CoverageRecord struct {
	ExtractorID string         `json:"extractorId"`
	Module      string         `json:"module"`
	Table       string         `json:"table"`
	Status      CoverageStatus `json:"status"`
	RowCount    int            `json:"rowCount"`
	Reason      string         `json:"reason,omitempty"`
	Critical    bool           `json:"critical"`
	// Authorization is set when the table was skipped because access was denied.
	Authorization bool `json:"authorization,omitempty"`
}

// ExtractFunc produces the payload of one extractor run. Table reads go through the
// session so coverage is recorded.
type ExtractFunc func(ctx context.Context, s *Session) (*Output, error)

// AnalyzeFunc inspects the tables read by the default extraction, adds summary facts to
// out and flags findings for human validation.
type AnalyzeFunc func(s *Session, out *Output)

// Descriptor declares an extractor. Live and Mock are optional: without Live every
// expected table is read in turn, and Mock falls back to Live because mock adapters
// serve fixtures through the same contract.
type Descriptor struct {
	ID           string               `json:"extractorId"`
	Name         string               `json:"name"`
	Module       string               `json:"module"`
	Category     Category             `json:"category"`
	SourceSystem adapter.SourceSystem `json:"sourceSystem"`
	Tables       []ExpectedTable      `json:"expectedTables"`

	Live    ExtractFunc `json:"-"`
	Mock    ExtractFunc `json:"-"`
	Analyze AnalyzeFunc `json:"-"`
}

// ExpectedTables returns a copy of the declared tables.
func (d *Descriptor) ExpectedTables() []ExpectedTable {
	out := make([]ExpectedTable, len(d.Tables))
	copy(out, d.Tables)
	return out
}

func (d *Descriptor) CriticalTables() []string {
	var out []string
	for _, t := range d.Tables {
		if t.Critical {
			out = append(out, t.Name)
		}
	}
	return out
}

func (d *Descriptor) expected(table string) (ExpectedTable, bool) {
	for _, t := range d.Tables {
		if t.Name == table {
			return t, true
		}
	}
	return ExpectedTable{}, false
}

// Output is the payload of a successful extractor run. Rows stay in memory for analysis
// and are never serialized.
type Output struct {
	ExtractorID string                      `json:"extractorId"`
	RecordCount int                         `json:"recordCount"`
	TableCounts map[string]int              `json:"tableCounts"`
	Summary     map[string]interface{}      `json:"summary,omitempty"`
	Rows        map[string][]adapter.Record `json:"-"`
}

func newOutput(id string) *Output {
	return &Output{
		ExtractorID: id,
		TableCounts: make(map[string]int),
		Summary:     make(map[string]interface{}),
		Rows:        make(map[string][]adapter.Record),
	}
}

// Add stores rows read from table and updates the counts.
func (o *Output) Add(table string, rows []adapter.Record) {
	o.Rows[table] = rows
	o.TableCounts[table] = len(rows)
	o.RecordCount += len(rows)
}

// Run is everything one extractor run produced, successful or not.
type Run struct {
	ExtractorID string           `json:"extractorId"`
	Output      *Output          `json:"output,omitempty"`
	Coverage    []CoverageRecord `json:"coverage"`
	Validation  []string         `json:"humanValidation,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Err         error            `json:"-"`
}

type ExtractorStatus string

const (
	StatusSucceeded ExtractorStatus = "succeeded"
	StatusFailed    ExtractorStatus = "failed"
	StatusNotRun    ExtractorStatus = "not_run"
)

type ExtractorSummary struct {
	Module      string          `json:"module"`
	Category    Category        `json:"category"`
	Status      ExtractorStatus `json:"status"`
	RecordCount int             `json:"recordCount"`
	Error       string          `json:"error,omitempty"`
}

type TableRef struct {
	ExtractorID string `json:"extractorId"`
	Table       string `json:"table"`
	Reason      string `json:"reason,omitempty"`
}

type GapReport struct {
	MissingCriticalTables []TableRef `json:"missingCriticalTables"`
	Authorization         []TableRef `json:"authorization"`
	FailedExtractors      []string   `json:"failedExtractors"`
	NotRun                []string   `json:"notRun,omitempty"`
}

type Confidence struct {
	Overall int            `json:"overall"`
	ByArea  map[string]int `json:"byArea"`
}

// Result aggregates one forensic pass.
type Result struct {
	RunID        string                      `json:"runId"`
	SourceSystem adapter.SourceSystem        `json:"sourceSystem"`
	Mode         adapter.Mode                `json:"mode"`
	StartedAt    time.Time                   `json:"startedAt"`
	CompletedAt  time.Time                   `json:"completedAt"`
	Results      map[string]*Output          `json:"results"`
	Errors       map[string]string           `json:"errors"`
	Extractors   map[string]ExtractorSummary `json:"extractors"`
	Coverage     []CoverageRecord            `json:"coverage"`
	Confidence   Confidence                  `json:"confidence"`
	GapReport    GapReport                   `json:"gapReport"`

	HumanValidation []string `json:"humanValidation"`
}

// Succeeded reports whether extractor id produced a payload in this pass.
func (r *Result) Succeeded(id string) bool {
	_, ok := r.Results[id]
	return ok
}
