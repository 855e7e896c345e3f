package extraction

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/logging"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/progress"
	"erpmigrate/pkg/tracing"
)

type Options struct {
	RunID          string
	Include        []string
	Exclude        []string
	MaxConcurrency int
}

// Orchestrator drives a full forensic pass over one source.
type Orchestrator struct {
	registry *Registry
	runner   *Runner
	emitter  progress.Emitter
	logger   logger.Logger
}

func NewOrchestrator(registry *Registry, emitter progress.Emitter, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Orchestrator{
		registry: registry,
		runner:   NewRunner(),
		emitter:  emitter,
		logger:   log.Named("extraction"),
	}
}

// Select resolves the extractors a pass over system would run.
func (o *Orchestrator) Select(system adapter.SourceSystem, opts Options) ([]*Descriptor, error) {
	for _, id := range opts.Include {
		d, ok := o.registry.Get(id)
		if !ok {
			return nil, errors.ErrConfiguration.Newf("unknown extractor %s", id).WithDetail("extractorId", id)
		}
		if d.SourceSystem != system {
			return nil, errors.ErrConfiguration.Newf("extractor %s reads %s, not %s", id, d.SourceSystem, system).
				WithDetail("extractorId", id)
		}
	}

	include := toSet(opts.Include)
	exclude := toSet(opts.Exclude)
	var selected []*Descriptor
	for _, d := range o.registry.ListBySourceSystem(system) {
		if len(include) > 0 {
			if _, ok := include[d.ID]; !ok {
				continue
			}
		}
		if _, ok := exclude[d.ID]; ok {
			continue
		}
		selected = append(selected, d)
	}
	return selected, nil
}

// Run executes the selected extractors with at most MaxConcurrency in flight. Extractor
// failures are captured in the result. On cancellation no further extractors start;
// the partial result is returned together with the context error.
func (o *Orchestrator) Run(ctx context.Context, src adapter.SourceAdapter, opts Options) (*Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = constants.DefaultMaxConcurrency
	}

	selected, err := o.Select(src.SourceSystem(), opts)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, opts.RunID)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "extraction.run")
	span.SetAttributes(
		attribute.String("run.id", opts.RunID),
		attribute.String("source.system", string(src.SourceSystem())),
		attribute.Int("extractors", len(selected)),
	)
	defer span.End()

	rc := NewRunContext(opts.RunID, src.Mode(), o.logger, o.emitter)
	result := &Result{
		RunID:        opts.RunID,
		SourceSystem: src.SourceSystem(),
		Mode:         src.Mode(),
		StartedAt:    time.Now().UTC(),
		Results:      make(map[string]*Output),
		Errors:       make(map[string]string),
		Extractors:   make(map[string]ExtractorSummary),
	}

	o.logger.InfowCtx(ctx, "Forensic run started",
		"source_system", src.SourceSystem(),
		"mode", src.Mode(),
		"extractors", len(selected),
		"max_concurrency", opts.MaxConcurrency,
	)

	var (
		mu        sync.Mutex
		completed int
		g         errgroup.Group
	)
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrency))
	dispatched := 0

	for _, d := range selected {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++
		d := d
		g.Go(func() error {
			defer sem.Release(1)
			run, runErr := o.runner.Extract(ctx, rc, d, src)

			mu.Lock()
			defer mu.Unlock()
			completed++
			summary := ExtractorSummary{Module: d.Module, Category: d.Category, Status: StatusSucceeded}
			if runErr != nil {
				summary.Status = StatusFailed
				summary.Error = runErr.Error()
				result.Errors[d.ID] = runErr.Error()
			} else {
				summary.RecordCount = run.Output.RecordCount
				result.Results[d.ID] = run.Output
			}
			result.Extractors[d.ID] = summary
			o.emit(constants.EventExtractionProgress, map[string]interface{}{
				"runId":       opts.RunID,
				"extractorId": d.ID,
				"status":      summary.Status,
				"completed":   completed,
				"total":       len(selected),
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range selected[dispatched:] {
		result.Extractors[d.ID] = ExtractorSummary{Module: d.Module, Category: d.Category, Status: StatusNotRun}
		result.GapReport.NotRun = append(result.GapReport.NotRun, d.ID)
	}

	result.Coverage = sortCoverage(rc.Coverage())
	result.HumanValidation = rc.HumanValidation()
	sort.Strings(result.HumanValidation)
	result.GapReport = buildGapReport(result)
	result.Confidence = scoreConfidence(result.Coverage)
	result.CompletedAt = time.Now().UTC()

	metrics.SetExtractionConfidence(result.Confidence.Overall)
	span.SetAttributes(attribute.Int("confidence.overall", result.Confidence.Overall))
	o.logger.InfowCtx(ctx, "Forensic run finished",
		"succeeded", len(result.Results),
		"failed", len(result.Errors),
		"not_run", len(result.GapReport.NotRun),
		"confidence", result.Confidence.Overall,
		"duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) emit(eventType string, data map[string]interface{}) {
	if o.emitter != nil {
		o.emitter.Emit(eventType, data)
	}
}

func buildGapReport(r *Result) GapReport {
	gap := GapReport{
		MissingCriticalTables: []TableRef{},
		Authorization:         []TableRef{},
		FailedExtractors:      []string{},
		NotRun:                r.GapReport.NotRun,
	}
	for _, c := range r.Coverage {
		ref := TableRef{ExtractorID: c.ExtractorID, Table: c.Table, Reason: c.Reason}
		if c.Critical && c.Status != CoverageExtracted {
			gap.MissingCriticalTables = append(gap.MissingCriticalTables, ref)
		}
		if c.Status == CoverageSkipped && c.Authorization {
			gap.Authorization = append(gap.Authorization, ref)
		}
	}
	for id := range r.Errors {
		gap.FailedExtractors = append(gap.FailedExtractors, id)
	}
	sort.Strings(gap.FailedExtractors)
	return gap
}

// scoreConfidence weights each module by its critical tables: the module score is the
// share of critical tables extracted, and the overall score pools all modules. Modules
// without critical tables are scored on every table they declare.
func scoreConfidence(coverage []CoverageRecord) Confidence {
	type tally struct{ total, extracted int }
	byModule := make(map[string]*tally)
	hasCritical := make(map[string]bool)
	for _, c := range coverage {
		if c.Critical {
			hasCritical[c.Module] = true
		}
	}
	for _, c := range coverage {
		if hasCritical[c.Module] && !c.Critical {
			continue
		}
		t, ok := byModule[c.Module]
		if !ok {
			t = &tally{}
			byModule[c.Module] = t
		}
		t.total++
		if c.Status == CoverageExtracted {
			t.extracted++
		}
	}

	conf := Confidence{ByArea: make(map[string]int, len(byModule))}
	var total, extracted int
	for module, t := range byModule {
		conf.ByArea[module] = percent(t.extracted, t.total)
		total += t.total
		extracted += t.extracted
	}
	conf.Overall = percent(extracted, total)
	return conf
}

func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(whole)))
}

func sortCoverage(c []CoverageRecord) []CoverageRecord {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].ExtractorID < c[j].ExtractorID
	})
	return c
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
