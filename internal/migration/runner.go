package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/mapping"
	"erpmigrate/pkg/cel"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/logging"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/progress"
	"erpmigrate/pkg/tracing"
)

const tracerName = "migration"

type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusSkipped   RunStatus = "skipped"
	StatusPartial   RunStatus = "partial"
)

type Stage string

const (
	StageTransform Stage = "transform"
	StageQuality   Stage = "quality"
	StageLoad      Stage = "load"
)

// Rejection describes one record that did not reach the target.
type Rejection struct {
	Index  int    `json:"index" bson:"index"`
	Key    string `json:"key,omitempty" bson:"key,omitempty"`
	Stage  Stage  `json:"stage" bson:"stage"`
	Reason string `json:"reason" bson:"reason"`
}

// Reconciliation is the evidence written for every object run. Rejections holds a
// sample; Rejected is the full count.
type Reconciliation struct {
	RunID       string      `json:"runId" bson:"run_id"`
	ObjectID    string      `json:"objectId" bson:"object_id"`
	Status      RunStatus   `json:"status" bson:"status"`
	DryRun      bool        `json:"dryRun" bson:"dry_run"`
	Extracted   int         `json:"extracted" bson:"extracted"`
	Transformed int         `json:"transformed" bson:"transformed"`
	Loaded      int         `json:"loaded" bson:"loaded"`
	Rejected    int         `json:"rejected" bson:"rejected"`
	Rejections  []Rejection `json:"rejections,omitempty" bson:"rejections,omitempty"`
	Checksum    string      `json:"checksum,omitempty" bson:"checksum,omitempty"`
	Error       string      `json:"error,omitempty" bson:"error,omitempty"`
	Reason      string      `json:"reason,omitempty" bson:"reason,omitempty"`
	StartedAt   time.Time   `json:"startedAt" bson:"started_at"`
	CompletedAt time.Time   `json:"completedAt" bson:"completed_at"`
}

// Target addresses the entity set an object loads into.
type Target struct {
	ObjectID  string
	Service   string
	EntitySet string
}

type LoadResult struct {
	Loaded     int
	Rejections []Rejection
}

// Loader writes transformed records into the target system. Rejection indexes refer
// to the records slice.
type Loader interface {
	Load(ctx context.Context, target Target, records []map[string]interface{}) (*LoadResult, error)
}

type ReconciliationStore interface {
	SaveReconciliation(ctx context.Context, rec *Reconciliation) error
}

type Config struct {
	Registry  *Registry
	Catalog   *mapping.Catalog
	Evaluator *cel.Evaluator
	Source    adapter.SourceAdapter
	// Loader is required unless DryRun is set.
	Loader  Loader
	Store   ReconciliationStore
	Emitter progress.Emitter
	Logger  logger.Logger

	RunID            string
	DryRun           bool
	ProgressInterval int
	RejectionSample  int
}

// Runner executes single migration objects: extract, map, check, load, reconcile.
type Runner struct {
	cfg    Config
	logger logger.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, errors.ErrConfiguration.New("migration runner needs a registry")
	}
	if cfg.Source == nil {
		return nil, errors.ErrConfiguration.New("migration runner needs a source adapter")
	}
	if cfg.Loader == nil && !cfg.DryRun {
		return nil, errors.ErrConfiguration.New("migration runner needs a target loader outside dry-run mode")
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = constants.DefaultProgressInterval
	}
	if cfg.RejectionSample <= 0 {
		cfg.RejectionSample = constants.DefaultRejectionSample
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NopLogger()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger.Named("migration")}, nil
}

// RunObject migrates one registered object. The reconciliation is returned on success
// and on failure; a failure is a MigrationObject error wrapping its cause.
func (r *Runner) RunObject(ctx context.Context, id string) (*Reconciliation, error) {
	obj, ok := r.cfg.Registry.Get(id)
	if !ok {
		return nil, errors.ErrConfiguration.Newf("unknown migration object %s", id).WithDetail("objectId", id)
	}

	ctx = logging.WithObjectID(logging.WithRunID(ctx, r.cfg.RunID), id)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "migration.object")
	span.SetAttributes(
		attribute.String("object.id", id),
		attribute.String("object.category", string(obj.Category)),
		attribute.Bool("migration.dry_run", r.cfg.DryRun),
	)
	defer span.End()

	rec := &Reconciliation{
		RunID:     r.cfg.RunID,
		ObjectID:  id,
		DryRun:    r.cfg.DryRun,
		StartedAt: time.Now().UTC(),
	}
	r.emit(constants.EventMigrationStart, map[string]interface{}{
		"objectId": id,
		"name":     obj.Name,
		"category": string(obj.Category),
		"dryRun":   r.cfg.DryRun,
	})

	err := r.run(ctx, obj, rec)
	rec.CompletedAt = time.Now().UTC()
	duration := rec.CompletedAt.Sub(rec.StartedAt)

	if err != nil {
		err = errors.ErrMigrationObject.Newf("migration object %s failed: %s", id, err.Error()).
			WithCause(err).
			WithDetail("objectId", id)
		rec.Status = StatusFailed
		rec.Error = err.Error()
		tracing.MarkFailed(span, err)
		r.logger.ErrorwCtx(ctx, "Migration object failed", "error", err)
		r.emit(constants.EventMigrationError, map[string]interface{}{
			"objectId": id,
			"error":    err.Error(),
			"code":     errors.CodeOf(err),
		})
	} else {
		rec.Status = StatusCompleted
		r.logger.InfowCtx(ctx, "Migration object completed",
			"extracted", rec.Extracted,
			"transformed", rec.Transformed,
			"loaded", rec.Loaded,
			"rejected", rec.Rejected,
			"duration_ms", duration.Milliseconds(),
		)
		r.emit(constants.EventMigrationComplete, map[string]interface{}{
			"objectId":    id,
			"extracted":   rec.Extracted,
			"transformed": rec.Transformed,
			"loaded":      rec.Loaded,
			"rejected":    rec.Rejected,
			"checksum":    rec.Checksum,
			"durationMs":  duration.Milliseconds(),
		})
	}
	metrics.ObserveMigrationObject(id, string(rec.Status), duration)

	if r.cfg.Store != nil {
		if saveErr := r.cfg.Store.SaveReconciliation(ctx, rec); saveErr != nil {
			r.logger.WarnwCtx(ctx, "Failed to save reconciliation", "error", saveErr)
		}
	}
	return rec, err
}

func (r *Runner) run(ctx context.Context, obj *Object, rec *Reconciliation) error {
	engine, entitySet, err := r.engineFor(obj)
	if err != nil {
		return err
	}

	source, err := obj.extract(ctx, r.cfg.Source)
	if err != nil {
		return err
	}
	rec.Extracted = len(source)
	metrics.AddMigrationRecords(obj.ID, "extracted", rec.Extracted)

	checker := newQualityChecker(obj.QualityChecks())
	accepted := make([]map[string]interface{}, 0, len(source))
	origin := make([]int, 0, len(source))

	for i, record := range source {
		if i > 0 && i%r.cfg.ProgressInterval == 0 {
			r.progress(obj.ID, "transform", i, len(source), rec)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		mapped, mapErr := engine.ApplyRecord(ctx, record)
		if mapErr != nil {
			r.reject(rec, Rejection{Index: i, Stage: StageTransform, Reason: mapErr.Error()})
			continue
		}
		rec.Transformed++

		if key, reason := checker.check(mapped); reason != "" {
			r.reject(rec, Rejection{Index: i, Key: key, Stage: StageQuality, Reason: reason})
			continue
		}
		accepted = append(accepted, mapped)
		origin = append(origin, i)
	}
	r.progress(obj.ID, "transform", len(source), len(source), rec)
	metrics.AddMigrationRecords(obj.ID, "transformed", rec.Transformed)

	if r.cfg.DryRun {
		rec.Loaded = len(accepted)
	} else if len(accepted) > 0 {
		result, err := r.cfg.Loader.Load(ctx, Target{ObjectID: obj.ID, Service: obj.TargetService, EntitySet: entitySet}, accepted)
		if err != nil {
			return err
		}
		rec.Loaded = result.Loaded
		failed := make(map[int]bool, len(result.Rejections))
		for _, rj := range result.Rejections {
			failed[rj.Index] = true
			if rj.Index >= 0 && rj.Index < len(origin) {
				rj.Index = origin[rj.Index]
			}
			rj.Stage = StageLoad
			r.reject(rec, rj)
		}
		if len(failed) > 0 {
			kept := accepted[:0:0]
			for i, m := range accepted {
				if !failed[i] {
					kept = append(kept, m)
				}
			}
			accepted = kept
		}
	}
	metrics.AddMigrationRecords(obj.ID, "loaded", rec.Loaded)
	metrics.AddMigrationRecords(obj.ID, "rejected", rec.Rejected)

	rec.Checksum, err = checksum(accepted)
	return err
}

// engineFor resolves the mapping engine and the target entity set.
func (r *Runner) engineFor(obj *Object) (*mapping.Engine, string, error) {
	entitySet := obj.TargetEntity
	if obj.RuleSetID != "" {
		if r.cfg.Catalog == nil {
			return nil, "", errors.ErrConfiguration.Newf("object %s needs rule set %s but no catalog is loaded", obj.ID, obj.RuleSetID)
		}
		rs, ok := r.cfg.Catalog.Get(obj.RuleSetID)
		if !ok {
			return nil, "", errUnknownRuleSet(obj)
		}
		engine, err := r.cfg.Catalog.Engine(obj.RuleSetID)
		if err != nil {
			return nil, "", err
		}
		if entitySet == "" {
			entitySet = rs.TargetEntity
		}
		if entitySet == "" {
			entitySet = obj.ID
		}
		return engine, entitySet, nil
	}

	var opts []mapping.Option
	if r.cfg.Evaluator != nil {
		opts = append(opts, mapping.WithEvaluator(r.cfg.Evaluator))
	}
	engine, err := mapping.NewEngine(obj.Rules, opts...)
	if err != nil {
		return nil, "", err
	}
	if entitySet == "" {
		entitySet = obj.ID
	}
	return engine, entitySet, nil
}

func (r *Runner) reject(rec *Reconciliation, rj Rejection) {
	rec.Rejected++
	if len(rec.Rejections) < r.cfg.RejectionSample {
		rec.Rejections = append(rec.Rejections, rj)
	}
}

func (r *Runner) progress(id, stage string, processed, total int, rec *Reconciliation) {
	r.emit(constants.EventMigrationProgress, map[string]interface{}{
		"objectId":    id,
		"stage":       stage,
		"processed":   processed,
		"total":       total,
		"transformed": rec.Transformed,
		"rejected":    rec.Rejected,
	})
}

func (r *Runner) emit(eventType string, data map[string]interface{}) {
	if r.cfg.Emitter == nil {
		return
	}
	data["runId"] = r.cfg.RunID
	r.cfg.Emitter.Emit(eventType, data)
}

func errUnknownRuleSet(o *Object) error {
	return errors.ErrConfiguration.Newf("object %s names unknown rule set %s", o.ID, o.RuleSetID).
		WithDetail("objectId", o.ID).
		WithDetail("ruleSetId", o.RuleSetID)
}

type qualityChecker struct {
	checks QualityChecks
	seen   map[string]bool
}

func newQualityChecker(checks QualityChecks) *qualityChecker {
	return &qualityChecker{checks: checks, seen: make(map[string]bool)}
}

// check returns the duplicate key (if any) and a reason when the record is rejected.
func (q *qualityChecker) check(record map[string]interface{}) (string, string) {
	var missing []string
	for _, field := range q.checks.Required {
		if blank(record[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return "", "missing required field " + strings.Join(missing, ", ")
	}

	if len(q.checks.ExactDuplicate) == 0 {
		return "", ""
	}
	values := make([]interface{}, len(q.checks.ExactDuplicate))
	parts := make([]string, len(q.checks.ExactDuplicate))
	for i, field := range q.checks.ExactDuplicate {
		values[i] = record[field]
		parts[i] = fmt.Sprint(record[field])
	}
	key := strings.Join(parts, "|")

	// the joined key is for display; identity uses the typed JSON encoding
	identity, err := json.Marshal(values)
	if err != nil {
		identity = []byte(fmt.Sprintf("%#v", values))
	}
	if q.seen[string(identity)] {
		return key, "duplicate of an earlier record on " + strings.Join(q.checks.ExactDuplicate, ", ")
	}
	q.seen[string(identity)] = true
	return key, ""
}

func blank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// checksum is a SHA-256 over the JSON encoding of the loaded records, in order.
func checksum(records []map[string]interface{}) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return "", errors.ErrMigrationObject.New("failed to hash loaded records").WithCause(err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
