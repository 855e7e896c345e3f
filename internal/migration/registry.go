package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/tracing"
)

// Registry holds migration objects and their dependency graph. Registration happens
// at startup; every dependency must be registered before the objects that use it.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]*Object
	order   []string
	graph   *Graph
	logger  logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Registry{
		objects: make(map[string]*Object),
		graph:   NewGraph(),
		logger:  log.Named("migration"),
	}
}

// DefaultRegistry holds the built-in LN catalog.
func DefaultRegistry(log logger.Logger) (*Registry, error) {
	r := NewRegistry(log)
	for _, o := range LNObjects() {
		if err := r.Register(o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(o Object) error {
	if o.ID == "" {
		return errors.ErrConfiguration.New("migration object id is required")
	}
	if o.RuleSetID == "" && len(o.Rules) == 0 {
		return errors.ErrConfiguration.Newf("migration object %s has no field mapping", o.ID).WithDetail("objectId", o.ID)
	}
	if o.Extract == nil && o.SourceTable == "" {
		return errors.ErrConfiguration.Newf("migration object %s has no source", o.ID).WithDetail("objectId", o.ID)
	}
	if o.Name == "" {
		o.Name = o.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range o.Dependencies {
		if _, ok := r.objects[dep]; !ok && dep != o.ID {
			return errors.ErrConfiguration.Newf("migration object %s depends on unregistered object %s", o.ID, dep).
				WithDetail("objectId", o.ID).
				WithDetail("dependency", dep)
		}
	}
	if err := r.graph.AddNode(o.ID, o.Dependencies...); err != nil {
		return err
	}
	r.objects[o.ID] = &o
	r.order = append(r.order, o.ID)
	return nil
}

func (r *Registry) Get(id string) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[id]
	return o, ok
}

// ListObjectIDs returns ids in registration order.
func (r *Registry) ListObjectIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Graph() *Graph {
	return r.graph
}

func (r *Registry) TransitiveDependencies(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.TransitiveDependencies(id)
}

func (r *Registry) ExecutionWaves(ids []string) ([][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.ExecutionWaves(ids)
}

// ObjectRunner executes a single object. *Runner in production.
type ObjectRunner interface {
	RunObject(ctx context.Context, id string) (*Reconciliation, error)
}

type RunAllOptions struct {
	RunID string
	// Objects limits the run; empty means every registered object.
	Objects        []string
	MaxConcurrency int
}

type RunReport struct {
	RunID       string                     `json:"runId"`
	Waves       [][]string                 `json:"waves"`
	Objects     map[string]*Reconciliation `json:"objects"`
	Status      RunStatus                  `json:"status"`
	StartedAt   time.Time                  `json:"startedAt"`
	CompletedAt time.Time                  `json:"completedAt"`
}

// RunAll executes objects wave by wave. Objects in one wave run concurrently and wave
// N+1 starts only after wave N has settled. When an object fails, its dependents in
// later waves are skipped. Configuration and open-circuit errors stop the run.
func (r *Registry) RunAll(ctx context.Context, runner ObjectRunner, opts RunAllOptions) (*RunReport, error) {
	ids := opts.Objects
	if len(ids) == 0 {
		ids = r.ListObjectIDs()
	}
	waves, err := r.ExecutionWaves(ids)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "migration.run_all")
	span.SetAttributes(attribute.String("run.id", opts.RunID), attribute.Int("waves", len(waves)))
	defer span.End()

	report := &RunReport{
		RunID:     opts.RunID,
		Waves:     waves,
		Objects:   make(map[string]*Reconciliation, len(ids)),
		Status:    StatusCompleted,
		StartedAt: time.Now().UTC(),
	}
	failed := make(map[string]string)

	var fatal error
	for i, wave := range waves {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		r.logger.InfowCtx(ctx, "Migration wave started", "wave", i+1, "objects", wave)

		var runnable []string
		for _, id := range wave {
			if blocker := r.failedPrerequisite(id, failed); blocker != "" {
				report.Objects[id] = skipped(opts.RunID, id, fmt.Sprintf("prerequisite failed: %s", blocker))
				failed[id] = blocker
				continue
			}
			runnable = append(runnable, id)
		}

		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		if opts.MaxConcurrency > 0 {
			g.SetLimit(opts.MaxConcurrency)
		}
		for _, id := range runnable {
			id := id
			g.Go(func() error {
				rec, runErr := runner.RunObject(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if rec == nil {
					rec = &Reconciliation{RunID: opts.RunID, ObjectID: id, Status: StatusFailed}
				}
				report.Objects[id] = rec
				if runErr != nil {
					failed[id] = id
					if rec.Error == "" {
						rec.Error = runErr.Error()
					}
					if isFatal(runErr) {
						return runErr
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			fatal = err
		}
		metrics.IncMigrationWave()
		if fatal != nil {
			break
		}
	}

	for _, wave := range waves {
		for _, id := range wave {
			if _, ok := report.Objects[id]; !ok {
				report.Objects[id] = skipped(opts.RunID, id, "run aborted")
			}
		}
	}

	report.CompletedAt = time.Now().UTC()
	switch {
	case fatal != nil:
		report.Status = StatusFailed
	case len(failed) > 0:
		report.Status = StatusPartial
	}
	if fatal != nil {
		return report, errors.ErrMigrationObject.Newf("migration run aborted: %s", fatal.Error()).WithCause(fatal)
	}
	return report, nil
}

// failedPrerequisite names the first failed or skipped ancestor of id.
func (r *Registry) failedPrerequisite(id string, failed map[string]string) string {
	deps := r.TransitiveDependencies(id)
	sort.Strings(deps)
	for _, dep := range deps {
		if _, ok := failed[dep]; ok {
			return dep
		}
	}
	return ""
}

func isFatal(err error) bool {
	return errors.IsCircuitOpen(err) ||
		errors.IsKind(err, errors.KindConfiguration) ||
		errors.IsKind(err, errors.KindPoolDrained)
}

func skipped(runID, id, reason string) *Reconciliation {
	now := time.Now().UTC()
	return &Reconciliation{
		RunID:       runID,
		ObjectID:    id,
		Status:      StatusSkipped,
		Reason:      reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}
