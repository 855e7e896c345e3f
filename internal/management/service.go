package management

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"erpmigrate/internal/config"
	"erpmigrate/internal/connection"
	"erpmigrate/internal/extraction"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/mapping"
	"erpmigrate/internal/migration"
	"erpmigrate/internal/planner"
	"erpmigrate/internal/store"
	"erpmigrate/pkg/cel"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/logging"
	"erpmigrate/pkg/progress"
)

// Settings are the run defaults a request may override.
type Settings struct {
	SourceProfile         string
	TargetProfile         string
	Include               []string
	Exclude               []string
	ExtractionConcurrency int

	DryRun               bool
	ProgressInterval     int
	RejectionSample      int
	MigrationConcurrency int
	LoadBatchSize        int
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SourceProfile:         cfg.Extraction.SourceProfile,
		TargetProfile:         cfg.Migration.TargetProfile,
		Include:               cfg.Extraction.Include,
		Exclude:               cfg.Extraction.Exclude,
		ExtractionConcurrency: cfg.Extraction.MaxConcurrency,
		DryRun:                cfg.Migration.DryRun,
		ProgressInterval:      cfg.Migration.ProgressInterval,
		RejectionSample:       cfg.Migration.RejectionSample,
		MigrationConcurrency:  cfg.Migration.MaxConcurrency,
		LoadBatchSize:         cfg.Migration.LoadBatchSize,
	}
}

type ServiceOption func(*service)

func WithExtractors(r *extraction.Registry) ServiceOption {
	return func(s *service) {
		s.extractors = r
	}
}

func WithEvaluator(e *cel.Evaluator) ServiceOption {
	return func(s *service) {
		s.evaluator = e
	}
}

func WithResultStore(rs ResultStore) ServiceOption {
	return func(s *service) {
		s.results = rs
	}
}

func WithRunStore(rs RunStore) ServiceOption {
	return func(s *service) {
		s.runs = rs
	}
}

func WithEmitter(e progress.Emitter) ServiceOption {
	return func(s *service) {
		s.emitter = e
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

type service struct {
	settings     Settings
	conns        Connections
	extractors   *extraction.Registry
	objects      *migration.Registry
	catalog      *mapping.Catalog
	evaluator    *cel.Evaluator
	orchestrator *extraction.Orchestrator
	bridge       *planner.Bridge
	results      ResultStore
	runs         RunStore
	emitter      progress.Emitter
	logger       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*Job
}

// NewService wires the extraction, planning and migration steps over conns. Results
// and run reports are kept in memory unless stores are supplied.
func NewService(conns Connections, objects *migration.Registry, catalog *mapping.Catalog, settings Settings, opts ...ServiceOption) (Service, error) {
	if conns == nil {
		return nil, errors.ErrConfiguration.New("management service needs connections")
	}
	if objects == nil || catalog == nil {
		return nil, errors.ErrConfiguration.New("management service needs a migration registry and a rule set catalog")
	}

	s := &service{
		settings: settings,
		conns:    conns,
		objects:  objects,
		catalog:  catalog,
		jobs:     make(map[string]*Job),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logger.NopLogger()
	}
	if s.extractors == nil {
		s.extractors = extraction.DefaultRegistry()
	}
	if s.results == nil {
		s.results = store.NewMemoryResults()
	}
	if s.runs == nil {
		s.runs = store.NewMemoryRuns()
	}
	s.orchestrator = extraction.NewOrchestrator(s.extractors, s.emitter, s.logger)
	s.bridge = planner.NewBridge(objects, s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *service) Extract(ctx context.Context, req ExtractRequest) (*extraction.Result, error) {
	name := firstNonEmpty(req.Profile, s.settings.SourceProfile)
	if name == "" {
		return nil, errors.ErrConfiguration.New("no source profile given and none configured")
	}
	conn, err := s.conns.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	opts := extraction.Options{
		RunID:          req.RunID,
		Include:        orDefault(req.Include, s.settings.Include),
		Exclude:        orDefault(req.Exclude, s.settings.Exclude),
		MaxConcurrency: req.MaxConcurrency,
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = s.settings.ExtractionConcurrency
	}

	result, err := s.orchestrator.Run(ctx, conn, opts)
	if err != nil {
		return nil, err
	}
	// the result is still returned when caching fails; only the later plan step needs it
	if err := s.results.Save(ctx, result); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to store extraction result", "run_id", result.RunID, "error", err)
	}
	return result, nil
}

func (s *service) GetExtraction(ctx context.Context, runID string) (*extraction.Result, error) {
	result, err := s.results.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.ErrNotFound.Newf("extraction run %s not found", runID).WithDetail("runId", runID)
	}
	return result, nil
}

func (s *service) ListExtractions(ctx context.Context) ([]string, error) {
	return s.results.ListRunIDs(ctx)
}

func (s *service) Plan(ctx context.Context, runID string, opts planner.Options) (*planner.Plan, error) {
	result, err := s.GetExtraction(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.bridge.Plan(ctx, result, opts)
}

func (s *service) Migrate(ctx context.Context, req MigrateRequest) (*migration.RunReport, error) {
	dryRun := s.settings.DryRun
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)

	objects, err := s.selectObjects(ctx, req)
	if err != nil {
		return nil, err
	}

	sourceName := firstNonEmpty(req.SourceProfile, s.settings.SourceProfile)
	if sourceName == "" {
		return nil, errors.ErrConfiguration.New("no source profile given and none configured")
	}
	src, err := s.conns.Get(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	var loader migration.Loader
	if !dryRun {
		odataLoader, err := s.loader(ctx, firstNonEmpty(req.TargetProfile, s.settings.TargetProfile))
		if err != nil {
			return nil, err
		}
		loader = odataLoader
	}

	runner, err := migration.NewRunner(migration.Config{
		Registry:         s.objects,
		Catalog:          s.catalog,
		Evaluator:        s.evaluator,
		Source:           src,
		Loader:           loader,
		Store:            s.runs,
		Emitter:          s.emitter,
		Logger:           s.logger,
		RunID:            runID,
		DryRun:           dryRun,
		ProgressInterval: s.settings.ProgressInterval,
		RejectionSample:  s.settings.RejectionSample,
	})
	if err != nil {
		return nil, err
	}

	concurrency := req.MaxConcurrency
	if concurrency <= 0 {
		concurrency = s.settings.MigrationConcurrency
	}

	s.logger.InfowCtx(ctx, "Migration run starting", "source", sourceName, "dry_run", dryRun, "objects", len(objects))
	report, runErr := s.objects.RunAll(ctx, runner, migration.RunAllOptions{
		RunID:          runID,
		Objects:        objects,
		MaxConcurrency: concurrency,
	})
	if report != nil {
		if err := s.runs.SaveRunReport(ctx, report); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to store run report", "error", err)
		}
	}
	return report, runErr
}

// selectObjects resolves the objects of a run from the request and, when given, the
// plan of an earlier extraction.
func (s *service) selectObjects(ctx context.Context, req MigrateRequest) ([]string, error) {
	if req.ExtractionRunID == "" {
		return req.Objects, nil
	}
	var opts planner.Options
	if req.PlanOptions != nil {
		opts = *req.PlanOptions
	}
	plan, err := s.Plan(ctx, req.ExtractionRunID, opts)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(req.Objects))
	for _, id := range req.Objects {
		wanted[id] = true
	}
	ids := make([]string, 0, len(plan.Objects))
	for _, o := range plan.Objects {
		if len(wanted) == 0 || wanted[o.ObjectID] {
			ids = append(ids, o.ObjectID)
		}
	}
	if len(ids) == 0 {
		return nil, errors.ErrConfiguration.Newf("plan for extraction %s selects no objects", req.ExtractionRunID).
			WithDetail("runId", req.ExtractionRunID)
	}
	return ids, nil
}

func (s *service) loader(ctx context.Context, target string) (*migration.ODataLoader, error) {
	if target == "" {
		return nil, errors.ErrConfiguration.New("a target profile is required outside dry-run mode")
	}
	conn, err := s.conns.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	resolver, ok := conn.Adapter().(migration.ServiceResolver)
	if !ok {
		return nil, errors.ErrConfiguration.Newf("target profile %s does not expose OData services", target).
			WithDetail("profile", target)
	}
	return migration.NewODataLoader(resolver, s.settings.LoadBatchSize, s.logger), nil
}

func (s *service) GetRun(ctx context.Context, runID string) (*migration.RunReport, error) {
	report, err := s.runs.GetRunReport(ctx, runID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, errors.ErrNotFound.Newf("migration run %s not found", runID).WithDetail("runId", runID)
	}
	return report, nil
}

func (s *service) RecentRuns(ctx context.Context, limit int64) ([]*migration.RunReport, error) {
	return s.runs.RecentRuns(ctx, limit)
}

func (s *service) Connections(ctx context.Context) connection.HealthReport {
	return s.conns.HealthCheck(ctx)
}

// StartExtraction runs Extract in the background and returns its job.
func (s *service) StartExtraction(req ExtractRequest) (*Job, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	job, err := s.startJob(req.RunID, JobExtraction)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.Extract(logging.WithRunID(s.ctx, req.RunID), req)
		s.finishJob(req.RunID, err)
	}()
	return job, nil
}

// StartMigration runs Migrate in the background and returns its job.
func (s *service) StartMigration(req MigrateRequest) (*Job, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	job, err := s.startJob(req.RunID, JobMigration)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.Migrate(s.ctx, req)
		s.finishJob(req.RunID, err)
	}()
	return job, nil
}

func (s *service) startJob(runID string, kind JobKind) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil, errors.ErrConfiguration.New("service is shutting down")
	}
	if existing, ok := s.jobs[runID]; ok && existing.State == JobRunning {
		return nil, errors.ErrConfiguration.Newf("run %s is already in progress", runID).WithDetail("runId", runID)
	}
	job := &Job{RunID: runID, Kind: kind, State: JobRunning, StartedAt: time.Now().UTC()}
	s.jobs[runID] = job
	copied := *job
	return &copied, nil
}

func (s *service) finishJob(runID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[runID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
		s.logger.Warnw("Background run failed", "run_id", runID, "kind", job.Kind, "error", err)
		return
	}
	job.State = JobCompleted
}

func (s *service) GetJob(runID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[runID]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

// Close cancels background runs and waits for them to settle or for ctx to end.
func (s *service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(values, fallback []string) []string {
	if len(values) > 0 {
		return values
	}
	return fallback
}
