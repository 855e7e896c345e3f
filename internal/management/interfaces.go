package management

import (
	"context"

	"erpmigrate/internal/connection"
	"erpmigrate/internal/extraction"
	"erpmigrate/internal/migration"
	"erpmigrate/internal/planner"
)

// Service is the orchestration surface shared by the HTTP handler and the CLI.
type Service interface {
	Extract(ctx context.Context, req ExtractRequest) (*extraction.Result, error)
	GetExtraction(ctx context.Context, runID string) (*extraction.Result, error)
	ListExtractions(ctx context.Context) ([]string, error)

	Plan(ctx context.Context, runID string, opts planner.Options) (*planner.Plan, error)

	Migrate(ctx context.Context, req MigrateRequest) (*migration.RunReport, error)
	GetRun(ctx context.Context, runID string) (*migration.RunReport, error)
	RecentRuns(ctx context.Context, limit int64) ([]*migration.RunReport, error)

	StartExtraction(req ExtractRequest) (*Job, error)
	StartMigration(req MigrateRequest) (*Job, error)
	GetJob(runID string) (*Job, bool)

	Connections(ctx context.Context) connection.HealthReport
	Close(ctx context.Context) error
}

// Connections resolves named ERP profiles. *connection.Manager in production.
type Connections interface {
	Get(ctx context.Context, name string) (*connection.Connection, error)
	HealthCheck(ctx context.Context) connection.HealthReport
}

// ResultStore keeps extraction results between the extract and plan steps.
// *store.ResultCache in production.
type ResultStore interface {
	Save(ctx context.Context, result *extraction.Result) error
	Load(ctx context.Context, runID string) (*extraction.Result, error)
	ListRunIDs(ctx context.Context) ([]string, error)
}

// RunStore persists migration evidence. *store.RunRepository in production.
type RunStore interface {
	migration.ReconciliationStore
	SaveRunReport(ctx context.Context, report *migration.RunReport) error
	GetRunReport(ctx context.Context, runID string) (*migration.RunReport, error)
	RecentRuns(ctx context.Context, limit int64) ([]*migration.RunReport, error)
}
