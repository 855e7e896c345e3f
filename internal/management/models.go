package management

import (
	"time"

	"erpmigrate/internal/planner"
)

type JobKind string

const (
	JobExtraction JobKind = "extraction"
	JobMigration  JobKind = "migration"
)

type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job tracks a run started through the API.
type Job struct {
	RunID       string     `json:"runId"`
	Kind        JobKind    `json:"kind"`
	State       JobState   `json:"state"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type ExtractRequest struct {
	RunID          string   `json:"runId,omitempty"`
	Profile        string   `json:"profile,omitempty"`
	Include        []string `json:"include,omitempty"`
	Exclude        []string `json:"exclude,omitempty"`
	MaxConcurrency int      `json:"maxConcurrency,omitempty"`
}

type PlanRequest struct {
	planner.Options
}

// MigrateRequest starts a wave run. When ExtractionRunID is set the objects come from
// the plan built on that extraction; Objects narrows it further.
type MigrateRequest struct {
	RunID           string           `json:"runId,omitempty"`
	SourceProfile   string           `json:"sourceProfile,omitempty"`
	TargetProfile   string           `json:"targetProfile,omitempty"`
	Objects         []string         `json:"objects,omitempty"`
	ExtractionRunID string           `json:"extractionRunId,omitempty"`
	PlanOptions     *planner.Options `json:"planOptions,omitempty"`
	DryRun          *bool            `json:"dryRun,omitempty"`
	MaxConcurrency  int              `json:"maxConcurrency,omitempty"`
}

type RunAccepted struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}
