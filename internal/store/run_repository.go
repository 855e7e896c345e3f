package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"erpmigrate/internal/constants"
	"erpmigrate/internal/migration"
	"erpmigrate/pkg/metrics"
)

const defaultRecentRuns = 20

type runDocument struct {
	RunID       string              `bson:"_id"`
	Status      migration.RunStatus `bson:"status"`
	Waves       [][]string          `bson:"waves"`
	ObjectCount int                 `bson:"object_count"`
	StartedAt   time.Time           `bson:"started_at"`
	CompletedAt time.Time           `bson:"completed_at"`
}

// RunRepository persists migration run reports and per-object reconciliations.
// It satisfies migration.ReconciliationStore.
type RunRepository struct {
	runs            *mongo.Collection
	reconciliations *mongo.Collection
}

func NewRunRepository(db *mongo.Database) *RunRepository {
	return &RunRepository{
		runs:            db.Collection(constants.CollectionRuns),
		reconciliations: db.Collection(constants.CollectionReconciliations),
	}
}

// SaveReconciliation upserts by run and object so a retried object replaces its
// previous outcome.
func (r *RunRepository) SaveReconciliation(ctx context.Context, rec *migration.Reconciliation) error {
	if rec == nil {
		return nil
	}
	filter := bson.M{"run_id": rec.RunID, "object_id": rec.ObjectID}
	err := r.observe("replace_reconciliation", func() error {
		_, err := r.reconciliations.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save reconciliation %s/%s: %w", rec.RunID, rec.ObjectID, err)
	}
	return nil
}

func (r *RunRepository) ListReconciliations(ctx context.Context, runID string) ([]*migration.Reconciliation, error) {
	var out []*migration.Reconciliation
	err := r.observe("find_reconciliations", func() error {
		opts := options.Find().SetSort(bson.D{{Key: "object_id", Value: 1}})
		cursor, err := r.reconciliations.Find(ctx, bson.M{"run_id": runID}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		return cursor.All(ctx, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations for %s: %w", runID, err)
	}
	return out, nil
}

// SaveRunReport stores the run header and every reconciliation it carries.
func (r *RunRepository) SaveRunReport(ctx context.Context, report *migration.RunReport) error {
	doc := runDocument{
		RunID:       report.RunID,
		Status:      report.Status,
		Waves:       report.Waves,
		ObjectCount: len(report.Objects),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	err := r.observe("replace_run", func() error {
		_, err := r.runs.ReplaceOne(ctx, bson.M{"_id": doc.RunID}, doc, options.Replace().SetUpsert(true))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}

	for _, rec := range report.Objects {
		if rec.RunID == "" {
			rec.RunID = report.RunID
		}
		if err := r.SaveReconciliation(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// GetRunReport returns nil when the run is unknown.
func (r *RunRepository) GetRunReport(ctx context.Context, runID string) (*migration.RunReport, error) {
	var doc runDocument
	err := r.observe("find_run", func() error {
		return r.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	})
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	recs, err := r.ListReconciliations(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &migration.RunReport{
		RunID:       doc.RunID,
		Waves:       doc.Waves,
		Status:      doc.Status,
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
		Objects:     make(map[string]*migration.Reconciliation, len(recs)),
	}
	for _, rec := range recs {
		report.Objects[rec.ObjectID] = rec
	}
	return report, nil
}

// RecentRuns lists run headers newest first. Objects is left empty.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int64) ([]*migration.RunReport, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}
	var docs []runDocument
	err := r.observe("find_runs", func() error {
		opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit)
		cursor, err := r.runs.Find(ctx, bson.M{}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*migration.RunReport, 0, len(docs))
	for _, d := range docs {
		out = append(out, &migration.RunReport{
			RunID:       d.RunID,
			Waves:       d.Waves,
			Status:      d.Status,
			StartedAt:   d.StartedAt,
			CompletedAt: d.CompletedAt,
		})
	}
	return out, nil
}

func (r *RunRepository) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "success"
	if err != nil && err != mongo.ErrNoDocuments {
		status = "error"
	}
	metrics.IncDatabaseQuery(serviceLabel, "mongodb", op, status)
	metrics.ObserveDatabaseQueryDuration(serviceLabel, "mongodb", op, time.Since(start))
	return err
}
