package migration

import (
	"context"
	"net/http"

	"erpmigrate/internal/logger"
	"erpmigrate/internal/protocol/odata"
	"erpmigrate/pkg/errors"
)

const defaultLoadBatchSize = 100

// ServiceResolver hands out OData clients per target service. *adapter.SAP satisfies it.
type ServiceResolver interface {
	Service(name string) (*odata.Client, error)
}

// ODataLoader posts records to the target entity set through $batch changesets.
type ODataLoader struct {
	services  ServiceResolver
	batchSize int
	logger    logger.Logger
}

func NewODataLoader(services ServiceResolver, batchSize int, log logger.Logger) *ODataLoader {
	if batchSize <= 0 {
		batchSize = defaultLoadBatchSize
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &ODataLoader{services: services, batchSize: batchSize, logger: log.Named("loader")}
}

// Load writes records in batches. Operations the target refuses become rejections;
// a failed batch call aborts the load.
func (l *ODataLoader) Load(ctx context.Context, target Target, records []map[string]interface{}) (*LoadResult, error) {
	if target.Service == "" {
		return nil, errors.ErrConfiguration.Newf("object %s has no target service", target.ObjectID).
			WithDetail("objectId", target.ObjectID)
	}
	client, err := l.services.Service(target.Service)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}
	for start := 0; start < len(records); start += l.batchSize {
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}

		requests := make([]odata.BatchRequest, 0, end-start)
		for _, rec := range records[start:end] {
			requests = append(requests, odata.BatchRequest{Method: http.MethodPost, Path: target.EntitySet, Body: rec})
		}
		responses, err := client.Batch(ctx, requests)
		if err != nil {
			return result, err
		}

		for i := range requests {
			if responses[i].Err != nil {
				result.Rejections = append(result.Rejections, Rejection{
					Index:  start + i,
					Stage:  StageLoad,
					Reason: responses[i].Err.Error(),
				})
				continue
			}
			result.Loaded++
		}
		l.logger.DebugwCtx(ctx, "Loaded batch", "object", target.ObjectID, "entity_set", target.EntitySet,
			"batch_start", start, "batch_size", len(requests))
	}
	return result, nil
}
