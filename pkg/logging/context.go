package logging

import (
	"context"
)

type contextKey string

const (
	RunIDKey       contextKey = "run_id"
	ExtractorIDKey contextKey = "extractor_id"
	ObjectIDKey    contextKey = "object_id"
	ServiceNameKey contextKey = "service_name"
)

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithExtractorID(ctx context.Context, extractorID string) context.Context {
	return context.WithValue(ctx, ExtractorIDKey, extractorID)
}

func WithObjectID(ctx context.Context, objectID string) context.Context {
	return context.WithValue(ctx, ObjectIDKey, objectID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

func GetExtractorID(ctx context.Context) string {
	return stringValue(ctx, ExtractorIDKey)
}

func GetObjectID(ctx context.Context) string {
	return stringValue(ctx, ObjectIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if runID := GetRunID(ctx); runID != "" {
		fields = append(fields, string(RunIDKey), runID)
	}

	if extractorID := GetExtractorID(ctx); extractorID != "" {
		fields = append(fields, string(ExtractorIDKey), extractorID)
	}

	if objectID := GetObjectID(ctx); objectID != "" {
		fields = append(fields, string(ObjectIDKey), objectID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, string(ServiceNameKey), serviceName)
	}

	return fields
}
