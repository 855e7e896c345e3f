package tracing

import (
	"context"
	stderrors "errors"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"erpmigrate/internal/config"
	"erpmigrate/pkg/errors"
)

func TestInitDisabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, "")
	require.NoError(t, err)
	require.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestMarkFailed(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "object")
	MarkFailed(span, errors.ErrConfiguration.New("no target profile"))
	span.End()

	_, plain := tp.Tracer("test").Start(context.Background(), "plain")
	MarkFailed(plain, stderrors.New("boom"))
	MarkFailed(plain, nil)
	plain.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("error.code", "ERR_CONFIGURATION"))
	assert.Len(t, spans[0].Events(), 1)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Empty(t, spans[1].Attributes())
}

func TestTracedFilter(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/v1/extractions", true},
		{"/api/v1/migrations/run-1", true},
		{"/api/v1/events", false},
		{"/api/v1/events/history", false},
		{"/health", false},
		{"/metrics", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, traced(httptest.NewRequest("GET", tt.path, nil)))
		})
	}
}

func TestKafkaHeaderCarrier(t *testing.T) {
	carrier := &kafkaHeaderCarrier{headers: []kafka.Header{{Key: "source", Value: []byte("forensic-service")}}}
	carrier.Set("traceparent", "a")
	carrier.Set("traceparent", "b")

	assert.Equal(t, "b", carrier.Get("traceparent"))
	assert.Equal(t, "forensic-service", carrier.Get("source"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.Equal(t, []string{"source", "traceparent"}, carrier.Keys())
}

func TestKafkaTraceRoundTrip(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prop := propagation.TraceContext{}

	ctx, parent := tp.Tracer("test").Start(context.Background(), "publish")
	carrier := &kafkaHeaderCarrier{}
	prop.Inject(ctx, carrier)
	parent.End()

	extracted := prop.Extract(context.Background(), carrier)
	_, child := tp.Tracer("test").Start(extracted, "consume")
	child.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, spans[0].SpanContext().SpanID(), spans[1].Parent().SpanID())
}
