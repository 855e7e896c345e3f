//go:build integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"erpmigrate/internal/config"
	"erpmigrate/pkg/progress"
)

func setupKafka(t *testing.T) []string {
	t.Helper()
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("erpmigrate-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func TestForwarderPublishesToKafka(t *testing.T) {
	brokers := setupKafka(t)
	topic := "erpmigrate.progress.test"
	cfg := config.KafkaConfig{
		Brokers:       brokers,
		ProgressTopic: topic,
		Retry:         config.RetryConfig{MaxRetries: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second},
	}

	fwd := NewEventForwarder(NewKafkaProducer(cfg, nil), ForwarderConfig{
		Topic:  topic,
		Source: "run-it",
		Retry:  cfg.Retry.Policy(),
	}, nil)
	fwd.Start(context.Background())

	bus := progress.NewBus(progress.Config{}, nil)
	bus.AddListener(fwd.Listener())
	bus.Emit("migration:start", map[string]interface{}{"objectId": "GL_ACCOUNT"})
	bus.Emit("migration:complete", map[string]interface{}{"objectId": "GL_ACCOUNT", "loaded": 12})

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, fwd.Close(closeCtx))
	require.Equal(t, int64(2), fwd.Stats().Published)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	readCtx, cancelRead := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRead()

	var types []string
	for len(types) < 2 {
		m, err := reader.ReadMessage(readCtx)
		require.NoError(t, err)
		assert.Equal(t, "run-it", string(m.Key))
		types = append(types, string(headerValue(m.Headers, "event-type")))
	}
	assert.Equal(t, []string{"migration:start", "migration:complete"}, types)
}

func TestConsumerReceivesEnvelopes(t *testing.T) {
	brokers := setupKafka(t)
	topic := "erpmigrate.progress.consume"
	cfg := config.KafkaConfig{Brokers: brokers, ProgressTopic: topic, Retry: config.RetryConfig{MaxRetries: 1}}

	producer := NewKafkaProducer(cfg, nil)
	defer producer.Close()
	pubCtx, cancelPub := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelPub()
	require.NoError(t, producer.Publish(pubCtx, topic, NewEnvelope("svc", progress.Event{ID: 7, Type: "extraction:complete"})))

	received := make(chan Envelope, 1)
	consumer := NewKafkaConsumer(cfg, "erpmigrate-test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = consumer.Consume(ctx, topic, func(_ context.Context, msg Envelope) error {
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "svc-7", msg.ID)
		assert.Equal(t, "extraction:complete", msg.Type)
	case <-time.After(45 * time.Second):
		t.Fatal("no message consumed")
	}
	cancel()
	require.NoError(t, consumer.Close())
}

func headerValue(headers []kafka.Header, key string) []byte {
	for _, h := range headers {
		if h.Key == key {
			return h.Value
		}
	}
	return nil
}
