package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/config"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/progress"
	"erpmigrate/pkg/retry"
)

func TestClassifyWriteError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"leader not available", fmt.Errorf("write: %w", kafka.LeaderNotAvailable), true},
		{"message too large", fmt.Errorf("write: %w", kafka.MessageSizeTooLarge), false},
		{"batch with a temporary error", fmt.Errorf("write: %w", kafka.WriteErrors{kafka.NotEnoughReplicas}), true},
		{"batch with a permanent error", fmt.Errorf("write: %w", kafka.WriteErrors{kafka.TopicAuthorizationFailed}), false},
		{"cancelled", fmt.Errorf("write: %w", context.Canceled), false},
		{"dial failure", stderrors.New("dial tcp 127.0.0.1:9092: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry.Do(context.Background(), fastRetry, func(int) error {
				calls++
				return classifyWriteError(tt.err)
			}, retry.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			if tt.retryable {
				assert.Equal(t, fastRetry.MaxRetries+1, calls)
			} else {
				assert.Equal(t, 1, calls)
			}
		})
	}
}

func TestProcessWithRetryDoesNotRepeatPanics(t *testing.T) {
	c := &KafkaConsumer{
		cfg:    config.KafkaConfig{Retry: config.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}},
		logger: logger.NopLogger(),
	}

	calls := 0
	err := c.processWithRetry(context.Background(), Envelope{Type: "migration:start"}, func(context.Context, Envelope) error {
		calls++
		panic("nil record")
	}, "progress")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.KindExtraction, errors.KindOf(err))
	assert.Contains(t, err.Error(), "nil record")

	calls = 0
	err = c.processWithRetry(context.Background(), Envelope{Type: "migration:start"}, func(context.Context, Envelope) error {
		calls++
		if calls < 3 {
			return stderrors.New("downstream busy")
		}
		return nil
	}, "progress")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

type fatalProducer struct {
	attempts int
}

func (p *fatalProducer) Publish(ctx context.Context, topic string, msg Envelope) error {
	p.attempts++
	return retry.NewFatalError(stderrors.New("topic authorization failed"))
}

func (p *fatalProducer) Close() error { return nil }

func TestForwarderDoesNotRetryFatalPublishErrors(t *testing.T) {
	producer := &fatalProducer{}
	fwd := NewEventForwarder(producer, ForwarderConfig{Retry: fastRetry}, nil)
	fwd.Start(context.Background())
	fwd.Enqueue(progress.Event{ID: 1, Type: "extraction:start"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fwd.Close(ctx))

	assert.Equal(t, 1, producer.attempts)
	assert.Equal(t, int64(1), fwd.Stats().Failed)
}
