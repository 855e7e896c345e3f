package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"erpmigrate/internal/config"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/logging"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/retry"
	"erpmigrate/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	if log == nil {
		log = logger.NopLogger()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish keys messages by source so one run's events stay on one partition in order.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to marshal message: %w", err))
	}

	headers := []kafka.Header{{Key: "event-type", Value: []byte(msg.Type)}}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(msg.Source),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(msg.Source, topic, time.Since(start))
	if err != nil {
		return classifyWriteError(fmt.Errorf("failed to write kafka message: %w", err))
	}
	metrics.IncKafkaMessagesWritten(msg.Source, topic)
	return nil
}

// classifyWriteError marks broker error codes as retryable or fatal using kafka-go's
// own Temporary flag. Anything else, such as a dial failure, stays retryable.
func classifyWriteError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return retry.NewFatalError(err)
	}
	var writeErrs kafka.WriteErrors
	if stderrors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			var code kafka.Error
			if e != nil && stderrors.As(e, &code) && code.Temporary() {
				return retry.NewRetryableError(err)
			}
		}
		if writeErrs.Count() > 0 {
			return retry.NewFatalError(err)
		}
	}
	var code kafka.Error
	if stderrors.As(err, &code) {
		if code.Temporary() {
			return retry.NewRetryableError(err)
		}
		return retry.NewFatalError(err)
	}
	return err
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer tails a progress topic, for example to follow a run executed by
// another process.
type KafkaConsumer struct {
	cfg     config.KafkaConfig
	groupID string
	wg      sync.WaitGroup
	reader  *kafka.Reader
	logger  logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, groupID string, log logger.Logger) *KafkaConsumer {
	if log == nil {
		log = logger.NopLogger()
	}
	return &KafkaConsumer{
		cfg:     cfg,
		groupID: groupID,
		logger:  log,
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.groupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.InfowCtx(ctx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(ctx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(ctx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			var envelope Envelope
			if err := json.Unmarshal(m.Value, &envelope); err != nil {
				c.logger.ErrorwCtx(ctx, "Failed to unmarshal message",
					"error", err,
					"topic", topic,
				)
				_ = c.reader.CommitMessages(ctx, m)
				continue
			}

			c.handle(ctx, m, envelope, handler, topic)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, envelope Envelope, handler HandlerFunc, topic string) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m)
	defer span.End()
	msgCtx = logging.WithServiceName(msgCtx, envelope.Source)

	if err := c.processWithRetry(msgCtx, envelope, handler, topic); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries, skipping",
			"error", err,
			"topic", topic,
		)
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, envelope Envelope, handler HandlerFunc, topic string) error {
	policy := c.cfg.Retry.Policy()
	return retry.Do(ctx, policy, func(int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				// panics are not retried
				err = retry.NewFatalError(errors.RecoverPanicWithCallback(r, nil, func(err error) {
					c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
						"error", err,
						"topic", topic,
					)
				}))
			}
		}()
		return handler(ctx, envelope)
	}, retry.Options{
		OnRetry: func(attempt int, err error, nextDelay time.Duration) {
			metrics.IncRetryAttempt("kafka-consumer", topic)
			c.logger.WarnwCtx(ctx, "Retrying message processing",
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"next_delay", nextDelay,
				"error", err,
				"topic", topic,
			)
		},
	})
}
