package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/progress"
	"erpmigrate/pkg/retry"
)

const defaultQueueSize = 1024

type ForwarderConfig struct {
	Topic     string
	Source    string
	QueueSize int
	Retry     retry.Policy
}

// EventForwarder mirrors progress bus events to a broker topic. Events are queued
// without blocking the emitter and published in order by a single worker. When the
// queue is full new events are dropped and counted.
type EventForwarder struct {
	producer Producer
	cfg      ForwarderConfig
	logger   logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Envelope
	done    chan struct{}
	started atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewEventForwarder(producer Producer, cfg ForwarderConfig, log logger.Logger) *EventForwarder {
	if cfg.Topic == "" {
		cfg.Topic = constants.DefaultProgressTopic
	}
	if cfg.Source == "" {
		cfg.Source = "forensic-service"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &EventForwarder{
		producer: producer,
		cfg:      cfg,
		logger:   log.Named("event-forwarder"),
		queue:    make(chan Envelope, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Listener adapts the forwarder for progress.Bus.AddListener.
func (f *EventForwarder) Listener() progress.Listener {
	return func(event progress.Event) {
		f.Enqueue(event)
	}
}

// Enqueue reports whether the event was accepted.
func (f *EventForwarder) Enqueue(event progress.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- NewEnvelope(f.cfg.Source, event):
		return true
	default:
		if f.dropped.Add(1) == 1 {
			f.logger.Warnw("Progress forward queue full, dropping events",
				"topic", f.cfg.Topic,
				"queue_size", f.cfg.QueueSize,
			)
		}
		return false
	}
}

func (f *EventForwarder) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	go f.run(ctx)
}

func (f *EventForwarder) run(ctx context.Context) {
	defer close(f.done)
	for msg := range f.queue {
		f.publish(ctx, msg)
	}
}

func (f *EventForwarder) publish(ctx context.Context, msg Envelope) {
	err := retry.Do(ctx, f.cfg.Retry, func(int) error {
		return f.producer.Publish(ctx, f.cfg.Topic, msg)
	}, retry.Options{
		OnRetry: func(attempt int, err error, nextDelay time.Duration) {
			metrics.IncRetryAttempt("event-forwarder", f.cfg.Topic)
			f.logger.Debugw("Retrying progress event publish",
				"attempt", attempt,
				"next_delay", nextDelay,
				"event_type", msg.Type,
				"error", err,
			)
		},
	})
	if err != nil {
		f.failed.Add(1)
		f.logger.Errorw("Failed to forward progress event",
			"event_id", msg.ID,
			"event_type", msg.Type,
			"topic", f.cfg.Topic,
			"error", err,
		)
		return
	}
	f.published.Add(1)
}

// Close stops accepting events, waits for the queue to drain until ctx ends and
// closes the producer.
func (f *EventForwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	if f.started.Load() {
		select {
		case <-f.done:
		case <-ctx.Done():
			f.logger.Warnw("Progress forwarder closed before queue drained", "pending", len(f.queue))
		}
	}
	return f.producer.Close()
}

type ForwarderStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

func (f *EventForwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
		Pending:   len(f.queue),
	}
}
