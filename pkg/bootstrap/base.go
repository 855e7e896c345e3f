package bootstrap

import (
	"context"
	"fmt"

	"erpmigrate/internal/broker"
	"erpmigrate/internal/config"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/progress"
)

type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Bus       *progress.Bus
	Forwarder *broker.EventForwarder
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
		Bus: progress.NewBus(progress.Config{
			MaxHistory:       cfg.Progress.MaxHistory,
			SubscriberBuffer: cfg.Progress.SubscriberBuffer,
		}, log.Named("progress")),
	}
}

// InitBroker mirrors bus events to the configured broker. It is a no-op when no
// broker is configured.
func (b *Base) InitBroker(ctx context.Context, serviceName string) error {
	if !b.Config.Broker.Enabled() {
		return nil
	}

	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	kafkaCfg := b.Config.Broker.Kafka
	b.Forwarder = broker.NewEventForwarder(producer, broker.ForwarderConfig{
		Topic:     kafkaCfg.ProgressTopic,
		Source:    serviceName,
		QueueSize: kafkaCfg.QueueSize,
		Retry:     kafkaCfg.Retry.Policy(),
	}, b.Logger)
	b.Forwarder.Start(ctx)
	b.Bus.AddListener(b.Forwarder.Listener())

	b.Logger.Infow("Progress forwarding enabled",
		"topic", kafkaCfg.ProgressTopic,
		"brokers", kafkaCfg.Brokers,
	)
	return nil
}

func (b *Base) ShutdownBroker(ctx context.Context) []error {
	var errs []error

	if b.Forwarder != nil {
		if err := b.Forwarder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("forwarder close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
