package broker

import (
	"context"
	"fmt"
	"time"

	"erpmigrate/pkg/progress"
)

// Envelope is the wire form of a progress event mirrored to the broker.
type Envelope struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Sequence  uint64      `json:"sequence"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(source string, event progress.Event) Envelope {
	return Envelope{
		ID:        fmt.Sprintf("%s-%d", source, event.ID),
		Source:    source,
		Sequence:  event.ID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
}

type Producer interface {
	Publish(ctx context.Context, topic string, msg Envelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg Envelope) error
