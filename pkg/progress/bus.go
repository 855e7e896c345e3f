package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/metrics"
)

const (
	DefaultMaxHistory       = 1000
	DefaultSubscriberBuffer = 256

	EventConnected = "connected"
)

// Event is a single message on the bus. IDs increase monotonically per bus.
type Event struct {
	ID        uint64      `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Listener receives every event synchronously, in emission order. It must not call Emit.
type Listener func(Event)

// Emitter is the narrow view handed to producers.
type Emitter interface {
	Emit(eventType string, data interface{}) Event
}

type Config struct {
	MaxHistory       int
	SubscriberBuffer int
}

type Bus struct {
	cfg    Config
	logger logger.Logger

	// emitMu serializes emission so all consumers observe one total order.
	emitMu sync.Mutex

	mu          sync.Mutex
	nextID      uint64
	ring        []Event
	start       int
	count       int
	listeners   []Listener
	subscribers map[string]*Subscription
}

func NewBus(cfg Config, log logger.Logger) *Bus {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Bus{
		cfg:         cfg,
		logger:      log,
		ring:        make([]Event, cfg.MaxHistory),
		subscribers: make(map[string]*Subscription),
	}
}

func (b *Bus) Emit(eventType string, data interface{}) Event {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.nextID++
	event := Event{
		ID:        b.nextID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	b.push(event)

	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)

	var overflowed []*Subscription
	for _, sub := range b.subscribers {
		if !sub.matches(eventType) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range overflowed {
		b.detach(sub, fmt.Errorf("subscriber queue full"))
	}

	for _, l := range listeners {
		b.notify(l, event)
	}

	metrics.IncProgressEvent(eventType)
	return event
}

func (b *Bus) notify(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Progress listener panicked", "event_type", event.Type, "panic", r)
		}
	}()
	l(event)
}

func (b *Bus) push(event Event) {
	capacity := len(b.ring)
	if b.count < capacity {
		b.ring[(b.start+b.count)%capacity] = event
		b.count++
		return
	}
	b.ring[b.start] = event
	b.start = (b.start + 1) % capacity
}

// History returns up to count of the most recent events whose type starts with prefix,
// oldest first. count <= 0 means no limit.
func (b *Bus) History(count int, prefix string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyLocked(count, prefix)
}

func (b *Bus) historyLocked(count int, prefix string) []Event {
	capacity := len(b.ring)
	matched := make([]Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		event := b.ring[(b.start+i)%capacity]
		if prefix == "" || strings.HasPrefix(event.Type, prefix) {
			matched = append(matched, event)
		}
	}
	if count > 0 && len(matched) > count {
		matched = matched[len(matched)-count:]
	}
	return matched
}

func (b *Bus) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

type SSEOptions struct {
	ReplayCount int
	TypePrefix  string
}

// Subscription is one live SSE client.
type Subscription struct {
	ClientID string

	prefix string
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *Subscription) matches(eventType string) bool {
	return s.prefix == "" || strings.HasPrefix(eventType, s.prefix)
}

// Done is closed once the subscription has been detached and its writer has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription was detached, if by failure.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ConnectSSE attaches w as a live subscriber. The client first receives a connected event
// carrying its id, then up to ReplayCount recent events, then every new event. The
// subscriber is detached when ctx ends, a write fails, or it falls too far behind.
func (b *Bus) ConnectSSE(ctx context.Context, w io.Writer, opts SSEOptions) *Subscription {
	sub := &Subscription{
		ClientID: uuid.NewString(),
		prefix:   opts.TypePrefix,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	b.emitMu.Lock()
	b.mu.Lock()
	replay := []Event{}
	if opts.ReplayCount > 0 {
		replay = b.historyLocked(opts.ReplayCount, opts.TypePrefix)
	}
	sub.queue = make(chan Event, b.cfg.SubscriberBuffer+len(replay)+1)
	sub.queue <- Event{
		Type:      EventConnected,
		Data:      map[string]interface{}{"clientId": sub.ClientID},
		Timestamp: time.Now().UTC(),
	}
	for _, event := range replay {
		sub.queue <- event
	}
	b.subscribers[sub.ClientID] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	b.emitMu.Unlock()

	metrics.SetProgressSubscribers(count)
	b.logger.Debugw("SSE client connected", "client_id", sub.ClientID, "replayed", len(replay))

	go b.pump(ctx, w, sub)
	return sub
}

// Disconnect detaches a subscriber by client id.
func (b *Bus) Disconnect(clientID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[clientID]
	b.mu.Unlock()
	if ok {
		b.detach(sub, nil)
	}
}

func (b *Bus) pump(ctx context.Context, w io.Writer, sub *Subscription) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			b.detach(sub, nil)
			return
		case <-sub.stop:
			return
		case event := <-sub.queue:
			if err := WriteSSE(w, event); err != nil {
				b.detach(sub, err)
				return
			}
		}
	}
}

func (b *Bus) detach(sub *Subscription, cause error) {
	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subscribers, sub.ClientID)
		count := len(b.subscribers)
		b.mu.Unlock()

		sub.mu.Lock()
		sub.err = cause
		sub.mu.Unlock()
		close(sub.stop)

		metrics.SetProgressSubscribers(count)
		if cause != nil {
			metrics.IncProgressSubscriberDetached()
			b.logger.Warnw("SSE client detached", "client_id", sub.ClientID, "error", cause)
		}
	})
}

// WriteSSE writes one event in text/event-stream framing and flushes when possible.
func WriteSSE(w io.Writer, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
