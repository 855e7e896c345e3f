package connection

import (
	"context"
	"sync"
	"time"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/pkg/progress"
)

type Status string

const (
	StatusNew          Status = "new"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
	StatusDisconnected Status = "disconnected"
)

// Telemetry is a snapshot of the counters kept per connection.
type Telemetry struct {
	Profile    string        `json:"profile"`
	Status     Status        `json:"status"`
	Requests   int64         `json:"requests"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avgLatency"`
	LastError  string        `json:"lastError,omitempty"`
	LastUsed   time.Time     `json:"lastUsed,omitempty"`
}

// Connection binds one profile to its adapter. It is itself a SourceAdapter so callers
// can use it anywhere an adapter is expected while requests are counted.
type Connection struct {
	profile adapter.Profile
	adapter adapter.SourceAdapter
	emitter progress.Emitter

	connectMu sync.Mutex

	mu           sync.Mutex
	status       Status
	requests     int64
	errors       int64
	totalLatency time.Duration
	lastError    string
	lastUsed     time.Time
}

var _ adapter.SourceAdapter = (*Connection)(nil)

func newConnection(p adapter.Profile, a adapter.SourceAdapter, emitter progress.Emitter) *Connection {
	return &Connection{profile: p, adapter: a, emitter: emitter, status: StatusNew}
}

func (c *Connection) Profile() adapter.Profile {
	return c.profile.Redacted()
}

func (c *Connection) Adapter() adapter.SourceAdapter {
	return c.adapter
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	prev := c.status
	c.status = s
	c.mu.Unlock()
	if prev != s && c.emitter != nil {
		c.emitter.Emit(constants.EventSystemStatus, map[string]interface{}{
			"profile": c.profile.Name,
			"from":    prev,
			"to":      s,
		})
	}
}

func (c *Connection) Telemetry() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Telemetry{
		Profile:   c.profile.Name,
		Status:    c.status,
		Requests:  c.requests,
		Errors:    c.errors,
		LastError: c.lastError,
		LastUsed:  c.lastUsed,
	}
	if c.requests > 0 {
		t.AvgLatency = c.totalLatency / time.Duration(c.requests)
	}
	return t
}

func (c *Connection) record(start time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.totalLatency += time.Since(start)
	c.lastUsed = time.Now().UTC()
	if err != nil {
		c.errors++
		c.lastError = err.Error()
	}
}

func (c *Connection) SourceSystem() adapter.SourceSystem {
	return c.adapter.SourceSystem()
}

func (c *Connection) Mode() adapter.Mode {
	return c.adapter.Mode()
}

// Connect moves new or disconnected connections through connecting to connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	switch c.Status() {
	case StatusConnected, StatusDegraded:
		return nil
	}
	c.setStatus(StatusConnecting)
	start := time.Now()
	err := c.adapter.Connect(ctx)
	c.record(start, err)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}
	c.setStatus(StatusConnected)
	return nil
}

func (c *Connection) Disconnect(ctx context.Context) error {
	if c.Status() == StatusNew {
		return nil
	}
	err := c.adapter.Disconnect(ctx)
	c.setStatus(StatusDisconnected)
	return err
}

func (c *Connection) ReadTable(ctx context.Context, table string, opts adapter.ReadOptions) ([]adapter.Record, error) {
	start := time.Now()
	rows, err := c.adapter.ReadTable(ctx, table, opts)
	c.record(start, err)
	return rows, err
}

func (c *Connection) QueryEntities(ctx context.Context, entity string, q adapter.Query) ([]adapter.Record, error) {
	start := time.Now()
	rows, err := c.adapter.QueryEntities(ctx, entity, q)
	c.record(start, err)
	return rows, err
}

func (c *Connection) SystemInfo(ctx context.Context) (*adapter.SystemInfo, error) {
	start := time.Now()
	info, err := c.adapter.SystemInfo(ctx)
	c.record(start, err)
	return info, err
}

// HealthCheck probes the adapter and flips between connected and degraded.
func (c *Connection) HealthCheck(ctx context.Context) adapter.Health {
	h := c.adapter.HealthCheck(ctx)
	switch c.Status() {
	case StatusConnected, StatusDegraded:
		if h.Status == adapter.HealthHealthy {
			c.setStatus(StatusConnected)
		} else {
			c.setStatus(StatusDegraded)
		}
	}
	return h
}
