package connection

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/progress"
)

type OverallHealth string

const (
	OverallHealthy       OverallHealth = "healthy"
	OverallDegraded      OverallHealth = "degraded"
	OverallDown          OverallHealth = "down"
	OverallNoConnections OverallHealth = "no_connections"
)

// Factory builds the adapter for a profile. adapter.New in production.
type Factory func(p adapter.Profile, opts adapter.Options) (adapter.SourceAdapter, error)

type ConnectResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthReport struct {
	Overall     OverallHealth             `json:"overall"`
	Reachable   int                       `json:"reachable"`
	Total       int                       `json:"total"`
	Connections map[string]adapter.Health `json:"connections"`
	CheckedAt   time.Time                 `json:"checkedAt"`
}

// Manager is the registry of named profiles and their lazily created connections.
type Manager struct {
	opts    adapter.Options
	factory Factory
	emitter progress.Emitter
	logger  logger.Logger

	mu          sync.Mutex
	profiles    map[string]adapter.Profile
	connections map[string]*Connection
}

type Option func(*Manager)

func WithFactory(f Factory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

func WithEmitter(e progress.Emitter) Option {
	return func(m *Manager) {
		m.emitter = e
	}
}

func NewManager(opts adapter.Options, log logger.Logger, options ...Option) *Manager {
	if log == nil {
		log = logger.NopLogger()
	}
	m := &Manager{
		opts:        opts,
		factory:     adapter.New,
		logger:      log.Named("connection"),
		profiles:    make(map[string]adapter.Profile),
		connections: make(map[string]*Connection),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// AddProfile registers p. A profile that already backs a connection cannot be replaced.
func (m *Manager) AddProfile(p adapter.Profile) error {
	if p.Name == "" {
		return errors.ErrConfiguration.New("profile name is required")
	}
	if m.opts.Mode != adapter.ModeMock {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[p.Name]; ok {
		return errors.ErrConfiguration.Newf("profile %s is already in use", p.Name).WithDetail("profile", p.Name)
	}
	m.profiles[p.Name] = p
	m.logger.Debugw("Profile registered", "profile", p.Name, "system", p.System, "auth", p.AuthType())
	return nil
}

// LoadProfiles registers every entry of profiles; map keys name profiles without one.
func (m *Manager) LoadProfiles(profiles map[string]adapter.Profile) error {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := profiles[name]
		if p.Name == "" {
			p.Name = name
		}
		if err := m.AddProfile(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Profiles() []adapter.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the connection for name, constructing and connecting it on first use.
// A failed connect leaves the connection disconnected; the next Get retries.
func (m *Manager) Get(ctx context.Context, name string) (*Connection, error) {
	conn, err := m.connection(name)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *Manager) connection(name string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[name]; ok {
		return conn, nil
	}
	p, ok := m.profiles[name]
	if !ok {
		return nil, errors.ErrConfiguration.Newf("unknown connection profile %s", name).WithDetail("profile", name)
	}
	opts := m.opts
	opts.Logger = m.logger.With("profile", name)
	a, err := m.factory(p, opts)
	if err != nil {
		return nil, err
	}
	conn := newConnection(p, a, m.emitter)
	m.connections[name] = conn
	return conn, nil
}

func (m *Manager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectAll connects every profile in parallel. Individual failures are reported in
// the result, never returned.
func (m *Manager) ConnectAll(ctx context.Context) map[string]ConnectResult {
	names := m.names()
	results := make(map[string]ConnectResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			res := ConnectResult{Status: StatusConnected}
			conn, err := m.Get(gctx, name)
			if err != nil {
				res = ConnectResult{Status: StatusDisconnected, Error: err.Error()}
				m.logger.WarnwCtx(ctx, "Connection failed", "profile", name, "error", err)
			} else {
				res.Status = conn.Status()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HealthCheck pings every profile and classifies the whole set by the share of
// reachable profiles.
func (m *Manager) HealthCheck(ctx context.Context) HealthReport {
	names := m.names()
	report := HealthReport{
		Total:       len(names),
		Connections: make(map[string]adapter.Health, len(names)),
		CheckedAt:   time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			var h adapter.Health
			conn, err := m.Get(gctx, name)
			if err != nil {
				h = adapter.Health{Status: adapter.HealthDown, Message: err.Error(), CheckedAt: time.Now().UTC()}
			} else {
				h = conn.HealthCheck(gctx)
			}
			mu.Lock()
			report.Connections[name] = h
			if h.Status != adapter.HealthDown {
				report.Reachable++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Overall = classify(report.Reachable, report.Total)
	if m.emitter != nil {
		m.emitter.Emit(constants.EventSystemHealth, report)
	}
	return report
}

func classify(reachable, total int) OverallHealth {
	switch {
	case total == 0:
		return OverallNoConnections
	case reachable == total:
		return OverallHealthy
	case reachable == 0:
		return OverallDown
	}
	return OverallDegraded
}

func (m *Manager) Telemetry() map[string]Telemetry {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	out := make(map[string]Telemetry, len(conns))
	for _, c := range conns {
		t := c.Telemetry()
		out[t.Profile] = t
	}
	return out
}

// DisconnectAll tears down every live connection and forgets it.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if err := c.Disconnect(ctx); err != nil {
			m.logger.WarnwCtx(ctx, "Disconnect failed", "profile", name, "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
