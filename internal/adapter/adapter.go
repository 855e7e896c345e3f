package adapter

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
)

type SourceSystem string

const (
	SystemLN     SourceSystem = "INFOR_LN"
	SystemM3     SourceSystem = "INFOR_M3"
	SystemCSI    SourceSystem = "INFOR_CSI"
	SystemLawson SourceSystem = "INFOR_LAWSON"
	SystemSAP    SourceSystem = "SAP_ECC"
)

// ParseSourceSystem accepts canonical identifiers and the short product names used in
// profiles (LN, M3, CSI, LAWSON, SAP).
func ParseSourceSystem(s string) (SourceSystem, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LN", string(SystemLN):
		return SystemLN, nil
	case "M3", string(SystemM3):
		return SystemM3, nil
	case "CSI", "SYTELINE", string(SystemCSI):
		return SystemCSI, nil
	case "LAWSON", "LANDMARK", string(SystemLawson):
		return SystemLawson, nil
	case "SAP", "ECC", string(SystemSAP):
		return SystemSAP, nil
	}
	return "", errors.ErrConfiguration.Newf("unknown source system %q", s)
}

type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeMock)) {
		return ModeMock
	}
	return ModeLive
}

type Record = map[string]interface{}

type Operator string

const (
	OpEq   Operator = "="
	OpNe   Operator = "<>"
	OpLt   Operator = "<"
	OpLe   Operator = "<="
	OpGt   Operator = ">"
	OpGe   Operator = ">="
	OpLike Operator = "LIKE"
	OpIn   Operator = "IN"
)

// Filter is a protocol-neutral condition. Each variant renders filters into its native
// query language; filters are ANDed.
type Filter struct {
	Field string      `json:"field"`
	Op    Operator    `json:"op,omitempty"`
	Value interface{} `json:"value"`
}

// ReadOptions narrows a table read. Where is passed through in the source's native
// syntax and is not supported by every variant.
type ReadOptions struct {
	Fields  []string
	Where   string
	Filters []Filter
	MaxRows int
	Offset  int
}

// Query addresses a business entity: an OData entity set, an M3 MI transaction
// (PROGRAM/Transaction), an IDO or a Landmark business class.
type Query struct {
	Select  []string
	Filters []Filter
	Filter  string
	OrderBy []string
	Top     int
	Skip    int
	Params  map[string]string
}

type SystemInfo struct {
	SourceSystem SourceSystem           `json:"sourceSystem"`
	Product      string                 `json:"product"`
	Protocol     string                 `json:"protocol"`
	Mode         Mode                   `json:"mode"`
	Version      string                 `json:"version,omitempty"`
	Host         string                 `json:"host,omitempty"`
	Tenant       string                 `json:"tenant,omitempty"`
	Company      string                 `json:"company,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

type Health struct {
	Status    HealthStatus  `json:"status"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SourceAdapter is the uniform contract every ERP product variant implements.
type SourceAdapter interface {
	SourceSystem() SourceSystem
	Mode() Mode
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error)
	QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error)
	SystemInfo(ctx context.Context) (*SystemInfo, error)
	HealthCheck(ctx context.Context) Health
}

// Base carries what every variant shares: identity, run mode, fixtures and the
// connected flag.
type Base struct {
	system   SourceSystem
	product  string
	mode     Mode
	fixtures *FixtureSet
	logger   logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewBase fails when no source system is declared.
func NewBase(system SourceSystem, product string, mode Mode, fixtures *FixtureSet, log logger.Logger) (*Base, error) {
	if system == "" {
		return nil, errors.ErrConfiguration.New("source adapter must declare a source system")
	}
	if log == nil {
		log = logger.NopLogger()
	}
	if mode == "" {
		mode = ModeLive
	}
	if mode == ModeMock && fixtures == nil {
		fixtures = NewFixtureSet(system)
	}
	return &Base{
		system:   system,
		product:  product,
		mode:     mode,
		fixtures: fixtures,
		logger:   log.Named("adapter").With("source_system", string(system)),
	}, nil
}

func (b *Base) SourceSystem() SourceSystem {
	return b.system
}

func (b *Base) Mode() Mode {
	return b.mode
}

func (b *Base) IsMock() bool {
	return b.mode == ModeMock
}

func (b *Base) Fixtures() *FixtureSet {
	return b.fixtures
}

func (b *Base) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Base) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *Base) requireConnected() error {
	if !b.Connected() {
		return errors.ErrConnection.Newf("%s adapter is not connected", b.product).
			WithDetail("sourceSystem", string(b.system))
	}
	return nil
}

func (b *Base) mockReadTable(table string, opts ReadOptions) ([]Record, error) {
	return b.fixtures.Table(table, opts)
}

func (b *Base) mockQueryEntities(entity string, q Query) ([]Record, error) {
	return b.fixtures.Entity(entity, q)
}

func (b *Base) mockSystemInfo() *SystemInfo {
	return &SystemInfo{
		SourceSystem: b.system,
		Product:      b.product,
		Protocol:     "fixture",
		Mode:         ModeMock,
		Version:      b.fixtures.Version,
		Details:      map[string]interface{}{"tables": len(b.fixtures.Tables)},
	}
}

func (b *Base) mockHealth() Health {
	return Health{Status: HealthHealthy, Message: "mock mode", CheckedAt: time.Now().UTC()}
}

// probeHealth times fn and classifies the outcome.
func probeHealth(ctx context.Context, fn func(ctx context.Context) error) Health {
	start := time.Now()
	err := fn(ctx)
	h := Health{Latency: time.Since(start), CheckedAt: time.Now().UTC(), Status: HealthHealthy}
	if err != nil {
		h.Status = HealthDown
		h.Message = err.Error()
		if errors.IsAuthorization(err) {
			h.Status = HealthDegraded
		}
	}
	return h
}

// answered reports a probe status that proves the service is up even though the probe
// itself was refused.
func answered(status int) bool {
	return status == http.StatusNotFound || status == http.StatusMethodNotAllowed
}
