package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/internal/protocol/odata"
	"erpmigrate/internal/protocol/rfc"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/pool"
)

const sapODataRoot = "/sap/opu/odata/sap/"

// SAP composes a pool of RFC sessions (table reader and function caller) with OData
// service clients created on first use.
type SAP struct {
	*Base
	profile Profile
	opts    Options

	breaker *circuitbreaker.Breaker
	pool    *pool.Pool[*rfc.Client]
	reader  *rfc.TableReader
	caller  *rfc.FunctionCaller

	mu       sync.Mutex
	services map[string]*odata.Client
}

func NewSAP(p Profile, opts Options) (*SAP, error) {
	base, err := NewBase(SystemSAP, "SAP ECC", opts.Mode, opts.Fixtures, opts.logger())
	if err != nil {
		return nil, err
	}
	return &SAP{Base: base, profile: p, opts: opts, services: make(map[string]*odata.Client)}, nil
}

func (a *SAP) newTransport() (rfc.Transport, map[string]string, error) {
	if a.opts.RFCTransport != nil {
		t, err := a.opts.RFCTransport(a.profile)
		return t, nil, err
	}
	t, err := rfc.NewSOAPTransport(rfc.SOAPConfig{
		BaseURL:       a.profile.BaseURL,
		Client:        a.profile.Client,
		Language:      a.profile.Language,
		Username:      a.profile.Username,
		Password:      a.profile.Password,
		Timeout:       a.profile.Timeout,
		HTTPTransport: a.opts.HTTPTransport,
	})
	if err != nil {
		return nil, nil, err
	}
	return t, t.ConnectionParams(), nil
}

func (a *SAP) Connect(ctx context.Context) error {
	if a.IsMock() {
		a.setConnected(true)
		return nil
	}
	if a.Connected() {
		return nil
	}

	a.breaker = circuitbreaker.New(a.opts.breakerConfig("rfc-" + a.profile.Name))
	poolCfg := a.opts.poolConfig("rfc-" + a.profile.Name)
	if a.profile.PoolSize > 0 {
		poolCfg.Size = a.profile.PoolSize
	}
	a.pool = rfc.NewPool(poolCfg, func() (*rfc.Client, error) {
		transport, params, err := a.newTransport()
		if err != nil {
			return nil, err
		}
		cfg := a.opts.RFC
		cfg.Name = a.profile.Name
		cfg.ConnectionParams = params
		return rfc.NewClient(cfg, transport, a.logger, rfc.WithBreaker(a.breaker)), nil
	})
	a.reader = rfc.NewTableReader(a.pool, rfc.TableReaderConfig{Functions: a.opts.ReadFunctions}, a.logger)
	a.caller = rfc.NewFunctionCaller(a.pool, a.logger)

	if err := a.ping(ctx); err != nil {
		a.pool.Drain()
		return errors.ErrSapConnect.New("failed to connect to SAP").
			WithCause(err).
			WithDetail("profile", a.profile.Name).
			WithDetail("client", a.profile.Client)
	}
	a.setConnected(true)
	a.logger.InfowCtx(ctx, "Connected to SAP", "profile", a.profile.Name, "client", a.profile.Client)
	return nil
}

func (a *SAP) ping(ctx context.Context) error {
	client, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer a.pool.Release(client)
	if !client.Ping(ctx) {
		return errors.ErrRfc.New("RFC ping failed").WithDetail("function", rfc.FunctionPing)
	}
	return nil
}

func (a *SAP) Disconnect(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Drain()
	}
	a.mu.Lock()
	for name, svc := range a.services {
		svc.Close()
		delete(a.services, name)
	}
	a.mu.Unlock()
	a.setConnected(false)
	return nil
}

// TableReader exposes the reader for streaming reads of large tables.
func (a *SAP) TableReader() *rfc.TableReader {
	return a.reader
}

func (a *SAP) FunctionCaller() *rfc.FunctionCaller {
	return a.caller
}

func (a *SAP) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error) {
	if a.IsMock() {
		return a.mockReadTable(table, opts)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	data, err := a.reader.ReadTable(ctx, table, rfc.ReadOptions{
		Fields:   opts.Fields,
		Where:    combineWhere(opts.Where, SQLFilter(opts.Filters), " AND "),
		MaxRows:  opts.MaxRows,
		RowSkips: opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	return data.Rows, nil
}

// Service returns the OData client for a service name (API_BUSINESS_PARTNER) or a
// configured alias. Services are created lazily and cached.
func (a *SAP) Service(name string) (*odata.Client, error) {
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if svc, ok := a.services[name]; ok {
		return svc, nil
	}

	path, ok := a.opts.ODataServices[name]
	if !ok {
		path = sapODataRoot + name
	}
	cfg := httpConfig(a.profile, a.opts, path, errors.ErrOData)
	cfg.Client = a.profile.Client
	cfg.CSRFPath = "/"
	client, err := httpapi.New(cfg, a.logger)
	if err != nil {
		return nil, err
	}

	version := odata.ParseVersion(a.profile.Version)
	if strings.Contains(path, "/odata4/") {
		version = odata.V4
	}
	svc := odata.New(client, version, a.logger)
	a.services[name] = svc
	return svc, nil
}

// QueryEntities reads SERVICE/EntitySet, e.g. API_BUSINESS_PARTNER/A_BusinessPartner.
func (a *SAP) QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error) {
	if a.IsMock() {
		return a.mockQueryEntities(entity, q)
	}
	service, set, ok := strings.Cut(strings.Trim(entity, "/"), "/")
	if !ok {
		return nil, errors.ErrOData.Newf("entity %q is not SERVICE/EntitySet", entity)
	}
	svc, err := a.Service(service)
	if err != nil {
		return nil, err
	}
	return svc.QueryAll(ctx, set, odata.QueryOptions{
		Select:  q.Select,
		Filter:  combineWhere(q.Filter, ODataFilter(q.Filters, svc.Version()), " and "),
		OrderBy: q.OrderBy,
		Top:     q.Top,
		Skip:    q.Skip,
	}, q.Top)
}

func (a *SAP) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	if a.IsMock() {
		return a.mockSystemInfo(), nil
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	client, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer a.pool.Release(client)

	raw, err := client.SystemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemInfo{
		SourceSystem: SystemSAP,
		Product:      "SAP ECC",
		Protocol:     "rfc",
		Mode:         ModeLive,
		Version:      strings.TrimSpace(cast.ToString(raw["RFCSAPRL"])),
		Host:         strings.TrimSpace(cast.ToString(raw["RFCHOST"])),
		Tenant:       strings.TrimSpace(cast.ToString(raw["RFCSYSID"])),
		Company:      a.profile.Client,
		Details:      raw,
	}, nil
}

func (a *SAP) HealthCheck(ctx context.Context) Health {
	if a.IsMock() {
		return a.mockHealth()
	}
	return probeHealth(ctx, func(ctx context.Context) error {
		if err := a.requireConnected(); err != nil {
			return err
		}
		return a.ping(ctx)
	})
}
