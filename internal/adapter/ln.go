package adapter

import (
	"context"
	"strings"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/internal/protocol/odata"
	"erpmigrate/internal/protocol/sqldb"
	"erpmigrate/pkg/errors"
)

// LN reads Infor LN through the ION API OData services, or straight from the LN
// database when the profile carries a DSN. Both may be configured; table reads then
// prefer the database.
type LN struct {
	*Base
	profile Profile
	opts    Options

	http  *httpapi.Client
	odata *odata.Client
	db    *sqldb.Reader
}

func NewLN(p Profile, opts Options) (*LN, error) {
	base, err := NewBase(SystemLN, "Infor LN", opts.Mode, opts.Fixtures, opts.logger())
	if err != nil {
		return nil, err
	}
	return &LN{Base: base, profile: p, opts: opts}, nil
}

func (a *LN) Connect(ctx context.Context) error {
	if a.IsMock() {
		a.setConnected(true)
		return nil
	}
	if a.Connected() {
		return nil
	}

	if a.profile.DSN != "" {
		db, err := sqldb.Open(sqldb.Config{
			DSN:          a.profile.DSN,
			Company:      a.profile.Company,
			MaxOpenConns: a.opts.poolConfig(a.profile.Name).Size,
			QueryTimeout: a.opts.QueryTimeout,
		}, a.logger)
		if err != nil {
			return err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return errors.ErrInfor.New("failed to connect to the Infor LN database").
				WithCause(err).
				WithDetail("profile", a.profile.Name)
		}
		a.db = db
	}

	if a.profile.BaseURL != "" {
		client, err := httpapi.New(httpConfig(a.profile, a.opts, "", errors.ErrION), a.logger)
		if err != nil {
			a.closeDB()
			return err
		}
		version := odata.V4
		if a.profile.Version != "" {
			version = odata.ParseVersion(a.profile.Version)
		}
		svc := odata.New(client, version, a.logger)
		if status, err := svc.Probe(ctx, ""); err != nil && !answered(status) {
			client.Close()
			a.closeDB()
			return errors.ErrInfor.New("failed to reach the ION API gateway").
				WithCause(err).
				WithDetail("profile", a.profile.Name).
				WithDetail("statusCode", status)
		}
		a.http, a.odata = client, svc
	}

	if a.db == nil && a.odata == nil {
		return errors.ErrConfiguration.Newf("profile %s has neither a base URL nor a DSN", a.profile.Name)
	}
	a.setConnected(true)
	a.logger.InfowCtx(ctx, "Connected to Infor LN", "profile", a.profile.Name, "database", a.db != nil, "ion", a.odata != nil)
	return nil
}

func (a *LN) closeDB() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func (a *LN) Disconnect(ctx context.Context) error {
	if a.http != nil {
		a.http.Close()
		a.http, a.odata = nil, nil
	}
	a.closeDB()
	a.setConnected(false)
	return nil
}

func (a *LN) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error) {
	if a.IsMock() {
		return a.mockReadTable(table, opts)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	if a.db != nil {
		if strings.TrimSpace(opts.Where) != "" {
			return nil, errors.ErrInforDb.New("raw where clauses are not accepted for database reads; use filters").
				WithDetail("table", table)
		}
		return a.db.ReadTable(ctx, sqldb.Query{
			Table:   table,
			Fields:  opts.Fields,
			Filters: toSQLFilters(opts.Filters),
			Limit:   opts.MaxRows,
			Offset:  opts.Offset,
		})
	}

	rows, err := a.odata.QueryAll(ctx, table, odata.QueryOptions{
		Select: opts.Fields,
		Filter: combineWhere(opts.Where, ODataFilter(opts.Filters, a.odata.Version()), " and "),
		Skip:   opts.Offset,
	}, opts.MaxRows)
	if err != nil {
		return nil, errors.ErrTableRead.Newf("failed to read LN table %s", table).
			WithCause(err).
			WithDetail("table", table)
	}
	return rows, nil
}

func (a *LN) QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error) {
	if a.IsMock() {
		return a.mockQueryEntities(entity, q)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	if a.odata == nil {
		return nil, errors.ErrInfor.New("entity queries need an ION API base URL").WithDetail("entity", entity)
	}
	return a.odata.QueryAll(ctx, entity, odata.QueryOptions{
		Select:  q.Select,
		Filter:  combineWhere(q.Filter, ODataFilter(q.Filters, a.odata.Version()), " and "),
		OrderBy: q.OrderBy,
		Skip:    q.Skip,
		Top:     q.Top,
	}, q.Top)
}

func (a *LN) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	if a.IsMock() {
		info := a.mockSystemInfo()
		info.Company = a.profile.Company
		return info, nil
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	info := &SystemInfo{
		SourceSystem: SystemLN,
		Product:      "Infor LN",
		Mode:         ModeLive,
		Host:         a.profile.BaseURL,
		Tenant:       a.profile.Tenant,
		Company:      a.profile.Company,
		Details:      map[string]interface{}{},
	}
	if a.db != nil {
		info.Protocol = "sql"
		tables, err := a.db.Tables(ctx)
		if err != nil {
			return nil, err
		}
		info.Details["tables"] = len(tables)
	}
	if a.odata != nil {
		if info.Protocol == "" {
			info.Protocol = "odata"
		}
		info.Version = string(a.odata.Version())
		info.Details["odataVersion"] = string(a.odata.Version())
	}
	return info, nil
}

func (a *LN) HealthCheck(ctx context.Context) Health {
	if a.IsMock() {
		return a.mockHealth()
	}
	return probeHealth(ctx, func(ctx context.Context) error {
		if err := a.requireConnected(); err != nil {
			return err
		}
		if a.db != nil {
			if err := a.db.Ping(ctx); err != nil {
				return err
			}
		}
		if a.odata != nil {
			if status, err := a.odata.Probe(ctx, ""); err != nil && !answered(status) {
				return err
			}
		}
		return nil
	})
}
