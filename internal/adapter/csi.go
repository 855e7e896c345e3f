package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/pkg/errors"
)

const (
	csiConfigHeader = "X-Infor-MongooseConfig"
	csiPageSize     = 1000
)

// CSI reads CloudSuite Industrial (SyteLine) through the Mongoose IDO REST service.
// Tables are addressed by IDO name.
type CSI struct {
	*Base
	profile Profile
	opts    Options
	http    *httpapi.Client

	mu    sync.RWMutex
	token string
}

func NewCSI(p Profile, opts Options) (*CSI, error) {
	base, err := NewBase(SystemCSI, "Infor CSI", opts.Mode, opts.Fixtures, opts.logger())
	if err != nil {
		return nil, err
	}
	return &CSI{Base: base, profile: p, opts: opts}, nil
}

func (a *CSI) Connect(ctx context.Context) error {
	if a.IsMock() {
		a.setConnected(true)
		return nil
	}
	if a.Connected() {
		return nil
	}

	cfg := httpConfig(a.profile, a.opts, "", errors.ErrIDO)
	if cfg.Auth.Type == httpapi.AuthBasic {
		// Mongoose exchanges credentials for a session token instead.
		cfg.Auth = httpapi.Auth{Type: httpapi.AuthNone}
	}
	client, err := httpapi.New(cfg, a.logger)
	if err != nil {
		return err
	}
	a.http = client

	if a.profile.AuthType() == httpapi.AuthBasic {
		if err := a.fetchToken(ctx); err != nil {
			client.Close()
			a.http = nil
			return err
		}
	}
	a.setConnected(true)
	a.logger.InfowCtx(ctx, "Connected to Infor CSI", "profile", a.profile.Name, "config", a.profile.Config)
	return nil
}

func (a *CSI) fetchToken(ctx context.Context) error {
	path := "/ido/token/" + url.PathEscape(a.profile.Config) + "/" +
		url.PathEscape(a.profile.Username) + "/" + url.PathEscape(a.profile.Password)
	resp, err := a.http.Do(ctx, httpapi.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return errors.ErrAuthentication.New("CSI token request failed").
			WithCause(err).
			WithDetail("profile", a.profile.Name)
	}
	var body struct {
		Token   string `json:"Token"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Token == "" {
		return errors.ErrAuthentication.Newf("CSI rejected the logon: %s", body.Message).WithDetail("profile", a.profile.Name)
	}
	a.mu.Lock()
	a.token = body.Token
	a.mu.Unlock()
	return nil
}

func (a *CSI) headers() http.Header {
	h := http.Header{"Accept": {"application/json"}}
	if a.profile.Config != "" {
		h.Set(csiConfigHeader, a.profile.Config)
	}
	a.mu.RLock()
	if a.token != "" {
		h.Set("Authorization", a.token)
	}
	a.mu.RUnlock()
	return h
}

func (a *CSI) Disconnect(ctx context.Context) error {
	if a.http != nil {
		a.http.Close()
		a.http = nil
	}
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	a.setConnected(false)
	return nil
}

func (a *CSI) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error) {
	if a.IsMock() {
		return a.mockReadTable(table, opts)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	rows, err := a.load(ctx, table, opts.Fields, combineWhere(opts.Where, SQLFilter(opts.Filters), " AND "), nil, opts.Offset, opts.MaxRows)
	if err != nil {
		return nil, errors.ErrTableRead.Newf("failed to load IDO %s", table).
			WithCause(err).
			WithDetail("table", table)
	}
	return rows, nil
}

func (a *CSI) QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error) {
	if a.IsMock() {
		return a.mockQueryEntities(entity, q)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	return a.load(ctx, entity, q.Select, combineWhere(q.Filter, SQLFilter(q.Filters), " AND "), q.OrderBy, q.Skip, q.Top)
}

type idoResponse struct {
	Items    []json.RawMessage `json:"Items"`
	Success  *bool             `json:"Success"`
	Message  string            `json:"Message"`
	Bookmark string            `json:"Bookmark"`
}

// load pages through an IDO with bookmarks until limit rows (0 for all) were collected.
func (a *CSI) load(ctx context.Context, ido string, properties []string, filter string, orderBy []string, offset, limit int) ([]Record, error) {
	props := "*"
	if len(properties) > 0 {
		props = strings.Join(properties, ",")
	}

	var out []Record
	bookmark := ""
	skipped := 0
	for {
		q := url.Values{}
		q.Set("properties", props)
		q.Set("recordCap", strconv.Itoa(csiPageSize))
		if filter != "" {
			q.Set("filter", filter)
		}
		if len(orderBy) > 0 {
			q.Set("orderBy", strings.Join(orderBy, ","))
		}
		if bookmark != "" {
			q.Set("bookmark", bookmark)
		}

		resp, err := a.http.Do(ctx, httpapi.Request{
			Method: http.MethodGet,
			Path:   "/ido/load/" + url.PathEscape(ido),
			Query:  q,
			Header: a.headers(),
		})
		if err != nil {
			return nil, err
		}

		var page idoResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, errors.ErrIDO.Newf("invalid response from IDO %s", ido).WithCause(err)
		}
		if page.Success != nil && !*page.Success {
			return nil, errors.ErrIDO.Newf("IDO %s: %s", ido, page.Message).WithDetail("ido", ido)
		}

		for _, raw := range page.Items {
			if skipped < offset {
				skipped++
				continue
			}
			rec, err := decodeIDOItem(raw)
			if err != nil {
				return nil, errors.ErrIDO.Newf("invalid item from IDO %s", ido).WithCause(err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}

		if len(page.Items) < csiPageSize || page.Bookmark == "" || page.Bookmark == bookmark {
			break
		}
		bookmark = page.Bookmark
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// decodeIDOItem accepts both the flat object form and the [{Name, Value}] property list.
func decodeIDOItem(raw json.RawMessage) (Record, error) {
	var flat Record
	if err := json.Unmarshal(raw, &flat); err == nil {
		delete(flat, "_ItemId")
		return flat, nil
	}
	var props []struct {
		Name  string      `json:"Name"`
		Value interface{} `json:"Value"`
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	rec := make(Record, len(props))
	for _, p := range props {
		if p.Name == "_ItemId" {
			continue
		}
		rec[p.Name] = p.Value
	}
	return rec, nil
}

func (a *CSI) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	if a.IsMock() {
		return a.mockSystemInfo(), nil
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	configs, err := a.configurations(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemInfo{
		SourceSystem: SystemCSI,
		Product:      "Infor CSI",
		Protocol:     "ido-rest",
		Mode:         ModeLive,
		Host:         a.profile.BaseURL,
		Tenant:       a.profile.Tenant,
		Company:      a.profile.Config,
		Details:      map[string]interface{}{"configurations": configs},
	}, nil
}

func (a *CSI) configurations(ctx context.Context) ([]string, error) {
	resp, err := a.http.Do(ctx, httpapi.Request{Method: http.MethodGet, Path: "/ido/configurations", Header: a.headers()})
	if err != nil {
		return nil, err
	}
	var body struct {
		Configurations []interface{} `json:"Configurations"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errors.ErrIDO.New("invalid configurations response").WithCause(err)
	}
	return cast.ToStringSlice(body.Configurations), nil
}

func (a *CSI) HealthCheck(ctx context.Context) Health {
	if a.IsMock() {
		return a.mockHealth()
	}
	return probeHealth(ctx, func(ctx context.Context) error {
		if err := a.requireConnected(); err != nil {
			return err
		}
		_, err := a.configurations(ctx)
		return err
	})
}
