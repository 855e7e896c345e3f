package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/pkg/errors"
)

const lawsonGenericList = "lists/_generic"

// Lawson reads Infor Lawson business classes through the Landmark lmdata REST service.
// Tables are addressed by business class; the data area comes from Profile.Config.
type Lawson struct {
	*Base
	profile Profile
	opts    Options
	http    *httpapi.Client
}

func NewLawson(p Profile, opts Options) (*Lawson, error) {
	base, err := NewBase(SystemLawson, "Infor Lawson", opts.Mode, opts.Fixtures, opts.logger())
	if err != nil {
		return nil, err
	}
	return &Lawson{Base: base, profile: p, opts: opts}, nil
}

func (a *Lawson) dataArea() string {
	if a.profile.Config != "" {
		return a.profile.Config
	}
	return "prod"
}

func (a *Lawson) Connect(ctx context.Context) error {
	if a.IsMock() {
		a.setConnected(true)
		return nil
	}
	if a.Connected() {
		return nil
	}
	client, err := httpapi.New(httpConfig(a.profile, a.opts, "", errors.ErrLandmark), a.logger)
	if err != nil {
		return err
	}
	a.http = client
	if err := a.ping(ctx); err != nil {
		client.Close()
		a.http = nil
		return errors.ErrInfor.New("failed to connect to Infor Lawson").
			WithCause(err).
			WithDetail("profile", a.profile.Name)
	}
	a.setConnected(true)
	a.logger.InfowCtx(ctx, "Connected to Infor Lawson", "profile", a.profile.Name, "data_area", a.dataArea())
	return nil
}

func (a *Lawson) ping(ctx context.Context) error {
	_, err := a.http.Do(ctx, httpapi.Request{Method: http.MethodHead, Path: "/" + url.PathEscape(a.dataArea())})
	if appErr, ok := errors.As(err); ok && answered(appErr.StatusCode) {
		return nil
	}
	return err
}

func (a *Lawson) Disconnect(ctx context.Context) error {
	if a.http != nil {
		a.http.Close()
		a.http = nil
	}
	a.setConnected(false)
	return nil
}

func (a *Lawson) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error) {
	if a.IsMock() {
		return a.mockReadTable(table, opts)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	rows, err := a.list(ctx, table, opts.Fields, combineWhere(opts.Where, LandmarkFilter(opts.Filters), " and "), opts.Offset, opts.MaxRows)
	if err != nil {
		return nil, errors.ErrTableRead.Newf("failed to read business class %s", table).
			WithCause(err).
			WithDetail("table", table)
	}
	return rows, nil
}

func (a *Lawson) QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error) {
	if a.IsMock() {
		return a.mockQueryEntities(entity, q)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	return a.list(ctx, entity, q.Select, combineWhere(q.Filter, LandmarkFilter(q.Filters), " and "), q.Skip, q.Top)
}

// LandmarkFilter renders filters in Landmark list filter syntax.
func LandmarkFilter(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		switch op := operator(f); op {
		case OpIn:
			alts := make([]string, 0)
			for _, v := range listValues(f.Value) {
				alts = append(alts, fmt.Sprintf("%s=%s", f.Field, landmarkLiteral(v)))
			}
			parts = append(parts, "("+strings.Join(alts, " or ")+")")
		case OpLike:
			parts = append(parts, fmt.Sprintf("%s.contains(%s)", f.Field, landmarkLiteral(strings.Trim(cast.ToString(f.Value), "%"))))
		case OpEq:
			parts = append(parts, fmt.Sprintf("%s=%s", f.Field, landmarkLiteral(f.Value)))
		case OpNe:
			parts = append(parts, fmt.Sprintf("%s!=%s", f.Field, landmarkLiteral(f.Value)))
		default:
			parts = append(parts, fmt.Sprintf("%s%s%s", f.Field, op, landmarkLiteral(f.Value)))
		}
	}
	return strings.Join(parts, " and ")
}

func landmarkLiteral(v interface{}) string {
	return strconv.Quote(cast.ToString(v))
}

// list reads a generic list and follows _next links until limit rows were collected.
func (a *Lawson) list(ctx context.Context, class string, fields []string, filter string, offset, limit int) ([]Record, error) {
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("_fields", strings.Join(fields, ","))
	} else {
		q.Set("_fields", "_all")
	}
	if filter != "" {
		q.Set("_filter", filter)
	}
	if limit > 0 {
		q.Set("_limit", strconv.Itoa(limit+offset))
	}

	req := httpapi.Request{
		Method: http.MethodGet,
		Path:   "/" + url.PathEscape(a.dataArea()) + "/" + url.PathEscape(class) + "/" + lawsonGenericList,
		Query:  q,
		Header: http.Header{"Accept": {"application/json"}},
	}

	out := []Record{}
	skipped := 0
	for {
		resp, err := a.http.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		var items []map[string]interface{}
		if err := json.Unmarshal(resp.Body, &items); err != nil {
			return nil, errors.ErrLandmark.Newf("invalid response for business class %s", class).WithCause(err)
		}

		next := ""
		for _, item := range items {
			if link, ok := item["_next"].(string); ok {
				next = link
			}
			if msg, ok := item["_error"].(string); ok {
				return nil, errors.ErrLandmark.Newf("%s: %s", class, msg).WithDetail("businessClass", class)
			}
			fields, ok := item["_fields"].(map[string]interface{})
			if !ok {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, fields)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if next == "" {
			return out, nil
		}
		req = httpapi.Request{Method: http.MethodGet, Absolute: next, Header: req.Header}
	}
}

func (a *Lawson) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	if a.IsMock() {
		return a.mockSystemInfo(), nil
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	return &SystemInfo{
		SourceSystem: SystemLawson,
		Product:      "Infor Lawson",
		Protocol:     "landmark-lmdata",
		Mode:         ModeLive,
		Host:         a.profile.BaseURL,
		Tenant:       a.profile.Tenant,
		Company:      a.profile.Company,
		Details:      map[string]interface{}{"dataArea": a.dataArea()},
	}, nil
}

func (a *Lawson) HealthCheck(ctx context.Context) Health {
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
