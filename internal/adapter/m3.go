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

const (
	m3ExportProgram     = "EXPORTMI"
	m3ExportTransaction = "Select"
	m3Separator         = ";"
	m3UserProgram       = "MNS150MI"
	m3UserTransaction   = "GetUserData"
)

// M3 calls M3 API (MI) transactions over REST. Table reads go through EXPORTMI/Select.
type M3 struct {
	*Base
	profile Profile
	opts    Options
	http    *httpapi.Client
}

func NewM3(p Profile, opts Options) (*M3, error) {
	base, err := NewBase(SystemM3, "Infor M3", opts.Mode, opts.Fixtures, opts.logger())
	if err != nil {
		return nil, err
	}
	return &M3{Base: base, profile: p, opts: opts}, nil
}

func (a *M3) Connect(ctx context.Context) error {
	if a.IsMock() {
		a.setConnected(true)
		return nil
	}
	if a.Connected() {
		return nil
	}
	client, err := httpapi.New(httpConfig(a.profile, a.opts, "", errors.ErrM3Api), a.logger)
	if err != nil {
		return err
	}
	a.http = client
	if _, err := a.execute(ctx, m3UserProgram, m3UserTransaction, nil, 1, nil); err != nil {
		client.Close()
		a.http = nil
		return errors.ErrInfor.New("failed to connect to Infor M3").
			WithCause(err).
			WithDetail("profile", a.profile.Name)
	}
	a.setConnected(true)
	a.logger.InfowCtx(ctx, "Connected to Infor M3", "profile", a.profile.Name)
	return nil
}

func (a *M3) Disconnect(ctx context.Context) error {
	if a.http != nil {
		a.http.Close()
		a.http = nil
	}
	a.setConnected(false)
	return nil
}

// ReadTable issues EXPORTMI/Select with a header row and decodes the delimited result.
func (a *M3) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]Record, error) {
	if a.IsMock() {
		return a.mockReadTable(table, opts)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	params := map[string]string{
		"QERY": buildExportQuery(table, opts),
		"SEPC": m3Separator,
		"HDRS": "1",
	}
	maxRows := opts.MaxRows
	if maxRows > 0 && opts.Offset > 0 {
		maxRows += opts.Offset
	}
	records, err := a.execute(ctx, m3ExportProgram, m3ExportTransaction, params, maxRows, nil)
	if err != nil {
		return nil, errors.ErrTableRead.Newf("failed to read M3 table %s", table).
			WithCause(err).
			WithDetail("table", table)
	}

	rows := decodeExport(records)
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return []Record{}, nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.MaxRows > 0 && len(rows) > opts.MaxRows {
		rows = rows[:opts.MaxRows]
	}
	return rows, nil
}

func buildExportQuery(table string, opts ReadOptions) string {
	fields := "*"
	if len(opts.Fields) > 0 {
		fields = strings.Join(opts.Fields, ",")
	}
	q := fmt.Sprintf("%s from %s", fields, strings.ToUpper(table))
	if where := combineWhere(opts.Where, SQLFilter(opts.Filters), " and "); where != "" {
		q += " where " + where
	}
	return q
}

func decodeExport(records []Record) []Record {
	if len(records) == 0 {
		return []Record{}
	}
	header := splitExport(cast.ToString(records[0]["REPL"]))
	rows := make([]Record, 0, len(records)-1)
	for _, rec := range records[1:] {
		values := splitExport(cast.ToString(rec["REPL"]))
		row := make(Record, len(header))
		for i, name := range header {
			if i < len(values) {
				row[name] = values[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func splitExport(line string) []string {
	parts := strings.Split(line, m3Separator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// QueryEntities runs the MI transaction named by entity ("MMS200MI/LstItmByItm").
// Equality filters and Params become transaction input fields.
func (a *M3) QueryEntities(ctx context.Context, entity string, q Query) ([]Record, error) {
	if a.IsMock() {
		return a.mockQueryEntities(entity, q)
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}

	program, transaction, ok := strings.Cut(strings.Trim(entity, "/"), "/")
	if !ok || program == "" || transaction == "" {
		return nil, errors.ErrM3Api.Newf("entity %q is not PROGRAM/Transaction", entity)
	}

	params := make(map[string]string, len(q.Params)+len(q.Filters))
	for k, v := range q.Params {
		params[k] = v
	}
	for _, f := range q.Filters {
		if operator(f) != OpEq {
			return nil, errors.ErrM3Api.Newf("M3 transactions only accept equality inputs, got %s on %s", f.Op, f.Field).
				WithDetail("program", program)
		}
		params[f.Field] = cast.ToString(f.Value)
	}

	records, err := a.execute(ctx, program, transaction, params, q.Top, q.Select)
	if err != nil {
		return nil, err
	}
	if q.Skip > 0 {
		if q.Skip >= len(records) {
			return []Record{}, nil
		}
		records = records[q.Skip:]
	}
	return records, nil
}

func (a *M3) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	if a.IsMock() {
		return a.mockSystemInfo(), nil
	}
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	records, err := a.execute(ctx, m3UserProgram, m3UserTransaction, nil, 1, nil)
	if err != nil {
		return nil, err
	}
	info := &SystemInfo{
		SourceSystem: SystemM3,
		Product:      "Infor M3",
		Protocol:     "m3api-rest",
		Mode:         ModeLive,
		Host:         a.profile.BaseURL,
		Tenant:       a.profile.Tenant,
		Company:      a.profile.Company,
		Details:      map[string]interface{}{},
	}
	if len(records) > 0 {
		for k, v := range records[0] {
			info.Details[k] = v
		}
		if cono := cast.ToString(records[0]["CONO"]); cono != "" {
			info.Company = cono
		}
	}
	return info, nil
}

func (a *M3) HealthCheck(ctx context.Context) Health {
	if a.IsMock() {
		return a.mockHealth()
	}
	return probeHealth(ctx, func(ctx context.Context) error {
		if err := a.requireConnected(); err != nil {
			return err
		}
		_, err := a.execute(ctx, m3UserProgram, m3UserTransaction, nil, 1, nil)
		return err
	})
}

type m3Response struct {
	Results []struct {
		Transaction  string   `json:"transaction"`
		Records      []Record `json:"records"`
		ErrorMessage string   `json:"errorMessage"`
		ErrorCode    string   `json:"errorCode"`
		ErrorField   string   `json:"errorField"`
	} `json:"results"`

	// Classic m3api-rest shape.
	Type     string `json:"@type"`
	Message  string `json:"Message"`
	MIRecord []struct {
		NameValue []struct {
			Name  string `json:"Name"`
			Value string `json:"Value"`
		} `json:"NameValue"`
	} `json:"MIRecord"`
}

func (a *M3) execute(ctx context.Context, program, transaction string, params map[string]string, maxRecs int, returnCols []string) ([]Record, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("maxrecs", strconv.Itoa(maxRecs))
	if len(returnCols) > 0 {
		query.Set("returncols", strings.Join(returnCols, ","))
	}

	path := "/" + program + "/" + transaction
	if a.profile.Company != "" {
		path += ";cono=" + a.profile.Company
	}

	resp, err := a.http.Do(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, err
	}

	var decoded m3Response
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, errors.ErrM3Api.Newf("invalid response from %s/%s", program, transaction).WithCause(err)
	}

	if decoded.Type == "ServerReturnedNOK" || (decoded.Message != "" && decoded.MIRecord == nil && decoded.Results == nil) {
		return nil, m3Error(program, transaction, decoded.Message, "")
	}
	if len(decoded.Results) > 0 {
		var records []Record
		for _, r := range decoded.Results {
			if r.ErrorMessage != "" {
				return nil, m3Error(program, transaction, r.ErrorMessage, r.ErrorField).WithDetail("errorCode", r.ErrorCode)
			}
			records = append(records, r.Records...)
		}
		return trimRecords(records), nil
	}

	records := make([]Record, 0, len(decoded.MIRecord))
	for _, mi := range decoded.MIRecord {
		rec := make(Record, len(mi.NameValue))
		for _, nv := range mi.NameValue {
			rec[nv.Name] = strings.TrimSpace(nv.Value)
		}
		records = append(records, rec)
	}
	return records, nil
}

func m3Error(program, transaction, message, field string) *errors.Error {
	err := errors.ErrM3Api.Newf("%s/%s: %s", program, transaction, strings.TrimSpace(message)).
		WithDetail("program", program).
		WithDetail("transaction", transaction)
	if field != "" {
		err = err.WithDetail("field", field)
	}
	return err
}

func trimRecords(records []Record) []Record {
	for _, r := range records {
		for k, v := range r {
			if s, ok := v.(string); ok {
				r[k] = strings.TrimSpace(s)
			}
		}
	}
	if records == nil {
		return []Record{}
	}
	return records
}
