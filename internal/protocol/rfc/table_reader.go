package rfc

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/pool"
)

// DefaultReadFunctions are tried in order until one answers the probe.
var DefaultReadFunctions = []string{"/SAPDS/RFC_READ_TABLE", "BBP_RFC_READ_TABLE", "RFC_READ_TABLE"}

const (
	defaultProbeTable = "T000"
	optionLineWidth   = 72
	defaultChunkSize  = 10000
	dictionaryTable   = "DD03L"
)

// ReadOptions narrows a table read. Where holds ABAP Open SQL conditions.
type ReadOptions struct {
	Fields   []string
	Where    string
	MaxRows  int
	RowSkips int
}

// FieldInfo is the layout of one column in the returned wide rows.
type FieldInfo struct {
	Name        string `json:"name"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type TableData struct {
	Table  string                   `json:"table"`
	Fields []FieldInfo              `json:"fields"`
	Rows   []map[string]interface{} `json:"rows"`
}

// ColumnMetadata is one DD03L entry.
type ColumnMetadata struct {
	Field    string `json:"field"`
	Position int    `json:"position"`
	Key      bool   `json:"key"`
	DataType string `json:"dataType"`
	Length   int    `json:"length"`
	Decimals int    `json:"decimals"`
	Element  string `json:"dataElement"`
}

type TableReaderConfig struct {
	Functions  []string
	ProbeTable string
}

// TableReader reads arbitrary tables through whichever read module the system offers.
type TableReader struct {
	pool      *pool.Pool[*Client]
	functions []string
	probe     string
	logger    logger.Logger

	mu       sync.Mutex
	resolved string
}

func NewTableReader(p *pool.Pool[*Client], cfg TableReaderConfig, log logger.Logger) *TableReader {
	if log == nil {
		log = logger.NopLogger()
	}
	if len(cfg.Functions) == 0 {
		cfg.Functions = DefaultReadFunctions
	}
	if cfg.ProbeTable == "" {
		cfg.ProbeTable = defaultProbeTable
	}
	return &TableReader{
		pool:      p,
		functions: cfg.Functions,
		probe:     cfg.ProbeTable,
		logger:    log.Named("table_reader"),
	}
}

func (r *TableReader) withClient(ctx context.Context, table string, fn func(*Client) error) (err error) {
	client, err := r.pool.Acquire(ctx)
	if err != nil {
		return errors.ErrTableRead.Newf("no RFC client available to read %s", table).
			WithCause(err).
			WithDetail("table", table)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.pool.Discard(client)
			err = errors.RecoverPanic(rec, errors.ErrTableRead)
			return
		}
		r.pool.Release(client)
	}()
	return fn(client)
}

// ResolveFunction returns the resolved read module, probing on first use.
func (r *TableReader) ResolveFunction(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved != "" {
		return r.resolved, nil
	}

	var failures []string
	err := r.withClient(ctx, r.probe, func(c *Client) error {
		for _, fm := range r.functions {
			_, err := c.Call(ctx, fm, Params{
				"QUERY_TABLE": r.probe,
				"ROWCOUNT":    1,
				"NO_DATA":     "X",
			})
			if err == nil {
				r.resolved = fm
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures = append(failures, fmt.Sprintf("%s: %v", fm, err))
			r.logger.DebugwCtx(ctx, "Table read function unavailable", "function", fm, "error", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if r.resolved == "" {
		return "", errors.ErrTableRead.New("no table read function module is available").
			WithDetail("tried", r.functions).
			WithDetail("failures", failures)
	}

	r.logger.InfowCtx(ctx, "Resolved table read function", "function", r.resolved)
	return r.resolved, nil
}

// ReadTable reads one page of rows.
func (r *TableReader) ReadTable(ctx context.Context, table string, opts ReadOptions) (*TableData, error) {
	fm, err := r.ResolveFunction(ctx)
	if err != nil {
		return nil, err
	}

	var data *TableData
	err = r.withClient(ctx, table, func(c *Client) error {
		res, err := c.Call(ctx, fm, buildReadParams(table, opts))
		if err != nil {
			return tableError(table, fm, err)
		}
		data, err = parseReadResult(table, res)
		if err != nil {
			return errors.ErrTableRead.Newf("failed to parse rows of %s", table).
				WithCause(err).
				WithDetail("table", table).
				WithDetail("function", fm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.AddTableRows("SAP", len(data.Rows))
	return data, nil
}

// StreamTable reads the table in chunks, advancing ROWSKIPS by the rows returned, and
// stops when a chunk comes back short or MaxRows is reached.
func (r *TableReader) StreamTable(ctx context.Context, table string, opts ReadOptions, chunkSize int, fn func(rows []map[string]interface{}) error) (int, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	total := 0
	skip := opts.RowSkips
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		want := chunkSize
		if opts.MaxRows > 0 {
			remaining := opts.MaxRows - total
			if remaining <= 0 {
				return total, nil
			}
			if remaining < want {
				want = remaining
			}
		}

		chunkOpts := opts
		chunkOpts.RowSkips = skip
		chunkOpts.MaxRows = want
		data, err := r.ReadTable(ctx, table, chunkOpts)
		if err != nil {
			return total, err
		}

		if len(data.Rows) > 0 {
			if err := fn(data.Rows); err != nil {
				return total, err
			}
		}
		total += len(data.Rows)
		skip += len(data.Rows)

		if len(data.Rows) < want {
			return total, nil
		}
	}
}

// TableMetadata reads the active DD03L column list of table.
func (r *TableReader) TableMetadata(ctx context.Context, table string) ([]ColumnMetadata, error) {
	data, err := r.ReadTable(ctx, dictionaryTable, ReadOptions{
		Fields: []string{"FIELDNAME", "POSITION", "KEYFLAG", "ROLLNAME", "DATATYPE", "LENG", "DECIMALS"},
		Where:  fmt.Sprintf("TABNAME = '%s' AND AS4LOCAL = 'A'", escapeLiteral(strings.ToUpper(table))),
	})
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnMetadata, 0, len(data.Rows))
	for _, row := range data.Rows {
		name := cast.ToString(row["FIELDNAME"])
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		columns = append(columns, ColumnMetadata{
			Field:    name,
			Position: cast.ToInt(strings.TrimLeft(cast.ToString(row["POSITION"]), "0")),
			Key:      cast.ToString(row["KEYFLAG"]) == "X",
			DataType: cast.ToString(row["DATATYPE"]),
			Length:   cast.ToInt(strings.TrimLeft(cast.ToString(row["LENG"]), "0")),
			Decimals: cast.ToInt(strings.TrimLeft(cast.ToString(row["DECIMALS"]), "0")),
			Element:  cast.ToString(row["ROLLNAME"]),
		})
	}
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
	return columns, nil
}

func tableError(table, fm string, err error) error {
	base := errors.ErrTableRead.Newf("failed to read table %s", table)
	var fault *Fault
	if stderrors.As(err, &fault) {
		switch fault.Exception {
		case "NOT_AUTHORIZED", "TABLE_WITHOUT_DATA_AUTH":
			base = errors.ErrTableRead.Newf("no authorization to read table %s", table)
		case "TABLE_NOT_AVAILABLE":
			base = errors.ErrTableRead.Newf("table %s is not available", table)
		}
	}
	return base.WithCause(err).
		WithDetail("table", table).
		WithDetail("function", fm).
		WithDetail("circuitBreaker", errors.IsCircuitOpen(err))
}

func buildReadParams(table string, opts ReadOptions) Params {
	params := Params{
		"QUERY_TABLE": strings.ToUpper(table),
		"DELIMITER":   "",
		"ROWSKIPS":    opts.RowSkips,
		"ROWCOUNT":    opts.MaxRows,
	}

	if where := strings.TrimSpace(opts.Where); where != "" {
		lines := splitOptions(where, optionLineWidth)
		options := make([]map[string]interface{}, 0, len(lines))
		for _, l := range lines {
			options = append(options, map[string]interface{}{"TEXT": l})
		}
		params["OPTIONS"] = options
	}

	if len(opts.Fields) > 0 {
		fields := make([]map[string]interface{}, 0, len(opts.Fields))
		for _, f := range opts.Fields {
			fields = append(fields, map[string]interface{}{"FIELDNAME": strings.ToUpper(f)})
		}
		params["FIELDS"] = fields
	}
	return params
}

// splitOptions breaks a WHERE clause into lines of at most width characters, on word
// boundaries where possible.
func splitOptions(where string, width int) []string {
	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(where) {
		for len(word) > width {
			if current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		if current.Len() > 0 && current.Len()+1+len(word) > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func parseReadResult(table string, res Result) (*TableData, error) {
	data := &TableData{Table: table}

	for _, raw := range toRows(res["FIELDS"]) {
		data.Fields = append(data.Fields, FieldInfo{
			Name:        strings.TrimSpace(cast.ToString(raw["FIELDNAME"])),
			Offset:      toInt(raw["OFFSET"]),
			Length:      toInt(raw["LENGTH"]),
			Type:        strings.TrimSpace(cast.ToString(raw["TYPE"])),
			Description: strings.TrimSpace(cast.ToString(raw["FIELDTEXT"])),
		})
	}

	lines := dataLines(res)
	if len(lines) > 0 && len(data.Fields) == 0 {
		return nil, fmt.Errorf("rows returned without field metadata")
	}

	data.Rows = make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		runes := []rune(line)
		row := make(map[string]interface{}, len(data.Fields))
		for _, f := range data.Fields {
			row[f.Name] = coerce(f.Type, slice(runes, f.Offset, f.Length))
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

// dataLines returns the WA column of DATA, or of the TBLOUT* table used by
// /SAPDS/RFC_READ_TABLE.
func dataLines(res Result) []string {
	source := res["DATA"]
	if rows := toRows(source); len(rows) == 0 {
		keys := make([]string, 0)
		for k := range res {
			if strings.HasPrefix(k, "TBLOUT") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if len(toRows(res[k])) > 0 {
				source = res[k]
				break
			}
		}
	}

	rows := toRows(source)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, cast.ToString(row["WA"]))
	}
	return lines
}

func toRows(v interface{}) []map[string]interface{} {
	switch rows := v.(type) {
	case []map[string]interface{}:
		return rows
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func toInt(v interface{}) int {
	s := strings.TrimLeft(strings.TrimSpace(cast.ToString(v)), "0")
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func slice(runes []rune, offset, length int) string {
	if offset >= len(runes) || offset < 0 {
		return ""
	}
	end := offset + length
	if end > len(runes) || length <= 0 {
		end = len(runes)
	}
	return string(runes[offset:end])
}

// coerce converts a fixed-width ABAP value by its internal type.
func coerce(abapType, raw string) interface{} {
	v := strings.TrimSpace(raw)
	switch abapType {
	case "N":
		return v
	case "I", "b", "s", "8":
		n, _ := parseSigned(v)
		return int64(n)
	case "P", "F", "a", "e":
		n, _ := parseSigned(v)
		return n
	case "D":
		if len(v) != 8 || strings.Trim(v, "0") == "" {
			return ""
		}
		return v[:4] + "-" + v[4:6] + "-" + v[6:]
	case "T":
		if len(v) != 6 {
			return v
		}
		return v[:2] + ":" + v[2:4] + ":" + v[4:]
	default:
		return v
	}
}

// parseSigned handles ABAP's trailing minus sign.
func parseSigned(v string) (float64, bool) {
	if v == "" {
		return 0, true
	}
	negative := false
	if strings.HasSuffix(v, "-") {
		negative = true
		v = strings.TrimSuffix(v, "-")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}
