package sqldb

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
)

const metricsService = "forensic"

type Config struct {
	Driver string
	DSN    string
	// Company is the LN company number appended to physical table names.
	Company         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

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

// Filter is one parameterized condition; filters are ANDed.
type Filter struct {
	Field string      `json:"field"`
	Op    Operator    `json:"op"`
	Value interface{} `json:"value"`
}

// Query reads a logical LN table such as tfgld106. Fields use LN names (t$leac).
type Query struct {
	Table   string
	Fields  []string
	Filters []Filter
	OrderBy []string
	Limit   int
	Offset  int
}

// Reader queries an Infor LN database directly.
type Reader struct {
	db     *sql.DB
	cfg    Config
	logger logger.Logger
}

func Open(cfg Config, log logger.Logger) (*Reader, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, errors.ErrConfiguration.New("database DSN is required")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.ErrInforDb.New("failed to open database").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return New(db, cfg, log), nil
}

func New(db *sql.DB, cfg Config, log logger.Logger) *Reader {
	if log == nil {
		log = logger.NopLogger()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Minute
	}
	return &Reader{db: db, cfg: cfg, logger: log.Named("sqldb")}
}

func (r *Reader) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errors.ErrInforDb.New("database ping failed").WithCause(err)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_$]*$`)

// PhysicalTable maps a logical table (tfgld106) to its company table (ttfgld106100).
func (r *Reader) PhysicalTable(table string) (string, error) {
	table = strings.ToLower(strings.TrimSpace(table))
	if !identifierPattern.MatchString(table) {
		return "", errors.ErrInforDb.Newf("invalid table name %q", table).WithDetail("table", table)
	}
	return "t" + table + r.cfg.Company, nil
}

// Column maps an LN field name (t$leac) to its database column (t_leac).
func Column(field string) (string, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	if !identifierPattern.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return strings.Replace(field, "$", "_", 1), nil
}

// Field maps a database column back to its LN field name.
func Field(column string) string {
	if strings.HasPrefix(column, "t_") {
		return "t$" + column[2:]
	}
	return column
}

func (r *Reader) buildWhere(filters []Filter, args []interface{}) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", args, nil
	}
	conditions := make([]string, 0, len(filters))
	for _, f := range filters {
		col, err := Column(f.Field)
		if err != nil {
			return "", nil, err
		}
		op := f.Op
		if op == "" {
			op = OpEq
		}
		switch op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpLike:
			args = append(args, f.Value)
			conditions = append(conditions, fmt.Sprintf("%s %s $%d", pq.QuoteIdentifier(col), op, len(args)))
		case OpIn:
			args = append(args, pq.Array(f.Value))
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", pq.QuoteIdentifier(col), len(args)))
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", op)
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// BuildSelect renders the statement and its arguments without executing it.
func (r *Reader) BuildSelect(q Query) (string, []interface{}, error) {
	physical, err := r.PhysicalTable(q.Table)
	if err != nil {
		return "", nil, err
	}

	columns := "*"
	if len(q.Fields) > 0 {
		quoted := make([]string, 0, len(q.Fields))
		for _, f := range q.Fields {
			col, err := Column(f)
			if err != nil {
				return "", nil, errors.ErrInforDb.New(err.Error()).WithDetail("table", q.Table)
			}
			quoted = append(quoted, pq.QuoteIdentifier(col))
		}
		columns = strings.Join(quoted, ", ")
	}

	where, args, err := r.buildWhere(q.Filters, nil)
	if err != nil {
		return "", nil, errors.ErrInforDb.New(err.Error()).WithDetail("table", q.Table)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", columns, pq.QuoteIdentifier(physical), where)

	if len(q.OrderBy) > 0 {
		order := make([]string, 0, len(q.OrderBy))
		for _, f := range q.OrderBy {
			desc := strings.HasPrefix(f, "-")
			col, err := Column(strings.TrimPrefix(f, "-"))
			if err != nil {
				return "", nil, errors.ErrInforDb.New(err.Error()).WithDetail("table", q.Table)
			}
			term := pq.QuoteIdentifier(col)
			if desc {
				term += " DESC"
			}
			order = append(order, term)
		}
		b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	return b.String(), args, nil
}

// ReadTable runs q and returns rows keyed by LN field names.
func (r *Reader) ReadTable(ctx context.Context, q Query) ([]map[string]interface{}, error) {
	stmt, args, err := r.BuildSelect(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		r.observe("select", "error", start)
		return nil, r.queryError(q.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		r.observe("select", "error", start)
		return nil, r.queryError(q.Table, err)
	}
	r.observe("select", "success", start)
	metrics.AddTableRows("INFOR_LN", len(out))
	return out, nil
}

// Count returns the number of rows matching filters.
func (r *Reader) Count(ctx context.Context, table string, filters []Filter) (int64, error) {
	physical, err := r.PhysicalTable(table)
	if err != nil {
		return 0, err
	}
	where, args, err := r.buildWhere(filters, nil)
	if err != nil {
		return 0, errors.ErrInforDb.New(err.Error()).WithDetail("table", table)
	}

	start := time.Now()
	var n int64
	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(physical)+where, args...).Scan(&n)
	if err != nil {
		r.observe("count", "error", start)
		return 0, r.queryError(table, err)
	}
	r.observe("count", "success", start)
	return n, nil
}

// Tables lists logical table names present for the configured company.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name LIKE $1 ORDER BY table_name`,
		"t%"+r.cfg.Company)
	if err != nil {
		r.observe("tables", "error", start)
		return nil, r.queryError("information_schema.tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, r.queryError("information_schema.tables", err)
		}
		logical := strings.TrimSuffix(strings.TrimPrefix(name, "t"), r.cfg.Company)
		tables = append(tables, logical)
	}
	r.observe("tables", "success", start)
	return tables, rows.Err()
}

func (r *Reader) observe(operation, status string, start time.Time) {
	metrics.IncDatabaseQuery(metricsService, "infor_ln", operation, status)
	metrics.ObserveDatabaseQueryDuration(metricsService, "infor_ln", operation, time.Since(start))
}

func (r *Reader) queryError(table string, err error) error {
	appErr := errors.ErrInforDb.Newf("query on %s failed", table).
		WithCause(err).
		WithDetail("table", table)

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		appErr = appErr.WithDetail("sqlState", string(pqErr.Code))
		switch pqErr.Code {
		case "42501":
			appErr.Message = fmt.Sprintf("permission denied for table %s", table)
		case "42P01":
			appErr.Message = fmt.Sprintf("table %s does not exist", table)
		}
	}
	return appErr
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[Field(col)] = normalize(values[i], types[i].DatabaseTypeName())
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalize(v interface{}, dbType string) interface{} {
	switch val := v.(type) {
	case []byte:
		s := string(val)
		if dbType == "NUMERIC" || dbType == "DECIMAL" {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	case time.Time:
		if dbType == "DATE" {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339)
	case string:
		if dbType == "BPCHAR" {
			return strings.TrimRight(val, " ")
		}
		return val
	}
	return v
}
