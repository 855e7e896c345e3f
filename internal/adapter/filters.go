package adapter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"

	"erpmigrate/internal/protocol/odata"
	"erpmigrate/internal/protocol/sqldb"
)

var odataOperators = map[Operator]string{
	OpEq: "eq",
	OpNe: "ne",
	OpLt: "lt",
	OpLe: "le",
	OpGt: "gt",
	OpGe: "ge",
}

func operator(f Filter) Operator {
	if f.Op == "" {
		return OpEq
	}
	return Operator(strings.ToUpper(string(f.Op)))
}

func quoteLiteral(v interface{}) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToString(v)
	}
	return "'" + strings.ReplaceAll(cast.ToString(v), "'", "''") + "'"
}

func listValues(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// ODataFilter renders filters as a $filter expression.
func ODataFilter(filters []Filter, version odata.Version) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		switch op := operator(f); op {
		case OpIn:
			values := listValues(f.Value)
			alts := make([]string, 0, len(values))
			for _, v := range values {
				alts = append(alts, fmt.Sprintf("%s eq %s", f.Field, quoteLiteral(v)))
			}
			parts = append(parts, "("+strings.Join(alts, " or ")+")")
		case OpLike:
			needle := strings.Trim(cast.ToString(f.Value), "%")
			if version == odata.V4 {
				parts = append(parts, fmt.Sprintf("contains(%s,%s)", f.Field, quoteLiteral(needle)))
			} else {
				parts = append(parts, fmt.Sprintf("substringof(%s,%s)", quoteLiteral(needle), f.Field))
			}
		default:
			parts = append(parts, fmt.Sprintf("%s %s %s", f.Field, odataOperators[op], quoteLiteral(f.Value)))
		}
	}
	return strings.Join(parts, " and ")
}

// SQLFilter renders filters in the SQL-like dialect shared by ABAP Open SQL, M3
// EXPORTMI and IDO filters.
func SQLFilter(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		switch op := operator(f); op {
		case OpIn:
			values := listValues(f.Value)
			quoted := make([]string, 0, len(values))
			for _, v := range values {
				quoted = append(quoted, quoteLiteral(v))
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", f.Field, strings.Join(quoted, ", ")))
		default:
			parts = append(parts, fmt.Sprintf("%s %s %s", f.Field, op, quoteLiteral(f.Value)))
		}
	}
	return strings.Join(parts, " AND ")
}

func combineWhere(where, rendered, joiner string) string {
	where = strings.TrimSpace(where)
	switch {
	case where == "":
		return rendered
	case rendered == "":
		return where
	}
	return "(" + where + ")" + joiner + rendered
}

func toSQLFilters(filters []Filter) []sqldb.Filter {
	out := make([]sqldb.Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, sqldb.Filter{Field: f.Field, Op: sqldb.Operator(operator(f)), Value: f.Value})
	}
	return out
}

// Matches evaluates filters against an in-memory record.
func Matches(record Record, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(record[f.Field], f) {
			return false
		}
	}
	return true
}

func matchOne(actual interface{}, f Filter) bool {
	switch op := operator(f); op {
	case OpIn:
		for _, v := range listValues(f.Value) {
			if compare(actual, v) == 0 {
				return true
			}
		}
		return false
	case OpLike:
		pattern := strings.ToLower(cast.ToString(f.Value))
		text := strings.ToLower(cast.ToString(actual))
		switch {
		case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%"):
			return strings.Contains(text, strings.Trim(pattern, "%"))
		case strings.HasSuffix(pattern, "%"):
			return strings.HasPrefix(text, strings.TrimSuffix(pattern, "%"))
		case strings.HasPrefix(pattern, "%"):
			return strings.HasSuffix(text, strings.TrimPrefix(pattern, "%"))
		}
		return text == pattern
	case OpNe:
		return compare(actual, f.Value) != 0
	case OpLt:
		return compare(actual, f.Value) < 0
	case OpLe:
		return compare(actual, f.Value) <= 0
	case OpGt:
		return compare(actual, f.Value) > 0
	case OpGe:
		return compare(actual, f.Value) >= 0
	default:
		return compare(actual, f.Value) == 0
	}
}

// compare orders numerically when both sides parse as numbers, else by text.
func compare(a, b interface{}) int {
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}
