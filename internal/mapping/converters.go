package mapping

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Converter is a pure primitive conversion referenced by name from a rule.
type Converter func(v interface{}) interface{}

const (
	ConvertToUpperCase = "toUpperCase"
	ConvertTrim        = "trim"
	ConvertToDecimal   = "toDecimal"
	ConvertToInteger   = "toInteger"
	ConvertToDate      = "toDate"
	ConvertPadLeft10   = "padLeft10"
)

var converters = map[string]Converter{
	ConvertToUpperCase: toUpperCase,
	ConvertTrim:        trim,
	ConvertToDecimal:   toDecimal,
	ConvertToInteger:   toInteger,
	ConvertToDate:      toDate,
	ConvertPadLeft10:   padLeft10,
}

func LookupConverter(name string) (Converter, bool) {
	c, ok := converters[name]
	return c, ok
}

func ConverterNames() []string {
	return []string{ConvertToUpperCase, ConvertTrim, ConvertToDecimal, ConvertToInteger, ConvertToDate, ConvertPadLeft10}
}

func toText(v interface{}) string {
	if v == nil {
		return ""
	}
	return cast.ToString(v)
}

func toUpperCase(v interface{}) interface{} {
	return strings.ToUpper(strings.TrimSpace(toText(v)))
}

func trim(v interface{}) interface{} {
	return strings.TrimSpace(toText(v))
}

var decimalCleaner = strings.NewReplacer(",", "", " ", "")

// toDecimal accepts SAP-style trailing minus signs ("125.00-").
func toDecimal(v interface{}) interface{} {
	switch n := v.(type) {
	case nil:
		return float64(0)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return float64(0)
		}
		return n
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToFloat64(n)
	case bool:
		if n {
			return float64(1)
		}
		return float64(0)
	}

	s := decimalCleaner.Replace(strings.TrimSpace(toText(v)))
	negative := false
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return float64(0)
	}
	if negative {
		f = -f
	}
	return f
}

var leadingInteger = regexp.MustCompile(`^[+-]?\d+`)

// toInteger parses the leading base-10 integer; fractional parts are truncated.
func toInteger(v interface{}) interface{} {
	switch n := v.(type) {
	case nil:
		return int64(0)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return int64(0)
		}
		return int64(n)
	case float32:
		return int64(n)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(n)
	}

	match := leadingInteger.FindString(strings.TrimSpace(toText(v)))
	if match == "" {
		return int64(0)
	}
	i, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return int64(0)
	}
	return i
}

var isoDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toDate normalizes YYYYMMDD and ISO 8601 inputs to YYYY-MM-DD. Unparseable and
// all-zero dates yield an empty string.
func toDate(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	}

	s := strings.TrimSpace(toText(v))
	if s == "" || strings.Trim(s, "0-") == "" {
		return ""
	}

	if len(s) == 8 && isDigits(s) {
		parsed, err := time.Parse("20060102", s)
		if err != nil {
			return ""
		}
		return parsed.Format("2006-01-02")
	}

	for _, layout := range isoDateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return ""
}

func padLeft10(v interface{}) interface{} {
	s := strings.TrimSpace(toText(v))
	if s == "" {
		return ""
	}
	if len(s) >= 10 {
		return s
	}
	return strings.Repeat("0", 10-len(s)) + s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
