package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConverters(t *testing.T) {
	tests := []struct {
		converter string
		input     interface{}
		want      interface{}
	}{
		{ConvertToUpperCase, "  usd ", "USD"},
		{ConvertToUpperCase, nil, ""},
		{ConvertTrim, "\tBolt  ", "Bolt"},
		{ConvertTrim, 42, "42"},
		{ConvertToDecimal, "12,500.50", 12500.50},
		{ConvertToDecimal, "125.00-", -125.0},
		{ConvertToDecimal, "abc", 0.0},
		{ConvertToDecimal, 7, 7.0},
		{ConvertToInteger, "2024", int64(2024)},
		{ConvertToInteger, "12.9", int64(12)},
		{ConvertToInteger, "n/a", int64(0)},
		{ConvertToInteger, 3.7, int64(3)},
		{ConvertToDate, "20240115", "2024-01-15"},
		{ConvertToDate, "2024-01-15T10:00:00Z", "2024-01-15"},
		{ConvertToDate, "00000000", ""},
		{ConvertToDate, "garbage", ""},
		{ConvertPadLeft10, "500100", "0000500100"},
		{ConvertPadLeft10, 42, "0000000042"},
		{ConvertPadLeft10, "12345678901", "12345678901"},
	}

	for _, tt := range tests {
		conv, ok := LookupConverter(tt.converter)
		assert.True(t, ok)
		assert.Equal(t, tt.want, conv(tt.input), "%s(%v)", tt.converter, tt.input)
	}

	_, ok := LookupConverter("toRoman")
	assert.False(t, ok)
	assert.Len(t, ConverterNames(), 6)
}
