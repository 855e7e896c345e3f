package extraction

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// chain runs several analyzers in order.
func chain(fns ...AnalyzeFunc) AnalyzeFunc {
	return func(s *Session, out *Output) {
		for _, fn := range fns {
			fn(s, out)
		}
	}
}

// duplicateNames flags partners whose names differ only by case or surrounding spaces.
func duplicateNames(table, idField, nameField string) AnalyzeFunc {
	return func(s *Session, out *Output) {
		groups := make(map[string][]string)
		for _, row := range out.Rows[table] {
			name := strings.ToLower(strings.TrimSpace(cast.ToString(row[nameField])))
			if name == "" {
				continue
			}
			groups[name] = append(groups[name], cast.ToString(row[idField]))
		}
		dups := 0
		for _, name := range sortedKeys(groups) {
			ids := groups[name]
			if len(ids) < 2 {
				continue
			}
			dups++
			s.FlagForValidation("possible duplicate partners %s share name %q", strings.Join(ids, ", "), name)
		}
		out.Summary["duplicateNameGroups"] = dups
	}
}

// missingValue flags rows that lack field, for example items without a base unit.
func missingValue(table, idField, field, what string) AnalyzeFunc {
	return func(s *Session, out *Output) {
		var missing []string
		for _, row := range out.Rows[table] {
			if strings.TrimSpace(cast.ToString(row[field])) == "" {
				missing = append(missing, cast.ToString(row[idField]))
			}
		}
		out.Summary[what] = len(missing)
		if len(missing) > 0 {
			s.FlagForValidation("%d records in %s have no %s (first: %s)", len(missing), table, field, missing[0])
		}
	}
}

// countBy summarizes the distribution of field in table.
func countBy(table, field, key string) AnalyzeFunc {
	return func(_ *Session, out *Output) {
		counts := make(map[string]int)
		for _, row := range out.Rows[table] {
			counts[cast.ToString(row[field])]++
		}
		out.Summary[key] = counts
	}
}

// customPackages flags LN sessions that live in customer packages: anything outside
// the standard package codes.
func customPackages(table, pkgField, sessionField string, standard ...string) AnalyzeFunc {
	std := make(map[string]struct{}, len(standard))
	for _, p := range standard {
		std[strings.ToLower(p)] = struct{}{}
	}
	return func(s *Session, out *Output) {
		var custom []string
		for _, row := range out.Rows[table] {
			pkg := strings.ToLower(strings.TrimSpace(cast.ToString(row[pkgField])))
			if _, ok := std[pkg]; ok || pkg == "" {
				continue
			}
			custom = append(custom, pkg+":"+cast.ToString(row[sessionField]))
		}
		out.Summary["customSessions"] = len(custom)
		if len(custom) > 0 {
			s.FlagForValidation("%d customized sessions need a target decision", len(custom))
		}
	}
}

// unbalancedPeriods flags fiscal periods whose debits and credits do not net to zero.
func unbalancedPeriods(table string, f periodFields) AnalyzeFunc {
	return func(s *Session, out *Output) {
		nets := make(map[string]float64)
		for _, row := range out.Rows[table] {
			key := fmt.Sprintf("%s/%02d", cast.ToString(row[f.year]), cast.ToInt(row[f.period]))
			amount := cast.ToFloat64(row[f.amount])
			if f.debitCredit != "" && strings.EqualFold(cast.ToString(row[f.debitCredit]), f.creditMarker) {
				amount = -amount
			}
			nets[key] += amount
		}
		var unbalanced []string
		for _, key := range sortedKeys(nets) {
			if math.Abs(nets[key]) > 0.005 {
				unbalanced = append(unbalanced, key)
			}
		}
		out.Summary["periods"] = len(nets)
		out.Summary["unbalancedPeriods"] = unbalanced
		if len(unbalanced) > 0 {
			s.FlagForValidation("%d fiscal periods do not balance: %s", len(unbalanced), strings.Join(unbalanced, ", "))
		}
	}
}

type periodFields struct {
	year, period, amount string
	debitCredit          string
	creditMarker         string
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
