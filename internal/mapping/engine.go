package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"erpmigrate/pkg/cel"
	"erpmigrate/pkg/errors"
)

// TransformFunc is a pure per-value transformation.
type TransformFunc func(v interface{}) interface{}

// Rule maps one source field (or a default) onto one target field. At most one of
// ValueMap, Convert, Expression or Transform is set.
type Rule struct {
	Source      string                 `yaml:"source,omitempty" json:"source,omitempty"`
	Target      string                 `yaml:"target" json:"target"`
	ValueMap    map[string]interface{} `yaml:"valueMap,omitempty" json:"valueMap,omitempty"`
	Convert     string                 `yaml:"convert,omitempty" json:"convert,omitempty"`
	Expression  string                 `yaml:"transform,omitempty" json:"transform,omitempty"`
	Default     interface{}            `yaml:"default,omitempty" json:"default,omitempty"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`

	Transform TransformFunc `yaml:"-" json:"-"`
}

func (r Rule) hasSource() bool {
	return r.Source != ""
}

func (r Rule) mechanisms() []string {
	var m []string
	if r.ValueMap != nil {
		m = append(m, "valueMap")
	}
	if r.Convert != "" {
		m = append(m, "convert")
	}
	if r.Expression != "" {
		m = append(m, "transform")
	}
	if r.Transform != nil {
		m = append(m, "transform func")
	}
	return m
}

type compiledRule struct {
	Rule
	converter Converter
}

// Engine applies a validated rule list to records.
type Engine struct {
	rules   []compiledRule
	targets []string
	eval    *cel.Evaluator
}

type Option func(*Engine)

// WithEvaluator shares a CEL evaluator (and its program cache) across engines.
func WithEvaluator(eval *cel.Evaluator) Option {
	return func(e *Engine) {
		e.eval = eval
	}
}

func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}

	if e.eval == nil && needsEvaluator(rules) {
		eval, err := cel.NewEvaluator()
		if err != nil {
			return nil, errors.ErrRuleValidation.New("failed to initialise expression evaluator").WithCause(err)
		}
		e.eval = eval
	}

	if err := Validate(rules, e.eval); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.Convert != "" {
			cr.converter, _ = LookupConverter(r.Convert)
		}
		e.rules = append(e.rules, cr)
		if !seen[r.Target] {
			seen[r.Target] = true
			e.targets = append(e.targets, r.Target)
		}
	}
	return e, nil
}

func needsEvaluator(rules []Rule) bool {
	for _, r := range rules {
		if r.Expression != "" {
			return true
		}
	}
	return false
}

// Validate checks that every rule has a target, uses at most one mechanism, names a known
// converter, and that each target has at most one sourced rule plus one default-only fallback.
func Validate(rules []Rule, eval *cel.Evaluator) error {
	var problems []string
	sourced := make(map[string]int)
	unsourced := make(map[string]int)

	for i, r := range rules {
		label := fmt.Sprintf("rule[%d]", i)
		if strings.TrimSpace(r.Target) == "" {
			problems = append(problems, label+": target is required")
			continue
		}
		label = fmt.Sprintf("rule[%d] (%s)", i, r.Target)

		if m := r.mechanisms(); len(m) > 1 {
			problems = append(problems, fmt.Sprintf("%s: only one of valueMap/convert/transform allowed, got %s", label, strings.Join(m, ", ")))
		}
		if r.Convert != "" {
			if _, ok := LookupConverter(r.Convert); !ok {
				problems = append(problems, fmt.Sprintf("%s: unknown converter %q", label, r.Convert))
			}
		}
		if r.Expression != "" {
			if eval == nil {
				problems = append(problems, label+": transform expression requires an evaluator")
			} else if err := eval.ValidateExpression(r.Expression); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			}
		}

		if r.hasSource() {
			sourced[r.Target]++
		} else {
			unsourced[r.Target]++
		}
	}

	for target, n := range sourced {
		if n > 1 {
			problems = append(problems, fmt.Sprintf("target %q is mapped by %d sourced rules", target, n))
		}
	}
	for target, n := range unsourced {
		if n > 1 {
			problems = append(problems, fmt.Sprintf("target %q has %d default-only rules", target, n))
		}
	}

	if len(problems) > 0 {
		return errors.ErrRuleValidation.New("invalid rule set").
			WithDetail("problems", problems)
	}
	return nil
}

// Targets lists output keys in rule order.
func (e *Engine) Targets() []string {
	out := make([]string, len(e.targets))
	copy(out, e.targets)
	return out
}

func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// ApplyRecord maps input onto a new record containing every target key. A rule that
// produces nothing never clears a value set by an earlier rule, and a default-only rule
// only fills a target that is still empty.
func (e *Engine) ApplyRecord(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(e.targets))

	for _, r := range e.rules {
		var v interface{}
		present := false
		if r.hasSource() {
			v, present = input[r.Source]
		}

		var result interface{}
		switch {
		case r.ValueMap != nil:
			mapped, ok := r.ValueMap[lookupKey(v)]
			if ok && present {
				result = mapped
			} else {
				result = r.Default
			}

		case r.converter != nil:
			result = r.converter(v)
			if isEmpty(result) && r.Default != nil {
				result = r.Default
			}

		case r.Expression != "":
			res, err := e.eval.EvaluateTransform(ctx, r.Expression, v, input)
			if err != nil {
				return nil, errors.ErrTransform.Newf("transform for %s failed", r.Target).
					WithCause(err).
					WithDetail("target", r.Target).
					WithDetail("source", r.Source).
					WithDetail("expression", r.Expression)
			}
			result = res

		case r.Transform != nil:
			res, err := safeTransform(r.Transform, v)
			if err != nil {
				return nil, errors.ErrTransform.Newf("transform for %s failed", r.Target).
					WithCause(err).
					WithDetail("target", r.Target).
					WithDetail("source", r.Source)
			}
			result = res

		default:
			if present && !isEmpty(v) {
				result = v
			} else if r.Default != nil {
				result = r.Default
			} else {
				result = v
			}
		}

		existing, assigned := out[r.Target]
		switch {
		case !assigned:
			out[r.Target] = result
		case !r.hasSource() && !isEmpty(existing):
		case isEmpty(result) && !isEmpty(existing):
		case result == nil:
		default:
			out[r.Target] = result
		}
	}

	return out, nil
}

// RecordError pairs a failed input index with its error.
type RecordError struct {
	Index int
	Err   error
}

// ApplyAll maps every record; records that fail are reported and omitted.
func (e *Engine) ApplyAll(ctx context.Context, records []map[string]interface{}) ([]map[string]interface{}, []RecordError) {
	out := make([]map[string]interface{}, 0, len(records))
	var failures []RecordError
	for i, rec := range records {
		mapped, err := e.ApplyRecord(ctx, rec)
		if err != nil {
			failures = append(failures, RecordError{Index: i, Err: err})
			continue
		}
		out = append(out, mapped)
	}
	return out, failures
}

func safeTransform(fn TransformFunc, v interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn(v), nil
}

func lookupKey(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
