package cel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/spf13/cast"
)

// Evaluator compiles and runs data-only transform expressions. Expressions see the
// source field as `value` and the whole input record as `record`.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
		cel.Function("lpad",
			cel.Overload("lpad_dyn_int_string",
				[]*cel.Type{cel.DynType, cel.IntType, cel.StringType},
				cel.StringType,
				cel.FunctionBinding(lpad),
			),
		),
		cel.Function("str",
			cel.Overload("str_dyn",
				[]*cel.Type{cel.DynType},
				cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(toString(v))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// CompileExpression returns a cached program for expression.
func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Evaluator) EvaluateTransform(ctx context.Context, expression string, value interface{}, record map[string]interface{}) (interface{}, error) {
	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}

	if record == nil {
		record = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"value":  value,
		"record": record,
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	if result == types.NullValue {
		return nil, nil
	}
	return result.Value(), nil
}

func lpad(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("lpad: expected 3 arguments, got %d", len(args))
	}
	width, ok := args[1].Value().(int64)
	if !ok {
		return types.NewErr("lpad: width must be int")
	}
	pad, ok := args[2].Value().(string)
	if !ok || pad == "" {
		return types.NewErr("lpad: pad must be a non-empty string")
	}

	s := toString(args[0])
	for int64(len(s)) < width {
		s = pad + s
	}
	return types.String(s)
}

func toString(v ref.Val) string {
	if v == nil || v == types.NullValue {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v.Value()))
}
