package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/t77yq/alert-engine/internal/model"
)

// CustomFunc is a named evaluator a custom condition can refer to
type CustomFunc func(ctx context.Context, value any, evalCtx *Context) (bool, error)

// CustomRegistry resolves custom conditions. A condition either names a
// function registered at startup or carries an expression in the expr
// grammar, which only sees the variables built by exprEnv.
type CustomRegistry struct {
	mu       sync.RWMutex
	funcs    map[string]CustomFunc
	programs sync.Map // expression -> *vm.Program
}

// NewCustomRegistry creates a registry with the builtin evaluators
func NewCustomRegistry() *CustomRegistry {
	r := &CustomRegistry{funcs: make(map[string]CustomFunc)}
	r.funcs["non_empty"] = func(_ context.Context, value any, _ *Context) (bool, error) {
		switch v := value.(type) {
		case string:
			return v != "", nil
		case []any:
			return len(v) > 0, nil
		case map[string]any:
			return len(v) > 0, nil
		}
		return !isNull(value), nil
	}
	r.funcs["non_zero"] = func(_ context.Context, value any, _ *Context) (bool, error) {
		f, err := ToFloat64(value)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
	return r
}

// Register adds a named evaluator
func (r *CustomRegistry) Register(name string, fn CustomFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("custom evaluator %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Has reports whether name is registered
func (r *CustomRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Check verifies a custom condition can be evaluated: its evaluator is
// registered or its expression compiles.
func (r *CustomRegistry) Check(cond *model.Condition) error {
	if cond.Evaluator != "" {
		if !r.Has(cond.Evaluator) {
			return fmt.Errorf("%w: %s", ErrUnknownEvaluator, cond.Evaluator)
		}
		return nil
	}
	_, err := r.program(cond.Expression)
	return err
}

// Evaluate runs a custom condition against value
func (r *CustomRegistry) Evaluate(ctx context.Context, cond *model.Condition, value any, evalCtx *Context) (bool, error) {
	if cond.Evaluator != "" {
		r.mu.RLock()
		fn, ok := r.funcs[cond.Evaluator]
		r.mu.RUnlock()
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownEvaluator, cond.Evaluator)
		}
		return fn(ctx, value, evalCtx)
	}

	program, err := r.program(cond.Expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, exprEnv(cond, value, evalCtx))
	if err != nil {
		return false, fmt.Errorf("expression failed: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return matched, nil
}

func (r *CustomRegistry) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	if p, ok := r.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(expression,
		expr.Env(exprEnv(&model.Condition{}, nil, &Context{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	r.programs.Store(expression, p)
	return p, nil
}

func exprEnv(cond *model.Condition, value any, evalCtx *Context) map[string]any {
	vars := evalCtx.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	now := evalCtx.Now
	if now.IsZero() {
		now = time.Now()
	}
	return map[string]any{
		"value":        value,
		"threshold":    cond.Value,
		"tenant_id":    evalCtx.TenantID,
		"rule_id":      evalCtx.RuleID,
		"condition_id": cond.ID,
		"now":          now,
		"vars":         vars,
	}
}
