// Package conditions evaluates condition-step predicates over an execution's
// accumulated state using expr-lang expressions.
package conditions

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Engine compiles and evaluates boolean expressions. Compiled programs are
// cached per expression; the cache is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*vm.Program)}
}

// EvaluateBool evaluates the expression against env and coerces the result to
// a boolean. Non-boolean results are an error: a condition step must route
// one of exactly two branches.
func (e *Engine) EvaluateBool(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("condition %q evaluation failed: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", expression, out)
	}

	return result, nil
}

// Compile checks an expression without evaluating it, for registration-time
// validation.
func (e *Engine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)

	return err
}

func (e *Engine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("condition %q does not compile: %w", expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}
