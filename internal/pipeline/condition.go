// Package pipeline connects fired triggers to queued action invocations
// and consumes the queue into plug-in executions.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEvaluator compiles and caches mapping conditions. Conditions
// are CEL expressions over the fire context; the empty condition always
// passes.
type conditionEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("triggerDefinitionId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cel env: %w", err)
	}
	return &conditionEvaluator{env: env, programs: map[string]cel.Program{}}, nil
}

func (e *conditionEvaluator) program(condition string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[condition]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("pipeline: compile condition %q: %w", condition, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("pipeline: program condition %q: %w", condition, err)
	}
	e.programs[condition] = prg
	return prg, nil
}

// Evaluate reports whether the mapping should fire. A condition that
// fails to compile or does not yield a bool evaluates to false.
func (e *conditionEvaluator) Evaluate(condition, triggerDefinitionID string, fireContext map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}
	prg, err := e.program(condition)
	if err != nil {
		return false, err
	}
	if fireContext == nil {
		fireContext = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"context":             fireContext,
		"triggerDefinitionId": triggerDefinitionID,
	})
	if err != nil {
		return false, fmt.Errorf("pipeline: eval condition %q: %w", condition, err)
	}
	pass, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("pipeline: condition %q is not boolean", condition)
	}
	return pass, nil
}
