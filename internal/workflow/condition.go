package workflow

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Condition decides whether a node may run, is ready or is gone. An error is
// recorded as the node's failure.
type Condition[P client.Object] func(ctx context.Context, primary P) (bool, error)

// celEnv declares a single dynamic variable "self" bound to the primary
// resource rendered as unstructured content.
var celEnv = func() *cel.Env {
	env, err := cel.NewEnv(cel.Variable("self", cel.DynType))
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}()

// CELCondition compiles expr into a Condition evaluated against the primary
// resource, available as "self":
//
//	has(self.spec.exposed) && self.spec.exposed
//
// The expression must produce a boolean.
func CELCondition[P client.Object](expr string) (Condition[P], error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error in %q: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, out)
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error in %q: %w", expr, err)
	}

	return func(ctx context.Context, primary P) (bool, error) {
		self, err := runtime.DefaultUnstructuredConverter.ToUnstructured(primary)
		if err != nil {
			return false, fmt.Errorf("failed to convert primary: %w", err)
		}
		out, _, err := prg.ContextEval(ctx, map[string]any{"self": self})
		if err != nil {
			return false, fmt.Errorf("evaluating %q: %w", expr, err)
		}
		result, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression %q returned %T, expected bool", expr, out.Value())
		}
		return result, nil
	}, nil
}

// MustCELCondition is like CELCondition but panics on an invalid expression.
// It is meant for expressions fixed at compile time.
func MustCELCondition[P client.Object](expr string) Condition[P] {
	c, err := CELCondition[P](expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Not negates c.
func Not[P client.Object](c Condition[P]) Condition[P] {
	return func(ctx context.Context, primary P) (bool, error) {
		met, err := c(ctx, primary)
		return !met && err == nil, err
	}
}
