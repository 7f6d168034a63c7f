package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/genai"
)

// calcEnv is the shared CEL environment for the calculator tool.
// Compiled programs are sandboxed: no I/O, no side effects, bounded
// evaluation. Built once at registration.
var calcEnv = mustCalcEnv()

func calculatorTool() *Tool {
	return &Tool{
		Name:        "calculate_math",
		Description: "Calculate mathematical expressions and equations",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"expression": {
					Type:        genai.TypeString,
					Description: "Mathematical expression to calculate (e.g., '2 + 2', 'sqrt(16.0)', 'sin(pi / 2.0)')",
				},
			},
			Required: []string{"expression"},
		},
		Handler: handleCalculate,
	}
}

func handleCalculate(ctx context.Context, args map[string]any) (map[string]any, error) {
	expression, _ := args["expression"].(string)

	ast, iss := calcEnv.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, iss.Err())
	}

	prg, err := calcEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	out, _, err := prg.Eval(map[string]any{
		"pi": math.Pi,
		"e":  math.E,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}

	value := out.Value()
	return map[string]any{
		"expression": expression,
		"result":     value,
		"type":       fmt.Sprintf("%T", value),
	}, nil
}

func mustCalcEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("pi", cel.DoubleType),
		cel.Variable("e", cel.DoubleType),
		unaryMathFunc("sqrt", math.Sqrt),
		unaryMathFunc("sin", math.Sin),
		unaryMathFunc("cos", math.Cos),
		unaryMathFunc("tan", math.Tan),
		unaryMathFunc("log", math.Log),
		unaryMathFunc("exp", math.Exp),
		unaryMathFunc("abs", math.Abs),
		binaryMathFunc("pow", math.Pow),
		binaryMathFunc("min", math.Min),
		binaryMathFunc("max", math.Max),
	)
	if err != nil {
		panic(fmt.Sprintf("tools: build calculator environment: %v", err))
	}
	return env
}

// unaryMathFunc registers fn under name, accepting int or double.
func unaryMathFunc(name string, fn func(float64) float64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn", []*cel.Type{cel.DynType}, cel.DoubleType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				x, err := toFloat(arg)
				if err != nil {
					return types.NewErr("%s: %v", name, err)
				}
				return types.Double(fn(x))
			}),
		),
	)
}

func binaryMathFunc(name string, fn func(float64, float64) float64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				x, err := toFloat(lhs)
				if err != nil {
					return types.NewErr("%s: %v", name, err)
				}
				y, err := toFloat(rhs)
				if err != nil {
					return types.NewErr("%s: %v", name, err)
				}
				return types.Double(fn(x, y))
			}),
		),
	)
}

func toFloat(v ref.Val) (float64, error) {
	switch x := v.Value().(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", x)
	}
}
