package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func init() {
	node.Register(&calculatorPlugin{})
}

// mathEnv 计算器可用的常量
var mathEnv = map[string]any{"pi": math.Pi, "e": math.E}

// mathOptions 计算器可用的函数
var mathOptions = []expr.Option{
	expr.Env(mathEnv),
	unary("sqrt", math.Sqrt),
	unary("cbrt", math.Cbrt),
	unary("log", math.Log),
	unary("log10", math.Log10),
	unary("log2", math.Log2),
	unary("exp", math.Exp),
	unary("sin", math.Sin),
	unary("cos", math.Cos),
	unary("tan", math.Tan),
	unary("asin", math.Asin),
	unary("acos", math.Acos),
	unary("atan", math.Atan),
	expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow expects 2 arguments")
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	}),
}

func unary(name string, fn func(float64) float64) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument", name)
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	})
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// Evaluate 计算数学表达式
func Evaluate(expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "", fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(expression, mathOptions...)
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, mathEnv)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}
	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return "", fmt.Errorf("result is not a finite number")
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expression did not produce a number")
	}
}

type calculator struct{}

func (calculator) Name() string { return "calculator" }
func (calculator) Description() string {
	return "Useful for getting the result of a math expression. The input to this tool should be a valid mathematical expression that could be executed by a simple calculator."
}
func (calculator) Schema() map[string]any { return nil }

func (calculator) Call(_ context.Context, input string) (string, error) {
	return Evaluate(input)
}

type calculatorPlugin struct{}

func (p *calculatorPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "calculator",
		Label:       "Calculator",
		Version:     1,
		Type:        "Calculator",
		Icon:        "calculator.svg",
		Category:    string(types.CategoryTools),
		Description: "Perform calculations on response",
		BaseClasses: append([]string{"Calculator"}, toolClasses...),
	}
}

func (p *calculatorPlugin) Init(context.Context, *node.NodeData, *node.InitOptions) (any, error) {
	return calculator{}, nil
}
