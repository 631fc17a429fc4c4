package coretools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harun/agentflow/pkg/toolexecutor"
)

var calculatorOperators = []interface{}{
	"add", "subtract", "multiply", "divide", "power", "sqrt", "sin", "cos", "tan", "log", "log10",
}

// CalculatorTool evaluates one arithmetic or trigonometric operation.
func CalculatorTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "calculator",
		Description: "Perform mathematical calculations with two parameters and an operator (add, subtract, multiply, divide, power, sqrt, sin, cos, tan, log, log10)",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "param1", Type: "number", Description: "First number/parameter for the calculation", Required: true},
			{Name: "param2", Type: "number", Description: "Second number/parameter (optional for single-param operations like sqrt, sin, cos)"},
			{Name: "operator", Type: "string", Description: "Mathematical operator", Required: true, Enum: calculatorOperators},
		},
		Capability: toolexecutor.CapabilityFunc(calculate),
	}
}

func calculate(_ context.Context, args map[string]interface{}) (toolexecutor.ToolOutcome, error) {
	a, ok := number(args["param1"])
	if !ok {
		return toolexecutor.Failure("param1 must be a number"), nil
	}
	b, hasB := number(args["param2"])
	op, _ := args["operator"].(string)
	op = strings.ToLower(op)

	binary := func(symbol string, f func(x, y float64) float64) (float64, string, error) {
		if !hasB {
			return 0, "", fmt.Errorf("%s requires two parameters", op)
		}
		return f(a, b), fmt.Sprintf("%s %s %s", formatNumber(a), symbol, formatNumber(b)), nil
	}

	var (
		result    float64
		operation string
		err       error
	)
	switch op {
	case "add":
		result, operation, err = binary("+", func(x, y float64) float64 { return x + y })
	case "subtract":
		result, operation, err = binary("-", func(x, y float64) float64 { return x - y })
	case "multiply":
		result, operation, err = binary("×", func(x, y float64) float64 { return x * y })
	case "divide":
		if hasB && b == 0 {
			return toolexecutor.Failure("Division by zero"), nil
		}
		result, operation, err = binary("÷", func(x, y float64) float64 { return x / y })
	case "power":
		result, operation, err = binary("^", math.Pow)
	case "sqrt":
		if a < 0 {
			return toolexecutor.Failure("Square root requires a non-negative number"), nil
		}
		result, operation = math.Sqrt(a), fmt.Sprintf("√%s", formatNumber(a))
	case "sin":
		result, operation = math.Sin(a), fmt.Sprintf("sin(%s)", formatNumber(a))
	case "cos":
		result, operation = math.Cos(a), fmt.Sprintf("cos(%s)", formatNumber(a))
	case "tan":
		result, operation = math.Tan(a), fmt.Sprintf("tan(%s)", formatNumber(a))
	case "log":
		if a <= 0 {
			return toolexecutor.Failure("Logarithm requires positive number"), nil
		}
		result, operation = math.Log(a), fmt.Sprintf("ln(%s)", formatNumber(a))
	case "log10":
		if a <= 0 {
			return toolexecutor.Failure("Logarithm requires positive number"), nil
		}
		result, operation = math.Log10(a), fmt.Sprintf("log10(%s)", formatNumber(a))
	default:
		return toolexecutor.Failure("Unknown operator: %s", op), nil
	}
	if err != nil {
		return toolexecutor.Failure("%s", err.Error()), nil
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return toolexecutor.Failure("Result too large to compute"), nil
	}

	return toolexecutor.Success(map[string]interface{}{
		"result":           result,
		"operation":        operation,
		"formatted_result": formatNumber(result),
	}), nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// formatNumber prints integral values without a fraction and rounds the rest to 10 places.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
