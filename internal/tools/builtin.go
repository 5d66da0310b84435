package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTime returns a tool reporting the current UTC time.
func CurrentTime() Definition {
	return Definition{
		Name:        "current_time",
		Description: "Get the current date and time in UTC.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			now := time.Now().UTC()
			return map[string]any{
				"iso":  now.Format(time.RFC3339),
				"unix": now.Unix(),
			}, nil
		},
	}
}

// Calculator returns a tool performing basic arithmetic on two operands.
func Calculator() Definition {
	return Definition{
		Name:        "calculator",
		Description: "Perform basic arithmetic. Supported operations: add, subtract, multiply, divide.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"description": "One of add, subtract, multiply, divide.",
				},
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"operation", "a", "b"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			op, _ := args["operation"].(string)
			a, aok := toFloat(args["a"])
			b, bok := toFloat(args["b"])
			if !aok || !bok {
				return nil, fmt.Errorf("operands a and b must be numbers")
			}

			var result float64
			switch op {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				result = a / b
			default:
				return nil, fmt.Errorf("unsupported operation %q", op)
			}
			return map[string]any{"result": result}, nil
		},
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
