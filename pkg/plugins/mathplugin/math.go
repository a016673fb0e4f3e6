// Package mathplugin is a small native plugin used in examples and
// tests: arithmetic needs no network and exercises the whole dispatch
// path.
package mathplugin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
)

type binaryArgs struct {
	A float64 `json:"a" jsonschema:"description=First operand"`
	B float64 `json:"b" jsonschema:"description=Second operand"`
}

// New builds the math plugin.
func New() *kernel.NativePlugin {
	p := kernel.NewNativePlugin("math")
	p.AddFunction("add", "Add two numbers", binaryArgs{}, func(ctx context.Context, args map[string]any) (string, error) {
		a, b, err := operands(args)
		if err != nil {
			return "", err
		}
		return format(a + b), nil
	})
	p.AddFunction("multiply", "Multiply two numbers", binaryArgs{}, func(ctx context.Context, args map[string]any) (string, error) {
		a, b, err := operands(args)
		if err != nil {
			return "", err
		}
		return format(a * b), nil
	})
	p.AddFunction("divide", "Divide the first number by the second", binaryArgs{}, func(ctx context.Context, args map[string]any) (string, error) {
		a, b, err := operands(args)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		return format(a / b), nil
	})
	return p
}

func operands(args map[string]any) (float64, float64, error) {
	a, err := number(args, "a")
	if err != nil {
		return 0, 0, err
	}
	b, err := number(args, "b")
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func number(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q is not a number", key)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("argument %q is not a number", key)
	}
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
