package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handler executes one native function with parsed arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// NativePlugin is a map-backed plugin for in-process functions.
type NativePlugin struct {
	name      string
	functions []Function
	handlers  map[string]Handler
}

// NewNativePlugin creates an empty native plugin.
func NewNativePlugin(name string) *NativePlugin {
	return &NativePlugin{
		name:     name,
		handlers: make(map[string]Handler),
	}
}

// AddFunction registers one function. argsType is a struct value whose
// fields (with json tags) define the parameter schema; pass nil for a
// parameterless function.
func (p *NativePlugin) AddFunction(name, description string, argsType any, handler Handler) *NativePlugin {
	p.functions = append(p.functions, Function{
		Name:        name,
		Description: description,
		Parameters:  SchemaFor(argsType),
	})
	p.handlers[name] = handler
	return p
}

func (p *NativePlugin) Name() string          { return p.name }
func (p *NativePlugin) Functions() []Function { return p.functions }

func (p *NativePlugin) Invoke(ctx context.Context, function string, args map[string]any) (string, error) {
	handler, ok := p.handlers[function]
	if !ok {
		return "", fmt.Errorf("plugin %s has no function %q", p.name, function)
	}
	return handler(ctx, args)
}

// SchemaFor reflects a JSON Schema object from a struct value. Nil
// yields an empty object schema.
func SchemaFor(argsType any) map[string]any {
	if argsType == nil {
		return map[string]any{"type": "object"}
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(argsType)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	return m
}

var _ Plugin = (*NativePlugin)(nil)
