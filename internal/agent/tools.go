package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Handler runs a tool with the raw JSON arguments chosen by the model.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a function the model may call.
type Tool struct {
	ToolDefinition
	Handler Handler
}

// Toolset is the list of tools bound to one conversation.
type Toolset []Tool

// Definitions returns the schemas sent to the model.
func (ts Toolset) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, t.ToolDefinition)
	}
	return defs
}

// Find returns the tool called name.
func (ts Toolset) Find(name string) (Tool, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Run executes one call. Failures are reported in the returned text so the model can recover.
func (ts Toolset) Run(ctx context.Context, call ToolCall) string {
	tool, ok := ts.Find(call.Name)
	if !ok {
		return fmt.Sprintf("Error executing tool %s: unknown tool", call.Name)
	}

	result, err := tool.Handler(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}
	return result
}

// Scope is the family and user a conversation acts for.
type Scope struct {
	FamilyID string
	UserID   string
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// schema builds a JSON schema object from property definitions.
func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(kind, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}

// CalculatorTool performs basic arithmetic.
func CalculatorTool() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "calculator",
			Description: "Performs basic arithmetic operations (add, subtract, multiply, divide)",
			Parameters: schema(map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"enum":        []string{"add", "subtract", "multiply", "divide"},
					"description": "The arithmetic operation to perform",
				},
				"a": prop("number", "The first number"),
				"b": prop("number", "The second number"),
			}, "operation", "a", "b"),
		},
		Handler: func(_ context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Operation string  `json:"operation"`
				A         float64 `json:"a"`
				B         float64 `json:"b"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			result, err := calculate(args.Operation, args.A, args.B)
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(result, 'f', -1, 64), nil
		},
	}
}

func calculate(operation string, a, b float64) (float64, error) {
	switch operation {
	case "add":
		return a + b, nil
	case "subtract":
		return a - b, nil
	case "multiply":
		return a * b, nil
	case "divide":
		if b == 0 {
			return 0, errors.New("Division by zero is not allowed")
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("Unknown operation: %s", operation)
	}
}
