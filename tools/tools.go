// Package tools exposes the coordination tool surface consumed by the
// controlling agent's reasoning loop. Every tool declares a JSON-schema
// parameter block and returns a structured success or error payload; a
// tool never propagates an error to the caller.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Tool is the interface for coordination tools.
type Tool interface {
	Name() string
	Description() string
	InputType() map[string]interface{}
	Run(ctx context.Context, inputJSON string) (string, error)
}

// All returns the full coordination tool set bound to one orchestrator.
func All(orch Coordinator, logger *slog.Logger) []Tool {
	return []Tool{
		NewDelegateTool(orch, logger),
		NewBatchDelegateTool(orch, logger),
		NewWorkerStatusTool(orch, logger),
		NewGatherResultsTool(orch, logger),
		NewShareContextTool(orch, logger),
		NewBroadcastTool(orch, logger),
	}
}

// successResult renders a success payload. Marshal failures degrade to
// an error payload rather than surfacing.
func successResult(fields map[string]interface{}) (string, error) {
	payload := map[string]interface{}{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return string(data), nil
}

// errorResult renders an error payload with a nil error, keeping the
// never-raise contract.
func errorResult(message string) (string, error) {
	data, err := json.Marshal(map[string]interface{}{
		"success": false,
		"error":   message,
	})
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, message), nil
	}
	return string(data), nil
}

func parseInput(inputJSON string) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(inputJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	return raw, nil
}

func getString(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func getNumber(raw map[string]interface{}, key string) float64 {
	if v, ok := raw[key].(float64); ok {
		return v
	}
	return 0
}

func getStringSlice(raw map[string]interface{}, key string) []string {
	items, ok := raw[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getStringMap(raw map[string]interface{}, key string) map[string]string {
	items, ok := raw[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(items))
	for k, v := range items {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
