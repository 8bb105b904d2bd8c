package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/conductor/orchestrator"
)

// Coordinator is the narrow orchestrator surface the tools depend on.
// *orchestrator.Orchestrator satisfies it.
type Coordinator interface {
	DelegateTask(ctx context.Context, task *orchestrator.Task) *orchestrator.TaskOutcome
	ExecuteParallelTasks(ctx context.Context, tasks []*orchestrator.Task, mode orchestrator.ExecutionMode) (*orchestrator.AggregatedResult, error)
	GetWorkerStatus(name string) (*orchestrator.WorkerStatus, error)
	GetStatus() *orchestrator.Status
	GatherResults(workerNames []string) map[string][]orchestrator.HistoryEntry
	ShareContext(key, value, sharedBy string, targetWorkers []string, ttl time.Duration)
	Broadcast(message string, targetWorkers []string) int
}

// DelegateTool hands one task to a specific worker.
type DelegateTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewDelegateTool creates the delegate_to_worker tool.
func NewDelegateTool(orch Coordinator, logger *slog.Logger) *DelegateTool {
	return &DelegateTool{orch: orch, logger: logger}
}

func (t *DelegateTool) Name() string { return "delegate_to_worker" }

func (t *DelegateTool) Description() string {
	return `Delegate a task to a specific worker agent and wait for its result.

Input: {"worker_name": "...", "task": "...", "context": {"key": "value"}, "timeout": 120}
timeout is in seconds and optional. Omit worker_name to let the router pick one.`
}

func (t *DelegateTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_name": map[string]interface{}{"type": "string", "description": "Target worker, optional"},
			"task":        map[string]interface{}{"type": "string", "description": "Task description"},
			"context":     map[string]interface{}{"type": "object", "description": "Extra key-value context, optional"},
			"timeout":     map[string]interface{}{"type": "number", "description": "Timeout in seconds, optional"},
		},
		"required": []string{"task"},
	}
}

func (t *DelegateTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	description := getString(raw, "task")
	if description == "" {
		return errorResult("task is required")
	}

	task := &orchestrator.Task{
		Worker:      getString(raw, "worker_name"),
		Description: description,
		Context:     getStringMap(raw, "context"),
	}
	if seconds := getNumber(raw, "timeout"); seconds > 0 {
		task.Timeout = time.Duration(seconds * float64(time.Second))
	}

	outcome := t.orch.DelegateTask(ctx, task)
	if !outcome.Success {
		t.logger.Warn("tools: delegation failed",
			"worker", outcome.Worker,
			"error", outcome.Err)
		return errorResult(fmt.Sprintf("worker %s failed: %s", outcome.Worker, outcome.Err))
	}
	return successResult(map[string]interface{}{
		"worker":     outcome.Worker,
		"result":     outcome.Result,
		"elapsed_ms": outcome.Elapsed.Milliseconds(),
	})
}

// BatchDelegateTool runs several tasks as one batch.
type BatchDelegateTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewBatchDelegateTool creates the batch_delegate tool.
func NewBatchDelegateTool(orch Coordinator, logger *slog.Logger) *BatchDelegateTool {
	return &BatchDelegateTool{orch: orch, logger: logger}
}

func (t *BatchDelegateTool) Name() string { return "batch_delegate" }

func (t *BatchDelegateTool) Description() string {
	return `Delegate multiple tasks at once and collect the aggregated result.

Input: {"tasks": [{"worker_name": "...", "task": "...", "priority": 1}], "parallel": true}
parallel defaults to true; set false to force one-at-a-time execution.`
}

func (t *BatchDelegateTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tasks": map[string]interface{}{
				"type":        "array",
				"description": "Tasks to run",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"worker_name": map[string]interface{}{"type": "string", "description": "Target worker, optional"},
						"task":        map[string]interface{}{"type": "string", "description": "Task description"},
						"priority":    map[string]interface{}{"type": "number", "description": "Higher runs first, optional"},
					},
					"required": []string{"task"},
				},
			},
			"parallel": map[string]interface{}{"type": "boolean", "description": "Run concurrently, default true"},
		},
		"required": []string{"tasks"},
	}
}

func (t *BatchDelegateTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	items, ok := raw["tasks"].([]interface{})
	if !ok || len(items) == 0 {
		return errorResult("tasks must be a non-empty array")
	}

	tasks := make([]*orchestrator.Task, 0, len(items))
	for i, item := range items {
		spec, ok := item.(map[string]interface{})
		if !ok {
			return errorResult(fmt.Sprintf("task %d must be an object", i))
		}
		description := getString(spec, "task")
		if description == "" {
			return errorResult(fmt.Sprintf("task %d: task text is required", i))
		}
		tasks = append(tasks, &orchestrator.Task{
			Worker:      getString(spec, "worker_name"),
			Description: description,
			Priority:    int(getNumber(spec, "priority")),
		})
	}

	mode := orchestrator.ModeParallel
	if v, present := raw["parallel"]; present {
		if parallel, _ := v.(bool); !parallel {
			mode = orchestrator.ModeSequential
		}
	}

	result, err := t.orch.ExecuteParallelTasks(ctx, tasks, mode)
	if err != nil {
		t.logger.Warn("tools: batch delegation rejected", "error", err)
		return errorResult(err.Error())
	}

	outcomes := make([]map[string]interface{}, len(result.Outcomes))
	for i, outcome := range result.Outcomes {
		entry := map[string]interface{}{
			"worker":  outcome.Worker,
			"success": outcome.Success,
		}
		if outcome.Success {
			entry["result"] = outcome.Result
		} else {
			entry["error"] = outcome.Err
		}
		outcomes[i] = entry
	}
	return successResult(map[string]interface{}{
		"status":        string(result.Status),
		"total_count":   result.TotalCount,
		"success_count": result.SuccessCount,
		"failed_count":  result.FailedCount,
		"outcomes":      outcomes,
		"summary":       result.Summary,
	})
}

// WorkerStatusTool reports a worker's profile and load.
type WorkerStatusTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewWorkerStatusTool creates the request_worker_status tool.
func NewWorkerStatusTool(orch Coordinator, logger *slog.Logger) *WorkerStatusTool {
	return &WorkerStatusTool{orch: orch, logger: logger}
}

func (t *WorkerStatusTool) Name() string { return "request_worker_status" }

func (t *WorkerStatusTool) Description() string {
	return `Get the capability profile and current load of one worker.

Input: {"worker_name": "..."}
Omit worker_name for a summary of all workers.`
}

func (t *WorkerStatusTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_name": map[string]interface{}{"type": "string", "description": "Worker to inspect, optional"},
		},
	}
}

func (t *WorkerStatusTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	name := getString(raw, "worker_name")
	if name == "" {
		status := t.orch.GetStatus()
		return successResult(map[string]interface{}{
			"worker_count": status.WorkerCount,
			"workers":      status.Workers,
			"worker_loads": status.WorkerLoads,
		})
	}

	status, err := t.orch.GetWorkerStatus(name)
	if err != nil {
		return errorResult(err.Error())
	}
	return successResult(map[string]interface{}{
		"worker":      status.Name,
		"tags":        status.Tags,
		"description": status.Description,
		"load":        status.Load,
	})
}

// GatherResultsTool collects past results per worker from the history.
type GatherResultsTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewGatherResultsTool creates the gather_results tool.
func NewGatherResultsTool(orch Coordinator, logger *slog.Logger) *GatherResultsTool {
	return &GatherResultsTool{orch: orch, logger: logger}
}

func (t *GatherResultsTool) Name() string { return "gather_results" }

func (t *GatherResultsTool) Description() string {
	return `Collect recorded task results for the named workers.

Input: {"worker_names": ["coder", "tester"]}
Omit worker_names to gather from all workers.`
}

func (t *GatherResultsTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"worker_names": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Workers to gather from, optional",
			},
		},
	}
}

func (t *GatherResultsTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	gathered := t.orch.GatherResults(getStringSlice(raw, "worker_names"))
	results := make(map[string]interface{}, len(gathered))
	for worker, entries := range gathered {
		items := make([]map[string]interface{}, len(entries))
		for i, entry := range entries {
			items[i] = map[string]interface{}{
				"task":   entry.Description,
				"status": entry.Status,
				"detail": entry.Detail,
			}
		}
		results[worker] = items
	}
	return successResult(map[string]interface{}{
		"worker_count": len(gathered),
		"results":      results,
	})
}

// ShareContextTool publishes a value to the shared context.
type ShareContextTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewShareContextTool creates the share_context tool.
func NewShareContextTool(orch Coordinator, logger *slog.Logger) *ShareContextTool {
	return &ShareContextTool{orch: orch, logger: logger}
}

func (t *ShareContextTool) Name() string { return "share_context" }

func (t *ShareContextTool) Description() string {
	return `Share a key-value pair with other workers through the shared context.

Input: {"key": "...", "value": "...", "target_workers": ["coder"], "ttl": 600}
target_workers limits visibility (default: all); ttl is in seconds (default: no expiry).`
}

func (t *ShareContextTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key":   map[string]interface{}{"type": "string", "description": "Context key"},
			"value": map[string]interface{}{"type": "string", "description": "Context value"},
			"target_workers": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Visibility list, optional",
			},
			"ttl": map[string]interface{}{"type": "number", "description": "Expiry in seconds, optional"},
		},
		"required": []string{"key", "value"},
	}
}

func (t *ShareContextTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	key := getString(raw, "key")
	if key == "" {
		return errorResult("key is required")
	}
	value := getString(raw, "value")
	if value == "" {
		return errorResult("value is required")
	}

	targets := getStringSlice(raw, "target_workers")
	var ttl time.Duration
	if seconds := getNumber(raw, "ttl"); seconds > 0 {
		ttl = time.Duration(seconds * float64(time.Second))
	}

	t.orch.ShareContext(key, value, "controller", targets, ttl)
	return successResult(map[string]interface{}{
		"key":     key,
		"targets": len(targets),
	})
}

// BroadcastTool sends a message to workers that accept them.
type BroadcastTool struct {
	orch   Coordinator
	logger *slog.Logger
}

// NewBroadcastTool creates the broadcast_message tool.
func NewBroadcastTool(orch Coordinator, logger *slog.Logger) *BroadcastTool {
	return &BroadcastTool{orch: orch, logger: logger}
}

func (t *BroadcastTool) Name() string { return "broadcast_message" }

func (t *BroadcastTool) Description() string {
	return `Broadcast a message to worker agents.

Input: {"message": "...", "target_workers": ["coder"], "priority": "high"}
target_workers defaults to all workers; priority is normal, high, or urgent.`
}

func (t *BroadcastTool) InputType() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string", "description": "Message text"},
			"target_workers": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Recipients, optional",
			},
			"priority": map[string]interface{}{"type": "string", "description": "normal, high, or urgent"},
		},
		"required": []string{"message"},
	}
}

func (t *BroadcastTool) Run(ctx context.Context, inputJSON string) (string, error) {
	raw, err := parseInput(inputJSON)
	if err != nil {
		return errorResult(err.Error())
	}

	message := getString(raw, "message")
	if message == "" {
		return errorResult("message is required")
	}
	if priority := getString(raw, "priority"); priority != "" && priority != "normal" {
		message = fmt.Sprintf("[%s] %s", priority, message)
	}

	delivered := t.orch.Broadcast(message, getStringSlice(raw, "target_workers"))
	return successResult(map[string]interface{}{
		"delivered": delivered,
	})
}
