package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// TaskKind classifies a task by the resource it is expected to saturate.
type TaskKind string

const (
	// TaskKindIOBound marks tasks that mostly wait on their worker
	// (API calls, file operations, network requests).
	TaskKindIOBound TaskKind = "io_bound"
	// TaskKindCPUBound marks compute-heavy tasks (batch processing,
	// rendering, large-scale transformation).
	TaskKindCPUBound TaskKind = "cpu_bound"
)

// ExecutionMode selects the concurrency strategy for a batch.
type ExecutionMode string

const (
	// ModeAuto lets the engine pick a strategy from the batch shape.
	ModeAuto ExecutionMode = "auto"
	// ModeParallel runs tasks concurrently under the global permit pool.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential runs tasks one at a time in priority order.
	ModeSequential ExecutionMode = "sequential"
	// ModeThread runs tasks on a bounded pool of dedicated workers.
	ModeThread ExecutionMode = "thread"
)

// Task represents a single unit of work to be executed by a worker agent.
type Task struct {
	// ID is a unique identifier for the task. Assigned on submission
	// when empty.
	ID string `json:"id,omitempty"`

	// Worker is the name of the worker agent to handle this task.
	// May be empty until the router assigns one.
	Worker string `json:"worker"`

	// Description is the task text handed to the worker.
	Description string `json:"description"`

	// Context is merged into the worker's input as a labelled block.
	Context map[string]string `json:"context,omitempty"`

	// Timeout bounds the task's execution. Zero means the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Priority orders dispatch; higher runs first.
	Priority int `json:"priority,omitempty"`

	// Kind is the task classification. When empty the engine infers it
	// from the description.
	Kind TaskKind `json:"kind,omitempty"`
}

// NewTask creates a task with validated fields.
func NewTask(worker, description string) (*Task, error) {
	if description == "" {
		return nil, fmt.Errorf("task description cannot be empty")
	}
	return &Task{
		ID:          newTaskID(),
		Worker:      worker,
		Description: description,
	}, nil
}

func newTaskID() string {
	return uuid.New().String()
}

// TaskOutcome is the result of running one task.
type TaskOutcome struct {
	// TaskID is the ID of the executed task.
	TaskID string `json:"task_id,omitempty"`

	// Worker is the name of the worker that handled the task.
	Worker string `json:"worker"`

	// Success indicates the worker completed without error or timeout.
	Success bool `json:"success"`

	// Result is the worker's output on success.
	Result string `json:"result,omitempty"`

	// Err is the error message on failure.
	Err string `json:"error,omitempty"`

	// Elapsed is the wall-clock execution time.
	Elapsed time.Duration `json:"elapsed"`

	// Kind is the classified kind the task ran under.
	Kind TaskKind `json:"kind"`

	// cause holds the typed failure for retry classification.
	// Not serialized; consumed inside this package only.
	cause error
}

// BatchResult is the raw output of one engine run, before aggregation.
type BatchResult struct {
	// Mode is the strategy the engine actually used.
	Mode ExecutionMode `json:"mode"`

	// Outcomes lists per-task results in dispatch order.
	Outcomes []*TaskOutcome `json:"outcomes"`

	// KindBreakdown counts tasks per classified kind.
	KindBreakdown map[TaskKind]int `json:"kind_breakdown"`
}

// Worker is the execution capability of a registered worker agent.
// Implementations are opaque (typically an LLM-backed reasoning loop);
// the orchestrator only depends on this narrow contract.
type Worker interface {
	// Execute runs one task input to completion and returns the final
	// output text. Implementations should honor ctx cancellation; the
	// engine additionally enforces the task deadline from outside.
	Execute(ctx context.Context, input string, callback EventCallback) (string, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, input string, callback EventCallback) (string, error)

// Execute implements Worker.
func (f WorkerFunc) Execute(ctx context.Context, input string, callback EventCallback) (string, error) {
	return f(ctx, input, callback)
}

// MessageReceiver is an optional interface for workers that accept
// out-of-band messages (broadcasts, shared context notices). Workers
// that do not implement it are skipped by Broadcast.
type MessageReceiver interface {
	ReceiveMessage(message string)
}

// Controller runs the controlling agent's own reasoning loop. It is an
// external collaborator: the orchestrator feeds it messages and runs it,
// nothing more.
type Controller interface {
	// AddMessage appends a user-facing message to the controlling
	// agent's conversation.
	AddMessage(message string)

	// Run executes the reasoning loop until it produces a final answer.
	Run(ctx context.Context) (string, error)
}

// MetricsRecorder receives task and batch lifecycle signals. The metrics
// package provides a Prometheus-backed implementation; a nil recorder
// disables instrumentation.
type MetricsRecorder interface {
	TaskStarted(worker string)
	TaskFinished(worker string, kind string, status string, elapsed time.Duration)
	BatchFinished(mode string, status string, elapsed time.Duration)
}

// Config contains tunable settings for routing and execution. The auto
// mode thresholds are heuristics, not fixed semantics; override them per
// deployment as needed.
type Config struct {
	// MaxConcurrent is the global permit pool size for parallel mode.
	MaxConcurrent int64 `json:"max_concurrent"`

	// ThreadPoolSize is the dedicated worker count for thread mode.
	ThreadPoolSize int `json:"thread_pool_size"`

	// SequentialThreshold is the batch size at or below which auto mode
	// picks sequential execution.
	SequentialThreshold int `json:"sequential_threshold"`

	// CPUBoundFraction is the cpu_bound share above which auto mode
	// picks thread execution.
	CPUBoundFraction float64 `json:"cpu_bound_fraction"`

	// CPUKeywords are the stems that classify a task as cpu_bound.
	CPUKeywords []string `json:"cpu_keywords"`

	// DefaultTimeout applies to tasks that carry no timeout.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MinConfidence is the routing score below which the router falls
	// back to DefaultWorker.
	MinConfidence float64 `json:"min_confidence"`

	// DefaultWorker receives low-confidence tasks. Empty means the
	// first registered worker.
	DefaultWorker string `json:"default_worker"`

	// EnableRouteCache caches routing decisions by task text. Off by
	// default so routing stays a pure function of registry state.
	EnableRouteCache bool `json:"enable_route_cache"`
}

// maxConcurrentCeiling is the fixed upper bound on the permit pool,
// regardless of host parallelism.
const maxConcurrentCeiling = 64

// defaultCPUKeywords classify compute-heavy work. Stems are matched
// case-insensitively against the task description.
var defaultCPUKeywords = []string{
	"calculate", "analyze", "process", "transform", "statistic",
	"batch", "generate", "render", "compile", "encrypt", "compress",
	"parse", "encode", "decode", "filter", "aggregate",
}

// DefaultConfig returns the default configuration, sized to the host.
func DefaultConfig() *Config {
	cpus := runtime.NumCPU()
	maxConcurrent := int64(8 * cpus)
	if maxConcurrent > maxConcurrentCeiling {
		maxConcurrent = maxConcurrentCeiling
	}
	return &Config{
		MaxConcurrent:       maxConcurrent,
		ThreadPoolSize:      cpus,
		SequentialThreshold: 2,
		CPUBoundFraction:    0.5,
		CPUKeywords:         append([]string{}, defaultCPUKeywords...),
		DefaultTimeout:      300 * time.Second,
		MinConfidence:       0.3,
	}
}

// GenerateTraceID generates a trace ID for one orchestration request.
func GenerateTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		slog.Warn("orchestrator: crypto rand failed, using fallback trace id", "error", err)
		return fmt.Sprintf("trace-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("trace-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(bytes)[:12])
}
