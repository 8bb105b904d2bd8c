package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Engine runs batches of tasks under a concurrency strategy chosen from
// the batch shape. One engine owns one global permit pool, so the
// configured ceiling holds across every batch in flight.
type Engine struct {
	registry *Registry
	cfg      *Config
	logger   *slog.Logger
	metrics  MetricsRecorder
	permits  *semaphore.Weighted
}

// NewEngine creates an execution engine over the registry. metrics may
// be nil to disable instrumentation.
func NewEngine(registry *Registry, cfg *Config, logger *slog.Logger, metrics MetricsRecorder) *Engine {
	return &Engine{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		permits:  semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// ClassifyKind infers a task kind from its description by matching the
// configured compute-intensive keyword stems.
func (e *Engine) ClassifyKind(description string) TaskKind {
	text := strings.ToLower(description)
	for _, keyword := range e.cfg.CPUKeywords {
		if matchesKeyword(text, strings.ToLower(keyword)) {
			return TaskKindCPUBound
		}
	}
	return TaskKindIOBound
}

// ChooseMode resolves the effective strategy for a batch. An explicit
// mode passes through unchanged; auto applies the kind rule before the
// size rule, so a small compute-heavy batch still gets the thread pool.
func (e *Engine) ChooseMode(tasks []*Task, mode ExecutionMode) ExecutionMode {
	if mode != ModeAuto && mode != "" {
		return mode
	}
	if len(tasks) == 0 {
		return ModeSequential
	}

	cpuBound := 0
	for _, task := range tasks {
		if task.Kind == TaskKindCPUBound {
			cpuBound++
		}
	}
	if float64(cpuBound)/float64(len(tasks)) > e.cfg.CPUBoundFraction {
		return ModeThread
	}
	if len(tasks) <= e.cfg.SequentialThreshold {
		return ModeSequential
	}
	return ModeParallel
}

// Execute runs the batch under the resolved strategy and returns per-task
// outcomes in submission order. Task failures never abort siblings; the
// only error returned is for a malformed batch.
func (e *Engine) Execute(ctx context.Context, tasks []*Task, mode ExecutionMode, dispatcher *EventDispatcher) (*BatchResult, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}

	start := time.Now()
	breakdown := make(map[TaskKind]int)
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = newTaskID()
		}
		if task.Kind == "" {
			task.Kind = e.ClassifyKind(task.Description)
		}
		breakdown[task.Kind]++
	}

	resolved := e.ChooseMode(tasks, mode)
	e.logger.Info("engine: starting batch",
		"tasks", len(tasks),
		"mode", resolved,
		"cpu_bound", breakdown[TaskKindCPUBound])
	e.sendBatchStart(dispatcher, tasks, resolved)

	outcomes := make([]*TaskOutcome, len(tasks))
	switch resolved {
	case ModeSequential:
		e.runSequential(ctx, tasks, outcomes, dispatcher)
	case ModeThread:
		e.runThreadPool(ctx, tasks, outcomes, dispatcher)
	default:
		e.runParallel(ctx, tasks, outcomes, dispatcher)
	}

	result := &BatchResult{
		Mode:          resolved,
		Outcomes:      outcomes,
		KindBreakdown: breakdown,
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}
	e.logger.Info("engine: batch completed",
		"mode", resolved,
		"duration_ms", time.Since(start).Milliseconds(),
		"success_count", succeeded,
		"failed_count", len(outcomes)-succeeded)
	e.sendBatchEnd(dispatcher, result, time.Since(start))
	if e.metrics != nil {
		status := "success"
		if succeeded < len(outcomes) {
			status = "partial"
		}
		e.metrics.BatchFinished(string(resolved), status, time.Since(start))
	}
	return result, nil
}

// ExecuteTask runs a single task outside a batch. The task kind is
// inferred when unset.
func (e *Engine) ExecuteTask(ctx context.Context, task *Task, dispatcher *EventDispatcher) *TaskOutcome {
	if task.ID == "" {
		task.ID = newTaskID()
	}
	if task.Kind == "" {
		task.Kind = e.ClassifyKind(task.Description)
	}
	return e.runTask(ctx, task, 0, dispatcher)
}

// ExecuteTaskWithRetry runs a single task under the retry policy.
// Transient failures are retried with exponential backoff; permanent
// failures and unknown workers are not.
func (e *Engine) ExecuteTaskWithRetry(ctx context.Context, task *Task, policy RetryPolicy, dispatcher *EventDispatcher) *TaskOutcome {
	return runWithRetry(ctx, policy, e.logger, task, func(ctx context.Context, t *Task) *TaskOutcome {
		return e.ExecuteTask(ctx, t, dispatcher)
	})
}

// runSequential runs tasks one at a time in descending priority order,
// stable on ties by submission order.
func (e *Engine) runSequential(ctx context.Context, tasks []*Task, outcomes []*TaskOutcome, dispatcher *EventDispatcher) {
	order := dispatchOrder(tasks)
	for _, idx := range order {
		outcomes[idx] = e.runTask(ctx, tasks[idx], idx, dispatcher)
	}
}

// runParallel fans tasks out as goroutines gated by the global permit
// pool. Cancelling ctx only affects tasks still waiting for a permit;
// dispatched tasks run to their own timeout.
func (e *Engine) runParallel(ctx context.Context, tasks []*Task, outcomes []*TaskOutcome, dispatcher *EventDispatcher) {
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t *Task) {
			defer wg.Done()

			if err := e.permits.Acquire(ctx, 1); err != nil {
				outcomes[idx] = &TaskOutcome{
					TaskID: t.ID,
					Worker: t.Worker,
					Kind:   t.Kind,
					Err:    fmt.Sprintf("cancelled before dispatch: %v", err),
					cause:  err,
				}
				e.logger.Warn("engine: task cancelled before permit acquisition",
					"index", idx, "worker", t.Worker)
				return
			}
			defer e.permits.Release(1)

			outcomes[idx] = e.runTask(ctx, t, idx, dispatcher)
		}(i, task)
	}
	wg.Wait()
}

// runThreadPool runs tasks on a fixed pool of dedicated workers sized to
// host parallelism, feeding them in descending priority order.
func (e *Engine) runThreadPool(ctx context.Context, tasks []*Task, outcomes []*TaskOutcome, dispatcher *EventDispatcher) {
	order := dispatchOrder(tasks)
	queue := make(chan int, len(order))
	for _, idx := range order {
		queue <- idx
	}
	close(queue)

	poolSize := e.cfg.ThreadPoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				outcomes[idx] = e.runTask(ctx, tasks[idx], idx, dispatcher)
			}
		}()
	}
	wg.Wait()
}

// runTask executes a single task: resolve the worker, bump its load,
// dispatch under the task deadline, and settle the load counter on every
// exit path. A panicking worker is contained here and reported as a
// failed outcome.
func (e *Engine) runTask(ctx context.Context, task *Task, index int, dispatcher *EventDispatcher) *TaskOutcome {
	start := time.Now()
	outcome := &TaskOutcome{
		TaskID: task.ID,
		Worker: task.Worker,
		Kind:   task.Kind,
	}

	profile := e.registry.Get(task.Worker)
	if profile == nil {
		err := fmt.Errorf("%w: %s", ErrWorkerNotFound, task.Worker)
		outcome.Err = err.Error()
		outcome.cause = err
		outcome.Elapsed = time.Since(start)
		e.logger.Error("engine: task references unknown worker",
			"index", index, "worker", task.Worker)
		return outcome
	}

	e.registry.incrementLoad(profile)
	defer e.registry.decrementLoad(profile)

	e.sendTaskStart(dispatcher, task, index)
	if e.metrics != nil {
		e.metrics.TaskStarted(task.Worker)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	// Dispatched tasks are bounded by their own deadline only; a batch
	// cancel must not interrupt a worker mid-turn.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type execResult struct {
		output string
		err    error
	}
	done := make(chan execResult, 1)
	forward := func(eventType, eventData string) {
		if dispatcher != nil {
			dispatcher.Send(eventType, eventData)
		}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("worker %s panicked: %v", task.Worker, r)}
				e.logger.Error("engine: recovered worker panic",
					"worker", task.Worker, "panic", r)
			}
		}()
		output, err := profile.worker.Execute(taskCtx, buildWorkerInput(task), forward)
		done <- execResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		outcome.Elapsed = time.Since(start)
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				res.err = fmt.Errorf("%w: worker %s exceeded %s", ErrTaskTimeout, task.Worker, timeout)
			}
			outcome.Err = res.err.Error()
			outcome.cause = res.err
			e.logger.Error("engine: task failed",
				"index", index,
				"worker", task.Worker,
				"error", res.err)
		} else {
			outcome.Success = true
			outcome.Result = res.output
			e.logger.Debug("engine: task completed",
				"index", index,
				"worker", task.Worker,
				"duration_ms", outcome.Elapsed.Milliseconds())
		}
	case <-taskCtx.Done():
		outcome.Elapsed = time.Since(start)
		err := fmt.Errorf("%w: worker %s exceeded %s", ErrTaskTimeout, task.Worker, timeout)
		outcome.Err = err.Error()
		outcome.cause = err
		e.logger.Warn("engine: task timed out",
			"index", index,
			"worker", task.Worker,
			"timeout", timeout)
	}

	e.sendTaskEnd(dispatcher, task, outcome, index)
	if e.metrics != nil {
		status := "success"
		if !outcome.Success {
			status = "failed"
		}
		e.metrics.TaskFinished(task.Worker, string(task.Kind), status, outcome.Elapsed)
	}
	return outcome
}

// dispatchOrder returns task indices sorted by descending priority,
// stable on submission order.
func dispatchOrder(tasks []*Task) []int {
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return tasks[order[i]].Priority > tasks[order[j]].Priority
	})
	return order
}

// buildWorkerInput renders the worker's input text: the task description
// plus a labelled block for any structured context, keys sorted for
// stable output.
func buildWorkerInput(task *Task) string {
	if len(task.Context) == 0 {
		return task.Description
	}

	keys := make([]string, 0, len(task.Context))
	for k := range task.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(task.Description)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, task.Context[k])
	}
	return b.String()
}

func (e *Engine) sendBatchStart(dispatcher *EventDispatcher, tasks []*Task, mode ExecutionMode) {
	if dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"task_count": len(tasks),
		"mode":       string(mode),
	}
	e.sendEvent(dispatcher, EventTypeBatchStart, payload)
}

func (e *Engine) sendBatchEnd(dispatcher *EventDispatcher, result *BatchResult, elapsed time.Duration) {
	if dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"mode":        string(result.Mode),
		"task_count":  len(result.Outcomes),
		"duration_ms": elapsed.Milliseconds(),
	}
	e.sendEvent(dispatcher, EventTypeBatchEnd, payload)
}

func (e *Engine) sendTaskStart(dispatcher *EventDispatcher, task *Task, index int) {
	if dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"index":  index,
		"worker": task.Worker,
		"kind":   string(task.Kind),
	}
	e.sendEvent(dispatcher, EventTypeTaskStart, payload)
}

func (e *Engine) sendTaskEnd(dispatcher *EventDispatcher, task *Task, outcome *TaskOutcome, index int) {
	if dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"index":   index,
		"worker":  task.Worker,
		"success": outcome.Success,
	}
	if outcome.Err != "" {
		payload["error"] = outcome.Err
	}
	e.sendEvent(dispatcher, EventTypeTaskEnd, payload)
}

func (e *Engine) sendEvent(dispatcher *EventDispatcher, eventType string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("engine: failed to marshal event", "type", eventType, "error", err)
		return
	}
	dispatcher.Send(eventType, string(data))
}
