package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"
)

// Orchestrator is the top-level façade. It owns the worker registry,
// router, execution engine, and aggregator, and exposes single-task and
// batch entry points to the controlling agent.
type Orchestrator struct {
	registry   *Registry
	router     *Router
	engine     *Engine
	aggregator *Aggregator
	shared     *SharedContext
	history    *TaskHistory

	cfg        *Config
	logger     *slog.Logger
	controller Controller
	metrics    MetricsRecorder
	callback   EventCallback

	retryPolicy  RetryPolicy
	retryEnabled bool
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Orchestrator) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithController attaches the controlling agent's reasoning loop,
// enabling the single-task entry point.
func WithController(controller Controller) Option {
	return func(o *Orchestrator) {
		o.controller = controller
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithEventCallback attaches a callback that receives lifecycle events
// for every orchestration request.
func WithEventCallback(callback EventCallback) Option {
	return func(o *Orchestrator) {
		o.callback = callback
	}
}

// WithRetry enables transient-failure retry for delegated tasks.
func WithRetry(policy RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retryPolicy = policy
		o.retryEnabled = true
	}
}

// New creates an orchestrator with an empty worker registry.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.registry = NewRegistry()
	o.router = NewRouter(o.registry, o.cfg, o.logger)
	o.engine = NewEngine(o.registry, o.cfg, o.logger, o.metrics)
	o.aggregator = NewAggregator(o.logger)
	o.shared = NewSharedContext()
	o.history = NewTaskHistory()
	return o
}

// AddWorker registers a worker with its capability profile.
func (o *Orchestrator) AddWorker(name string, tags []string, description string, worker Worker) error {
	if err := o.registry.Register(name, tags, description, worker); err != nil {
		return err
	}
	o.router.InvalidateCache()
	o.logger.Info("orchestrator: worker added", "worker", name, "tags", tags)
	return nil
}

// RemoveWorker unregisters a worker. In-flight tasks on that worker are
// not cancelled; they keep their resolved reference and finish normally.
func (o *Orchestrator) RemoveWorker(name string) error {
	if err := o.registry.Remove(name); err != nil {
		return err
	}
	o.router.InvalidateCache()
	o.logger.Info("orchestrator: worker removed", "worker", name)
	return nil
}

// TaskReport is the result of a single-task run through the controlling
// agent, including the history appended during the call.
type TaskReport struct {
	Response string         `json:"response"`
	History  []HistoryEntry `json:"history"`
}

// ExecuteTask merges the given context into SharedContext, hands the
// task to the controlling agent's reasoning loop, and returns its final
// response together with the history recorded during the call. The
// controller may call back into the coordination tools while running.
func (o *Orchestrator) ExecuteTask(ctx context.Context, description string, taskContext map[string]string) (*TaskReport, error) {
	if o.controller == nil {
		return nil, ErrNoController
	}
	if description == "" {
		return nil, fmt.Errorf("task description cannot be empty")
	}

	traceID := GenerateTraceID()
	start := time.Now()
	historyMark := o.history.Len()

	for key, value := range taskContext {
		o.shared.Share(key, value, "", nil, 0)
	}

	o.logger.Info("orchestrator: executing task",
		"trace_id", traceID,
		"input_length", len(description))

	o.controller.AddMessage(description)
	response, err := o.controller.Run(ctx)

	status := string(StatusSuccess)
	detail := response
	if err != nil {
		status = string(StatusError)
		detail = err.Error()
	}
	o.history.Append(HistoryEntry{
		Kind:        HistoryKindTask,
		Description: description,
		Status:      status,
		Detail:      truncate(detail, 200),
	})

	if err != nil {
		o.logger.Error("orchestrator: controller run failed",
			"trace_id", traceID,
			"error", err)
		return nil, err
	}

	o.logger.Info("orchestrator: task completed",
		"trace_id", traceID,
		"duration_ms", time.Since(start).Milliseconds())
	return &TaskReport{
		Response: response,
		History:  o.history.Entries()[historyMark:],
	}, nil
}

// ExecuteParallelTasks routes any unrouted task, runs the batch under
// the chosen strategy, and returns the aggregated result. Worker
// failures never surface as an error here; only a malformed batch does.
func (o *Orchestrator) ExecuteParallelTasks(ctx context.Context, tasks []*Task, mode ExecutionMode) (*AggregatedResult, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}

	traceID := GenerateTraceID()
	dispatcher := NewEventDispatcher(traceID, o.callback)
	defer dispatcher.Close()

	for _, task := range tasks {
		if task.Worker == "" {
			route := o.router.Route(task.Description, "")
			task.Worker = route.Worker
			o.logger.Debug("orchestrator: routed batch task",
				"trace_id", traceID,
				"worker", route.Worker,
				"confidence", route.Confidence)
		}
		o.injectSharedContext(task)
	}

	batch, err := o.engine.Execute(ctx, tasks, mode, dispatcher)
	if err != nil {
		return nil, err
	}

	result, err := o.aggregator.Aggregate(batch)
	if err != nil {
		o.logger.Error("orchestrator: aggregation failed",
			"trace_id", traceID,
			"error", err)
		result = o.aggregator.AggregateFailure(err, false)
	}

	o.history.Append(HistoryEntry{
		Kind: HistoryKindBatch,
		Description: fmt.Sprintf("batch of %d tasks (%s mode)",
			result.TotalCount, batch.Mode),
		Status: string(result.Status),
		Detail: truncate(result.Summary, 200),
	})
	return result, nil
}

// DelegateTask routes (if needed) and runs one task, applying the retry
// policy when enabled. Failures are captured in the outcome, never
// returned as an error.
func (o *Orchestrator) DelegateTask(ctx context.Context, task *Task) *TaskOutcome {
	traceID := GenerateTraceID()
	dispatcher := NewEventDispatcher(traceID, o.callback)
	defer dispatcher.Close()

	if task.Worker == "" {
		task.Worker = o.router.Route(task.Description, "").Worker
	}
	o.injectSharedContext(task)

	var outcome *TaskOutcome
	if o.retryEnabled {
		outcome = o.engine.ExecuteTaskWithRetry(ctx, task, o.retryPolicy, dispatcher)
	} else {
		outcome = o.engine.ExecuteTask(ctx, task, dispatcher)
	}

	status := string(StatusSuccess)
	detail := outcome.Result
	if !outcome.Success {
		status = string(StatusFailed)
		detail = outcome.Err
	}
	o.history.Append(HistoryEntry{
		Kind:        HistoryKindTask,
		Description: task.Description,
		Worker:      outcome.Worker,
		Status:      status,
		Detail:      truncate(detail, 200),
	})
	return outcome
}

// injectSharedContext merges the shared values visible to the task's
// worker into its context; explicit task context wins on key collision.
func (o *Orchestrator) injectSharedContext(task *Task) {
	if task.Worker == "" {
		return
	}
	visible := o.shared.VisibleTo(task.Worker)
	if len(visible) == 0 {
		return
	}
	merged := make(map[string]string, len(visible)+len(task.Context))
	for k, v := range visible {
		merged[k] = v
	}
	for k, v := range task.Context {
		merged[k] = v
	}
	task.Context = merged
}

// ShareContext publishes a value for other workers to read, with
// optional targeting and expiry.
func (o *Orchestrator) ShareContext(key, value, sharedBy string, targetWorkers []string, ttl time.Duration) {
	o.shared.Share(key, value, sharedBy, targetWorkers, ttl)
	o.logger.Debug("orchestrator: context shared",
		"key", key,
		"shared_by", sharedBy,
		"targets", len(targetWorkers))
	o.emit(EventTypeContextShared, map[string]interface{}{
		"key":       key,
		"shared_by": sharedBy,
	})
}

// GetSharedContext reads a shared value as visible to the named worker.
func (o *Orchestrator) GetSharedContext(key, worker string) (string, bool) {
	return o.shared.Get(key, worker)
}

// Broadcast delivers a message to every targeted worker that accepts
// out-of-band messages and returns the delivery count.
func (o *Orchestrator) Broadcast(message string, targetWorkers []string) int {
	names := targetWorkers
	if len(names) == 0 {
		names = o.registry.Names()
	}

	delivered := 0
	for _, name := range names {
		profile := o.registry.Get(name)
		if profile == nil {
			continue
		}
		if receiver, ok := profile.worker.(MessageReceiver); ok {
			receiver.ReceiveMessage(message)
			delivered++
		}
	}

	o.logger.Info("orchestrator: broadcast delivered",
		"targets", len(names),
		"delivered", delivered)
	o.emit(EventTypeBroadcast, map[string]interface{}{
		"targets":   len(names),
		"delivered": delivered,
	})
	return delivered
}

// WorkerStatus is a read-only snapshot of one worker.
type WorkerStatus struct {
	Name        string   `json:"name"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	Load        int      `json:"load"`
}

// GetWorkerStatus returns the current status of one worker.
func (o *Orchestrator) GetWorkerStatus(name string) (*WorkerStatus, error) {
	profile := o.registry.Get(name)
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	return &WorkerStatus{
		Name:        profile.Name,
		Tags:        append([]string{}, profile.Tags...),
		Description: profile.Description,
		Load:        profile.Load(),
	}, nil
}

// GatherResults returns the history entries recorded for the named
// workers, all workers when the list is empty.
func (o *Orchestrator) GatherResults(workerNames []string) map[string][]HistoryEntry {
	wanted := make(map[string]bool, len(workerNames))
	for _, name := range workerNames {
		wanted[name] = true
	}

	gathered := make(map[string][]HistoryEntry)
	for _, entry := range o.history.Entries() {
		if entry.Worker == "" {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.Worker] {
			continue
		}
		gathered[entry.Worker] = append(gathered[entry.Worker], entry)
	}
	return gathered
}

// Status is a read-only snapshot of the orchestrator state.
type Status struct {
	WorkerCount   int            `json:"worker_count"`
	Workers       []string       `json:"workers"`
	WorkerLoads   map[string]int `json:"worker_loads"`
	HistoryLength int            `json:"history_length"`
	SharedKeys    []string       `json:"shared_keys"`
	Routing       RoutingStats   `json:"routing"`
}

// GetStatus returns a snapshot of registry, history, and shared context.
func (o *Orchestrator) GetStatus() *Status {
	return &Status{
		WorkerCount:   o.registry.Count(),
		Workers:       o.registry.Names(),
		WorkerLoads:   o.registry.Loads(),
		HistoryLength: o.history.Len(),
		SharedKeys:    o.shared.Keys(),
		Routing:       o.router.Stats(),
	}
}

// Router exposes the task router for direct routing decisions.
func (o *Orchestrator) Router() *Router {
	return o.router
}

// Aggregator exposes the result aggregator for output formatting.
func (o *Orchestrator) Aggregator() *Aggregator {
	return o.aggregator
}

// History returns the task history log.
func (o *Orchestrator) History() *TaskHistory {
	return o.history
}

// ClearHistory discards the task history.
func (o *Orchestrator) ClearHistory() {
	o.history.Clear()
}

// ClearSharedContext drops every shared value.
func (o *Orchestrator) ClearSharedContext() {
	o.shared.Clear()
}

func (o *Orchestrator) emit(eventType string, payload map[string]interface{}) {
	if o.callback == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("orchestrator: failed to marshal event", "type", eventType, "error", err)
		return
	}
	o.callback(eventType, string(data))
}

// truncate shortens s to at most max bytes, cutting on a rune boundary
// so multi-byte text is never split mid-sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
