package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *Registry) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.DefaultTimeout = 5 * time.Second
	}
	registry := NewRegistry()
	return NewEngine(registry, cfg, slog.Default(), nil), registry
}

func TestEngine_ClassifyKind(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	tests := []struct {
		description string
		want        TaskKind
	}{
		{"calculate the monthly statistics", TaskKindCPUBound},
		{"render the quarterly report", TaskKindCPUBound},
		{"compress the log archive", TaskKindCPUBound},
		{"fetch the user profile from the API", TaskKindIOBound},
		{"send a notification email", TaskKindIOBound},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			if got := engine.ClassifyKind(tt.description); got != tt.want {
				t.Errorf("ClassifyKind(%q): expected %s, got %s", tt.description, tt.want, got)
			}
		})
	}
}

func TestEngine_ChooseMode(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	ioTask := func() *Task { return &Task{Description: "x", Kind: TaskKindIOBound} }
	cpuTask := func() *Task { return &Task{Description: "x", Kind: TaskKindCPUBound} }

	tests := []struct {
		name  string
		tasks []*Task
		mode  ExecutionMode
		want  ExecutionMode
	}{
		{"explicit mode passes through", []*Task{ioTask(), ioTask(), ioTask()}, ModeThread, ModeThread},
		{"small batch goes sequential", []*Task{ioTask(), ioTask()}, ModeAuto, ModeSequential},
		{"single io task goes sequential", []*Task{ioTask()}, ModeAuto, ModeSequential},
		{"kind rule beats size rule", []*Task{cpuTask(), cpuTask()}, ModeAuto, ModeThread},
		{"single cpu task goes thread", []*Task{cpuTask()}, ModeAuto, ModeThread},
		{"io-heavy batch goes parallel", []*Task{ioTask(), ioTask(), cpuTask()}, ModeAuto, ModeParallel},
		{"cpu-heavy batch goes thread", []*Task{cpuTask(), cpuTask(), ioTask()}, ModeAuto, ModeThread},
		{"exactly half cpu stays parallel", []*Task{cpuTask(), cpuTask(), ioTask(), ioTask()}, ModeAuto, ModeParallel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.ChooseMode(tt.tasks, tt.mode); got != tt.want {
				t.Errorf("ChooseMode: expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEngine_EmptyBatch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Execute(context.Background(), nil, ModeAuto, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestEngine_TwoTaskParallelScenario(t *testing.T) {
	engine, registry := newTestEngine(t, nil)
	require.NoError(t, registry.Register("coder", []string{"code"}, "", echoWorker()))
	require.NoError(t, registry.Register("tester", []string{"test"}, "", echoWorker()))

	tasks := []*Task{
		{Worker: "coder", Description: "write function"},
		{Worker: "tester", Description: "write test"},
	}
	result, err := engine.Execute(context.Background(), tasks, ModeParallel, nil)
	require.NoError(t, err)

	assert.Len(t, result.Outcomes, 2)
	for _, outcome := range result.Outcomes {
		assert.True(t, outcome.Success, "outcome for %s should succeed", outcome.Worker)
	}
	assert.Equal(t, 0, registry.Get("coder").Load(), "coder load should return to 0")
	assert.Equal(t, 0, registry.Get("tester").Load(), "tester load should return to 0")
}

func TestEngine_Timeout(t *testing.T) {
	engine, registry := newTestEngine(t, nil)
	block := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.NoError(t, registry.Register("sleeper", nil, "", block))

	start := time.Now()
	outcome := engine.ExecuteTask(context.Background(), &Task{
		Worker:      "sleeper",
		Description: "never finishes",
		Timeout:     100 * time.Millisecond,
	}, nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Err, "timed out")
	assert.Less(t, time.Since(start), time.Second, "timeout should fire near the deadline")
	assert.Equal(t, 0, registry.Get("sleeper").Load(), "load must drain on timeout")
}

func TestEngine_WorkerNotFound(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	outcome := engine.ExecuteTask(context.Background(), &Task{
		Worker:      "ghost",
		Description: "anything",
	}, nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Err, "worker not found")
}

func TestEngine_BulkheadIsolation(t *testing.T) {
	engine, registry := newTestEngine(t, nil)
	panics := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		panic("worker exploded")
	})
	require.NoError(t, registry.Register("bomber", nil, "", panics))
	require.NoError(t, registry.Register("steady", nil, "", echoWorker()))

	tasks := []*Task{
		{Worker: "bomber", Description: "boom"},
		{Worker: "steady", Description: "carry on"},
		{Worker: "steady", Description: "still here"},
	}
	result, err := engine.Execute(context.Background(), tasks, ModeParallel, nil)
	require.NoError(t, err)

	assert.False(t, result.Outcomes[0].Success)
	assert.Contains(t, result.Outcomes[0].Err, "panicked")
	assert.True(t, result.Outcomes[1].Success, "sibling must survive a panicking task")
	assert.True(t, result.Outcomes[2].Success)
	assert.Equal(t, 0, registry.Get("bomber").Load())
}

func TestEngine_PermitCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 3
	cfg.DefaultTimeout = 5 * time.Second
	engine, registry := newTestEngine(t, cfg)

	var inFlight, peak int64
	var mu sync.Mutex
	counting := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		current := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "done", nil
	})
	require.NoError(t, registry.Register("counter", nil, "", counting))

	tasks := make([]*Task, 12)
	for i := range tasks {
		tasks[i] = &Task{Worker: "counter", Description: "fetch item"}
	}
	result, err := engine.Execute(context.Background(), tasks, ModeParallel, nil)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 12)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(3), "permit pool must cap concurrent dispatch")
}

func TestEngine_SequentialPriorityOrder(t *testing.T) {
	engine, registry := newTestEngine(t, nil)

	var mu sync.Mutex
	var order []string
	recording := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		mu.Lock()
		order = append(order, input)
		mu.Unlock()
		return input, nil
	})
	require.NoError(t, registry.Register("seq", nil, "", recording))

	tasks := []*Task{
		{Worker: "seq", Description: "low", Priority: 1},
		{Worker: "seq", Description: "high", Priority: 10},
		{Worker: "seq", Description: "mid-a", Priority: 5},
		{Worker: "seq", Description: "mid-b", Priority: 5},
	}
	_, err := engine.Execute(context.Background(), tasks, ModeSequential, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, order,
		"dispatch must follow descending priority, stable on ties")
}

func TestEngine_OutcomesKeepSubmissionOrder(t *testing.T) {
	engine, registry := newTestEngine(t, nil)
	require.NoError(t, registry.Register("echo", nil, "", echoWorker()))

	tasks := []*Task{
		{Worker: "echo", Description: "first", Priority: 1},
		{Worker: "echo", Description: "second", Priority: 9},
	}
	result, err := engine.Execute(context.Background(), tasks, ModeSequential, nil)
	require.NoError(t, err)

	assert.Equal(t, "first", result.Outcomes[0].Result)
	assert.Equal(t, "second", result.Outcomes[1].Result)
}

func TestEngine_ThreadModeRunsAllTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThreadPoolSize = 2
	cfg.DefaultTimeout = 5 * time.Second
	engine, registry := newTestEngine(t, cfg)

	var count int64
	crunch := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		atomic.AddInt64(&count, 1)
		return "crunched", nil
	})
	require.NoError(t, registry.Register("cruncher", nil, "", crunch))

	tasks := make([]*Task, 6)
	for i := range tasks {
		tasks[i] = &Task{Worker: "cruncher", Description: "calculate the totals"}
	}
	result, err := engine.Execute(context.Background(), tasks, ModeThread, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(6), atomic.LoadInt64(&count))
	assert.Equal(t, ModeThread, result.Mode)
	assert.Equal(t, 6, result.KindBreakdown[TaskKindCPUBound], "calculate tasks classify cpu_bound")
}

func TestEngine_ContextInjection(t *testing.T) {
	engine, registry := newTestEngine(t, nil)

	var got string
	capture := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		got = input
		return "", nil
	})
	require.NoError(t, registry.Register("capture", nil, "", capture))

	engine.ExecuteTask(context.Background(), &Task{
		Worker:      "capture",
		Description: "deploy the service",
		Context:     map[string]string{"env": "staging", "branch": "main"},
	}, nil)

	assert.True(t, strings.HasPrefix(got, "deploy the service"))
	assert.Contains(t, got, "- env: staging")
	assert.Contains(t, got, "- branch: main")
}

func TestEngine_BatchCancelSkipsPendingTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.DefaultTimeout = 5 * time.Second
	engine, registry := newTestEngine(t, cfg)

	release := make(chan struct{})
	slow := WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		<-release
		return "ok", nil
	})
	require.NoError(t, registry.Register("slow", nil, "", slow))

	ctx, cancel := context.WithCancel(context.Background())
	tasks := []*Task{
		{Worker: "slow", Description: "holds the permit"},
		{Worker: "slow", Description: "waits for a permit"},
		{Worker: "slow", Description: "also waits"},
	}

	done := make(chan *BatchResult, 1)
	go func() {
		result, err := engine.Execute(ctx, tasks, ModeParallel, nil)
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	result := <-done
	succeeded := 0
	cancelled := 0
	for _, outcome := range result.Outcomes {
		if outcome.Success {
			succeeded++
		} else if strings.Contains(outcome.Err, "cancelled before dispatch") {
			cancelled++
		}
	}
	// The dispatched task runs to completion; tasks still waiting on a
	// permit are cancelled.
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, cancelled)
}
