package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func echoWorker() Worker {
	return WorkerFunc(func(ctx context.Context, input string, callback EventCallback) (string, error) {
		return input, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("coder", []string{"code"}, "writes code", echoWorker()); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count: expected 1, got %d", r.Count())
	}

	profile := r.Get("coder")
	if profile == nil {
		t.Fatal("Get should return the registered profile")
	}
	if profile.Description != "writes code" {
		t.Errorf("Description: expected %q, got %q", "writes code", profile.Description)
	}
	if profile.Load() != 0 {
		t.Errorf("Load: expected 0 for a fresh worker, got %d", profile.Load())
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("coder", nil, "", echoWorker()); err != nil {
		t.Fatalf("first Register: unexpected error: %v", err)
	}

	err := r.Register("coder", nil, "", echoWorker())
	if !errors.Is(err, ErrWorkerExists) {
		t.Errorf("duplicate Register: expected ErrWorkerExists, got %v", err)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("", nil, "", echoWorker()); err == nil {
		t.Error("Register with empty name should fail")
	}
	if err := r.Register("coder", nil, "", nil); err == nil {
		t.Error("Register with nil worker should fail")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("coder", nil, "", echoWorker()); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove("coder"); err != nil {
		t.Fatalf("Remove: unexpected error: %v", err)
	}
	if r.Get("coder") != nil {
		t.Error("Get after Remove should return nil")
	}
	if err := r.Remove("coder"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("Remove of missing worker: expected ErrWorkerNotFound, got %v", err)
	}
}

func TestRegistry_NamesPreserveOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(name, nil, "", echoWorker()); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"zeta", "alpha", "mid"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Names[%d]: expected %q, got %q", i, name, names[i])
		}
	}

	if err := r.Remove("alpha"); err != nil {
		t.Fatal(err)
	}
	names = r.Names()
	if len(names) != 2 || names[0] != "zeta" || names[1] != "mid" {
		t.Errorf("Names after remove: expected [zeta mid], got %v", names)
	}
}

func TestRegistry_ConcurrentLoadBalancesToZero(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("coder", nil, "", echoWorker()); err != nil {
		t.Fatal(err)
	}
	profile := r.Get("coder")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.incrementLoad(profile)
			r.decrementLoad(profile)
		}()
	}
	wg.Wait()

	if profile.Load() != 0 {
		t.Errorf("Load after balanced increments: expected 0, got %d", profile.Load())
	}
}

func TestRegistry_RemovedProfileKeepsDrainingLoad(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("coder", nil, "", echoWorker()); err != nil {
		t.Fatal(err)
	}
	profile := r.Get("coder")
	r.incrementLoad(profile)

	if err := r.Remove("coder"); err != nil {
		t.Fatal(err)
	}

	// The in-flight reference still drains through the removed profile.
	r.decrementLoad(profile)
	if profile.Load() != 0 {
		t.Errorf("Load after drain on removed profile: expected 0, got %d", profile.Load())
	}
}
