package orchestrator

import (
	"testing"
	"time"
)

func TestSharedContext_ShareAndGet(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("api_design", "REST with cursor pagination", "architect", nil, 0)

	value, ok := sc.Get("api_design", "coder")
	if !ok || value != "REST with cursor pagination" {
		t.Errorf("Get: expected shared value, got %q (ok=%v)", value, ok)
	}

	if _, ok := sc.Get("missing", "coder"); ok {
		t.Error("Get of a missing key should report absence")
	}
}

func TestSharedContext_Targeting(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("secret_plan", "refactor everything", "architect", []string{"coder"}, 0)

	if _, ok := sc.Get("secret_plan", "tester"); ok {
		t.Error("targeted value must not be visible to other workers")
	}
	if _, ok := sc.Get("secret_plan", "coder"); !ok {
		t.Error("targeted value must be visible to its target")
	}
	// An empty worker name is an orchestrator-level read.
	if _, ok := sc.Get("secret_plan", ""); !ok {
		t.Error("orchestrator-level read should bypass targeting")
	}
}

func TestSharedContext_TTL(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("ephemeral", "soon gone", "", nil, 20*time.Millisecond)

	if _, ok := sc.Get("ephemeral", ""); !ok {
		t.Fatal("value should be visible before expiry")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := sc.Get("ephemeral", ""); ok {
		t.Error("value should expire after its ttl")
	}
	if sc.Len() != 0 {
		t.Errorf("Len: expected 0 after expiry, got %d", sc.Len())
	}
}

func TestSharedContext_Overwrite(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("key", "first", "a", nil, 0)
	sc.Share("key", "second", "b", nil, 0)

	value, _ := sc.Get("key", "")
	if value != "second" {
		t.Errorf("expected the later share to win, got %q", value)
	}
}

func TestSharedContext_VisibleTo(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("shared", "for all", "", nil, 0)
	sc.Share("targeted", "coder only", "", []string{"coder"}, 0)

	view := sc.VisibleTo("coder")
	if len(view) != 2 {
		t.Errorf("coder view: expected 2 entries, got %d", len(view))
	}

	view = sc.VisibleTo("tester")
	if len(view) != 1 {
		t.Errorf("tester view: expected 1 entry, got %d", len(view))
	}
	if _, ok := view["targeted"]; ok {
		t.Error("tester must not see the coder-targeted value")
	}
}

func TestSharedContext_Delete(t *testing.T) {
	sc := NewSharedContext()
	sc.Share("key", "value", "", nil, 0)
	sc.Delete("key")

	if _, ok := sc.Get("key", ""); ok {
		t.Error("deleted key should be gone")
	}
}

func TestTaskHistory_AppendAndClear(t *testing.T) {
	h := NewTaskHistory()

	first := h.Append(HistoryEntry{Kind: HistoryKindTask, Description: "one", Status: "success"})
	h.Append(HistoryEntry{Kind: HistoryKindBatch, Description: "two", Status: "partial"})

	if first.UID == "" {
		t.Error("Append should assign a UID")
	}
	if first.Timestamp.IsZero() {
		t.Error("Append should assign a timestamp")
	}
	if h.Len() != 2 {
		t.Errorf("Len: expected 2, got %d", h.Len())
	}

	entries := h.Entries()
	if entries[0].Description != "one" || entries[1].Description != "two" {
		t.Error("Entries should preserve append order")
	}

	tail := h.Tail(1)
	if len(tail) != 1 || tail[0].Description != "two" {
		t.Errorf("Tail(1): expected the latest entry, got %+v", tail)
	}

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len after Clear: expected 0, got %d", h.Len())
	}
}
