package orchestrator

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// HistoryEntry is one record in the task history log.
type HistoryEntry struct {
	// UID uniquely identifies the entry.
	UID string `json:"uid"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`

	// Kind distinguishes single-task records from batch records.
	Kind string `json:"kind"`

	// Description is the submitted task text, or a batch summary line.
	Description string `json:"description"`

	// Worker is the handling worker for single tasks.
	Worker string `json:"worker,omitempty"`

	// Status is the final status string.
	Status string `json:"status"`

	// Detail carries a short result or error excerpt.
	Detail string `json:"detail,omitempty"`
}

// History entry kinds.
const (
	HistoryKindTask  = "task"
	HistoryKindBatch = "batch"
)

// TaskHistory is the append-only log of submitted work. It grows for
// the life of the process unless the caller clears it; each append is
// atomic, but ordering across concurrent appends is not guaranteed.
type TaskHistory struct {
	mu      sync.RWMutex
	entries []HistoryEntry
}

// NewTaskHistory creates an empty history log.
func NewTaskHistory() *TaskHistory {
	return &TaskHistory{}
}

// Append records one entry, assigning its UID and timestamp.
func (h *TaskHistory) Append(entry HistoryEntry) HistoryEntry {
	entry.UID = shortuuid.New()
	entry.Timestamp = time.Now()

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return entry
}

// Entries returns a copy of the full log in append order.
func (h *TaskHistory) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HistoryEntry{}, h.entries...)
}

// Tail returns the most recent n entries, oldest first.
func (h *TaskHistory) Tail(n int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	return append([]HistoryEntry{}, h.entries[len(h.entries)-n:]...)
}

// Len returns the number of entries.
func (h *TaskHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear discards all entries.
func (h *TaskHistory) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}
