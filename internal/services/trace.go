package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxTraceEntries bounds the in-memory trace buffer. The buffer is cleared at
// the start of every user-initiated batch action, so the cap only matters for
// very large portfolios.
const maxTraceEntries = 5000

// TraceEntry is one logged resolution attempt
type TraceEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Holding   string    `json:"holding"`
	Detail    string    `json:"detail"`
	Success   bool      `json:"success"`
}

// DebugTrace is a process-wide append-only log of resolution attempts.
// Writers append under a mutex; readers get a snapshot copy.
type DebugTrace struct {
	mu      sync.Mutex
	entries []TraceEntry
	dropped int
}

var trace = &DebugTrace{}

// Trace returns the process-wide debug trace
func Trace() *DebugTrace {
	return trace
}

// Clear empties the trace. Called at the start of each batch or test action.
func (t *DebugTrace) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.dropped = 0
}

// Append records one attempt. Detail is free text (URL, query, parsed value).
func (t *DebugTrace) Append(source, holding string, success bool, format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= maxTraceEntries {
		t.dropped++
		return
	}

	t.entries = append(t.entries, TraceEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Holding:   holding,
		Success:   success,
		Detail:    fmt.Sprintf(format, args...),
	})
}

// Entries returns a snapshot copy of the current trace
func (t *DebugTrace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Dropped returns how many entries were discarded after the buffer filled up
func (t *DebugTrace) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
