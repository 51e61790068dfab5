package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Entry is a captured log line.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Recorder captures log lines in memory. It is intended for tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Log implements Logger.
func (r *Recorder) Log(_ context.Context, level slog.Level, msg string, attrs ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Attrs: normalizeAttrs(attrs)})
}

// Entries returns a copy of the captured lines.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many lines carry msg.
func (r *Recorder) Count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Message == msg {
			n++
		}
	}
	return n
}

// Messages returns the captured messages in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Message)
	}
	return out
}
