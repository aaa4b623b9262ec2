package logging

import (
	"strings"
	"sync"
)

type Entry struct {
	Level   string
	Module  string
	Message string
}

// Recorder keeps every message in memory so tests can assert on what was
// logged.
type Recorder struct {
	mu      sync.Mutex
	Entries []Entry
}

func (r *Recorder) add(level, module, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, Entry{Level: level, Module: module, Message: message})
}

func (r *Recorder) Debug(message string, module string) { r.add("DEBUG", module, message) }
func (r *Recorder) Info(message string, module string)  { r.add("INFO", module, message) }
func (r *Recorder) Warn(message string, module string)  { r.add("WARN", module, message) }
func (r *Recorder) Error(message string)                { r.add("ERROR", "", message) }

// Count returns how many entries of the given level contain substr.
func (r *Recorder) Count(level string, substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}
