// Package activity records what each agent did during a research run.
//
// A Sink is passed explicitly into every stage and owned by the run that
// created it, so concurrent runs never see each other's entries.
package activity

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Level is the severity of an activity entry.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Entry is a single recorded activity.
type Entry struct {
	Agent   string    `json:"agent"`
	Message string    `json:"message"`
	Level   Level     `json:"type"`
	Time    time.Time `json:"timestamp"`
}

// Sink receives activity entries.
type Sink interface {
	Record(agent, message string, level Level)
}

// Func adapts a plain function to a Sink.
type Func func(agent, message string, level Level)

func (f Func) Record(agent, message string, level Level) { f(agent, message, level) }

// Discard drops every entry.
var Discard Sink = Func(func(string, string, Level) {})

// Log is an append-only in-memory Sink.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Record appends an entry.
func (l *Log) Record(agent, message string, level Level) {
	if level == "" {
		level = Info
	}
	l.mu.Lock()
	l.entries = append(l.entries, Entry{
		Agent:   agent,
		Message: message,
		Level:   level,
		Time:    l.now().UTC(),
	})
	l.mu.Unlock()
}

// Entries returns a copy of all entries in recording order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns the entries recorded after the first n.
func (l *Log) Since(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.entries) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]Entry, len(l.entries)-n)
	copy(out, l.entries[n:])
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

type multi []Sink

func (m multi) Record(agent, message string, level Level) {
	for _, s := range m {
		s.Record(agent, message, level)
	}
}

// Multi fans every entry out to all non-nil sinks in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// LoggerSink mirrors entries into a process logger.
type LoggerSink struct {
	Logger *log.Logger
}

func (s LoggerSink) Record(agent, message string, level Level) {
	l := s.Logger
	if l == nil {
		l = log.Default()
	}
	switch level {
	case Error:
		l.Error(message, "agent", agent)
	case Warning:
		l.Warn(message, "agent", agent)
	default:
		l.Info(message, "agent", agent, "type", string(level))
	}
}
