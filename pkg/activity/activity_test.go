package activity

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLog_RecordsInOrder(t *testing.T) {
	l := NewLog()
	l.Record("Research Agent", "Researching: go", Info)
	l.Record("Research Agent", "Found 4 sources", Success)
	l.Record("Writer Agent", "Error: boom", Error)

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Message != "Researching: go" || got[2].Agent != "Writer Agent" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[1].Level != Success {
		t.Errorf("level = %q, want success", got[1].Level)
	}
	if got[0].Time.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestLog_EmptyLevelDefaultsToInfo(t *testing.T) {
	l := NewLog()
	l.Record("a", "m", "")
	if got := l.Entries()[0].Level; got != Info {
		t.Errorf("level = %q, want info", got)
	}
}

func TestLog_EntriesIsSnapshot(t *testing.T) {
	l := NewLog()
	l.Record("a", "one", Info)
	snap := l.Entries()
	snap[0].Message = "mutated"
	l.Record("a", "two", Info)

	if len(snap) != 1 {
		t.Fatalf("snapshot grew to %d entries", len(snap))
	}
	if l.Entries()[0].Message != "one" {
		t.Fatal("mutating snapshot changed the log")
	}
}

func TestLog_InstancesAreIndependent(t *testing.T) {
	a, b := NewLog(), NewLog()
	a.Record("x", "only in a", Info)
	if b.Len() != 0 {
		t.Fatalf("log b should be empty, has %d entries", b.Len())
	}
}

func TestLog_SinceAndClear(t *testing.T) {
	l := NewLog()
	for _, m := range []string{"1", "2", "3"} {
		l.Record("a", m, Info)
	}
	rest := l.Since(1)
	if len(rest) != 2 || rest[0].Message != "2" {
		t.Fatalf("Since(1) = %+v", rest)
	}
	if l.Since(5) != nil {
		t.Fatal("Since past the end should be nil")
	}
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", l.Len())
	}
}

func TestLog_ConcurrentRecord(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("a", "m", Info)
		}()
	}
	wg.Wait()
	if l.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", l.Len())
	}
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a, b := NewLog(), NewLog()
	s := Multi(a, nil, b)
	s.Record("agent", "hello", Warning)
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("expected both sinks to receive entry, got %d and %d", a.Len(), b.Len())
	}
}

func TestLoggerSink_WritesAgentAndMessage(t *testing.T) {
	var buf bytes.Buffer
	s := LoggerSink{Logger: log.New(&buf)}
	s.Record("Writer Agent", "Report written", Success)
	s.Record("Writer Agent", "Error: boom", Error)

	out := buf.String()
	for _, want := range []string{"Report written", "Writer Agent", "Error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
