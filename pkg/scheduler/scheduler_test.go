package scheduler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jxucoder/researcher/pkg/model"
)

type call struct {
	topic string
	depth model.Depth
}

type mockRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (m *mockRunner) Research(_ context.Context, topic string, depth model.Depth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{topic, depth})
	return m.fail[topic]
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newScheduler(dir string, r Runner) *Scheduler {
	return New(dir, r, log.New(io.Discard))
}

func writeJob(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJobFile(t *testing.T) {
	path := writeJob(t, t.TempDir(), "test.yaml", `every: 6h
depth: deep
topics:
  - solid-state batteries
  - "  "
  - grid-scale storage
`)

	job, err := parseJobFile(path)
	if err != nil {
		t.Fatalf("parseJobFile: %v", err)
	}
	if job.Interval() != 6*time.Hour {
		t.Fatalf("expected interval 6h, got %s", job.Interval())
	}
	if job.Depth != model.DepthDeep {
		t.Fatalf("expected depth deep, got %q", job.Depth)
	}
	if len(job.Topics) != 2 || job.Topics[1] != "grid-scale storage" {
		t.Fatalf("unexpected topics: %q", job.Topics)
	}
}

func TestParseJobFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no topics", "every: 1h\n", "topic"},
		{"blank topics", "topics: [\"\", \" \"]\n", "topic"},
		{"bad duration", "every: soon\ntopics: [a]\n", "invalid duration"},
		{"too frequent", "every: 10s\ntopics: [a]\n", "at least"},
		{"bad depth", "depth: extreme\ntopics: [a]\n", "unknown depth"},
		{"bad yaml", "topics: [a\n", "invalid YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeJob(t, t.TempDir(), "bad.yaml", tt.content)
			_, err := parseJobFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadJobs(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "weekly.yaml", "every: 168h\ntopics: [rust async runtimes]\n")
	writeJob(t, dir, "named.yml", "name: energy\ntopics: [fusion]\n")
	writeJob(t, dir, "readme.txt", "ignore me")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(dir, &mockRunner{})
	if err := s.LoadJobs(); err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	names := map[string]bool{}
	for _, j := range jobs {
		names[j.Name] = true
	}
	if !names["weekly"] || !names["energy"] {
		t.Fatalf("unexpected job names: %v", names)
	}
}

func TestLoadJobs_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "broken.yaml", "every: 1h\n")

	s := newScheduler(dir, &mockRunner{})
	err := s.LoadJobs()
	if err == nil || !strings.Contains(err.Error(), "broken.yaml") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func TestLoadJobs_EmptyDir(t *testing.T) {
	s := newScheduler(t.TempDir(), &mockRunner{})

	if err := s.LoadJobs(); err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Fatal("expected 0 jobs for empty dir")
	}
}

func TestLoadJobs_NonexistentDir(t *testing.T) {
	s := newScheduler("/nonexistent/path", &mockRunner{})

	if err := s.LoadJobs(); err != nil {
		t.Fatalf("LoadJobs should not error for nonexistent dir: %v", err)
	}
}

func TestRunJob_ContinuesAfterFailure(t *testing.T) {
	r := &mockRunner{fail: map[string]error{"b": errors.New("rate limited")}}
	s := newScheduler("", r)

	err := s.RunJob(context.Background(), Job{Name: "test", Depth: model.DepthQuick, Topics: []string{"a", "b", "c"}})
	if err == nil || !strings.Contains(err.Error(), `researching "b": rate limited`) {
		t.Fatalf("expected joined error for b, got %v", err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(r.calls))
	}
	if r.calls[2].topic != "c" || r.calls[2].depth != model.DepthQuick {
		t.Fatalf("unexpected last call: %+v", r.calls[2])
	}
}

func TestRunJob_StopsWhenCanceled(t *testing.T) {
	r := &mockRunner{}
	s := newScheduler("", r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunJob(ctx, Job{Name: "test", Topics: []string{"a", "b"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(r.calls))
	}
}

func TestRunAll(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "a.yaml", "topics: [one, two]\n")
	writeJob(t, dir, "b.yaml", "every: 1h\ntopics: [three]\n")

	r := &mockRunner{}
	s := newScheduler(dir, r)
	if err := s.LoadJobs(); err != nil {
		t.Fatal(err)
	}
	if err := s.RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(r.calls))
	}
}

func TestRun_TicksRecurringJobs(t *testing.T) {
	r := &mockRunner{}
	s := newScheduler("", r)
	// Set jobs directly to use an interval below the file minimum.
	s.jobs = []Job{
		{Name: "fast", Every: Duration(10 * time.Millisecond), Topics: []string{"x"}},
		{Name: "manual", Topics: []string{"never"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for r.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("recurring job did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.topic == "never" {
			t.Fatal("manual job must not be scheduled")
		}
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	v, err := Duration(90 * time.Minute).MarshalYAML()
	if err != nil || v != "1h30m0s" {
		t.Fatalf("MarshalYAML = %v, %v", v, err)
	}
}
