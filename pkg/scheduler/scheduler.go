// Package scheduler provides batch and recurring research jobs.
// Jobs are defined as YAML files in a configurable directory; each lists
// topics that are researched on every run of the job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/jxucoder/researcher/pkg/model"
)

// MinInterval is the shortest accepted `every` value.
const MinInterval = time.Minute

// Runner researches a single topic to completion.
type Runner interface {
	Research(ctx context.Context, topic string, depth model.Depth) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, topic string, depth model.Depth) error

// Research calls f.
func (f RunnerFunc) Research(ctx context.Context, topic string, depth model.Depth) error {
	return f(ctx, topic, depth)
}

// Duration is a time.Duration read from YAML strings such as "6h" or "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

// Job defines a research batch from a YAML file. A job without `every`
// runs only when triggered explicitly (e.g. `researcher batch`).
type Job struct {
	Name   string      `yaml:"name"`
	Every  Duration    `yaml:"every,omitempty"`
	Depth  model.Depth `yaml:"depth,omitempty"`
	Topics []string    `yaml:"topics"`
}

// Interval returns the job's repeat interval, or 0 if it is not recurring.
func (j Job) Interval() time.Duration { return time.Duration(j.Every) }

// Scheduler manages jobs and triggers research runs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	runner  Runner
	jobsDir string
	logger  *log.Logger
}

// New creates a new Scheduler that reads jobs from the given directory.
func New(jobsDir string, runner Runner, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		jobsDir: jobsDir,
		runner:  runner,
		logger:  logger.WithPrefix("scheduler"),
	}
}

// Dir returns the jobs directory.
func (s *Scheduler) Dir() string { return s.jobsDir }

// LoadJobs reads all .yaml files from the jobs directory.
func (s *Scheduler) LoadJobs() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = nil

	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading jobs directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(s.jobsDir, name)
		job, err := parseJobFile(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		if job.Name == "" {
			job.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		s.jobs = append(s.jobs, *job)
	}

	return nil
}

// Jobs returns a copy of the loaded jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Job, len(s.jobs))
	copy(cp, s.jobs)
	return cp
}

// RunJob researches every topic of the job in order. A failed topic does
// not stop the rest; all failures are returned joined.
func (s *Scheduler) RunJob(ctx context.Context, job Job) error {
	s.logger.Info("running job", "job", job.Name, "topics", len(job.Topics), "depth", job.Depth)

	var errs []error
	for _, topic := range job.Topics {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.runner.Research(ctx, topic, job.Depth); err != nil {
			s.logger.Error("topic failed", "job", job.Name, "topic", topic, "err", err)
			errs = append(errs, fmt.Errorf("researching %q: %w", topic, err))
			continue
		}
		s.logger.Info("topic complete", "job", job.Name, "topic", topic)
	}
	return errors.Join(errs...)
}

// RunAll runs every loaded job once, in file order.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var errs []error
	for _, job := range s.Jobs() {
		if err := s.RunJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts a ticker per recurring job and blocks until ctx is canceled.
// Runs of the same job never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.Jobs() {
		if job.Interval() <= 0 {
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.Jobs()))
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunJob(ctx, job); err != nil {
				s.logger.Warn("job finished with errors", "job", job.Name, "err", err)
			}
		}
	}
}

func parseJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	var topics []string
	for _, t := range job.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	job.Topics = topics
	if len(job.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if job.Every != 0 && job.Interval() < MinInterval {
		return nil, fmt.Errorf("every must be at least %s", MinInterval)
	}
	if job.Depth != "" && !job.Depth.Valid() {
		return nil, fmt.Errorf("unknown depth %q", job.Depth)
	}

	return &job, nil
}
