// Package engine provides the research run orchestration.
// It depends only on interfaces (store, eventbus, pipeline, publish).
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jxucoder/researcher/pkg/activity"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/pipeline"
	"github.com/jxucoder/researcher/pkg/publish"
	"github.com/jxucoder/researcher/pkg/store"
)

// AgentCoordinator is the agent name for entries the engine itself records.
const AgentCoordinator = "Coordinator"

var (
	// ErrEmptyTopic is returned when a run is requested without a topic.
	ErrEmptyTopic = errors.New("topic is required")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// Config holds engine-specific configuration.
type Config struct {
	// DefaultDepth is used when a run does not name one (default standard).
	DefaultDepth model.Depth
	// PublishTimeout bounds delivery to all publishers (default 30s).
	PublishTimeout time.Duration
	// MaxRuns caps how many finished runs are kept in memory (default 100).
	MaxRuns int
}

func (c *Config) applyDefaults() {
	if !c.DefaultDepth.Valid() {
		c.DefaultDepth = model.DepthStandard
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.MaxRuns <= 0 {
		c.MaxRuns = 100
	}
}

type runState struct {
	run    model.Run
	events []*model.Event
	nextID int64
}

// Engine runs research pipelines, persists the reports and fans them out to
// publishers.
type Engine struct {
	config     Config
	store      store.ReportStore
	bus        eventbus.Bus
	pipeline   pipeline.Pipeline
	publishers []publish.Publisher
	logger     *log.Logger
	now        func() time.Time

	mu    sync.RWMutex
	runs  map[string]*runState
	order []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine with all dependencies. st may be nil to skip
// persistence; logger may be nil to use the default logger.
func New(
	cfg Config,
	st store.ReportStore,
	bus eventbus.Bus,
	p pipeline.Pipeline,
	publishers []publish.Publisher,
	logger *log.Logger,
) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if bus == nil {
		bus = eventbus.NewInMemoryBus()
	}
	return &Engine{
		config:     cfg,
		store:      st,
		bus:        bus,
		pipeline:   p,
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
		runs:       make(map[string]*runState),
	}
}

// Start binds background runs to ctx. Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels all background runs and waits for them to finish.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Store returns the report store.
func (e *Engine) Store() store.ReportStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Publishers returns the configured publishers.
func (e *Engine) Publishers() []publish.Publisher { return e.publishers }

// RunOption adjusts a single research run.
type RunOption func(*runOptions)

type runOptions struct {
	sink    activity.Sink
	save    bool
	publish bool
}

// WithSink mirrors the run's activity into s as it happens.
func WithSink(s activity.Sink) RunOption {
	return func(o *runOptions) { o.sink = s }
}

// WithoutSave skips persisting the report.
func WithoutSave() RunOption {
	return func(o *runOptions) { o.save = false }
}

// WithoutPublish skips delivering the report to publishers.
func WithoutPublish() RunOption {
	return func(o *runOptions) { o.publish = false }
}

// Research runs the full pipeline synchronously and returns the report. The
// report is saved and published unless disabled by opts; publish failures are
// logged and do not fail the run.
func (e *Engine) Research(ctx context.Context, topic string, depth model.Depth, opts ...RunOption) (*model.Report, error) {
	o := runOptions{save: true, publish: true}
	for _, fn := range opts {
		fn(&o)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	r, _, err := e.research(ctx, topic, e.depth(depth), o)
	return r, err
}

// StartRun creates a run and executes it in the background. Progress is
// streamed on the bus under the returned run's ID.
func (e *Engine) StartRun(topic string, depth model.Depth) (*model.Run, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	now := e.now().UTC()
	st := &runState{run: model.Run{
		ID:        uuid.New().String()[:8],
		Topic:     topic,
		Depth:     e.depth(depth),
		Status:    model.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	e.mu.Lock()
	e.runs[st.run.ID] = st
	e.order = append(e.order, st.run.ID)
	e.pruneLocked()
	ctx := e.ctx
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	run := st.run
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.executeRun(ctx, run.ID)
	}()

	return &run, nil
}

// GetRun returns a snapshot of a run.
func (e *Engine) GetRun(id string) (*model.Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	run := st.run
	run.Published = append([]string(nil), st.run.Published...)
	return &run, nil
}

// ListRuns returns snapshots of all tracked runs, newest first.
func (e *Engine) ListRuns() []*model.Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Run, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		run := e.runs[e.order[i]].run
		out = append(out, &run)
	}
	return out
}

// Events returns the events recorded for a run with ID greater than afterID.
func (e *Engine) Events(runID string, afterID int64) ([]*model.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	var out []*model.Event
	for _, ev := range st.events {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (e *Engine) executeRun(ctx context.Context, runID string) {
	run, err := e.GetRun(runID)
	if err != nil {
		e.logger.Error("run vanished before start", "run", runID)
		return
	}

	e.updateRun(runID, func(r *model.Run) { r.Status = model.RunRunning })
	e.emitEvent(runID, model.EventStatus, "Research started", nil)

	sink := activity.Func(func(agent, message string, level activity.Level) {
		if level == "" {
			level = activity.Info
		}
		entry := &activity.Entry{Agent: agent, Message: message, Level: level, Time: e.now().UTC()}
		e.updateRun(runID, func(r *model.Run) { r.Stage = agent })
		e.emitEvent(runID, model.EventActivity, message, entry)
	})

	report, published, err := e.research(ctx, run.Topic, run.Depth, runOptions{sink: sink, save: true, publish: true})
	if err != nil {
		e.failRun(runID, err)
		return
	}

	e.updateRun(runID, func(r *model.Run) {
		r.Status = model.RunComplete
		r.ReportID = report.ID
		r.Published = published
	})
	e.emitEvent(runID, model.EventDone, report.ID, nil)
	e.logger.Info("run complete", "run", runID, "report", report.ID, "topic", run.Topic)
}

// research executes the pipeline and returns the report plus the locations
// it was published to.
func (e *Engine) research(ctx context.Context, topic string, depth model.Depth, o runOptions) (*model.Report, []string, error) {
	runLog := activity.NewLog()
	sink := activity.Multi(runLog, o.sink)

	sink.Record(AgentCoordinator, fmt.Sprintf("Starting %s research: %s", depth, topic), activity.Info)

	pctx := &pipeline.Context{Ctx: ctx, Topic: topic, Depth: depth, Activity: sink}
	if err := e.pipeline.Run(pctx); err != nil {
		sink.Record(AgentCoordinator, "Research failed: "+err.Error(), activity.Error)
		return nil, nil, fmt.Errorf("running research pipeline: %w", err)
	}

	report := &model.Report{
		Topic:        topic,
		Depth:        depth,
		Queries:      pctx.Queries,
		Sources:      pctx.Results,
		Synthesis:    pctx.Synthesis,
		Analysis:     pctx.Analysis,
		Body:         pctx.Report,
		Verification: pctx.Verification,
		CreatedAt:    e.now().UTC(),
	}
	sink.Record(AgentCoordinator, "Research complete", activity.Success)
	report.Activity = runLog.Entries()

	saved := o.save && e.store != nil
	if saved {
		if _, err := e.store.Save(report); err != nil {
			return report, nil, fmt.Errorf("saving report: %w", err)
		}
	}

	if !o.publish || len(e.publishers) == 0 {
		return report, nil, nil
	}
	published := e.publishReport(ctx, report, sink)

	// Publishing needs the saved ID; store the publish outcome with the report.
	report.Activity = runLog.Entries()
	if saved {
		if _, err := e.store.Save(report); err != nil {
			e.logger.Warn("updating saved report failed", "report", report.ID, "err", err)
		}
	}
	return report, published, nil
}

func (e *Engine) publishReport(ctx context.Context, r *model.Report, sink activity.Sink) []string {
	if len(e.publishers) == 0 {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, e.config.PublishTimeout)
	defer cancel()

	results, _ := publish.All(pctx, r, e.publishers...)
	var locations []string
	for _, res := range results {
		if res.Err != nil {
			e.logger.Warn("publish failed", "publisher", res.Publisher, "report", r.ID, "err", res.Err)
			sink.Record(AgentCoordinator, fmt.Sprintf("Publishing to %s failed", res.Publisher), activity.Warning)
			continue
		}
		if res.Location != "" {
			locations = append(locations, res.Location)
		}
		sink.Record(AgentCoordinator, "Published to "+res.Publisher, activity.Success)
	}
	return locations
}

func (e *Engine) depth(d model.Depth) model.Depth {
	if d == "" {
		return e.config.DefaultDepth
	}
	return model.ParseDepth(string(d))
}

// --- Helpers ---

func (e *Engine) failRun(runID string, err error) {
	e.logger.Error("run failed", "run", runID, "err", err)
	e.updateRun(runID, func(r *model.Run) {
		r.Status = model.RunError
		r.Error = err.Error()
	})
	e.emitEvent(runID, model.EventError, err.Error(), nil)
}

func (e *Engine) updateRun(runID string, fn func(*model.Run)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.runs[runID]; ok {
		fn(&st.run)
		st.run.UpdatedAt = e.now().UTC()
	}
}

func (e *Engine) emitEvent(runID, eventType, data string, entry *activity.Entry) {
	e.mu.Lock()
	st, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return
	}
	st.nextID++
	event := &model.Event{
		ID:        st.nextID,
		RunID:     runID,
		Type:      eventType,
		Data:      data,
		Entry:     entry,
		CreatedAt: e.now().UTC(),
	}
	st.events = append(st.events, event)
	e.mu.Unlock()

	e.bus.Publish(runID, event)
}

// pruneLocked drops the oldest finished runs beyond MaxRuns.
func (e *Engine) pruneLocked() {
	excess := len(e.order) - e.config.MaxRuns
	if excess <= 0 {
		return
	}
	kept := e.order[:0]
	for _, id := range e.order {
		if excess > 0 && e.runs[id].run.Status.Done() {
			delete(e.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}
