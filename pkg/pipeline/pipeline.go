// Package pipeline defines the Stage/Pipeline interfaces and the built-in
// stages of the research pipeline: query generation, search, synthesis,
// analysis, writing and verification.
package pipeline

import (
	"context"
	"fmt"

	"github.com/jxucoder/researcher/pkg/activity"
	"github.com/jxucoder/researcher/pkg/llm"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/search"
)

// Agent names used in activity entries.
const (
	AgentResearch    = "Research Agent"
	AgentAnalysis    = "Analysis Agent"
	AgentWriter      = "Writer Agent"
	AgentFactChecker = "Fact-Checker Agent"
)

// Token ceilings per stage.
const (
	QueryMaxTokens     = 150
	SynthesisMaxTokens = 1000
	AnalysisMaxTokens  = 1500
	WriterMaxTokens    = 2500
	VerifyMaxTokens    = 1000
)

// Context carries data through pipeline stages.
type Context struct {
	Ctx      context.Context
	Topic    string
	Depth    model.Depth
	Activity activity.Sink

	Queries      []string
	Results      []search.Result
	Synthesis    string
	Analysis     string
	Report       string
	Verification string
}

// Log records an activity entry for the run. A nil sink drops the entry.
func (c *Context) Log(agent, message string, level activity.Level) {
	if c.Activity != nil {
		c.Activity.Record(agent, message, level)
	}
}

// Stage is a single step in a pipeline.
type Stage interface {
	Name() string
	Execute(ctx *Context) error
}

// Pipeline executes a sequence of stages.
type Pipeline interface {
	Run(ctx *Context) error
}

// DefaultPipeline runs stages sequentially.
type DefaultPipeline struct {
	stages []Stage
}

// NewPipeline creates a pipeline from the given stages.
func NewPipeline(stages ...Stage) *DefaultPipeline {
	return &DefaultPipeline{stages: stages}
}

// Run executes all stages in order, stopping at the first failure.
func (p *DefaultPipeline) Run(ctx *Context) error {
	for _, s := range p.stages {
		if err := ctx.Ctx.Err(); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name(), err)
		}
		if err := s.Execute(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Stages returns the configured stages in execution order.
func (p *DefaultPipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Clients holds the completion client used by each agent. Research covers
// query generation and synthesis.
type Clients struct {
	Research    llm.Client
	Analysis    llm.Client
	Writer      llm.Client
	FactChecker llm.Client
}

// SameClient uses c for every agent.
func SameClient(c llm.Client) Clients {
	return Clients{Research: c, Analysis: c, Writer: c, FactChecker: c}
}

// NewResearchPipeline wires the six built-in stages.
func NewResearchPipeline(clients Clients, pool *search.Pool) *DefaultPipeline {
	return NewPipeline(
		NewQueryStage(clients.Research),
		NewSearchStage(pool),
		NewSynthesisStage(clients.Research),
		NewAnalysisStage(clients.Analysis),
		NewWriteStage(clients.Writer),
		NewVerifyStage(clients.FactChecker),
	)
}

// --- Built-in stages ---

// QueryStage turns the topic into search queries. Quick runs search for the
// topic verbatim; any model failure falls back to the topic as the only query.
type QueryStage struct {
	llm llm.Client
}

func NewQueryStage(client llm.Client) *QueryStage { return &QueryStage{llm: client} }

func (s *QueryStage) Name() string { return "queries" }

func (s *QueryStage) Execute(ctx *Context) error {
	ctx.Log(AgentResearch, "Researching: "+ctx.Topic, activity.Info)

	n := ctx.Depth.Queries()
	ctx.Queries = []string{ctx.Topic}
	if n > 1 {
		resp, err := s.llm.Complete(ctx.Ctx, QuerySystemPrompt, queryPrompt(ctx.Topic, n), QueryMaxTokens)
		switch q := ParseQueries(resp, n); {
		case err != nil:
			ctx.Log(AgentResearch, "Query generation failed, searching the topic: "+err.Error(), activity.Warning)
		case len(q) == 0:
			ctx.Log(AgentResearch, "No usable queries generated, searching the topic", activity.Warning)
		default:
			ctx.Queries = q
		}
	}

	ctx.Log(AgentResearch, fmt.Sprintf("Created %d search queries", len(ctx.Queries)), activity.Info)
	return nil
}

// SearchStage runs each query through the pool one after another and
// concatenates the results in query order. Failed searches contribute nothing.
type SearchStage struct {
	pool *search.Pool
}

func NewSearchStage(pool *search.Pool) *SearchStage { return &SearchStage{pool: pool} }

func (s *SearchStage) Name() string { return "search" }

func (s *SearchStage) Execute(ctx *Context) error {
	ctx.Results = nil
	for _, q := range ctx.Queries {
		ctx.Log(AgentResearch, "Searching: "+q, activity.Info)

		results, err := s.pool.Submit(ctx.Ctx, q).Wait(ctx.Ctx)
		if err != nil {
			if ctx.Ctx.Err() != nil {
				return fmt.Errorf("searching %q: %w", q, ctx.Ctx.Err())
			}
			ctx.Log(AgentResearch, "Search failed: "+err.Error(), activity.Warning)
			continue
		}
		ctx.Results = append(ctx.Results, results...)
	}

	ctx.Log(AgentResearch, fmt.Sprintf("Found %d sources", len(ctx.Results)), activity.Success)
	return nil
}

// SynthesisStage summarizes the search results. It never fails.
type SynthesisStage struct {
	llm llm.Client
}

func NewSynthesisStage(client llm.Client) *SynthesisStage { return &SynthesisStage{llm: client} }

func (s *SynthesisStage) Name() string { return "synthesis" }

func (s *SynthesisStage) Execute(ctx *Context) error {
	if len(ctx.Results) == 0 {
		ctx.Synthesis = "No information found for: " + ctx.Topic
		ctx.Log(AgentResearch, "No sources to synthesize", activity.Warning)
		return nil
	}

	summary, err := s.llm.Complete(ctx.Ctx, SynthesisSystemPrompt, synthesisPrompt(ctx.Topic, ctx.Results), SynthesisMaxTokens)
	if err != nil {
		ctx.Synthesis = fmt.Sprintf("Found %d sources about %s", len(ctx.Results), ctx.Topic)
		ctx.Log(AgentResearch, "Synthesis failed, using a source count: "+err.Error(), activity.Warning)
		return nil
	}
	ctx.Synthesis = summary
	return nil
}

// AnalysisStage extracts themes and insights from the synthesis.
type AnalysisStage struct {
	llm llm.Client
}

func NewAnalysisStage(client llm.Client) *AnalysisStage { return &AnalysisStage{llm: client} }

func (s *AnalysisStage) Name() string { return "analysis" }

func (s *AnalysisStage) Execute(ctx *Context) error {
	ctx.Log(AgentAnalysis, "Analyzing research data...", activity.Info)

	if ctx.Synthesis == "" {
		ctx.Analysis = "Not enough to analyze."
		return nil
	}

	analysis, err := s.llm.Complete(ctx.Ctx, AnalysisSystemPrompt, analysisPrompt(ctx.Topic, ctx.Synthesis), AnalysisMaxTokens)
	if err != nil {
		ctx.Log(AgentAnalysis, "Error: "+err.Error(), activity.Error)
		return fmt.Errorf("analysis failed: %w", err)
	}

	ctx.Analysis = analysis
	ctx.Log(AgentAnalysis, "Analysis complete", activity.Success)
	return nil
}

// WriteStage produces the markdown report.
type WriteStage struct {
	llm llm.Client
}

func NewWriteStage(client llm.Client) *WriteStage { return &WriteStage{llm: client} }

func (s *WriteStage) Name() string { return "write" }

func (s *WriteStage) Execute(ctx *Context) error {
	ctx.Log(AgentWriter, "Writing report...", activity.Info)

	report, err := s.llm.Complete(ctx.Ctx, WriterSystemPrompt, writerPrompt(ctx.Topic, ctx.Synthesis, ctx.Analysis), WriterMaxTokens)
	if err != nil {
		ctx.Log(AgentWriter, "Error: "+err.Error(), activity.Error)
		return fmt.Errorf("writing failed: %w", err)
	}

	ctx.Report = report
	ctx.Log(AgentWriter, "Report written", activity.Success)
	return nil
}

// VerifyStage reviews the report and rates confidence.
type VerifyStage struct {
	llm llm.Client
}

func NewVerifyStage(client llm.Client) *VerifyStage { return &VerifyStage{llm: client} }

func (s *VerifyStage) Name() string { return "verify" }

func (s *VerifyStage) Execute(ctx *Context) error {
	ctx.Log(AgentFactChecker, "Checking report...", activity.Info)

	if ctx.Report == "" {
		ctx.Verification = "No report to check."
		return nil
	}

	verification, err := s.llm.Complete(ctx.Ctx, VerifySystemPrompt, verifyPrompt(ctx.Topic, ctx.Report), VerifyMaxTokens)
	if err != nil {
		ctx.Log(AgentFactChecker, "Error: "+err.Error(), activity.Error)
		return fmt.Errorf("verification failed: %w", err)
	}

	ctx.Verification = verification
	ctx.Log(AgentFactChecker, "Verification done", activity.Success)
	return nil
}
