package pipeline

import (
	"fmt"
	"strings"

	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/search"
)

// System prompts for each stage.
const (
	QuerySystemPrompt     = "You create search queries."
	SynthesisSystemPrompt = "You summarize research clearly and concisely."
	AnalysisSystemPrompt  = "You are an expert analyst. Find deep insights and patterns."
	WriterSystemPrompt    = "You are a professional report writer. Write clear, well-structured reports."
	VerifySystemPrompt    = "You are a quality checker. Review content carefully and fairly."
)

// Limits applied when building the synthesis prompt.
const (
	maxSynthesisSources = 10
	maxSourceBody       = 300
)

func queryPrompt(topic string, n int) string {
	return fmt.Sprintf(`Create %d different search queries for researching: %s

Make them diverse to cover different angles.
Keep each query short (3-8 words).
Return only the queries, one per line.`, n, topic)
}

func synthesisPrompt(topic string, results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i >= maxSynthesisSources {
			break
		}
		title, body := r.Title, r.Body
		if title == "" {
			title = "No title"
		}
		if body == "" {
			body = "No description"
		}
		fmt.Fprintf(&b, "\n**Source %d:**\nTitle: %s\nContent: %s...\n", i+1, title, model.Clip(body, maxSourceBody))
	}

	return fmt.Sprintf(`Summarize research findings about: %s

%s

Create a summary with:
1. Key findings
2. Important facts
3. Main themes`, topic, b.String())
}

func analysisPrompt(topic, synthesis string) string {
	return fmt.Sprintf(`Analyze this research about: %s

Research Summary:
%s

Provide analysis with:

1. **Main Themes**: What are the key themes?
2. **Key Insights**: What are the important discoveries?
3. **Patterns**: What patterns do you see?
4. **Implications**: What does this mean?
5. **Future Outlook**: Where is this heading?

Be thorough and insightful.`, topic, synthesis)
}

func writerPrompt(topic, synthesis, analysis string) string {
	return fmt.Sprintf(`Write a comprehensive research report about: %s

Research Findings:
%s

Analysis:
%s

Create a professional report with these sections:

## Executive Summary
Brief overview of the report

## Introduction
Background and context

## Key Findings
Main discoveries from research

## Analysis & Insights
Deep dive into what the findings mean

## Current Trends
What's happening now

## Challenges & Considerations
Important factors to consider

## Future Outlook
What to expect going forward

## Conclusions
Summary of main points

## Recommendations
Actionable suggestions

Use clear markdown formatting with proper headers.`, topic, synthesis, analysis)
}

func verifyPrompt(topic, report string) string {
	return fmt.Sprintf(`Review this research report about: %s

Report:
%s

Provide a quality assessment:

## Logical Consistency
- Is the report well-structured?
- Do arguments make sense?
- Any contradictions?

## Content Quality
- Is information clear?
- Is it comprehensive?
- Are claims supported?

## Balance
- Multiple perspectives shown?
- Any obvious bias?

## Strengths
- What's done well?

## Areas for Improvement
- What could be better?

## Overall Assessment
Rate confidence level: HIGH / MEDIUM / LOW
Explain your rating.`, topic, report)
}

// ParseQueries turns a model response into at most n search queries: one per
// line, with leading list markers (digits, '.', '-', ')' and spaces) removed.
func ParseQueries(response string, n int) []string {
	var queries []string
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "0123456789.-) ")
		if line != "" {
			queries = append(queries, line)
		}
	}
	if len(queries) > n {
		queries = queries[:n]
	}
	return queries
}
