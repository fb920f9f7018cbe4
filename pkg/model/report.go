// Package model holds the data types shared across the research pipeline,
// persistence and delivery layers.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jxucoder/researcher/pkg/activity"
	"github.com/jxucoder/researcher/pkg/search"
)

// Depth controls how many search queries a run issues.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth maps a string to a Depth; unknown values become DepthStandard.
func ParseDepth(s string) Depth {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case DepthQuick, DepthStandard, DepthDeep:
		return d
	default:
		return DepthStandard
	}
}

// Valid reports whether d is one of the known presets.
func (d Depth) Valid() bool {
	return d == DepthQuick || d == DepthStandard || d == DepthDeep
}

// Queries returns the number of search queries for the depth.
func (d Depth) Queries() int {
	switch d {
	case DepthQuick:
		return 1
	case DepthDeep:
		return 3
	default:
		return 2
	}
}

// Report is the output of one research run.
type Report struct {
	ID           string           `json:"id"`
	Topic        string           `json:"topic"`
	Depth        Depth            `json:"depth"`
	Queries      []string         `json:"queries"`
	Sources      []search.Result  `json:"sources"`
	Synthesis    string           `json:"synthesis"`
	Analysis     string           `json:"analysis"`
	Body         string           `json:"report"`
	Verification string           `json:"verification"`
	Activity     []activity.Entry `json:"logs"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Summary is the listing view of a stored report.
type Summary struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Depth     Depth     `json:"depth"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns the listing view of r.
func (r *Report) Summary() Summary {
	return Summary{ID: r.ID, Topic: r.Topic, Depth: r.Depth, CreatedAt: r.CreatedAt}
}

// Filename is the download name for the rendered report.
func (r *Report) Filename() string {
	t := r.CreatedAt
	if t.IsZero() {
		t = time.Now()
	}
	return "report_" + t.Format("20060102_150405") + ".md"
}

// Markdown renders the report as a standalone document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", r.Topic)
	fmt.Fprintf(&b, "*Generated %s · depth: %s*\n\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Depth)

	b.WriteString(strings.TrimSpace(r.Body))
	b.WriteString("\n")

	if v := strings.TrimSpace(r.Verification); v != "" {
		b.WriteString("\n---\n\n## Quality Assessment\n\n")
		b.WriteString(v)
		b.WriteString("\n")
	}

	if len(r.Sources) > 0 {
		b.WriteString("\n---\n\n## Sources\n\n")
		for i, s := range r.Sources {
			fmt.Fprintf(&b, "%d. **%s**", i+1, s.Title)
			if s.Body != "" {
				fmt.Fprintf(&b, " - %s", Truncate(s.Body, 160))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Confidence extracts the HIGH / MEDIUM / LOW rating from the verification
// text, or "" when none is present.
func (r *Report) Confidence() string {
	upper := strings.ToUpper(r.Verification)
	idx := strings.LastIndex(upper, "CONFIDENCE")
	if idx < 0 {
		return ""
	}
	rest := upper[idx:]
	best, bestPos := "", len(rest)
	for _, level := range []string{"HIGH", "MEDIUM", "LOW"} {
		if p := strings.Index(rest, level); p >= 0 && p < bestPos {
			best, bestPos = level, p
		}
	}
	return best
}

// Clip returns at most n runes of s.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return Clip(s, n)
	}
	return Clip(s, n-3) + "..."
}

// SafeTopic reduces a topic to letters, digits, '-' and '_' for use in file
// names. Spaces become underscores and the result is capped at 50 runes.
func SafeTopic(topic string) string {
	var b strings.Builder
	for _, c := range topic {
		switch {
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '-' || c == '_':
			b.WriteRune(c)
		case c == ' ':
			b.WriteRune('_')
		}
	}
	return Clip(b.String(), 50)
}
