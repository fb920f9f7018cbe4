// Package duckduckgo implements search.Provider against the DuckDuckGo HTML
// endpoint, which needs no API key.
package duckduckgo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"golang.org/x/net/html"

	"github.com/jxucoder/researcher/pkg/search"
)

const (
	DefaultBaseURL    = "https://html.duckduckgo.com/html/"
	DefaultMaxResults = 5
	MinMaxResults     = 3
	MaxMaxResults     = 10
	userAgent         = "Mozilla/5.0 (X11; Linux x86_64) researcher/1.0"
)

// Provider searches DuckDuckGo and scrapes the result list.
type Provider struct {
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client

	retryConfig retry.Config
}

// New creates a provider returning at most maxResults hits per query.
// maxResults <= 0 selects DefaultMaxResults; other values are clamped to
// [MinMaxResults, MaxMaxResults].
func New(maxResults int) *Provider {
	return &Provider{
		BaseURL:    DefaultBaseURL,
		MaxResults: ClampMaxResults(maxResults),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		retryConfig: retry.Config{
			MaxAttempts:   2,
			InitialDelay:  500 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// ClampMaxResults maps n into [MinMaxResults, MaxMaxResults]; n <= 0 selects
// DefaultMaxResults.
func ClampMaxResults(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxResults
	case n < MinMaxResults:
		return MinMaxResults
	case n > MaxMaxResults:
		return MaxMaxResults
	}
	return n
}

// Search fetches the result page for query.
func (p *Provider) Search(ctx context.Context, query string) ([]search.Result, error) {
	r := retry.New[[]search.Result](p.retryConfig)
	results, err := r.Do(ctx, func(ctx context.Context) ([]search.Result, error) {
		return p.fetch(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search %q: %w", query, err)
	}
	return results, nil
}

func (p *Provider) fetch(ctx context.Context, query string) ([]search.Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("error (%d): %s", resp.StatusCode, string(body))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}
	return ParseResults(doc, p.MaxResults), nil
}

// ParseResults extracts up to max organic results from a DuckDuckGo HTML page.
// Sponsored blocks are skipped.
func ParseResults(doc *html.Node, max int) []search.Result {
	var results []search.Result
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if len(results) >= max {
			return false
		}
		if n.Type == html.ElementNode && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results
}

func parseResult(n *html.Node) (search.Result, bool) {
	var r search.Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a") && r.Title == "":
				r.Title = textContent(n)
				return
			case hasClass(n, "result__snippet") && r.Body == "":
				r.Body = textContent(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r, r.Title != ""
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
