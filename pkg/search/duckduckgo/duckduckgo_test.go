package duckduckgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/net/html"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div id="links" class="results">
  <div class="result results_links result--ad">
    <h2 class="result__title"><a class="result__a" href="https://ads.example">Sponsored thing</a></h2>
    <a class="result__snippet">Buy now</a>
  </div>
  <div class="result results_links results_links_deep web-result">
    <div class="links_main result__body">
      <h2 class="result__title"><a rel="nofollow" class="result__a" href="https://go.dev">The <b>Go</b> Programming Language</a></h2>
      <a class="result__snippet" href="https://go.dev">Go is an open source
        programming language.</a>
    </div>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://go.dev/doc">Documentation</a></h2>
    <a class="result__snippet">Learn <b>Go</b>.</a>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://go.dev/blog">Blog</a></h2>
  </div>
</div>
</body></html>`

func TestParseResults_SkipsAdsAndNormalizesText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(resultsPage))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := ParseResults(doc, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d: %+v", len(got), got)
	}
	if got[0].Title != "The Go Programming Language" {
		t.Errorf("title = %q", got[0].Title)
	}
	if got[0].Body != "Go is an open source programming language." {
		t.Errorf("body = %q", got[0].Body)
	}
	if got[2].Body != "" {
		t.Errorf("expected empty body for result without snippet, got %q", got[2].Body)
	}
}

func TestParseResults_RespectsMax(t *testing.T) {
	doc, _ := html.Parse(strings.NewReader(resultsPage))
	if got := ParseResults(doc, 1); len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
}

func TestSearch_PostsQuery(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = r.ParseForm()
		gotQuery = r.PostForm.Get("q")
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	p := New(3)
	p.BaseURL = srv.URL
	p.HTTPClient = srv.Client()

	got, err := p.Search(context.Background(), "golang concurrency")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "golang concurrency" {
		t.Errorf("q = %q", gotQuery)
	}
	if gotUA == "" {
		t.Error("expected a User-Agent header")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
}

func TestSearch_RetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	p := New(5)
	p.BaseURL = srv.URL
	p.HTTPClient = srv.Client()

	_, err := p.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should mention status, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("expected a retry, got %d calls", n)
	}
}

func TestNew_ClampsMaxResults(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultMaxResults},
		{-4, DefaultMaxResults},
		{1, 3},
		{3, 3},
		{7, 7},
		{10, 10},
		{50, 10},
	}
	for _, tt := range tests {
		if p := New(tt.in); p.MaxResults != tt.want {
			t.Errorf("New(%d).MaxResults = %d, want %d", tt.in, p.MaxResults, tt.want)
		}
	}
}
