package gist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jxucoder/researcher/pkg/model"
)

func TestPublish_CreatesSecretGist(t *testing.T) {
	var got struct {
		Description string `json:"description"`
		Public      bool   `json:"public"`
		Files       map[string]struct {
			Content string `json:"content"`
		} `json:"files"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/gists" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc","html_url":"https://gist.github.com/abc"}`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	p := New("tok", WithBaseURL(u))

	r := &model.Report{
		Topic:     "edge computing",
		Body:      "## Executive Summary\nbody",
		CreatedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	loc, err := p.Publish(context.Background(), r)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if loc != "https://gist.github.com/abc" {
		t.Fatalf("location = %q", loc)
	}
	if auth != "Bearer tok" {
		t.Errorf("authorization = %q", auth)
	}
	if got.Public {
		t.Error("expected a secret gist")
	}
	if !strings.Contains(got.Description, "edge computing") {
		t.Errorf("description = %q", got.Description)
	}
	f, ok := got.Files["report_20240203_040506.md"]
	if !ok {
		t.Fatalf("expected report file, got %v", got.Files)
	}
	if !strings.Contains(f.Content, "# Research Report: edge computing") {
		t.Errorf("unexpected content: %q", f.Content)
	}
}

func TestPublish_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	_, err := New("bad", WithBaseURL(u)).Publish(context.Background(), &model.Report{Topic: "t"})
	if err == nil || !strings.Contains(err.Error(), "creating gist") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestName(t *testing.T) {
	if New("x").Name() != "gist" {
		t.Fatal("unexpected name")
	}
}
