package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/search"
	"github.com/jxucoder/researcher/pkg/store"
)

// stubRuns records calls to StartRun.
type stubRuns struct {
	mu     sync.Mutex
	topics []string
	depths []model.Depth
}

func (s *stubRuns) StartRun(topic string, depth model.Depth) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	s.depths = append(s.depths, depth)
	return &model.Run{ID: "run00001", Topic: topic, Depth: depth}, nil
}

func (s *stubRuns) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

type stubStore struct {
	report *model.Report
}

func (s stubStore) Save(*model.Report) (string, error) { return "", nil }
func (s stubStore) List() ([]model.Summary, error)     { return nil, nil }
func (s stubStore) Load(id string) (*model.Report, error) {
	if s.report == nil || s.report.ID != id {
		return nil, store.ErrNotFound
	}
	return s.report, nil
}
func (s stubStore) Close() error { return nil }

// commentServer records issue comments posted through the REST API.
type commentServer struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
}

func (c *commentServer) handler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.bodies = append(c.bodies, body.Body)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"id":1}`))
}

func (c *commentServer) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), append([]string(nil), c.bodies...)
}

func newTestChannel(t *testing.T, secret string, runs *stubRuns, st stubStore, bus eventbus.Bus) (*Channel, *commentServer) {
	t.Helper()
	cs := &commentServer{}
	srv := httptest.NewServer(http.HandlerFunc(cs.handler))
	t.Cleanup(srv.Close)
	base, _ := url.Parse(srv.URL + "/")
	ch := New("token", secret, "", runs, st, bus,
		WithBaseURL(base),
		WithLogger(log.New(io.Discard)),
	)
	return ch, cs
}

func makePayload(t *testing.T, action string, labels []string, labeledName string) []byte {
	t.Helper()
	type label struct {
		Name string `json:"name"`
	}
	var ls []label
	for _, l := range labels {
		ls = append(ls, label{Name: l})
	}
	p := map[string]any{
		"action": action,
		"issue": map[string]any{
			"number": 42,
			"title":  "deep perovskite solar cells",
			"body":   "some body",
			"labels": ls,
		},
		"repository": map[string]any{
			"name":      "repo",
			"full_name": "owner/repo",
			"owner":     map[string]any{"login": "owner"},
		},
	}
	if labeledName != "" {
		p["label"] = label{Name: labeledName}
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(body []byte, event string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	return req
}

func TestWebhookSignatureVerification(t *testing.T) {
	ch, _ := newTestChannel(t, "my-secret", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	body := makePayload(t, "opened", []string{"research"}, "")

	// Missing signature should fail.
	w := httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(body, "issues"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing sig: got %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Wrong signature should fail.
	req := webhookRequest(body, "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w = httptest.NewRecorder()
	ch.handleWebhook(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong sig: got %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Correct signature should succeed.
	req = webhookRequest(body, "issues")
	req.Header.Set("X-Hub-Signature-256", signPayload("my-secret", body))
	w = httptest.NewRecorder()
	ch.handleWebhook(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("correct sig: got %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestWebhookLabelFiltering(t *testing.T) {
	ch, _ := newTestChannel(t, "", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	// Issue opened without trigger label → 200, no run started.
	w := httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "opened", []string{"bug"}, ""), "issues"))
	if w.Code != http.StatusOK {
		t.Errorf("no label: got %d, want %d", w.Code, http.StatusOK)
	}

	// Issue opened with trigger label (any case) → 202.
	w = httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "opened", []string{"Research"}, ""), "issues"))
	if w.Code != http.StatusAccepted {
		t.Errorf("with label: got %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestWebhookLabeledAction(t *testing.T) {
	ch, _ := newTestChannel(t, "", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	// "labeled" with a non-trigger label → 200.
	w := httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "labeled", []string{"bug", "research"}, "bug"), "issues"))
	if w.Code != http.StatusOK {
		t.Errorf("labeled non-trigger: got %d, want %d", w.Code, http.StatusOK)
	}

	// "labeled" with the trigger label → 202.
	w = httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "labeled", []string{"bug", "research"}, "research"), "issues"))
	if w.Code != http.StatusAccepted {
		t.Errorf("labeled trigger: got %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestWebhookActionFiltering(t *testing.T) {
	ch, _ := newTestChannel(t, "", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	for _, action := range []string{"edited", "closed"} {
		w := httptest.NewRecorder()
		ch.handleWebhook(w, webhookRequest(makePayload(t, action, []string{"research"}, ""), "issues"))
		if w.Code != http.StatusOK {
			t.Errorf("%s action: got %d, want %d", action, w.Code, http.StatusOK)
		}
	}
}

func TestWebhookNonIssueEvent(t *testing.T) {
	ch, _ := newTestChannel(t, "", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	w := httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "opened", []string{"research"}, ""), "push"))
	if w.Code != http.StatusOK {
		t.Errorf("push event: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	ch, _ := newTestChannel(t, "", &stubRuns{}, stubStore{}, eventbus.NewInMemoryBus())

	req := httptest.NewRequest(http.MethodGet, WebhookPath, nil)
	w := httptest.NewRecorder()
	ch.handleWebhook(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestProcessIssue_CommentsReport(t *testing.T) {
	runs := &stubRuns{}
	bus := eventbus.NewInMemoryBus()
	report := &model.Report{
		ID:           "rep1",
		Topic:        "perovskite solar cells",
		Depth:        model.DepthDeep,
		Body:         "## Executive Summary\nEfficiency keeps rising.",
		Verification: "Confidence: MEDIUM",
		Sources:      []search.Result{{Title: "a"}},
	}
	ch, cs := newTestChannel(t, "", runs, stubStore{report: report}, bus)

	w := httptest.NewRecorder()
	ch.handleWebhook(w, webhookRequest(makePayload(t, "opened", []string{"research"}, ""), "issues"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("got %d, want %d", w.Code, http.StatusAccepted)
	}

	// Wait for the start comment, which is posted before the monitor subscribes.
	deadline := time.After(2 * time.Second)
	for {
		if paths, _ := cs.snapshot(); len(paths) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("start comment not posted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	for {
		bus.Publish("run00001", &model.Event{RunID: "run00001", Type: model.EventDone, Data: "rep1"})
		if paths, _ := cs.snapshot(); len(paths) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("report comment not posted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if runs.calls() != 1 || runs.topics[0] != "perovskite solar cells" || runs.depths[0] != model.DepthDeep {
		t.Fatalf("unexpected runs: %v %v", runs.topics, runs.depths)
	}
	paths, bodies := cs.snapshot()
	if paths[0] != "/repos/owner/repo/issues/42/comments" {
		t.Errorf("comment path = %q", paths[0])
	}
	if !strings.Contains(bodies[0], "run00001") {
		t.Errorf("start comment = %q", bodies[0])
	}
	for _, want := range []string{"MEDIUM", "1 sources", "Efficiency keeps rising"} {
		if !strings.Contains(bodies[1], want) {
			t.Errorf("report comment missing %q: %s", want, bodies[1])
		}
	}
}

func TestFormatComment_Truncates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"ascii", strings.Repeat("a", maxCommentLen+100)},
		{"multibyte", strings.Repeat("é日", maxCommentLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &model.Report{ID: "x", Topic: "données", Body: tt.body}
			got := formatComment(r)
			if n := utf8.RuneCountInString(got); n > maxCommentLen {
				t.Fatalf("comment length %d exceeds %d", n, maxCommentLen)
			}
			if !strings.HasSuffix(got, "...") {
				t.Fatal("expected truncation marker")
			}
		})
	}
}
