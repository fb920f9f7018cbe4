// Package github provides a GitHub Issues webhook channel for the research
// engine.
//
// When an issue is opened with, or labeled with, the trigger label (default:
// "research"), the issue title is researched and the finished report is
// posted back as a comment on the issue.
//
// Setup:
//  1. Create a GitHub webhook pointing at <server>/api/webhooks/github-issues
//  2. Select "Issues" events
//  3. Set GITHUB_TOKEN and optionally GITHUB_WEBHOOK_SECRET in your environment
//  4. Optionally set GITHUB_ISSUES_TRIGGER_LABEL (default: "research")
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	gogh "github.com/google/go-github/v68/github"

	"github.com/jxucoder/researcher/pkg/channel"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/store"
)

// DefaultTriggerLabel is the issue label that requests a research run.
const DefaultTriggerLabel = "research"

// maxCommentLen keeps comments under GitHub's 65536 character limit.
const maxCommentLen = 60000

// WebhookPath is the route the webhook handler is served on.
const WebhookPath = "/api/webhooks/github-issues"

// Channel is a webhook-based GitHub Issues channel.
type Channel struct {
	gh           *gogh.Client
	secret       []byte
	triggerLabel string
	runs         channel.RunStarter
	store        store.ReportStore
	bus          eventbus.Bus
	depth        model.Depth
	addr         string
	logger       *log.Logger
	srv          *http.Server
}

// Option configures the GitHub Issues channel.
type Option func(*Channel)

// WithAddr sets the listen address for the webhook server (default ":7092").
func WithAddr(addr string) Option {
	return func(c *Channel) { c.addr = addr }
}

// WithBaseURL points the REST client at a different API root, e.g. GitHub
// Enterprise. The URL must end with a slash.
func WithBaseURL(u *url.URL) Option {
	return func(c *Channel) { c.gh.BaseURL = u }
}

// WithDepth sets the depth used when an issue title does not name one.
func WithDepth(d model.Depth) Option {
	return func(c *Channel) { c.depth = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a new GitHub Issues webhook channel.
func New(token, secret, triggerLabel string, runs channel.RunStarter, st store.ReportStore, bus eventbus.Bus, opts ...Option) *Channel {
	if triggerLabel == "" {
		triggerLabel = DefaultTriggerLabel
	}
	c := &Channel{
		gh:           gogh.NewClient(nil).WithAuthToken(token),
		secret:       []byte(secret),
		triggerLabel: strings.ToLower(triggerLabel),
		runs:         runs,
		store:        st,
		bus:          bus,
		depth:        model.DepthStandard,
		addr:         ":7092",
		logger:       log.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithPrefix("github-issues")
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "github-issues" }

// Handler returns the webhook route.
func (c *Channel) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(WebhookPath, c.handleWebhook)
	return r
}

// Run starts the webhook HTTP server. Blocks until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	c.srv = &http.Server{Addr: c.addr, Handler: c.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		c.srv.Close()
	}()

	c.logger.Info("webhook listening", "addr", c.addr)
	if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Webhook handling ---

func (c *Channel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := gogh.ValidatePayload(r, c.secret)
	if err != nil {
		c.logger.Warn("rejected webhook", "err", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// Only handle "issues" events.
	eventType := gogh.WebHookType(r)
	if eventType != "issues" {
		w.WriteHeader(http.StatusOK)
		return
	}

	parsed, err := gogh.ParseWebHook(eventType, payload)
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ev, ok := parsed.(*gogh.IssuesEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch ev.GetAction() {
	case "opened":
		if !c.hasTriggerLabel(ev.GetIssue().Labels) {
			w.WriteHeader(http.StatusOK)
			return
		}
	case "labeled":
		// Only the label that was just added counts.
		if !strings.EqualFold(ev.GetLabel().GetName(), c.triggerLabel) {
			w.WriteHeader(http.StatusOK)
			return
		}
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	repo := ev.GetRepo()
	go c.processIssue(repo.GetOwner().GetLogin(), repo.GetName(), ev.GetIssue())
	w.WriteHeader(http.StatusAccepted)
}

func (c *Channel) hasTriggerLabel(labels []*gogh.Label) bool {
	for _, l := range labels {
		if strings.EqualFold(l.GetName(), c.triggerLabel) {
			return true
		}
	}
	return false
}

func (c *Channel) processIssue(owner, repo string, issue *gogh.Issue) {
	number := issue.GetNumber()
	topic, depth := channel.ParseRequest(issue.GetTitle(), c.depth)

	run, err := c.runs.StartRun(topic, depth)
	if err != nil {
		c.logger.Error("failed to start run", "repo", owner+"/"+repo, "issue", number, "err", err)
		c.postComment(owner, repo, number, fmt.Sprintf("Failed to start research: %s", err))
		return
	}

	c.postComment(owner, repo, number,
		fmt.Sprintf("Researching **%s** (%s). Run `%s`.", topic, depth, run.ID))

	c.monitorRun(run.ID, owner, repo, number)
}

func (c *Channel) monitorRun(runID, owner, repo string, number int) {
	ch := c.bus.Subscribe(runID)
	defer c.bus.Unsubscribe(runID, ch)

	for event := range ch {
		switch event.Type {
		case model.EventError:
			c.postComment(owner, repo, number, fmt.Sprintf("Research failed: %s", event.Data))
			return
		case model.EventDone:
			r, err := c.store.Load(event.Data)
			if err != nil {
				c.postComment(owner, repo, number, fmt.Sprintf("Research complete. Report `%s`.", event.Data))
				return
			}
			c.postComment(owner, repo, number, formatComment(r))
			return
		}
	}
}

// formatComment renders a report as an issue comment of at most
// maxCommentLen characters.
func formatComment(r *model.Report) string {
	confidence := r.Confidence()
	if confidence == "" {
		confidence = "n/a"
	}
	header := fmt.Sprintf("Depth `%s` | Confidence `%s` | %d sources | Report `%s`\n\n",
		r.Depth, confidence, len(r.Sources), r.ID)
	return header + model.Truncate(r.Markdown(), maxCommentLen-utf8.RuneCountInString(header))
}

// postComment posts a comment on a GitHub issue.
func (c *Channel) postComment(owner, repo string, number int, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gogh.IssueComment{
		Body: gogh.Ptr(body),
	})
	if err != nil {
		c.logger.Error("failed to post comment", "repo", owner+"/"+repo, "issue", number, "err", err)
	}
}
