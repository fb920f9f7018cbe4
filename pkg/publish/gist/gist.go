// Package gist publishes reports as GitHub gists.
package gist

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/jxucoder/researcher/pkg/model"
)

// Publisher creates one gist per report.
type Publisher struct {
	gh     *gogh.Client
	public bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPublic makes created gists public. Gists are secret by default.
func WithPublic(public bool) Option {
	return func(p *Publisher) { p.public = public }
}

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise instance.
func WithBaseURL(u *url.URL) Option {
	return func(p *Publisher) {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		p.gh.BaseURL = u
	}
}

// New creates a gist publisher authenticated with the given token.
func New(token string, opts ...Option) *Publisher {
	p := &Publisher{gh: gogh.NewClient(nil).WithAuthToken(token)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the publisher name.
func (p *Publisher) Name() string { return "gist" }

// Publish uploads the rendered markdown and returns the gist URL.
func (p *Publisher) Publish(ctx context.Context, r *model.Report) (string, error) {
	g, _, err := p.gh.Gists.Create(ctx, &gogh.Gist{
		Description: gogh.Ptr("Research report: " + model.Truncate(r.Topic, 200)),
		Public:      gogh.Ptr(p.public),
		Files: map[gogh.GistFilename]gogh.GistFile{
			gogh.GistFilename(r.Filename()): {Content: gogh.Ptr(r.Markdown())},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating gist: %w", err)
	}
	return g.GetHTMLURL(), nil
}
