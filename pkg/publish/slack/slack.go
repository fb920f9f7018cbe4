// Package slack posts report summaries to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/jxucoder/researcher/pkg/model"
)

const excerptLen = 600

// Publisher posts a block message for each report.
type Publisher struct {
	api     *slack.Client
	channel string
}

// New creates a publisher posting to channel with a bot token. Extra options
// are passed to the Slack client.
func New(botToken, channel string, opts ...slack.Option) *Publisher {
	return &Publisher{api: slack.New(botToken, opts...), channel: channel}
}

// Name returns the publisher name.
func (p *Publisher) Name() string { return "slack" }

// Publish posts the report summary and returns "<channel>/<ts>".
func (p *Publisher) Publish(ctx context.Context, r *model.Report) (string, error) {
	ch, ts, err := p.api.PostMessageContext(ctx, p.channel,
		slack.MsgOptionBlocks(Blocks(r)...),
		slack.MsgOptionText("Research report: "+r.Topic, false),
	)
	if err != nil {
		return "", fmt.Errorf("posting to %s: %w", p.channel, err)
	}
	return ch + "/" + ts, nil
}

// Blocks renders r as a Slack block message: title, excerpt and a context
// line with depth, confidence and source count.
func Blocks(r *model.Report) []slack.Block {
	title := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf(":mag: *Research report:* %s", model.Truncate(r.Topic, 150)),
		false, false)

	excerpt := strings.TrimSpace(r.Body)
	if excerpt == "" {
		excerpt = "_(empty report)_"
	}
	body := slack.NewTextBlockObject(slack.MarkdownType, model.Truncate(excerpt, excerptLen), false, false)

	confidence := r.Confidence()
	if confidence == "" {
		confidence = "n/a"
	}
	meta := fmt.Sprintf("Depth `%s` | Confidence `%s` | %d sources", r.Depth, confidence, len(r.Sources))
	if r.ID != "" {
		meta += fmt.Sprintf(" | Report `%s`", r.ID)
	}

	return []slack.Block{
		slack.NewSectionBlock(title, nil, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(body, nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, meta, false, false)),
	}
}
