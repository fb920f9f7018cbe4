// Package slack provides a Slack bot channel for the research engine using
// Socket Mode.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jxucoder/researcher/pkg/channel"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	slackpub "github.com/jxucoder/researcher/pkg/publish/slack"
	"github.com/jxucoder/researcher/pkg/store"
)

// Bot is the Slack Socket Mode bot.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	runs         channel.RunStarter
	store        store.ReportStore
	bus          eventbus.Bus
	depth        model.Depth
	logger       *log.Logger
}

// Option configures a Bot.
type Option func(*options)

type options struct {
	apiURL string
	depth  model.Depth
	logger *log.Logger
}

// WithAPIURL points the Web API client at a different base URL.
func WithAPIURL(u string) Option {
	return func(o *options) { o.apiURL = u }
}

// WithDepth sets the depth used when a mention does not name one.
func WithDepth(d model.Depth) Option {
	return func(o *options) { o.depth = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, runs channel.RunStarter, st store.ReportStore, bus eventbus.Bus, opts ...Option) *Bot {
	o := options{depth: model.DepthStandard}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	logger := o.logger.WithPrefix("slack")

	apiOpts := []slack.Option{slack.OptionAppLevelToken(appToken)}
	if o.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(o.apiURL))
	}
	api := slack.New(botToken, apiOpts...)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(logger.StandardLog()),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		runs:         runs,
		store:        st,
		bus:          bus,
		depth:        o.depth,
		logger:       logger,
	}
}

// Name returns the channel name.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	b.logger.Info("connecting via Socket Mode")
	return b.socketClient.RunContext(ctx)
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(evt)
		}
	}
}

func (b *Bot) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("connection error, will retry")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func (b *Bot) handleCallbackEvent(innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ev)
	}
}

// mentionText strips the leading bot mention from an app_mention text.
func mentionText(text string) string {
	if idx := strings.Index(text, ">"); idx >= 0 && strings.HasPrefix(strings.TrimSpace(text), "<@") {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}

func (b *Bot) handleMention(ev *slackevents.AppMentionEvent) {
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	text := mentionText(ev.Text)
	if text == "" {
		b.postThread(ev.Channel, threadTS,
			"Please provide a topic. Example:\n`@researcher deep solid-state batteries`")
		return
	}

	topic, depth := channel.ParseRequest(text, b.depth)

	run, err := b.runs.StartRun(topic, depth)
	if err != nil {
		b.postThread(ev.Channel, threadTS,
			fmt.Sprintf(":x: Failed to start research: %s", err))
		return
	}

	b.postThread(ev.Channel, threadTS,
		fmt.Sprintf(":mag: *Researching* %s (%s). Run `%s`", topic, depth, run.ID))

	go b.monitorRun(run.ID, ev.Channel, threadTS)
}

func (b *Bot) monitorRun(runID, channel, threadTS string) {
	ch := b.bus.Subscribe(runID)
	defer b.bus.Unsubscribe(runID, ch)

	for event := range ch {
		switch event.Type {
		case model.EventError:
			b.postThread(channel, threadTS,
				fmt.Sprintf(":x: *Error:* %s", event.Data))
			return

		case model.EventDone:
			r, err := b.store.Load(event.Data)
			if err != nil {
				b.logger.Error("failed to load report", "run", runID, "report", event.Data, "err", err)
				b.postThread(channel, threadTS,
					fmt.Sprintf(":white_check_mark: Research complete. Report `%s`", event.Data))
				return
			}
			b.postReport(channel, threadTS, r)
			return
		}
	}
}

func (b *Bot) postReport(channel, threadTS string, r *model.Report) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionBlocks(slackpub.Blocks(r)...),
		slack.MsgOptionText("Research report: "+r.Topic, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Error("failed to post report", "report", r.ID, "err", err)
	}

	content := r.Markdown()
	_, err = b.api.UploadFileV2(slack.UploadFileV2Parameters{
		Content:         content,
		Filename:        r.Filename(),
		FileSize:        len(content),
		Title:           "Research Report: " + model.Truncate(r.Topic, 60),
		Channel:         channel,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		b.logger.Error("failed to upload report", "report", r.ID, "err", err)
		b.postThread(channel, threadTS,
			fmt.Sprintf("*Report (truncated):*\n%s", model.Truncate(r.Body, 3000)))
	}
}

func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Error("failed to post message", "channel", channel, "err", err)
	}
}
