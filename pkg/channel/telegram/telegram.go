// Package telegram provides a Telegram bot channel for the research engine.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jxucoder/researcher/pkg/channel"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/store"
)

// maxListed caps the /reports listing.
const maxListed = 10

// Bot is the Telegram bot for research runs.
type Bot struct {
	api    *tgbotapi.BotAPI
	runs   channel.RunStarter
	store  store.ReportStore
	bus    eventbus.Bus
	depth  model.Depth
	logger *log.Logger
}

// Option configures a Bot.
type Option func(*options)

type options struct {
	endpoint string
	depth    model.Depth
	logger   *log.Logger
}

// WithEndpoint overrides the Bot API endpoint, e.g. for a local API server.
// The format follows tgbotapi.APIEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithDepth sets the depth used when a request does not name one.
func WithDepth(d model.Depth) Option {
	return func(o *options) { o.depth = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewBot creates a new Telegram bot.
func NewBot(token string, runs channel.RunStarter, st store.ReportStore, bus eventbus.Bus, opts ...Option) (*Bot, error) {
	o := options{endpoint: tgbotapi.APIEndpoint, depth: model.DepthStandard}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, o.endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	logger := o.logger.WithPrefix("telegram")
	logger.Info("bot authorized", "username", api.Self.UserName)

	return &Bot{
		api:    api,
		runs:   runs,
		store:  st,
		bus:    bus,
		depth:  o.depth,
		logger: logger,
	}, nil
}

// Name returns the channel name.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("listening for messages")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	chatID := msg.Chat.ID

	if strings.HasPrefix(text, "/") {
		b.handleCommand(chatID, msg.MessageID, text)
		return
	}

	// Plain text is a research request.
	b.startResearch(chatID, msg.MessageID, text)
}

func (b *Bot) handleCommand(chatID int64, replyTo int, text string) {
	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	args := strings.TrimSpace(strings.TrimPrefix(text, parts[0]))

	switch cmd {
	case "/start", "/help":
		b.sendHelp(chatID, replyTo)
	case "/research":
		if args == "" {
			b.sendReply(chatID, replyTo, "Usage: `/research [quick|standard|deep] topic`")
			return
		}
		b.startResearch(chatID, replyTo, args)
	case "/reports":
		b.handleReports(chatID, replyTo)
	case "/report":
		if args == "" {
			b.sendReply(chatID, replyTo, "Usage: `/report id`")
			return
		}
		b.handleReport(chatID, replyTo, parts[1])
	default:
		b.sendReply(chatID, replyTo, fmt.Sprintf("Unknown command `%s`\\. Try /help", escapeMarkdown(cmd)))
	}
}

func (b *Bot) startResearch(chatID int64, replyTo int, text string) {
	topic, depth := channel.ParseRequest(text, b.depth)

	run, err := b.runs.StartRun(topic, depth)
	if err != nil {
		b.sendReply(chatID, replyTo,
			fmt.Sprintf("❌ Failed to start research: %s", escapeMarkdown(err.Error())))
		return
	}

	b.sendReply(chatID, replyTo,
		fmt.Sprintf("⚙ Researching *%s* \\(%s\\)\\. Run `%s`",
			escapeMarkdown(topic), escapeMarkdown(string(depth)), run.ID))

	go b.monitorEvents(run.ID, chatID, replyTo)
}

func (b *Bot) handleReports(chatID int64, replyTo int) {
	sums, err := b.store.List()
	if err != nil {
		b.sendReply(chatID, replyTo, fmt.Sprintf("❌ %s", escapeMarkdown(err.Error())))
		return
	}
	b.sendReply(chatID, replyTo, formatReports(sums))
}

func (b *Bot) handleReport(chatID int64, replyTo int, id string) {
	r, err := b.store.Load(id)
	if err != nil {
		b.sendReply(chatID, replyTo,
			fmt.Sprintf("❌ Report `%s` not found\\.", escapeMarkdown(id)))
		return
	}
	b.sendReport(chatID, replyTo, r)
}

// --- Event monitoring ---

func (b *Bot) monitorEvents(runID string, chatID int64, replyTo int) {
	ch := b.bus.Subscribe(runID)
	defer b.bus.Unsubscribe(runID, ch)

	for event := range ch {
		switch event.Type {
		case model.EventStatus:
			b.sendChatAction(chatID)

		case model.EventError:
			b.sendReply(chatID, replyTo,
				fmt.Sprintf("❌ %s", escapeMarkdown(event.Data)))
			return

		case model.EventDone:
			r, err := b.store.Load(event.Data)
			if err != nil {
				b.sendReply(chatID, replyTo, fmt.Sprintf("✅ Done\\. Report `%s`", escapeMarkdown(event.Data)))
				return
			}
			b.sendReport(chatID, replyTo, r)
			return
		}
	}
}

// --- Helpers ---

func formatReports(sums []model.Summary) string {
	if len(sums) == 0 {
		return "No saved reports yet\\."
	}
	var sb strings.Builder
	sb.WriteString("*Recent reports*\n\n")
	for i, s := range sums {
		if i == maxListed {
			fmt.Fprintf(&sb, "\\.\\.\\. and %d more", len(sums)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "`%s` %s \\(%s, %s\\)\n",
			escapeMarkdown(s.ID),
			escapeMarkdown(model.Truncate(s.Topic, 60)),
			escapeMarkdown(string(s.Depth)),
			escapeMarkdown(s.CreatedAt.Format("2006-01-02 15:04")))
	}
	return sb.String()
}

func formatSummary(r *model.Report) string {
	confidence := r.Confidence()
	if confidence == "" {
		confidence = "n/a"
	}
	return fmt.Sprintf(
		"✅ *Report ready\\!*\n\n"+
			"*Topic:* %s\n"+
			"*Depth:* %s \\| *Confidence:* %s \\| *Sources:* %d\n\n"+
			"Report `%s`",
		escapeMarkdown(r.Topic),
		escapeMarkdown(string(r.Depth)),
		escapeMarkdown(confidence),
		len(r.Sources),
		escapeMarkdown(r.ID),
	)
}

func (b *Bot) sendHelp(chatID int64, replyTo int) {
	b.sendReply(chatID, replyTo, ""+
		"*Researcher* \\- web research reports on demand\\.\n\n"+
		"Send any topic to start a standard run, or use:\n\n"+
		"/research \\[quick\\|standard\\|deep\\] \\<topic\\> \\- Start a run\n"+
		"/reports \\- List saved reports\n"+
		"/report \\<id\\> \\- Fetch a saved report\n"+
		"/help \\- Show this message")
}

func (b *Bot) sendReport(chatID int64, replyTo int, r *model.Report) {
	b.sendReply(chatID, replyTo, formatSummary(r))

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  r.Filename(),
		Bytes: []byte(r.Markdown()),
	})
	doc.ReplyToMessageID = replyTo
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Error("failed to send document", "report", r.ID, "err", err)
	}
}

func (b *Bot) sendChatAction(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.logger.Debug("chat action failed", "err", err)
	}
}

func (b *Bot) sendReply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message, retrying as plain text", "err", err)
		msg.ParseMode = ""
		msg.Text = stripMarkdown(text)
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error("failed to send message", "err", err)
		}
	}
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
		"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
		">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
		"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
		".", "\\.", "!", "\\!",
	)
	return replacer.Replace(s)
}

func stripMarkdown(s string) string {
	r := strings.NewReplacer(
		"\\*", "*", "\\_", "_", "\\[", "[", "\\]", "]",
		"\\(", "(", "\\)", ")", "\\~", "~", "\\`", "`",
		"\\>", ">", "\\#", "#", "\\+", "+", "\\-", "-",
		"\\=", "=", "\\|", "|", "\\{", "{", "\\}", "}",
		"\\.", ".", "\\!", "!",
	)
	return r.Replace(s)
}
