// Package researcher is the top-level entry point for the research service.
//
// Use the Builder to compose an application from configuration:
//
//	app, err := researcher.NewBuilder().WithConfig(cfg).Build()
//	app.Start(ctx)
//
// Or replace individual components:
//
//	app, err := researcher.NewBuilder().
//	    WithConfig(cfg).
//	    WithStore(myStore).
//	    WithSearchProvider(myProvider).
//	    Build()
package researcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jxucoder/researcher/internal/config"
	"github.com/jxucoder/researcher/internal/engine"
	"github.com/jxucoder/researcher/internal/httpapi"
	"github.com/jxucoder/researcher/pkg/channel"
	ghchannel "github.com/jxucoder/researcher/pkg/channel/github"
	slackchannel "github.com/jxucoder/researcher/pkg/channel/slack"
	"github.com/jxucoder/researcher/pkg/channel/telegram"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/llm"
	"github.com/jxucoder/researcher/pkg/llm/groq"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/pipeline"
	"github.com/jxucoder/researcher/pkg/publish"
	"github.com/jxucoder/researcher/pkg/publish/gist"
	slackpub "github.com/jxucoder/researcher/pkg/publish/slack"
	"github.com/jxucoder/researcher/pkg/scheduler"
	"github.com/jxucoder/researcher/pkg/search"
	"github.com/jxucoder/researcher/pkg/search/duckduckgo"
	"github.com/jxucoder/researcher/pkg/store"
	"github.com/jxucoder/researcher/pkg/store/jsonfile"
	"github.com/jxucoder/researcher/pkg/store/sqlite"
)

// ChannelFactory builds a channel once the engine exists.
type ChannelFactory func(eng *engine.Engine) (channel.Channel, error)

// Builder constructs an App.
type Builder struct {
	config     *config.Config
	store      store.ReportStore
	bus        eventbus.Bus
	clients    *pipeline.Clients
	provider   search.Provider
	pipeline   pipeline.Pipeline
	publishers []publish.Publisher
	channels   []ChannelFactory
	logger     *log.Logger

	pool *search.Pool
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration. Without it, Build loads
// the configuration from the environment.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the report store implementation.
func (b *Builder) WithStore(s store.ReportStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithLLM uses one completion client for every agent.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	c := pipeline.SameClient(client)
	b.clients = &c
	return b
}

// WithClients sets a completion client per agent.
func (b *Builder) WithClients(c pipeline.Clients) *Builder {
	b.clients = &c
	return b
}

// WithSearchProvider sets the web search backend.
func (b *Builder) WithSearchProvider(p search.Provider) *Builder {
	b.provider = p
	return b
}

// WithPipeline replaces the built-in six-stage pipeline.
func (b *Builder) WithPipeline(p pipeline.Pipeline) *Builder {
	b.pipeline = p
	return b
}

// WithPublisher adds a report publisher.
func (b *Builder) WithPublisher(p publish.Publisher) *Builder {
	b.publishers = append(b.publishers, p)
	return b
}

// WithChannel adds a channel built after the engine.
func (b *Builder) WithChannel(f ChannelFactory) *Builder {
	b.channels = append(b.channels, f)
	return b
}

// WithLogger sets the process logger.
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{DefaultDepth: b.config.DefaultDepth},
		b.store,
		b.bus,
		b.pipeline,
		b.publishers,
		b.logger.WithPrefix("engine"),
	)

	app := &App{
		config: b.config,
		engine: eng,
		server: httpapi.New(eng, b.logger),
		pool:   b.pool,
		logger: b.logger,
		sched:  scheduler.New(b.config.JobsDir, researchRunner(eng), b.logger),
	}

	factories := append(configChannels(b.config, b.logger), b.channels...)
	for _, f := range factories {
		ch, err := f(eng)
		if err != nil {
			// A misconfigured chat integration should not take the API down.
			b.logger.Warn("channel disabled", "err", err)
			continue
		}
		app.channels = append(app.channels, ch)
	}

	return app, nil
}

// researchRunner adapts the engine to the scheduler.
func researchRunner(eng *engine.Engine) scheduler.Runner {
	return scheduler.RunnerFunc(func(ctx context.Context, topic string, depth model.Depth) error {
		_, err := eng.Research(ctx, topic, depth)
		return err
	})
}

// App is a research application.
type App struct {
	config   *config.Config
	engine   *engine.Engine
	server   *httpapi.Server
	pool     *search.Pool
	sched    *scheduler.Scheduler
	channels []channel.Channel
	logger   *log.Logger

	closeOnce sync.Once
	closeErr  error
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Scheduler returns the batch job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Channels returns the enabled channels.
func (a *App) Channels() []channel.Channel { return a.channels }

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.config }

// Start starts the HTTP server, the channels and the scheduler. Blocks until
// ctx is done, then releases all resources.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)
	defer a.Close()

	for _, ch := range a.channels {
		go func(ch channel.Channel) {
			a.logger.Info("channel enabled", "channel", ch.Name())
			if err := ch.Run(ctx); err != nil {
				a.logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			}
		}(ch)
	}

	if err := a.sched.LoadJobs(); err != nil {
		a.logger.Warn("scheduler disabled", "dir", a.sched.Dir(), "err", err)
	} else if len(a.sched.Jobs()) > 0 {
		go a.sched.Run(ctx)
	}

	return a.server.ListenAndServe(ctx, a.config.ServerAddr)
}

// Close stops the engine and releases the search pool and store. It is safe
// to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.engine.Stop()
		if a.pool != nil {
			a.pool.Close()
		}
		if st := a.engine.Store(); st != nil {
			a.closeErr = st.Close()
		}
	})
	return a.closeErr
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// applyDefaults fills in missing fields on the builder from the configuration.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		b.config = cfg
	}
	cfg := b.config

	// Injected clients do not need a Groq key.
	if b.clients == nil && b.pipeline == nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if b.logger == nil {
		b.logger = log.Default()
	}
	if cfg.LogLevel != "" {
		if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
			b.logger.SetLevel(lvl)
		}
	}

	// Store.
	if b.store == nil {
		st, err := OpenStore(cfg)
		if err != nil {
			return err
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Pipeline.
	if b.pipeline == nil {
		if b.clients == nil {
			c := groqClients(cfg, b.logger)
			b.clients = &c
		}
		if b.provider == nil {
			b.provider = duckduckgo.New(cfg.MaxResults)
		}
		b.pool = search.NewPool(b.provider, cfg.SearchWorkers, search.DefaultTimeout)
		b.pipeline = pipeline.NewResearchPipeline(*b.clients, b.pool)
	}

	// Publishers.
	if cfg.PublishGist && cfg.GitHubToken != "" {
		b.publishers = append(b.publishers, gist.New(cfg.GitHubToken))
	}
	if cfg.SlackPublishEnabled() {
		b.publishers = append(b.publishers, slackpub.New(cfg.SlackBotToken, cfg.SlackChannel))
	}

	return nil
}

// OpenStore opens the report backend selected by cfg.Store.
func OpenStore(cfg *config.Config) (store.ReportStore, error) {
	switch cfg.Store {
	case config.StoreJSON:
		st, err := jsonfile.New(cfg.ReportsDir)
		if err != nil {
			return nil, fmt.Errorf("initializing report directory: %w", err)
		}
		return st, nil
	default:
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return st, nil
	}
}

// groqClients builds the research client and the cooler fact-checker client.
// Both share one rate gate.
func groqClients(cfg *config.Config, logger *log.Logger) pipeline.Clients {
	gate := groq.NewGate(cfg.MinInterval)
	opts := []groq.Option{
		groq.WithModel(cfg.Model),
		groq.WithGate(gate),
		groq.WithLogger(logger.WithPrefix("groq")),
	}
	if cfg.StrictRetry {
		opts = append(opts, groq.WithRetryPolicy(groq.RetryTransient))
	}

	writer := groq.New(cfg.GroqAPIKey, append(opts, groq.WithTemperature(cfg.Temperature))...)
	checker := groq.New(cfg.GroqAPIKey, append(opts, groq.WithTemperature(cfg.VerifyTemperature))...)
	return pipeline.Clients{
		Research:    writer,
		Analysis:    writer,
		Writer:      writer,
		FactChecker: checker,
	}
}

// configChannels returns factories for the chat integrations enabled in cfg.
func configChannels(cfg *config.Config, logger *log.Logger) []ChannelFactory {
	var out []ChannelFactory
	if cfg.TelegramEnabled() {
		out = append(out, func(eng *engine.Engine) (channel.Channel, error) {
			return telegram.NewBot(cfg.TelegramBotToken, eng, eng.Store(), eng.Bus(),
				telegram.WithDepth(cfg.DefaultDepth),
				telegram.WithLogger(logger),
			)
		})
	}
	if cfg.SlackEnabled() {
		out = append(out, func(eng *engine.Engine) (channel.Channel, error) {
			return slackchannel.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, eng, eng.Store(), eng.Bus(),
				slackchannel.WithDepth(cfg.DefaultDepth),
				slackchannel.WithLogger(logger),
			), nil
		})
	}
	if cfg.GitHubIssuesEnabled() {
		out = append(out, func(eng *engine.Engine) (channel.Channel, error) {
			return ghchannel.New(cfg.GitHubToken, cfg.GitHubWebhookSecret, cfg.GitHubIssuesTriggerLabel,
				eng, eng.Store(), eng.Bus(),
				ghchannel.WithAddr(cfg.GitHubIssuesAddr),
				ghchannel.WithDepth(cfg.DefaultDepth),
				ghchannel.WithLogger(logger),
			), nil
		})
	}
	return out
}
