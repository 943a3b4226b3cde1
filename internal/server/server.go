// Package server wires all plotline components together.
//
// This is the composition root: it creates the concrete store, rule
// registry, selector, dispatch router, event bus and engine, and hands
// them to the MCP tools and the HTTP API. No business logic lives here.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/plotline/internal/config"
	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/httpapi"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/metrics"
	"github.com/HendryAvila/plotline/internal/notify"
	"github.com/HendryAvila/plotline/internal/ops"
	"github.com/HendryAvila/plotline/internal/project"
	"github.com/HendryAvila/plotline/internal/prompts"
	"github.com/HendryAvila/plotline/internal/render"
	"github.com/HendryAvila/plotline/internal/resources"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/selector"
	"github.com/HendryAvila/plotline/internal/tools"
	"github.com/HendryAvila/plotline/internal/watch"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds every long-lived component. Build creates it; Start launches
// the background loops; Close releases everything in reverse order.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Store    *project.Store
	Metrics  *metrics.Metrics
	Registry *rules.Registry
	Engine   *engine.Engine
	Notifier *notify.Notifier
	Watcher  *watch.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Build resolves every dependency from cfg. The initial rule set must
// validate; a broken rules directory is a startup error.
func Build(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	store, err := project.New(project.Config{DataDir: cfg.Data.Dir, InMemory: cfg.Data.InMemory})
	if err != nil {
		return nil, fmt.Errorf("opening project store: %w", err)
	}
	a.Store = store

	table := ops.New(store, cfg.Dispatch.OperationTimeout, log)
	a.Registry = rules.NewRegistry(table, log, a.Metrics)
	initial, err := loadRules(cfg.Rules.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	if _, err := a.Registry.Load(initial); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	bus, err := newBus(ctx, cfg.Redis, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Notifier = notify.NewNotifier(notify.NewHub(log, cfg.HTTP.Heartbeat), bus, log)

	renderer := render.New(render.Policy(cfg.Selection.MissingPolicy), cfg.Selection.Marker)
	sel := selector.New(a.Registry, renderer, log, a.Metrics, selector.Options{
		Workers:    cfg.Selection.Workers,
		DefaultMax: cfg.Selection.MaxSuggestions,
	})
	router := dispatch.NewRouter(dispatch.Config{
		Operations:  table,
		Navigator:   a.Notifier,
		Revisions:   store,
		Generations: a.Registry,
		Logger:      log,
		Metrics:     a.Metrics,
	})

	a.Engine, err = engine.New(engine.Config{
		Registry:   a.Registry,
		Selector:   sel,
		Router:     router,
		Snapshots:  store,
		Publisher:  a.Notifier,
		Logger:     log,
		DefaultMax: cfg.Selection.MaxSuggestions,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	store.OnChange(a.Engine.ProjectChanged)

	if cfg.Rules.Watch {
		a.Watcher, err = watch.New(cfg.Rules.Dir, a.Engine, log, watch.WithDebounce(cfg.Rules.Debounce))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("watching rules: %w", err)
		}
	}
	return a, nil
}

func loadRules(path string) ([]rules.Rule, error) {
	if path == "" {
		return rules.Default()
	}
	rs, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading rules from %s: %w", path, err)
	}
	return rs, nil
}

// newBus picks Redis when an address is configured so several plotline
// instances can share one event stream.
func newBus(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (notify.Bus, error) {
	if cfg.Addr == "" {
		return notify.NewLocalBus(), nil
	}
	bus, err := notify.NewRedisBus(ctx, notify.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Channel:  cfg.Channel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return bus, nil
}

// Start launches the event forwarder, the refresh loop and the rules
// watcher. They stop when ctx ends or Close is called.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.Notifier.Start(ctx); err != nil {
		return fmt.Errorf("starting notifier: %w", err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Error("refresh loop stopped", "error", err)
		}
	}()
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting rules watcher: %w", err)
		}
	}
	return nil
}

// HTTP returns the frontend API server bound to the configured address.
func (a *App) HTTP() *httpapi.Server {
	return httpapi.NewServer(a.Config.HTTP.Addr, httpapi.Config{
		Engine:    a.Engine,
		Hub:       a.Notifier.Hub(),
		Metrics:   a.Metrics,
		Logger:    a.Log,
		RulesPath: a.Config.Rules.Dir,
	})
}

// Close is safe to call on a partially built App.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Watcher != nil {
		if err := a.Watcher.Stop(); err != nil {
			a.Log.Warn("stopping rules watcher", "error", err)
		}
	}
	a.wg.Wait()
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			a.Log.Warn("closing event bus", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("closing project store", "error", err)
		}
	}
}

// NewMCP creates the MCP server with all tools, prompts and resources
// registered against a.
func NewMCP(a *App) *server.MCPServer {
	s := server.NewMCPServer(
		"plotline",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Suggestions ---

	suggestTool := tools.NewSuggestListTool(a.Engine)
	s.AddTool(suggestTool.Definition(), suggestTool.Handle)

	confirmTool := tools.NewSuggestConfirmTool(a.Engine)
	s.AddTool(confirmTool.Definition(), confirmTool.Handle)

	cancelTool := tools.NewSuggestCancelTool(a.Engine)
	s.AddTool(cancelTool.Definition(), cancelTool.Handle)

	statusTool := tools.NewSuggestStatusTool(a.Engine)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	// --- Rules ---

	rulesTool := tools.NewRulesListTool(a.Engine)
	s.AddTool(rulesTool.Definition(), rulesTool.Handle)

	reloadTool := tools.NewRulesReloadTool(a.Engine, a.Config.Rules.Dir)
	s.AddTool(reloadTool.Definition(), reloadTool.Handle)

	// --- Projects ---

	createTool := tools.NewProjectCreateTool(a.Store, a.Engine)
	s.AddTool(createTool.Definition(), createTool.Handle)

	stateTool := tools.NewProjectStateTool(a.Store, a.Engine)
	s.AddTool(stateTool.Definition(), stateTool.Handle)

	// --- Prompts ---

	suggestPrompt := prompts.NewSuggestPrompt()
	s.AddPrompt(suggestPrompt.Definition(), suggestPrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(a.Engine, a.Store)
	s.AddResource(resourceHandler.CatalogResource(), resourceHandler.HandleCatalog)
	s.AddResource(resourceHandler.ProjectsResource(), resourceHandler.HandleProjects)

	return s
}

// serverInstructions tells the AI how to drive plotline.
func serverInstructions() string {
	return `You have access to plotline, a suggestion engine for story writing projects.

## How it works

plotline holds a rule catalogue. Each rule belongs to a topic (initial, story,
faction, character, relationship, act, scene, line), has a condition over the
project and the conversation, and names an operation to run and a screen for
the frontend to open.

## Each turn

1. Classify the user's message into topics and intents with confidences.
2. Extract parameters the message names (e.g. a character name).
3. Call plotline_suggest with the session id and that context.
4. Offer the returned suggestions to the user by label.
5. When the user picks one, call plotline_confirm with its id.

## Rules of thumb

- Every plotline_suggest call starts a new turn; earlier ids expire.
- A suggestion can be confirmed once. Rejections say why.
- Suggestions marked for review change or delete data: ask before confirming.
- Use plotline_project_create to start a story and bind it to the session.
- plotline_project_state shows the data rule conditions see.
`
}
