package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/samsaffron/term-chat/internal/config"
	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/logging"
	"github.com/samsaffron/term-chat/internal/mcp"
	"github.com/samsaffron/term-chat/internal/orchestrator"
	"github.com/samsaffron/term-chat/internal/session"
)

func loadConfig() (*config.Loader, *config.Config, error) {
	loader, err := config.NewLoader(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := loader.Config()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg)
	return loader, cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if modelFlag != "" {
		cfg.Endpoint.Model = modelFlag
	}
	if baseURLFlag != "" {
		cfg.Endpoint.BaseURL = baseURLFlag
	}
	if systemFlag != "" {
		cfg.Engine.SystemPrompt = systemFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// openLogger writes logs to the configured file so they never interleave
// with streamed output. When the file cannot be opened, warnings and
// errors go to stderr instead.
func openLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	path, err := cfg.LogPath()
	if err == nil {
		var f *os.File
		if f, err = logging.OpenFile(path); err == nil {
			return logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: f}), f
		}
	}
	log := logging.New(logging.Config{Level: "warn", Pretty: true, Output: os.Stderr})
	log.Warn().Err(err).Msg("logging to stderr")
	return log, io.NopCloser(nil)
}

// app holds everything a conversation needs: endpoint client, tool host,
// engine and session store.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	client *llm.Client
	tools  *mcp.Manager
	engine *orchestrator.Engine
	store  session.Store

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, logFile := openLogger(cfg)
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logFile}}

	a.client = llm.NewClient(cfg.ClientConfig(), nil, log)

	mcpCfg, err := mcp.LoadConfig(cfg.Tools.MCPConfig)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load MCP config: %w", err)
	}
	a.tools = mcp.NewManager(mcpCfg, Version, log)
	a.tools.StartAll(ctx)
	for _, st := range a.tools.States() {
		if st.Status == mcp.StatusFailed {
			fmt.Fprintf(os.Stderr, "warning: MCP server %s failed to start: %v\n", st.Name, st.Error)
		}
	}

	coord := orchestrator.NewCoordinator(a.tools, cfg.CoordinatorOptions(), log)
	a.engine = orchestrator.NewEngine(a.client, a.tools, coord, cfg.EngineOptions(), log)

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		log.Warn().Err(err).Msg("session storage unavailable")
		store = &session.NoopStore{}
	}
	a.store = session.NewLoggingStore(store, log)
	return a, nil
}

// Close stops MCP servers and releases the store and log file.
func (a *app) Close() {
	if a.tools != nil {
		a.tools.StopAll()
	}
	if a.store != nil {
		a.store.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func openSessionStore() (session.Store, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("session storage is disabled in config")
	}
	return session.NewStore(cfg.Session)
}
