package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/samsaffron/term-chat/internal/llm"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Tools  int
	client *Client
}

// Manager handles MCP server lifecycle and serves as the tool host for
// the orchestrator.
type Manager struct {
	config   *Config
	version  string
	log      zerolog.Logger
	statuses map[string]*ServerState
	mu       sync.RWMutex
}

// NewManager creates a manager for cfg. A nil cfg means no servers.
func NewManager(cfg *Config, version string, log zerolog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{Servers: make(map[string]ServerConfig)}
	}
	return &Manager{
		config:   cfg,
		version:  version,
		log:      log.With().Str("component", "mcp").Logger(),
		statuses: make(map[string]*ServerState),
	}
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// StartAll starts every enabled server concurrently and waits for all of
// them. Servers that fail are logged and marked failed; the rest stay
// usable.
func (m *Manager) StartAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range m.config.ServerNames() {
		sc := m.config.Servers[name]
		if sc.Disabled {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.start(ctx, name, NewClient(name, sc, m.version), nil); err != nil {
				m.log.Warn().Err(err).Str("server", name).Msg("MCP server failed to start")
			}
		}()
	}
	wg.Wait()
}

// Attach connects a named server over an existing transport, such as an
// in-process server.
func (m *Manager) Attach(ctx context.Context, name string, transport mcp.Transport) error {
	return m.start(ctx, name, NewClient(name, ServerConfig{}, m.version), transport)
}

func (m *Manager) start(ctx context.Context, name string, client *Client, transport mcp.Transport) error {
	m.mu.Lock()
	if state, ok := m.statuses[name]; ok && (state.Status == StatusStarting || state.Status == StatusReady) {
		m.mu.Unlock()
		return nil
	}
	state := &ServerState{Name: name, Status: StatusStarting, client: client}
	m.statuses[name] = state
	m.mu.Unlock()

	var err error
	if transport != nil {
		err = client.Connect(ctx, transport)
	} else {
		err = client.Start(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
		return err
	}
	state.Status = StatusReady
	state.Tools = len(client.Tools())
	m.log.Info().Str("server", name).Int("tools", state.Tools).Msg("MCP server ready")
	return nil
}

// Disable stops an MCP server.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	state, ok := m.statuses[name]
	if !ok || state.client == nil {
		m.mu.Unlock()
		return nil
	}
	client := state.client
	state.Status = StatusStopped
	state.Error = nil
	state.client = nil
	m.mu.Unlock()

	return client.Stop()
}

// StopAll stops all running MCP servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var clients []*Client
	for _, s := range m.statuses {
		if s.client != nil {
			clients = append(clients, s.client)
		}
	}
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		if err := c.Stop(); err != nil {
			m.log.Debug().Err(err).Str("server", c.Name()).Msg("stopping MCP server")
		}
	}
}

// States returns the state of every server that was started, sorted by name.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, s := range m.statuses {
		states = append(states, ServerState{Name: s.Name, Status: s.Status, Error: s.Error, Tools: s.Tools})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Manifest lists the tools of every ready server. Names are qualified as
// server__tool so the model's calls can be routed back.
func (m *Manager) Manifest() []llm.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []llm.Tool
	for _, name := range names {
		state := m.statuses[name]
		if state.Status != StatusReady || state.client == nil {
			continue
		}
		for _, t := range state.client.Tools() {
			tools = append(tools, llm.Tool{
				Type: "function",
				Function: llm.ToolFunction{
					Name:        fmt.Sprintf("%s__%s", name, t.Name),
					Description: fmt.Sprintf("[%s] %s", name, t.Description),
					Parameters:  t.Schema,
				},
			})
		}
	}
	return tools
}

// Invoke calls tool on server and returns the raw result.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	state, ok := m.statuses[server]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.client == nil {
		return nil, fmt.Errorf("MCP server %s is not running", server)
	}
	return state.client.CallTool(ctx, tool, args)
}
