package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/samsaffron/term-chat/internal/orchestrator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.BaseURL != "http://localhost:11434" {
		t.Errorf("base_url = %q", cfg.Endpoint.BaseURL)
	}
	if cfg.Tools.Timeout != 300*time.Second || cfg.Tools.MaxParallel != 3 {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Engine.MaxContinuations != orchestrator.DefaultMaxContinuations {
		t.Errorf("max_continuations = %d", cfg.Engine.MaxContinuations)
	}
	if !cfg.Session.Enabled {
		t.Error("sessions should be enabled by default")
	}
	if cfg.Dispatch.QueueSize != 256 || cfg.Dispatch.RenderInterval != 50*time.Millisecond {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
}

func TestDefaultsIgnoreEnvironment(t *testing.T) {
	t.Setenv("TERM_CHAT_ENDPOINT_MODEL", "mistral")
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint.Model != "llama3.2" {
		t.Errorf("model = %q, want llama3.2", cfg.Endpoint.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  base_url: http://gpu-box:11434
  model: qwen3
  temperature: 0.2
  num_ctx: 8192
tools:
  timeout: 45s
  max_parallel: 2
engine:
  max_continuations: 5
  system_prompt: Be brief.
dispatch:
  render_chars: 80
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	client := cfg.ClientConfig()
	if client.BaseURL != "http://gpu-box:11434" || client.Model != "qwen3" {
		t.Errorf("client config = %+v", client)
	}
	if diff := cmp.Diff(map[string]any{"temperature": 0.2, "num_ctx": 8192}, client.Options); diff != "" {
		t.Errorf("options (-want +got):\n%s", diff)
	}

	if got := cfg.CoordinatorOptions(); got.Timeout != 45*time.Second || got.MaxParallel != 2 {
		t.Errorf("coordinator options = %+v", got)
	}
	eng := cfg.EngineOptions()
	if eng.MaxContinuations != 5 || eng.SystemPrompt != "Be brief." || eng.Model != "qwen3" {
		t.Errorf("engine options = %+v", eng)
	}
	if eng.Keeper.Heartbeat != 15*time.Second {
		t.Errorf("heartbeat = %s", eng.Keeper.Heartbeat)
	}
	if d := cfg.DispatchOptions(); d.RenderChars != 80 || d.MaxBatch != 64 {
		t.Errorf("dispatch options = %+v", d)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TERM_CHAT_ENDPOINT_MODEL", "mistral")
	t.Setenv("TERM_CHAT_SESSION_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint.Model != "mistral" {
		t.Errorf("model = %q, want mistral", cfg.Endpoint.Model)
	}
	if cfg.Session.Enabled {
		t.Error("session.enabled should be overridden to false")
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too many parallel tools", "tools:\n  max_parallel: 8\n"},
		{"zero continuations", "engine:\n  max_continuations: 0\n"},
		{"empty base url", "endpoint:\n  base_url: \"\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpansion(t *testing.T) {
	t.Setenv("OLLAMA_HOST_URL", "http://remote:11434")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg, err := Load(writeConfig(t, `
endpoint:
  base_url: ${OLLAMA_HOST_URL}
session:
  path: ~/chats/sessions.db
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint.BaseURL != "http://remote:11434" {
		t.Errorf("base_url = %q", cfg.Endpoint.BaseURL)
	}
	if want := filepath.Join(home, "chats", "sessions.db"); cfg.Session.Path != want {
		t.Errorf("session path = %q, want %q", cfg.Session.Path, want)
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "dispatch:\n  render_chars: 100\n")
	l, err := NewLoader(path)
	if err != nil {
		t.Fatal(err)
	}
	if l.File() != path {
		t.Errorf("File() = %q, want %q", l.File(), path)
	}

	changed := make(chan *Config, 4)
	l.Watch(func(cfg *Config, err error) {
		if err == nil {
			changed <- cfg
		}
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("dispatch:\n  render_chars: 300\n"), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Dispatch.RenderChars == 300 {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestLogPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	cfg := &Config{}
	got, err := cfg.LogPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "term-chat", "term-chat.log"); got != want {
		t.Errorf("LogPath = %q, want %q", got, want)
	}
	cfg.Log.File = "/var/log/tc.log"
	if got, _ := cfg.LogPath(); got != "/var/log/tc.log" {
		t.Errorf("LogPath = %q", got)
	}
}
