package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestCreateStdioTransport_InheritsEnv(t *testing.T) {
	// Server with custom env should inherit parent PATH
	client := NewClient("test", ServerConfig{
		Command: "echo",
		Args:    []string{"hello"},
		Env: map[string]string{
			"CUSTOM_VAR": "custom_value",
		},
	}, "test")

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	env := ct.Command.Env
	if env == nil {
		t.Fatal("expected non-nil env when config has env vars")
	}

	hasPath := false
	hasCustom := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
		if e == "CUSTOM_VAR=custom_value" {
			hasCustom = true
		}
	}

	if !hasPath {
		t.Error("parent PATH not inherited in subprocess env")
	}
	if !hasCustom {
		t.Error("custom env var not set")
	}
}

func TestCreateStdioTransport_NoEnvNil(t *testing.T) {
	for _, env := range []map[string]string{nil, {}} {
		client := NewClient("test", ServerConfig{Command: "echo", Env: env}, "test")
		ct := client.createStdioTransport(context.Background()).(*sdkmcp.CommandTransport)
		if ct.Command.Env != nil {
			t.Errorf("env %v: expected nil cmd env so the child inherits everything", env)
		}
	}
}

func TestCreateStdioTransport_EnvOverridesParent(t *testing.T) {
	t.Setenv("TEST_MCP_VAR", "original")

	client := NewClient("test", ServerConfig{
		Command: "echo",
		Env:     map[string]string{"TEST_MCP_VAR": "overridden"},
	}, "test")

	ct := client.createStdioTransport(context.Background()).(*sdkmcp.CommandTransport)

	// Last wins in exec.Cmd
	last := ""
	for _, e := range ct.Command.Env {
		if strings.HasPrefix(e, "TEST_MCP_VAR=") {
			last = e
		}
	}
	if last != "TEST_MCP_VAR=overridden" {
		t.Errorf("last TEST_MCP_VAR entry = %q, want overridden", last)
	}
}

func TestCreateHTTPTransport(t *testing.T) {
	client := NewClient("remote", ServerConfig{URL: "https://example.com/mcp"}, "test")
	st, ok := client.createHTTPTransport().(*sdkmcp.StreamableClientTransport)
	if !ok {
		t.Fatal("expected sdkmcp.StreamableClientTransport")
	}
	if st.Endpoint != "https://example.com/mcp" {
		t.Errorf("endpoint = %q", st.Endpoint)
	}
	if st.HTTPClient != http.DefaultClient {
		t.Error("expected the default client when no headers are configured")
	}
}

func TestHeaderTransportExpandsEnv(t *testing.T) {
	t.Setenv("MCP_TEST_TOKEN", "s3cret")

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{
		base:    http.DefaultTransport,
		headers: map[string]string{"Authorization": "Bearer ${MCP_TEST_TOKEN}"},
	}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestCallToolNotRunning(t *testing.T) {
	client := NewClient("idle", ServerConfig{Command: "true"}, "test")
	if _, err := client.CallTool(context.Background(), "x", nil); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Errorf("CallTool error = %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Errorf("Stop on idle client: %v", err)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := dir + string(os.PathSeparator) + "term-chat" + string(os.PathSeparator) + "mcp.json"; path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}
