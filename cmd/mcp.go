package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-chat/internal/mcp"
	"github.com/samsaffron/term-chat/internal/signal"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP (Model Context Protocol) servers",
	Long: `Inspect the MCP servers whose tools are offered to the model.

Servers are configured in mcp.json (see 'term-chat mcp path').

Examples:
  term-chat mcp list                    # list configured servers
  term-chat mcp tools                   # start servers and list their tools`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE:  mcpList,
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Start every server and list the tools offered to the model",
	RunE:  mcpTools,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print MCP configuration file path",
	RunE:  mcpPath,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	mcpCmd.AddCommand(mcpPathCmd)
}

func loadMCPConfig() (*mcp.Config, string, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	path := cfg.Tools.MCPConfig
	if path == "" {
		if path, err = mcp.DefaultConfigPath(); err != nil {
			return nil, "", err
		}
	}
	mcpCfg, err := mcp.LoadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return mcpCfg, path, nil
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadMCPConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(cfg.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		fmt.Fprintf(out, "\nAdd servers to: %s\n", path)
		return nil
	}

	fmt.Fprintf(out, "Configured MCP servers (%d):\n\n", len(cfg.Servers))
	for _, name := range cfg.ServerNames() {
		server := cfg.Servers[name]
		label := name
		if server.Disabled {
			label += " (disabled)"
		}
		fmt.Fprintf(out, "  %s\n", label)
		if server.TransportType() == "http" {
			fmt.Fprintf(out, "    url: %s\n", server.URL)
		} else {
			fmt.Fprintf(out, "    command: %s %s\n", server.Command, strings.Join(server.Args, " "))
		}
		if len(server.Env) > 0 {
			fmt.Fprintf(out, "    env: %d variables\n", len(server.Env))
		}
	}

	fmt.Fprintf(out, "\nConfig file: %s\n", path)
	return nil
}

func mcpTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadMCPConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	manager := mcp.NewManager(cfg, Version, zerolog.Nop())
	manager.StartAll(ctx)
	defer manager.StopAll()

	out := cmd.OutOrStdout()
	for _, st := range manager.States() {
		switch st.Status {
		case mcp.StatusReady:
			fmt.Fprintf(out, "%s: ready, %d tools\n", st.Name, st.Tools)
		default:
			fmt.Fprintf(out, "%s: %s: %v\n", st.Name, st.Status, st.Error)
		}
	}

	tools := manager.Manifest()
	if len(tools) == 0 {
		fmt.Fprintln(out, "\nNo tools available.")
		return nil
	}
	fmt.Fprintln(out)
	for _, t := range tools {
		fmt.Fprintf(out, "  %s\n", t.Function.Name)
		if t.Function.Description != "" {
			fmt.Fprintf(out, "      %s\n", t.Function.Description)
		}
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	_, path, err := loadMCPConfig()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
