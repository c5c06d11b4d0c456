package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by main from the build.
var Version = "dev"

var (
	configFile  string
	modelFlag   string
	logLevel    string
	systemFlag  string
	baseURLFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is $XDG_CONFIG_HOME/term-chat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model to use (overrides endpoint.model)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Chat endpoint (overrides endpoint.base_url)")
	rootCmd.PersistentFlags().StringVar(&systemFlag, "system", "", "System prompt (overrides engine.system_prompt)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "term-chat",
	Short: "Stream answers from a local model, with tools",
	Long: `term-chat streams answers from an Ollama-compatible chat endpoint and
runs the tool calls the model makes against configured MCP servers,
continuing the answer until the model is done.

Examples:
  term-chat ask "what is 2+2?"
  term-chat ask --markdown "explain goroutines"
  term-chat chat                        # interactive chat
  term-chat chat --resume               # continue the last conversation
  term-chat sessions list
  term-chat mcp tools                   # list tools offered to the model
  term-chat config                      # view configuration`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "term-chat %s\n", Version)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
