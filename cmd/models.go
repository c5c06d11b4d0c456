package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/signal"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models installed on the endpoint",
	Long: `List the models installed on the configured chat endpoint.

Examples:
  term-chat models
  term-chat models --base-url http://gpu-box:11434
  term-chat models --json`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	client := llm.NewClient(cfg.ClientConfig(), nil, zerolog.Nop())
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models from %s: %w", client.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	if len(models) == 0 {
		fmt.Fprintln(out, "No models installed.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	for _, m := range models {
		marker := ""
		if m.Name == cfg.Endpoint.Model {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\n", m.Name, marker, humanize.Bytes(uint64(m.Size)), m.ModifiedAt)
	}
	return tw.Flush()
}
