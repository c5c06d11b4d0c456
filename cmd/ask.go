package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
	"github.com/samsaffron/term-chat/internal/orchestrator"
	"github.com/samsaffron/term-chat/internal/session"
	"github.com/samsaffron/term-chat/internal/signal"
	"github.com/samsaffron/term-chat/internal/ui"
)

var (
	askSession  string
	askMarkdown bool
	askNoSave   bool
	askQuiet    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and stream the answer",
	Long: `Ask a question and stream the answer to stdout. Tool calls the model
makes are run against the configured MCP servers and the answer continues
with their results.

Press Ctrl+C once to stop the answer and keep what was received so far;
press it again to abort.

Examples:
  term-chat ask "what is the capital of France?"
  term-chat ask --markdown "compare slices and arrays"
  term-chat ask --session last "and what about maps?"
  echo "summarize this" | term-chat ask -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue a stored session by ID (or \"last\")")
	askCmd.Flags().BoolVar(&askMarkdown, "markdown", false, "Render the finished answer as markdown instead of streaming")
	askCmd.Flags().BoolVar(&askNoSave, "no-save", false, "Do not store this conversation")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "Suppress tool status lines on stderr")
	rootCmd.AddCommand(askCmd)
}

type askOutcome struct {
	state conversation.TurnState
	snap  *conversation.State
}

func runAsk(cmd *cobra.Command, args []string) error {
	question, err := readQuestion(args)
	if err != nil {
		return err
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var resumed *session.Session
	if askSession != "" {
		if resumed, err = resolveSession(ctx, a.store, askSession); err != nil {
			return err
		}
	}
	rec := newRecorder(a.store, cfg.Endpoint.Model, session.ModeAsk, resumed)

	opts := ui.TerminalOptions{Markdown: askMarkdown}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			opts.Width = w
		}
	}
	if !askQuiet {
		opts.Status = os.Stderr
	}
	surface := ui.NewTerminal(os.Stdout, opts)

	loop := dispatch.NewEventLoop()
	go loop.Run(ctx)

	done := make(chan askOutcome, 1)
	ctrl := orchestrator.NewController(ctx, a.engine, loop, surface, orchestrator.ControllerOptions{
		QueueSize: cfg.Dispatch.QueueSize,
		Dispatch:  cfg.DispatchOptions(),
		OnFinished: func(_ int, st conversation.TurnState, snap *conversation.State) {
			done <- askOutcome{state: st, snap: snap}
		},
	}, a.log)

	sigCtx, stopSignals := signal.StopOnInterrupt(ctx, ctrl.Stop)
	defer stopSignals()

	var submitErr error
	err = loop.Call(ctx, func() {
		if resumed != nil {
			if submitErr = ctrl.Load(resumed.State); submitErr != nil {
				return
			}
		}
		_, submitErr = ctrl.Submit(question)
	})
	if err == nil {
		err = submitErr
	}
	if err != nil {
		return err
	}

	select {
	case out := <-done:
		if !askNoSave {
			rec.record(out.state, out.snap)
		}
		cancel()
		ctrl.Wait()
		if out.state == conversation.TurnError {
			return fmt.Errorf("answer ended with an error")
		}
		return nil
	case <-sigCtx.Done():
		cancel()
		ctrl.Wait()
		return fmt.Errorf("aborted")
	}
}

// readQuestion joins args, reading stdin when the only argument is "-".
func readQuestion(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return "", fmt.Errorf("question is empty")
	}
	return question, nil
}
