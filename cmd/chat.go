package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-chat/internal/config"
	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/orchestrator"
	"github.com/samsaffron/term-chat/internal/session"
	"github.com/samsaffron/term-chat/internal/ui"
)

var (
	chatResume string
	chatNoSave bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat. Answers stream into the transcript while
tool calls run against the configured MCP servers.

Keys:
  enter        send the question
  esc          stop the running answer, keeping what was received
  ctrl+c       stop the running answer, or quit when idle
  pgup/pgdown  scroll the transcript

Examples:
  term-chat chat
  term-chat chat --resume           # continue the last session
  term-chat chat --resume <id>`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatResume, "resume", "r", "", "Resume a session by ID (no value resumes the last one)")
	chatCmd.Flags().Lookup("resume").NoOptDefVal = "last"
	chatCmd.Flags().BoolVar(&chatNoSave, "no-save", false, "Do not store this conversation")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
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
	if chatResume != "" {
		if resumed, err = resolveSession(ctx, a.store, chatResume); err != nil {
			return err
		}
	}
	rec := newRecorder(a.store, cfg.Endpoint.Model, session.ModeChat, resumed)

	loop := &ui.TeaLoop{}
	model := ui.NewChatModel(cfg.Endpoint.Model, ui.DefaultStyles())
	ctrl := orchestrator.NewController(ctx, a.engine, loop, model, orchestrator.ControllerOptions{
		QueueSize: cfg.Dispatch.QueueSize,
		Dispatch:  cfg.DispatchOptions(),
		OnFinished: func(_ int, st conversation.TurnState, snap *conversation.State) {
			if !chatNoSave {
				rec.record(st, snap)
			}
		},
	}, a.log)
	if resumed != nil {
		// The program has not started, so nothing else touches the controller yet.
		if err := ctrl.Load(resumed.State); err != nil {
			return err
		}
	}
	model.SetConversation(ctrl)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	loop.Attach(p)

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			a.log.Warn().Err(err).Msg("config reload failed")
			return
		}
		loop.Post(func() { ctrl.SetDispatchOptions(next.DispatchOptions()) })
		a.log.Info().Str("file", loader.File()).Msg("config reloaded")
	})

	_, runErr := p.Run()
	killed := ctx.Err() != nil
	ctrl.Stop()
	cancel()
	ctrl.Wait()
	if runErr != nil && !killed {
		return fmt.Errorf("chat: %w", runErr)
	}
	return nil
}
