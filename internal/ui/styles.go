package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/samsaffron/term-chat/internal/conversation"
)

// Theme defines the color palette for the UI
type Theme struct {
	Primary   lipgloss.Color // main accent color (prompt, highlights)
	Secondary lipgloss.Color // secondary accent (headers)
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // status lines, tool activity
	Text      lipgloss.Color
	Spinner   lipgloss.Color
	UserMsgBg lipgloss.Color // background for questions in chat
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"), // gruvbox foreground
		Spinner:   lipgloss.Color("#d3869b"), // gruvbox purple
		UserMsgBg: lipgloss.Color("#3c3836"),
	}
}

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	renderer *lipgloss.Renderer
	theme    *Theme

	Title       lipgloss.Style
	Muted       lipgloss.Style
	Success     lipgloss.Style
	Error       lipgloss.Style
	Warning     lipgloss.Style
	Highlighted lipgloss.Style
	Spinner     lipgloss.Style
	Question    lipgloss.Style
	Prompt      lipgloss.Style
}

// NewStyles creates styles for output using the given theme.
func NewStyles(output io.Writer, theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	r := lipgloss.NewRenderer(output)
	return &Styles{
		renderer:    r,
		theme:       theme,
		Title:       r.NewStyle().Bold(true).Foreground(theme.Text),
		Muted:       r.NewStyle().Foreground(theme.Muted),
		Success:     r.NewStyle().Foreground(theme.Success),
		Error:       r.NewStyle().Foreground(theme.Error),
		Warning:     r.NewStyle().Foreground(theme.Warning),
		Highlighted: r.NewStyle().Bold(true).Foreground(theme.Primary),
		Spinner:     r.NewStyle().Foreground(theme.Spinner),
		Question:    r.NewStyle().Foreground(theme.Text).Background(theme.UserMsgBg).Padding(0, 1),
		Prompt:      r.NewStyle().Foreground(theme.Primary).Bold(true),
	}
}

// DefaultStyles returns styles for stderr (default TUI output)
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr, DefaultTheme())
}

// Theme returns the theme used by these styles
func (s *Styles) Theme() *Theme {
	return s.theme
}

// State renders a turn state label.
func (s *Styles) State(st conversation.TurnState) string {
	label := st.String()
	switch st {
	case conversation.TurnDone:
		return s.Success.Render(label)
	case conversation.TurnError:
		return s.Error.Render(label)
	case conversation.TurnStopped:
		return s.Warning.Render(label)
	default:
		return s.Muted.Render(label)
	}
}

// GlamourStyle derives a markdown style from the dark preset with the
// theme's accents.
func GlamourStyle(theme *Theme) ansi.StyleConfig {
	style := styles.DarkStyleConfig
	text := string(theme.Text)
	secondary := string(theme.Secondary)
	primary := string(theme.Primary)
	muted := string(theme.Muted)

	style.Document.Color = &text
	style.Heading.Color = &secondary
	style.H1.Color = &primary
	style.H1.BackgroundColor = nil
	style.Link.Color = &secondary
	style.Code.Color = &primary
	style.BlockQuote.Color = &muted
	return style
}
