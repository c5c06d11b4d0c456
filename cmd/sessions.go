package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-chat/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	Long: `List, search, show, and delete stored conversations.

Examples:
  term-chat sessions                       # List recent sessions
  term-chat sessions list --mode ask
  term-chat sessions search "kubernetes"
  term-chat sessions show <id>
  term-chat sessions delete <id>`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

// Flags
var (
	sessionsLimit int
	sessionsMode  string
	sessionsJSON  bool
)

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsMode, "mode", "", "Filter by mode (chat, ask)")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	mode := session.SessionMode(sessionsMode)
	if mode != "" && mode != session.ModeChat && mode != session.ModeAsk {
		return fmt.Errorf("invalid mode %q: must be chat or ask", sessionsMode)
	}

	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), session.ListOptions{Limit: sessionsLimit, Mode: mode})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-40s %-5s %5s %-11s %s\n", "ID", "SUMMARY", "MODE", "TURNS", "STATUS", "AGE")
	fmt.Fprintln(out, strings.Repeat("-", 86))
	for _, s := range summaries {
		summary := s.Summary
		if s.Name != "" {
			summary = s.Name
		}
		summary = runewidth.FillRight(runewidth.Truncate(summary, 40, "..."), 40)
		fmt.Fprintf(out, "%-10s %s %-5s %5d %-11s %s\n",
			shortID(s.ID), summary, s.Mode, s.Turns, s.Status, formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(cmd.Context(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for '%s'\n", query)
		return nil
	}

	fmt.Fprintf(out, "Found %d matches for '%s':\n\n", len(results), query)
	for _, r := range results {
		title := r.Name
		if title == "" {
			title = r.Summary
		}
		fmt.Fprintf(out, "%s  %s (%s)\n", shortID(r.SessionID), title, formatRelativeTime(r.UpdatedAt))
		fmt.Fprintf(out, "  %s\n\n", r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := resolveSessionPrefix(cmd, store, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		data := struct {
			ID        string    `json:"id"`
			Name      string    `json:"name,omitempty"`
			Model     string    `json:"model"`
			Mode      string    `json:"mode"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"created_at"`
			UpdatedAt time.Time `json:"updated_at"`
			State     any       `json:"state"`
		}{sess.ID, sess.Name, sess.Model, string(sess.Mode), string(sess.Status), sess.CreatedAt, sess.UpdatedAt, sess.State}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	if sess.Name != "" {
		fmt.Fprintf(out, "Name: %s\n", sess.Name)
	}
	fmt.Fprintf(out, "Model: %s\n", sess.Model)
	fmt.Fprintf(out, "Mode: %s\n", sess.Mode)
	fmt.Fprintf(out, "Status: %s\n", sess.Status)
	fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(out, strings.Repeat("-", 50))

	st := sess.State
	for i := 0; i < st.Len(); i++ {
		fmt.Fprintf(out, "\n> %s\n\n", st.Question(i))
		fmt.Fprintln(out, st.Answer(i).FullText())
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := resolveSessionPrefix(cmd, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", shortID(sess.ID))
	return nil
}

// resolveSessionPrefix accepts a full ID, "last", or the short ID shown by
// list when it matches exactly one recent session.
func resolveSessionPrefix(cmd *cobra.Command, store session.Store, id string) (*session.Session, error) {
	sess, err := resolveSession(cmd.Context(), store, id)
	if err == nil || len(id) >= 36 || id == "last" {
		return sess, err
	}
	summaries, lerr := store.List(cmd.Context(), session.ListOptions{Limit: 1000})
	if lerr != nil {
		return nil, err
	}
	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return nil, fmt.Errorf("session prefix %q is ambiguous", id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return nil, err
	}
	return resolveSession(cmd.Context(), store, match)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatRelativeTime formats a time as "5m ago", "2h ago", etc.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
