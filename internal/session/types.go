package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/samsaffron/term-chat/internal/conversation"
)

// SessionStatus represents the outcome of the most recent turn.
type SessionStatus string

const (
	StatusActive      SessionStatus = "active"      // A turn is or was in flight
	StatusComplete    SessionStatus = "complete"    // Last turn finished normally
	StatusError       SessionStatus = "error"       // Last turn ended with an error
	StatusInterrupted SessionStatus = "interrupted" // Last turn was stopped by the user
)

// StatusFor maps a terminal turn state to a session status.
func StatusFor(st conversation.TurnState) SessionStatus {
	switch st {
	case conversation.TurnDone:
		return StatusComplete
	case conversation.TurnError:
		return StatusError
	case conversation.TurnStopped:
		return StatusInterrupted
	default:
		return StatusActive
	}
}

// SessionMode records which command created a session.
type SessionMode string

const (
	ModeChat SessionMode = "chat" // Interactive chat TUI
	ModeAsk  SessionMode = "ask"  // One-shot ask command
)

// Session is one stored conversation.
type Session struct {
	ID        string
	Name      string
	Summary   string // First question, truncated
	Model     string
	Mode      SessionMode
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	State *conversation.State
}

// Turns returns the number of question/answer pairs.
func (s *Session) Turns() int {
	if s.State == nil {
		return 0
	}
	return s.State.Len()
}

// SessionSummary is a lightweight listing row.
type SessionSummary struct {
	ID        string
	Name      string
	Summary   string
	Model     string
	Mode      SessionMode
	Status    SessionStatus
	Turns     int
	UpdatedAt time.Time
}

// ListOptions controls List.
type ListOptions struct {
	Limit  int
	Offset int
	Mode   SessionMode // empty for all modes
}

// SearchResult is one session matching a search query.
type SearchResult struct {
	SessionID string
	Name      string
	Summary   string
	Snippet   string
	UpdatedAt time.Time
}

// NewID generates a session identifier.
func NewID() string {
	return uuid.NewString()
}

const summaryWidth = 80

// Summarize derives a session summary from its first question.
func Summarize(s *conversation.State) string {
	if s == nil || s.Len() == 0 {
		return ""
	}
	q := strings.Join(strings.Fields(s.Question(0)), " ")
	return runewidth.Truncate(q, summaryWidth, "…")
}

// searchText flattens a conversation into the text searched by Search.
func searchText(s *conversation.State) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for i := 0; i < s.Len(); i++ {
		b.WriteString(s.Question(i))
		b.WriteByte('\n')
		b.WriteString(s.Answer(i).TextOnly())
		b.WriteByte('\n')
	}
	return b.String()
}

// snippet returns the text around the first case-insensitive match of query.
func snippet(text, query string, radius int) string {
	pos := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if pos < 0 || pos >= len(text) {
		return ""
	}
	start := max(pos-radius, 0)
	end := min(pos+len(query)+radius, len(text))
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
