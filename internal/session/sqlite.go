package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/samsaffron/term-chat/internal/conversation"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	log zerolog.Logger
}

// Schema for the sessions database. The conversation is stored serialized;
// text_content is a flattened copy used only for search.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT,
    summary TEXT,
    model TEXT NOT NULL,
    mode TEXT,
    status TEXT DEFAULT 'active',
    turns INTEGER DEFAULT 0,
    state TEXT NOT NULL,
    text_content TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);

-- Metadata table for current session tracking
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

// schemaVersion is stored in PRAGMA user_version. Increment when the schema
// changes and add the upgrade to initSchema.
const schemaVersion = 1

// NewSQLiteStore creates a new SQLite-based session store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	return NewSQLiteStoreWithLogger(cfg, zerolog.Nop())
}

// NewSQLiteStoreWithLogger is NewSQLiteStore with a logger for
// non-fatal problems.
func NewSQLiteStoreWithLogger(cfg Config, log zerolog.Logger) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		if dbPath, err = GetDBPath(); err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg, log: log.With().Str("component", "sessions").Logger()}
	if err := store.cleanup(context.Background()); err != nil {
		store.log.Warn().Err(err).Msg("session cleanup failed")
	}
	return store, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// cleanup keeps only the MaxCount most recently updated sessions.
func (s *SQLiteStore) cleanup(ctx context.Context) error {
	if s.cfg.MaxCount <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions
			ORDER BY updated_at DESC
			LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCount)
	if err != nil {
		return fmt.Errorf("enforce max count: %w", err)
	}
	return nil
}

func encodeState(st *conversation.State) (string, error) {
	if st == nil {
		st = conversation.New()
	}
	data, err := conversation.Serialize(st)
	if err != nil {
		return "", fmt.Errorf("serialize conversation: %w", err)
	}
	return string(data), nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	if sess.Summary == "" {
		sess.Summary = Summarize(sess.State)
	}

	state, err := encodeState(sess.State)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, summary, model, mode, status, turns, state, text_content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Summary, sess.Model, string(sess.Mode), string(sess.Status),
		sess.Turns(), state, searchText(sess.State), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Unknown IDs return ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, summary, model, mode, status, state, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess                       Session
		name, summary, mode, state sql.NullString
		status                     sql.NullString
	)
	err := row.Scan(&sess.ID, &name, &summary, &sess.Model, &mode, &status, &state, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Name = name.String
	sess.Summary = summary.String
	sess.Mode = SessionMode(mode.String)
	sess.Status = SessionStatus(status.String)

	sess.State, err = conversation.Deserialize([]byte(state.String))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return &sess, nil
}

// Save stores the conversation, status and name of an existing session.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	if sess.Summary == "" {
		sess.Summary = Summarize(sess.State)
	}
	state, err := encodeState(sess.State)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET name = ?, summary = ?, status = ?, turns = ?, state = ?, text_content = ?, updated_at = ?
		WHERE id = ?`,
		sess.Name, sess.Summary, string(sess.Status), sess.Turns(), state, searchText(sess.State), sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM metadata WHERE key = 'current_session' AND value = ?", id)
	if err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

// List returns session summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]SessionSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, name, summary, model, mode, status, turns, updated_at FROM sessions`
	var args []any
	if opts.Mode != "" {
		query += " WHERE mode = ?"
		args = append(args, string(opts.Mode))
	}
	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum                         SessionSummary
			name, summary, mode, status sql.NullString
		)
		if err := rows.Scan(&sum.ID, &name, &summary, &sum.Model, &mode, &status, &sum.Turns, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Name = name.String
		sum.Summary = summary.String
		sum.Mode = SessionMode(mode.String)
		sum.Status = SessionStatus(status.String)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Search finds sessions whose questions or answer text contain query,
// case-insensitively.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, summary, text_content, updated_at FROM sessions
		WHERE text_content LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r                   SearchResult
			name, summary, text sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &name, &summary, &text, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Name = name.String
		r.Summary = summary.String
		r.Snippet = snippet(text.String, query, 40)
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SetCurrent records id as the session to resume by default.
func (s *SQLiteStore) SetCurrent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('current_session', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, id)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	return nil
}

// GetCurrent returns the current session, or ErrNotFound when there is none.
func (s *SQLiteStore) GetCurrent(ctx context.Context) (*Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'current_session'").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return s.Get(ctx, id)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
