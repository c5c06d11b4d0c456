package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get and Save for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Save replaces the stored conversation and status of an existing session.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, opts ListOptions) ([]SessionSummary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Current session tracking (for resume without an ID)
	SetCurrent(ctx context.Context, id string) error
	GetCurrent(ctx context.Context) (*Session, error)

	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`     // Master switch
	Path     string `mapstructure:"path" yaml:"path"`           // Database path; empty for the XDG default
	MaxCount int    `mapstructure:"max_count" yaml:"max_count"` // Keep at most N sessions (0=unlimited)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		MaxCount: 0,
	}
}

// GetDataDir returns the XDG data directory for term-chat.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "term-chat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "term-chat"), nil
}

// GetDBPath returns the path to the sessions database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If sessions are disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
