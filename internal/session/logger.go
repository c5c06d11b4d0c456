package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Callers that treat persistence as best effort can ignore the returned
// errors and still see problems in the log.
type LoggingStore struct {
	Store
	log    zerolog.Logger
	mu     sync.Mutex
	warned map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, log zerolog.Logger) *LoggingStore {
	return &LoggingStore{
		Store:  store,
		log:    log.With().Str("component", "sessions").Logger(),
		warned: make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.log.Warn().Err(err).Str("op", op).Msg("session persistence failed")
}

// Create wraps Store.Create with error logging.
func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce("Create", err)
	return err
}

// Save wraps Store.Save with error logging.
func (s *LoggingStore) Save(ctx context.Context, sess *Session) error {
	err := s.Store.Save(ctx, sess)
	s.logOnce("Save", err)
	return err
}

// SetCurrent wraps Store.SetCurrent with error logging.
func (s *LoggingStore) SetCurrent(ctx context.Context, id string) error {
	err := s.Store.SetCurrent(ctx, id)
	s.logOnce("SetCurrent", err)
	return err
}
