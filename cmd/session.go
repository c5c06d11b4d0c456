package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/session"
)

// recorder persists a conversation after each finished turn. The first
// finished turn creates the session; later ones update it.
type recorder struct {
	store session.Store
	model string
	mode  session.SessionMode
	sess  *session.Session
}

func newRecorder(store session.Store, model string, mode session.SessionMode, resumed *session.Session) *recorder {
	return &recorder{store: store, model: model, mode: mode, sess: resumed}
}

func (r *recorder) record(st conversation.TurnState, snap *conversation.State) {
	ctx := context.Background()
	if r.sess == nil {
		r.sess = &session.Session{
			Model:  r.model,
			Mode:   r.mode,
			Status: session.StatusFor(st),
			State:  snap,
		}
		if err := r.store.Create(ctx, r.sess); err != nil {
			return
		}
		r.store.SetCurrent(ctx, r.sess.ID)
		return
	}
	r.sess.Status = session.StatusFor(st)
	r.sess.State = snap
	r.store.Save(ctx, r.sess)
}

// resolveSession loads id, or the current session when id is "last".
func resolveSession(ctx context.Context, store session.Store, id string) (*session.Session, error) {
	var (
		sess *session.Session
		err  error
	)
	if id == "last" {
		sess, err = store.GetCurrent(ctx)
	} else {
		sess, err = store.Get(ctx, id)
	}
	if errors.Is(err, session.ErrNotFound) {
		if id == "last" {
			return nil, fmt.Errorf("no previous session to resume")
		}
		return nil, fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}
