package service

import (
	"context"
	"errors"
	"sync"
)

// errStopped is the cancel cause of a turn stopped by its user.
var errStopped = errors.New("turn stopped by user")

type activeKey struct {
	userID string
	chatID string
}

// ActiveTurns tracks the cancel func of every streaming turn so an explicit
// stop request can end it.
type ActiveTurns struct {
	mu    sync.Mutex
	turns map[activeKey]*activeTurn
}

type activeTurn struct {
	cancel context.CancelCauseFunc
}

func NewActiveTurns() *ActiveTurns {
	return &ActiveTurns{turns: make(map[activeKey]*activeTurn)}
}

// Register derives a cancelable context for a turn. The returned release
// func must be called when the turn ends. A newer turn on the same chat
// replaces the older registration.
func (a *ActiveTurns) Register(ctx context.Context, userID, chatID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	key := activeKey{userID: userID, chatID: chatID}
	t := &activeTurn{cancel: cancel}

	a.mu.Lock()
	a.turns[key] = t
	a.mu.Unlock()

	return ctx, func() {
		a.mu.Lock()
		if a.turns[key] == t {
			delete(a.turns, key)
		}
		a.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Stop cancels the user's active turn on chatID.
func (a *ActiveTurns) Stop(userID, chatID string) error {
	a.mu.Lock()
	t, ok := a.turns[activeKey{userID: userID, chatID: chatID}]
	a.mu.Unlock()
	if !ok {
		return ErrNoActiveTurn
	}
	t.cancel(errStopped)
	return nil
}
