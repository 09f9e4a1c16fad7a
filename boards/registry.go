// Package boards tracks the set of boards visible to the current user and
// which one is active.
package boards

import (
	"context"
	"errors"
	"sync"

	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/session"
)

// ErrUnknownBoard is returned by Select for a board ID that is not in the
// registry.
var ErrUnknownBoard = errors.New("boards: unknown board")

// API is the slice of the REST client the registry needs.
type API interface {
	Boards(ctx context.Context, role domain.Role) ([]domain.Board, error)
	CreateBoard(ctx context.Context, title string) (string, error)
}

// Registry holds the user's boards and the active selection. Selection changes
// are pushed to subscribers, which is how the task cache learns to switch.
type Registry struct {
	api   API
	store *session.Store

	mu      sync.Mutex
	boards  []domain.Board
	current *domain.Board
	nextSub int
	subs    map[int]func(domain.Board)
}

// NewRegistry creates an empty registry for the session's user.
func NewRegistry(api API, store *session.Store) *Registry {
	if api == nil || store == nil {
		panic("boards.NewRegistry: nil dependency")
	}
	return &Registry{api: api, store: store, subs: make(map[int]func(domain.Board))}
}

// Refresh fetches the boards visible to the cached user's role.
func (r *Registry) Refresh(ctx context.Context) error {
	user, ok := r.store.User()
	if !ok {
		return session.ErrNoSession
	}
	boards, err := r.api.Boards(ctx, user.Role)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.boards = boards
	r.mu.Unlock()
	return nil
}

// Boards returns a copy of the fetched board list.
func (r *Registry) Boards() []domain.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Board, len(r.boards))
	copy(out, r.boards)
	return out
}

// Current returns the active board, if one is selected.
func (r *Registry) Current() (domain.Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return domain.Board{}, false
	}
	return *r.current, true
}

// Select makes the board with the given ID active and notifies subscribers.
func (r *Registry) Select(boardID string) error {
	r.mu.Lock()
	var found *domain.Board
	for i := range r.boards {
		if r.boards[i].ID == boardID {
			b := r.boards[i]
			found = &b
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return ErrUnknownBoard
	}
	r.current = found
	board := *found
	subs := make([]func(domain.Board), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(board)
	}
	return nil
}

// Create registers a new board, gated on the create-board capability, and
// refreshes the registry so the new board is selectable.
func (r *Registry) Create(ctx context.Context, title string) (string, error) {
	user, ok := r.store.User()
	if !ok {
		return "", session.ErrNoSession
	}
	if !user.Role.Can(domain.CapCreateBoard) {
		return "", errors.New("boards: only managers can create boards")
	}
	msg, err := r.api.CreateBoard(ctx, title)
	if err != nil {
		return "", err
	}
	if err := r.Refresh(ctx); err != nil {
		return msg, err
	}
	return msg, nil
}

// Subscribe registers fn to run whenever the active board changes. The
// returned function removes the subscription.
func (r *Registry) Subscribe(fn func(domain.Board)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}
