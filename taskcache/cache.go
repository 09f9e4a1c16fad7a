// Package taskcache owns the in-memory task list for the active board. Every
// other component reads derived copies; only the cache's own setters mutate
// the list.
package taskcache

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/domain"
)

// API is the slice of the REST client the cache needs.
type API interface {
	Tasks(ctx context.Context, boardID string) ([]domain.Task, error)
}

// Cache fetches and holds all tasks for the active board, grouped on demand.
// Switching boards discards the task list and bumps a generation counter so a
// fetch response that was in flight for the previous board is detected as
// stale and dropped instead of applied.
type Cache struct {
	api API

	mu       sync.Mutex
	board    *domain.Board
	gen      uint64
	tasks    []domain.Task
	selected *domain.Task
	loading  bool
	nextSub  int
	subs     map[int]func()
}

// NewCache creates an empty cache with no active board.
func NewCache(api API) *Cache {
	if api == nil {
		panic("taskcache.NewCache: api is nil")
	}
	return &Cache{api: api, subs: make(map[int]func())}
}

// SetBoard switches the active board. The task list and selection are
// discarded; the caller refetches.
func (c *Cache) SetBoard(b domain.Board) {
	c.mu.Lock()
	c.board = &b
	c.gen++
	c.tasks = nil
	c.selected = nil
	c.loading = false
	subs := c.snapshotSubsLocked()
	c.mu.Unlock()
	notify(subs)
}

// Board returns the active board, if one is selected.
func (c *Cache) Board() (domain.Board, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board == nil {
		return domain.Board{}, false
	}
	return *c.board, true
}

// Refresh fetches the full task list for the active board and replaces the
// cache with it. It is the single authoritative merge mechanism: push events
// and confirmed mutations all converge here. No active board is a no-op. A
// response that arrives after the board switched is discarded.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.board == nil {
		c.mu.Unlock()
		return nil
	}
	boardID := c.board.ID
	gen := c.gen
	c.loading = true
	subs := c.snapshotSubsLocked()
	c.mu.Unlock()
	notify(subs)

	tasks, err := c.api.Tasks(ctx, boardID)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.WithField("board", boardID).Debug("discarding stale task list response")
		return nil
	}
	c.loading = false
	if err != nil {
		subs = c.snapshotSubsLocked()
		c.mu.Unlock()
		notify(subs)
		return err
	}
	c.tasks = tasks
	if c.selected != nil {
		// Re-point the selection at the fresh copy of the same task.
		sel := *c.selected
		c.selected = nil
		for i := range c.tasks {
			if c.tasks[i].ID == sel.ID {
				t := c.tasks[i]
				c.selected = &t
				break
			}
		}
	}
	subs = c.snapshotSubsLocked()
	c.mu.Unlock()
	notify(subs)
	return nil
}

// Tasks returns a copy of the cached task list in server order.
func (c *Cache) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Lanes returns the grouped-by-status projection of the cached list. The
// result is a derived copy, rebuilt on every call.
func (c *Cache) Lanes() map[domain.Status][]domain.Task {
	return domain.GroupByStatus(c.Tasks())
}

// Loading reports whether a fetch is in flight.
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Select marks the task as the one open in the editor.
func (c *Cache) Select(t domain.Task) {
	c.mu.Lock()
	c.selected = &t
	subs := c.snapshotSubsLocked()
	c.mu.Unlock()
	notify(subs)
}

// ClearSelection drops the editor selection.
func (c *Cache) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	subs := c.snapshotSubsLocked()
	c.mu.Unlock()
	notify(subs)
}

// Selected returns the task open in the editor, if any.
func (c *Cache) Selected() (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return domain.Task{}, false
	}
	return *c.selected, true
}

// ApplyDescription overwrites the description of the given task in the cache
// and in the selection when it points at the same task. Last write wins; no
// merge is attempted.
func (c *Cache) ApplyDescription(taskID, description string) {
	c.mu.Lock()
	changed := false
	for i := range c.tasks {
		if c.tasks[i].ID == taskID {
			c.tasks[i].Description = description
			changed = true
			break
		}
	}
	if c.selected != nil && c.selected.ID == taskID {
		c.selected.Description = description
		changed = true
	}
	var subs []func()
	if changed {
		subs = c.snapshotSubsLocked()
	}
	c.mu.Unlock()
	notify(subs)
}

// Subscribe registers fn to run after every cache change (task list, loading
// flag, or selection). The returned function removes the subscription.
func (c *Cache) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cache) snapshotSubsLocked() []func() {
	out := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
