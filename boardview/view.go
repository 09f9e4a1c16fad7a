// Package boardview is the drag-reorder engine: three ordered lanes derived
// from the task cache, optimistic local moves, and convergence to server truth
// through unconditional refetch.
package boardview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
)

// API is the slice of the REST client the view needs.
type API interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status) (string, error)
}

// Cache is the slice of the task cache the view needs.
type Cache interface {
	Lanes() map[domain.Status][]domain.Task
	Refresh(ctx context.Context) error
	Subscribe(fn func()) func()
}

// View renders tasks grouped by status as three ordered lanes. The lanes are
// a derived projection of the cache, rebuilt on every cache change; the
// optimistic splice during a drag is the one documented exception to
// derived-only.
type View struct {
	api        API
	cache      Cache
	toasts     alerts.Toaster
	offCache   func()
	offChannel func()

	// ToastDelay postpones the success toast for external task events so a
	// burst of updates does not become a toast storm.
	ToastDelay time.Duration

	mu    sync.Mutex
	lanes map[domain.Status][]domain.Task
}

// NewView builds the lane projection and subscribes to cache changes and to
// taskUpdated pushes on the channel.
func NewView(api API, cache Cache, ch realtime.Channel, toasts alerts.Toaster) *View {
	if api == nil || cache == nil || ch == nil {
		panic("boardview.NewView: nil dependency")
	}
	if toasts == nil {
		toasts = alerts.Log{}
	}
	v := &View{
		api:        api,
		cache:      cache,
		toasts:     toasts,
		ToastDelay: 5 * time.Second,
		lanes:      cache.Lanes(),
	}
	v.offCache = cache.Subscribe(v.rebuild)
	v.offChannel = ch.Subscribe(realtime.EventTaskUpdated, v.onExternalTaskEvent)
	return v
}

// Close detaches the view from the cache and channel.
func (v *View) Close() {
	v.offCache()
	v.offChannel()
}

// Lane returns a copy of one lane's ordered task list.
func (v *View) Lane(s domain.Status) []domain.Task {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Task, len(v.lanes[s]))
	copy(out, v.lanes[s])
	return out
}

// Lanes returns a copy of the whole projection.
func (v *View) Lanes() map[domain.Status][]domain.Task {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[domain.Status][]domain.Task, len(v.lanes))
	for s, tasks := range v.lanes {
		lane := make([]domain.Task, len(tasks))
		copy(lane, tasks)
		out[s] = lane
	}
	return out
}

// Reorder applies a drag gesture. A cancelled gesture (invalid destination
// lane) is a no-op. Same-lane moves are purely local. Cross-lane moves mutate
// the task's status, insert it at the head of the destination lane regardless
// of the drop index, and issue the status-only update; the optimistic state is
// visible before the request resolves. On failure the move is rolled back and
// an error toast raised.
func (v *View) Reorder(ctx context.Context, src domain.Status, srcIdx int, dst domain.Status, dstIdx int) error {
	if !dst.Valid() {
		return nil
	}
	if !src.Valid() {
		return fmt.Errorf("boardview: invalid source lane %q", src)
	}

	v.mu.Lock()
	srcLane := v.lanes[src]
	if srcIdx < 0 || srcIdx >= len(srcLane) {
		v.mu.Unlock()
		return fmt.Errorf("boardview: source index %d out of range for %s", srcIdx, src)
	}

	if src == dst {
		if dstIdx < 0 || dstIdx >= len(srcLane) {
			v.mu.Unlock()
			return fmt.Errorf("boardview: destination index %d out of range for %s", dstIdx, dst)
		}
		lane := make([]domain.Task, len(srcLane))
		copy(lane, srcLane)
		moved := lane[srcIdx]
		lane = append(lane[:srcIdx], lane[srcIdx+1:]...)
		lane = append(lane[:dstIdx], append([]domain.Task{moved}, lane[dstIdx:]...)...)
		v.lanes[src] = lane
		v.mu.Unlock()
		return nil
	}

	prev := snapshot(v.lanes)
	moved := srcLane[srcIdx]
	newSrc := make([]domain.Task, 0, len(srcLane)-1)
	newSrc = append(newSrc, srcLane[:srcIdx]...)
	newSrc = append(newSrc, srcLane[srcIdx+1:]...)
	moved.Status = dst
	v.lanes[src] = newSrc
	v.lanes[dst] = append([]domain.Task{moved}, v.lanes[dst]...)
	v.mu.Unlock()

	msg, err := v.api.UpdateTaskStatus(ctx, moved.ID, dst)
	if err != nil {
		log.WithError(err).WithField("task", moved.ID).Error("status update failed")
		v.mu.Lock()
		v.lanes = prev
		v.mu.Unlock()
		v.toasts.Error("Could not move task, reverted")
		return err
	}
	if msg != "" {
		v.toasts.Success(msg)
	}
	// Server truth replaces local state via the full refetch.
	if err := v.cache.Refresh(ctx); err != nil {
		log.WithError(err).Error("task refetch after status update failed")
	}
	return nil
}

// onExternalTaskEvent handles a taskUpdated push: the success toast is delayed
// by ToastDelay while the authoritative refetch starts immediately.
func (v *View) onExternalTaskEvent(data []byte) {
	var ev realtime.TaskUpdatedEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		log.WithError(err).Warn("dropping malformed taskUpdated event")
		return
	}
	if ev.Message != "" {
		msg := ev.Message
		time.AfterFunc(v.ToastDelay, func() { v.toasts.Success(msg) })
	}
	if err := v.cache.Refresh(context.Background()); err != nil {
		log.WithError(err).Error("task refetch after push failed")
	}
}

func (v *View) rebuild() {
	lanes := v.cache.Lanes()
	v.mu.Lock()
	v.lanes = lanes
	v.mu.Unlock()
}

func snapshot(lanes map[domain.Status][]domain.Task) map[domain.Status][]domain.Task {
	out := make(map[domain.Status][]domain.Task, len(lanes))
	for s, tasks := range lanes {
		lane := make([]domain.Task, len(tasks))
		copy(lane, tasks)
		out[s] = lane
	}
	return out
}
