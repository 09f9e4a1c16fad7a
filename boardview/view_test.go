package boardview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
	"github.com/Usmanmre/teamsphere-go/taskcache"
)

// fakeServer backs both the task cache and the status-update call, so tests
// exercise the real convergence path: optimistic splice, then refetch.
type fakeServer struct {
	mu          sync.Mutex
	tasks       []domain.Task
	statusCalls []statusCall
	statusErr   error
}

type statusCall struct {
	taskID string
	status domain.Status
}

func (f *fakeServer) Tasks(_ context.Context, _ string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeServer) UpdateTaskStatus(_ context.Context, taskID string, status domain.Status) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{taskID, status})
	if f.statusErr != nil {
		return "", f.statusErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].Status = status
		}
	}
	return "Task status updated", nil
}

func newFixture(t *testing.T, tasks []domain.Task) (*fakeServer, *taskcache.Cache, *realtime.Fake, *alerts.Recorder, *View) {
	t.Helper()
	srv := &fakeServer{tasks: tasks}
	cache := taskcache.NewCache(srv)
	cache.SetBoard(domain.Board{ID: "b1", Title: "Sprint"})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ch := realtime.NewFake()
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect fake: %v", err)
	}
	toasts := &alerts.Recorder{}
	v := NewView(srv, cache, ch, toasts)
	v.ToastDelay = 10 * time.Millisecond
	t.Cleanup(v.Close)
	return srv, cache, ch, toasts, v
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func sameIDs(a []domain.Task, want ...string) bool {
	if len(a) != len(want) {
		return false
	}
	for i := range want {
		if a[i].ID != want[i] {
			return false
		}
	}
	return true
}

func TestCrossLaneMoveInsertsAtHead(t *testing.T) {
	srv, _, _, _, v := newFixture(t, []domain.Task{
		{ID: "A", Status: domain.StatusTodo},
		{ID: "B", Status: domain.StatusTodo},
		{ID: "C", Status: domain.StatusInProgress},
		{ID: "D", Status: domain.StatusInProgress},
	})

	// Drop index 2 (the bottom) is deliberately ignored for cross-lane moves.
	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusInProgress, 2); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	if got := v.Lane(domain.StatusTodo); !sameIDs(got, "B") {
		t.Fatalf("todo lane = %v", ids(got))
	}
	inProg := v.Lane(domain.StatusInProgress)
	if !sameIDs(inProg, "A", "C", "D") {
		t.Fatalf("inProgress lane = %v", ids(inProg))
	}
	if inProg[0].Status != domain.StatusInProgress {
		t.Fatalf("moved task status = %q", inProg[0].Status)
	}

	srv.mu.Lock()
	calls := srv.statusCalls
	srv.mu.Unlock()
	if len(calls) != 1 || calls[0] != (statusCall{"A", domain.StatusInProgress}) {
		t.Fatalf("status calls = %#v", calls)
	}
}

func TestScenarioDragAFromTodoToInProgress(t *testing.T) {
	srv, _, _, _, v := newFixture(t, []domain.Task{
		{ID: "A", Status: domain.StatusTodo},
		{ID: "B", Status: domain.StatusTodo},
	})

	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusInProgress, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := v.Lane(domain.StatusTodo); !sameIDs(got, "B") {
		t.Fatalf("todo = %v", ids(got))
	}
	if got := v.Lane(domain.StatusInProgress); !sameIDs(got, "A") {
		t.Fatalf("inProgress = %v", ids(got))
	}
	if got := v.Lane(domain.StatusDone); len(got) != 0 {
		t.Fatalf("done = %v", ids(got))
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.statusCalls) != 1 || srv.statusCalls[0] != (statusCall{"A", domain.StatusInProgress}) {
		t.Fatalf("status calls = %#v", srv.statusCalls)
	}
}

func TestSameLaneMoveIsLocalOnly(t *testing.T) {
	srv, _, _, _, v := newFixture(t, []domain.Task{
		{ID: "A", Status: domain.StatusTodo},
		{ID: "B", Status: domain.StatusTodo},
		{ID: "C", Status: domain.StatusTodo},
	})

	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusTodo, 2); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := v.Lane(domain.StatusTodo); !sameIDs(got, "B", "C", "A") {
		t.Fatalf("todo = %v", ids(got))
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.statusCalls) != 0 {
		t.Fatalf("unexpected network calls: %#v", srv.statusCalls)
	}
}

func TestCancelledGestureIsNoop(t *testing.T) {
	srv, _, _, _, v := newFixture(t, []domain.Task{{ID: "A", Status: domain.StatusTodo}})
	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, "", 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := v.Lane(domain.StatusTodo); !sameIDs(got, "A") {
		t.Fatalf("todo = %v", ids(got))
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.statusCalls) != 0 {
		t.Fatalf("unexpected network calls: %#v", srv.statusCalls)
	}
}

func TestInvalidIndicesRejected(t *testing.T) {
	_, _, _, _, v := newFixture(t, []domain.Task{{ID: "A", Status: domain.StatusTodo}})
	if err := v.Reorder(context.Background(), domain.StatusTodo, 5, domain.StatusDone, 0); err == nil {
		t.Fatal("expected error for out-of-range source index")
	}
	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusTodo, 3); err == nil {
		t.Fatal("expected error for out-of-range destination index")
	}
}

func TestFailedStatusUpdateRollsBack(t *testing.T) {
	srv, _, _, toasts, v := newFixture(t, []domain.Task{
		{ID: "A", Status: domain.StatusTodo},
		{ID: "B", Status: domain.StatusTodo},
		{ID: "C", Status: domain.StatusDone},
	})
	srv.mu.Lock()
	srv.statusErr = errors.New("boom")
	srv.mu.Unlock()

	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusDone, 0); err == nil {
		t.Fatal("expected error")
	}
	if got := v.Lane(domain.StatusTodo); !sameIDs(got, "A", "B") {
		t.Fatalf("todo after rollback = %v", ids(got))
	}
	if got := v.Lane(domain.StatusDone); !sameIDs(got, "C") {
		t.Fatalf("done after rollback = %v", ids(got))
	}
	if got := v.Lane(domain.StatusTodo)[0].Status; got != domain.StatusTodo {
		t.Fatalf("task status after rollback = %q", got)
	}
	if len(toasts.Errors()) != 1 {
		t.Fatalf("error toasts = %v", toasts.Errors())
	}
}

func TestExternalEventRefetchesAndDelaysToast(t *testing.T) {
	srv, cache, ch, toasts, v := newFixture(t, []domain.Task{{ID: "A", Status: domain.StatusTodo}})
	v.ToastDelay = 50 * time.Millisecond

	// Another collaborator moved A server-side.
	srv.mu.Lock()
	srv.tasks[0].Status = domain.StatusDone
	srv.mu.Unlock()

	if err := ch.Push(realtime.EventTaskUpdated, realtime.TaskUpdatedEvent{Message: "Task moved"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	// The refetch is synchronous with the push handler; the view converged.
	if got := v.Lane(domain.StatusDone); !sameIDs(got, "A") {
		t.Fatalf("done lane = %v", ids(got))
	}
	if got := cache.Tasks(); len(got) != 1 || got[0].Status != domain.StatusDone {
		t.Fatalf("cache = %#v", got)
	}

	// The toast only fires after the delay window.
	if n := len(toasts.Successes()); n != 0 {
		t.Fatalf("toast fired early: %v", toasts.Successes())
	}
	deadline := time.After(2 * time.Second)
	for len(toasts.Successes()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for delayed toast")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := toasts.Successes(); got[0] != "Task moved" {
		t.Fatalf("toast = %v", got)
	}
}

func TestPendingUpdateAndPushConverge(t *testing.T) {
	_, cache, ch, _, v := newFixture(t, []domain.Task{
		{ID: "A", Status: domain.StatusTodo},
		{ID: "B", Status: domain.StatusInProgress},
	})

	// Local cross-lane move and a concurrent push both funnel into the same
	// unconditional refetch, so ordering between them does not matter.
	if err := v.Reorder(context.Background(), domain.StatusTodo, 0, domain.StatusDone, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := ch.Push(realtime.EventTaskUpdated, realtime.TaskUpdatedEvent{Message: "moved"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	want := map[string]domain.Status{"A": domain.StatusDone, "B": domain.StatusInProgress}
	for _, task := range cache.Tasks() {
		if task.Status != want[task.ID] {
			t.Fatalf("task %s status = %q, want %q", task.ID, task.Status, want[task.ID])
		}
	}
	if got := v.Lane(domain.StatusDone); !sameIDs(got, "A") {
		t.Fatalf("done lane = %v", ids(got))
	}
}
