package notifyfeed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
)

type stubAPI struct {
	mu        sync.Mutex
	list      []domain.Notification
	markCalls int
	markErr   error
}

func (s *stubAPI) Notifications(_ context.Context) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list, nil
}

func (s *stubAPI) MarkNotificationsRead(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	return s.markErr
}

func newFixture(t *testing.T, list []domain.Notification) (*stubAPI, *realtime.Fake, *alerts.Recorder, *Feed) {
	t.Helper()
	api := &stubAPI{list: list}
	ch := realtime.NewFake()
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	toasts := &alerts.Recorder{}
	f := NewFeed(api, ch, toasts)
	t.Cleanup(f.Close)
	return api, ch, toasts, f
}

func TestRefreshLoadsList(t *testing.T) {
	_, _, _, f := newFixture(t, []domain.Notification{
		{Message: "Task assigned", BoardName: "Sprint", CreatedBy: "alice@x.y"},
		{Message: "Task moved", BoardName: "Sprint", Read: true},
	})
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := f.Notifications(); len(got) != 2 {
		t.Fatalf("list = %#v", got)
	}
	if f.UnreadCount() != 1 {
		t.Fatalf("unread = %d, want 1", f.UnreadCount())
	}
}

func TestPushPrependsAndToastsImmediately(t *testing.T) {
	_, ch, toasts, f := newFixture(t, nil)
	err := ch.Push(realtime.EventNotification, domain.Notification{
		Message: "New card", BoardName: "Sprint", CreatedBy: "alice@x.y",
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	got := f.Notifications()
	if len(got) != 1 || got[0].Message != "New card" {
		t.Fatalf("list = %#v", got)
	}
	if f.UnreadCount() != 1 {
		t.Fatalf("unread = %d", f.UnreadCount())
	}
	if s := toasts.Successes(); len(s) != 1 || s[0] != "New task: New card on board Sprint" {
		t.Fatalf("toasts = %v", s)
	}
}

func TestOpenPanelMarksAllRead(t *testing.T) {
	api, ch, _, f := newFixture(t, []domain.Notification{{Message: "a"}, {Message: "b"}})
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := ch.Push(realtime.EventNotification, domain.Notification{Message: "c"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if f.UnreadCount() != 3 {
		t.Fatalf("unread before open = %d", f.UnreadCount())
	}

	f.OpenPanel(context.Background())
	if f.UnreadCount() != 0 {
		t.Fatalf("unread after open = %d", f.UnreadCount())
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.markCalls != 1 {
		t.Fatalf("mark calls = %d, want 1", api.markCalls)
	}
}

func TestOpenPanelSwallowsServerError(t *testing.T) {
	api, _, _, f := newFixture(t, []domain.Notification{{Message: "a"}})
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	api.mu.Lock()
	api.markErr = errors.New("boom")
	api.mu.Unlock()

	// Local mark-read still applies; the failure is background-only.
	f.OpenPanel(context.Background())
	if f.UnreadCount() != 0 {
		t.Fatalf("unread = %d", f.UnreadCount())
	}
}
