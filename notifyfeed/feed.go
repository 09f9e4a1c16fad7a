// Package notifyfeed maintains the user's notification list: fetched once,
// then prepended to by realtime pushes, marked read when the panel opens.
package notifyfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
)

// API is the slice of the REST client the feed needs.
type API interface {
	Notifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context) error
}

// Feed holds the notification list, newest first.
type Feed struct {
	api    API
	toasts alerts.Toaster
	off    func()

	mu   sync.Mutex
	list []domain.Notification
}

// NewFeed wires the feed to the channel's notification events. Pushed
// notifications toast immediately, unlike task updates.
func NewFeed(api API, ch realtime.Channel, toasts alerts.Toaster) *Feed {
	if api == nil || ch == nil {
		panic("notifyfeed.NewFeed: nil dependency")
	}
	if toasts == nil {
		toasts = alerts.Log{}
	}
	f := &Feed{api: api, toasts: toasts}
	f.off = ch.Subscribe(realtime.EventNotification, f.onPush)
	return f
}

// Close detaches the feed from the channel.
func (f *Feed) Close() {
	f.off()
}

// Refresh fetches the full notification list.
func (f *Feed) Refresh(ctx context.Context) error {
	list, err := f.api.Notifications(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.list = list
	f.mu.Unlock()
	return nil
}

// Notifications returns a copy of the list.
func (f *Feed) Notifications() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Notification, len(f.list))
	copy(out, f.list)
	return out
}

// UnreadCount reports how many notifications are unread.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, noti := range f.list {
		if !noti.Read {
			n++
		}
	}
	return n
}

// OpenPanel marks every notification read, locally and server-side. The
// server call is fire and forget; a failure only logs.
func (f *Feed) OpenPanel(ctx context.Context) {
	f.mu.Lock()
	for i := range f.list {
		f.list[i].Read = true
	}
	f.mu.Unlock()

	if err := f.api.MarkNotificationsRead(ctx); err != nil {
		log.WithError(err).Error("mark notifications read")
	}
}

func (f *Feed) onPush(data []byte) {
	var noti realtime.NotificationEvent
	if err := sonic.Unmarshal(data, &noti); err != nil {
		log.WithError(err).Warn("dropping malformed notification event")
		return
	}
	f.mu.Lock()
	f.list = append([]domain.Notification{noti}, f.list...)
	f.mu.Unlock()
	f.toasts.Success(fmt.Sprintf("New task: %s on board %s", noti.Message, noti.BoardName))
}
