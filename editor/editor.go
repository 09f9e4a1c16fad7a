// Package editor lets one user watch another's in-progress edits to a task
// description. Outbound keystrokes are debounced into one broadcast per idle
// window; inbound broadcasts overwrite local state, last write wins. The
// design assumes at most one active editor at a time plus viewers; concurrent
// typing by two users can clobber each other and no merge is attempted.
package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
	"github.com/Usmanmre/teamsphere-go/session"
)

// FieldDescription is the one collaborative field; edits to it are broadcast.
const FieldDescription = "description"

// API is the slice of the REST client the editor needs.
type API interface {
	CreateTask(ctx context.Context, task domain.Task) (string, error)
	UpdateTask(ctx context.Context, task domain.Task) (string, error)
}

// Cache is the slice of the task cache the editor needs.
type Cache interface {
	Select(t domain.Task)
	ClearSelection()
	ApplyDescription(taskID, description string)
}

// Editor is the form state for the task open in the task modal, wired to the
// realtime channel for collaborative description edits. Remote edits apply
// last-write-wins over the form and cache; the model assumes at most one
// active writer per task at a time, concurrent typing interleaves whole
// descriptions rather than merging them.
type Editor struct {
	api    API
	cache  Cache
	ch     realtime.Channel
	store  *session.Store
	toasts alerts.Toaster
	off    func()

	// Debounce is the trailing idle window that coalesces a keystroke burst
	// into one broadcast. TypingTTL is how long the remote-typing indicator
	// stays up after the last inbound edit.
	Debounce  time.Duration
	TypingTTL time.Duration

	mu        sync.Mutex
	form      domain.Task
	open      bool
	timer     *time.Timer
	typingBy  string
	typingSeq uint64
}

// NewEditor wires the editor to the channel's task:edited events.
func NewEditor(api API, cache Cache, ch realtime.Channel, store *session.Store, toasts alerts.Toaster) *Editor {
	if api == nil || cache == nil || ch == nil || store == nil {
		panic("editor.NewEditor: nil dependency")
	}
	if toasts == nil {
		toasts = alerts.Log{}
	}
	e := &Editor{
		api:       api,
		cache:     cache,
		ch:        ch,
		store:     store,
		toasts:    toasts,
		Debounce:  2 * time.Second,
		TypingTTL: 2 * time.Second,
	}
	e.off = ch.Subscribe(realtime.EventTaskEdited, e.onRemoteEdit)
	return e
}

// Close detaches the editor from the channel and drops any pending broadcast.
func (e *Editor) Close() {
	e.off()
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.open = false
	e.mu.Unlock()
}

// Open loads the task into the form, marks it selected, and joins the
// per-task room so edit broadcasts are scoped to viewers of this task.
func (e *Editor) Open(task domain.Task) {
	e.mu.Lock()
	e.form = task
	e.open = true
	e.mu.Unlock()

	e.cache.Select(task)
	if err := e.ch.Emit(realtime.EventJoinTaskRoom, task.ID); err != nil {
		log.WithError(err).WithField("task", task.ID).Error("join task room")
	}
}

// Form returns the current form state.
func (e *Editor) Form() domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// SetField updates one form field. The local echo is immediate; only the
// collaborative description field additionally schedules a broadcast, emitted
// once per trailing idle window (a new keystroke resets the timer).
func (e *Editor) SetField(name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch name {
	case "title":
		e.form.Title = value
	case FieldDescription:
		e.form.Description = value
	case "assignedTo":
		e.form.AssignedTo = value
	case "status":
		s := domain.Status(value)
		if !s.Valid() {
			return errors.New("editor: invalid status")
		}
		e.form.Status = s
	default:
		return errors.New("editor: unknown field " + name)
	}

	if name != FieldDescription || !e.open {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.Debounce, e.broadcast)
	return nil
}

// broadcast emits the coalesced edit carrying the latest content.
func (e *Editor) broadcast() {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return
	}
	payload := realtime.EditBroadcast{
		TaskID:  e.form.ID,
		Content: e.form.Description,
	}
	e.mu.Unlock()

	if user, ok := e.store.User(); ok {
		payload.EditedBy = user.Email
	}
	if err := e.ch.Emit(realtime.EventTaskEdit, payload); err != nil {
		log.WithError(err).WithField("task", payload.TaskID).Error("broadcast edit")
	}
}

// onRemoteEdit applies a collaborator's edit: the shared task's description is
// overwritten with the remote content, and the typing indicator is armed.
func (e *Editor) onRemoteEdit(data []byte) {
	var ev realtime.EditBroadcast
	if err := sonic.Unmarshal(data, &ev); err != nil {
		log.WithError(err).Warn("dropping malformed task:edited event")
		return
	}
	e.cache.ApplyDescription(ev.TaskID, ev.Content)

	e.mu.Lock()
	if e.open && e.form.ID == ev.TaskID {
		e.form.Description = ev.Content
	}
	e.typingBy = domain.UsernameFromEmail(ev.EditedBy)
	e.typingSeq++
	seq := e.typingSeq
	ttl := e.TypingTTL
	e.mu.Unlock()

	time.AfterFunc(ttl, func() {
		e.mu.Lock()
		if e.typingSeq == seq {
			e.typingBy = ""
		}
		e.mu.Unlock()
	})
}

// TypingBy returns who is currently typing, as the local part of their email,
// or "" when the indicator has expired.
func (e *Editor) TypingBy() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typingBy
}

// Save submits the form as a full task update and reports the server message.
func (e *Editor) Save(ctx context.Context) (string, error) {
	e.mu.Lock()
	task := e.form
	open := e.open
	e.mu.Unlock()
	if !open {
		return "", errors.New("editor: no task open")
	}
	msg, err := e.api.UpdateTask(ctx, task)
	if err != nil {
		e.toasts.Error("Could not update task")
		return "", err
	}
	if msg != "" {
		e.toasts.Success(msg)
	}
	return msg, nil
}

// Create submits the form as a new task, gated on the create-task capability.
func (e *Editor) Create(ctx context.Context) (string, error) {
	user, ok := e.store.User()
	if !ok {
		return "", session.ErrNoSession
	}
	if !user.Role.Can(domain.CapCreateTask) {
		e.toasts.Error("Only managers can add cards!")
		return "", errors.New("editor: create-task not permitted")
	}
	e.mu.Lock()
	task := e.form
	e.mu.Unlock()
	msg, err := e.api.CreateTask(ctx, task)
	if err != nil {
		e.toasts.Error("Could not create task")
		return "", err
	}
	if msg != "" {
		e.toasts.Success(msg)
	}
	return msg, nil
}

// CloseTask drops the selection and form without leaving the channel.
func (e *Editor) CloseTask() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.form = domain.Task{}
	e.open = false
	e.mu.Unlock()
	e.cache.ClearSelection()
}
