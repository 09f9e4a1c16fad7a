package realtime

import (
	"encoding/json"

	"github.com/Usmanmre/teamsphere-go/domain"
)

// Outbound event names.
const (
	EventJoinRoom     = "joinRoom"
	EventLogout       = "logout"
	EventTaskEdit     = "task:edit"
	EventJoinTaskRoom = "joinTaskRoom"
)

// Inbound event names.
const (
	EventTaskUpdated  = "taskUpdated"
	EventNotification = "notification"
	EventTaskEdited   = "task:edited"
)

// Frame is the JSON envelope every socket message travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EditBroadcast is the payload of task:edit and task:edited events.
type EditBroadcast struct {
	TaskID   string `json:"taskId"`
	Content  string `json:"content"`
	EditedBy string `json:"editedBy"`
}

// TaskUpdatedEvent signals that another collaborator changed a task on a board
// the user can see. The payload carries only a human-readable message; the
// client reconciles by refetching, not by trusting the push.
type TaskUpdatedEvent struct {
	Message string `json:"message"`
}

// NotificationEvent is the inbound notification payload.
type NotificationEvent = domain.Notification
