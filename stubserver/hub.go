package stubserver

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/realtime"
)

const (
	userRoomPrefix = "user:"
	taskRoomPrefix = "task:"
)

type client struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]struct{}
}

func (c *client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Hub accepts websocket connections and routes room-scoped broadcasts.
// Clients announce themselves with joinRoom and opt into per-task rooms with
// joinTaskRoom; task:edit frames are fanned out to the task room as
// task:edited, excluding the sender.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, rooms: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.drop(c)
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(c, payload)
	}
}

func (h *Hub) dispatch(c *client, payload []byte) {
	var frame realtime.Frame
	if err := sonic.Unmarshal(payload, &frame); err != nil {
		log.WithError(err).Debug("dropping malformed frame")
		return
	}
	switch frame.Event {
	case realtime.EventJoinRoom:
		var email string
		if err := sonic.Unmarshal(frame.Data, &email); err != nil || email == "" {
			return
		}
		h.join(c, userRoomPrefix+email)
	case realtime.EventJoinTaskRoom:
		var taskID string
		if err := sonic.Unmarshal(frame.Data, &taskID); err != nil || taskID == "" {
			return
		}
		h.join(c, taskRoomPrefix+taskID)
	case realtime.EventTaskEdit:
		var edit realtime.EditBroadcast
		if err := sonic.Unmarshal(frame.Data, &edit); err != nil || edit.TaskID == "" {
			return
		}
		h.broadcast(taskRoomPrefix+edit.TaskID, realtime.EventTaskEdited, edit, c)
	case realtime.EventLogout:
		h.leaveAll(c)
	default:
		log.WithField("event", frame.Event).Debug("ignoring unknown event")
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveAll(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(c)
	delete(h.clients, c)
}

// detach removes c from every room. Caller holds h.mu.
func (h *Hub) detach(c *client) {
	for room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	c.rooms = make(map[string]struct{})
}

// NotifyUser sends an event to every connection in a user's room.
func (h *Hub) NotifyUser(email, event string, payload any) {
	h.broadcast(userRoomPrefix+email, event, payload, nil)
}

// BroadcastExceptUser sends an event to every connected client not in the
// given user's room. The stub uses it for taskUpdated fan-out so the acting
// user does not toast their own change.
func (h *Hub) BroadcastExceptUser(email, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("encode frame")
		return
	}
	h.mu.Lock()
	skip := h.rooms[userRoomPrefix+email]
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if _, own := skip[c]; own {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if err := c.send(frame); err != nil {
			log.WithError(err).Debug("broadcast write failed")
		}
	}
}

func (h *Hub) broadcast(room, event string, payload any, sender *client) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("encode frame")
		return
	}
	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != sender {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		if err := c.send(frame); err != nil {
			log.WithError(err).Debug("broadcast write failed")
		}
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(realtime.Frame{Event: event, Data: data})
}
