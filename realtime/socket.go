package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/session"
)

var (
	// ErrNotConnected is returned by Emit when the socket has no live
	// connection. Callers treat the event as lost and rely on refetch.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime: channel closed")
)

// Socket is the WebSocket implementation of Channel. Room membership is not
// persisted by the transport, so the per-user joinRoom event is re-issued on
// every successful connect, not just the first.
type Socket struct {
	url   string
	store *session.Store

	// Reconnect policy. Adjust before Connect.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxReconnects    uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]map[int]func([]byte)
	nextSub int
	cancel  context.CancelFunc
	closed  bool
	done    chan struct{}
}

var _ Channel = (*Socket)(nil)

// NewSocket creates a socket for the given ws:// or wss:// URL. The session
// store supplies the user whose room is joined on connect.
func NewSocket(url string, store *session.Store) *Socket {
	if store == nil {
		panic("realtime.NewSocket: session store is nil")
	}
	return &Socket{
		url:              url,
		store:            store,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     15 * time.Second,
		MaxReconnects:    10,
		subs:             make(map[string]map[int]func([]byte)),
	}
}

// Connect dials the server, joins the per-user room, and starts the read loop.
// It returns once the first connection is established or fails.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("realtime: already connected")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.joinUserRoom()
	go s.readLoop(ctx)
	return nil
}

// Close tears down the connection and stops reconnecting.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Emit sends one frame. Events emitted while disconnected are lost, matching
// the transport's at-most-once delivery.
func (s *Socket) Emit(event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers fn for the named inbound event.
func (s *Socket) Subscribe(event string, fn func(data []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[event] == nil {
		s.subs[event] = make(map[int]func([]byte))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[event][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[event], id)
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", s.url, err)
	}
	return conn, nil
}

// joinUserRoom emits joinRoom with the cached user's email. Skipped silently
// when no session is cached; the server then delivers nothing user-scoped.
func (s *Socket) joinUserRoom() {
	user, ok := s.store.User()
	if !ok {
		return
	}
	if err := s.Emit(EventJoinRoom, user.Email); err != nil {
		log.WithError(err).Error("join user room")
	}
}

func (s *Socket) readLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			log.WithError(err).Debug("socket read failed, reconnecting")
			if err := s.reconnect(ctx); err != nil {
				log.WithError(err).Error("socket reconnect budget exhausted")
				s.mu.Lock()
				s.conn = nil
				s.mu.Unlock()
				return
			}
			continue
		}
		s.dispatch(data)
	}
}

// reconnect redials with bounded exponential backoff and re-joins the user
// room once a connection is back.
func (s *Socket) reconnect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.ReconnectInitial
	bo.MaxInterval = s.ReconnectMax
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, s.MaxReconnects), ctx)

	return backoff.Retry(func() error {
		if s.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return backoff.Permanent(ErrClosed)
		}
		s.conn = conn
		s.mu.Unlock()
		s.joinUserRoom()
		return nil
	}, policy)
}

func (s *Socket) dispatch(data []byte) {
	var frame Frame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		log.WithError(err).Warn("dropping malformed socket frame")
		return
	}
	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.subs[frame.Event]))
	for _, fn := range s.subs[frame.Event] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(frame.Data)
	}
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func encodeFrame(event string, payload any) ([]byte, error) {
	frame := Frame{Event: event}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("realtime: marshal %s payload: %w", event, err)
		}
		frame.Data = data
	}
	data, err := sonic.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal frame: %w", err)
	}
	return data, nil
}
