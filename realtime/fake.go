package realtime

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
)

// Fake is an in-memory Channel for tests. Emitted frames are recorded and
// inbound events are injected with Push.
type Fake struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	emitted   []Frame
	subs      map[string]map[int]func([]byte)
	nextSub   int
}

var _ Channel = (*Fake)(nil)

// NewFake creates a disconnected fake channel.
func NewFake() *Fake {
	return &Fake{subs: make(map[string]map[int]func([]byte))}
}

func (f *Fake) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.connected = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *Fake) Emit(event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	var frame Frame
	_ = sonic.Unmarshal(data, &frame)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if !f.connected {
		return ErrNotConnected
	}
	f.emitted = append(f.emitted, frame)
	return nil
}

func (f *Fake) Subscribe(event string, fn func(data []byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[event] == nil {
		f.subs[event] = make(map[int]func([]byte))
	}
	id := f.nextSub
	f.nextSub++
	f.subs[event][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[event], id)
	}
}

// Push delivers an inbound event to subscribers, as if the server sent it.
func (f *Fake) Push(event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	fns := make([]func([]byte), 0, len(f.subs[event]))
	for _, fn := range f.subs[event] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
	return nil
}

// Emitted returns a copy of all frames emitted so far.
func (f *Fake) Emitted() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.emitted))
	copy(out, f.emitted)
	return out
}

// EmittedNamed returns only the frames for one event name.
func (f *Fake) EmittedNamed(event string) []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Frame
	for _, fr := range f.emitted {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}
