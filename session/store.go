// Package session holds the bearer token and user profile for the logged-in
// user, persisted to a JSON file so a restart resumes the same session.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/Usmanmre/teamsphere-go/domain"
)

// ErrNoSession is returned by operations that need a logged-in user when the
// store is empty.
var ErrNoSession = errors.New("session: not logged in")

// Store is the single owner of session state. It is passed by reference into
// everything that needs the token or user; there is no ambient global lookup.
type Store struct {
	path string

	mu      sync.Mutex
	sess    *domain.Session
	nextSub int
	subs    map[int]func(domain.Session, bool)
}

// NewStore opens the session store backed by the given file path. An existing
// session file is loaded; a missing or unreadable file leaves the store empty.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("session: empty store path")
	}
	s := &Store{path: path, subs: make(map[int]func(domain.Session, bool))}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var sess domain.Session
	if err := sonic.Unmarshal(data, &sess); err != nil {
		// A corrupt session file is treated as logged out.
		return s, nil
	}
	if sess.Token != "" {
		s.sess = &sess
	}
	return s, nil
}

// Session returns the current session and whether one exists.
func (s *Store) Session() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.Session{}, false
	}
	return *s.sess, true
}

// Token returns the cached bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ""
	}
	return s.sess.Token
}

// User returns the cached user profile and whether one exists.
func (s *Store) User() (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.User{}, false
	}
	return s.sess.User, true
}

// Login stores and persists a new session, replacing any existing one.
func (s *Store) Login(sess domain.Session) error {
	if sess.Token == "" {
		return errors.New("session: empty token")
	}
	s.mu.Lock()
	s.sess = &sess
	err := s.persistLocked()
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(sess, true)
	}
	return err
}

// SetToken replaces only the bearer token, keeping the cached user. It is used
// after a successful refresh-token call.
func (s *Store) SetToken(token string) error {
	if token == "" {
		return errors.New("session: empty token")
	}
	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.sess.Token = token
	sess := *s.sess
	err := s.persistLocked()
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(sess, true)
	}
	return err
}

// Logout clears the session and removes the persisted file.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.sess = nil
	err := os.Remove(s.path)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(domain.Session{}, false)
	}
	return err
}

// Subscribe registers fn to be called after every session change with the new
// session (or ok=false on logout). The returned function removes the
// subscription.
func (s *Store) Subscribe(fn func(sess domain.Session, ok bool)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) persistLocked() error {
	data, err := sonic.Marshal(s.sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) snapshotSubsLocked() []func(domain.Session, bool) {
	out := make([]func(domain.Session, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}
