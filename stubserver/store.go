package stubserver

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Usmanmre/teamsphere-go/domain"
)

var (
	// ErrNotFound is returned for unknown users, boards, or tasks.
	ErrNotFound = errors.New("stubserver: not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("stubserver: already exists")
	// ErrBadCredentials is returned on a failed login.
	ErrBadCredentials = errors.New("stubserver: invalid credentials")
)

type account struct {
	user     domain.User
	password string
}

// Store is the in-memory backing state of the stub server. Everything is lost
// on restart, which is the point.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	boards   []domain.Board
	tasks    map[string][]domain.Task // boardID -> ordered tasks
	notes    map[string][]domain.Notification
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*account),
		tasks:    make(map[string][]domain.Task),
		notes:    make(map[string][]domain.Notification),
	}
}

// Register creates an account. Email is the unique key.
func (s *Store) Register(u domain.User, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[u.Email]; ok {
		return ErrConflict
	}
	if u.Role == "" {
		u.Role = domain.RoleEmployee
	}
	s.accounts[u.Email] = &account{user: u, password: password}
	return nil
}

// Authenticate checks a password and returns the stored user.
func (s *Store) Authenticate(email, password string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[email]
	if !ok || acc.password != password {
		return domain.User{}, ErrBadCredentials
	}
	return acc.user, nil
}

// User looks up an account by email.
func (s *Store) User(email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[email]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return acc.user, nil
}

// Team lists every registered user.
func (s *Store) Team() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.user)
	}
	return out
}

// CreateBoard adds a board. Titles are unique, matching the production API.
func (s *Store) CreateBoard(title, createdBy string) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.boards {
		if b.Title == title {
			return domain.Board{}, ErrConflict
		}
	}
	b := domain.Board{ID: uuid.NewString(), Title: title, CreatedBy: createdBy}
	s.boards = append(s.boards, b)
	return b, nil
}

// Boards lists boards visible to the user. Managers see what they created;
// everyone else sees the whole set, mirroring the team-visibility rule.
func (s *Store) Boards(email string, role domain.Role) []domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role != domain.RoleManager {
		return append([]domain.Board(nil), s.boards...)
	}
	var out []domain.Board
	for _, b := range s.boards {
		if b.CreatedBy == email {
			out = append(out, b)
		}
	}
	return out
}

// BoardByID looks up a board.
func (s *Store) BoardByID(id string) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.boards {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Board{}, ErrNotFound
}

// CreateTask appends a task to its board, assigning a fresh ID.
func (s *Store) CreateTask(t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.BoardID == "" {
		return domain.Task{}, ErrNotFound
	}
	t.ID = uuid.NewString()
	if !t.Status.Valid() {
		t.Status = domain.StatusTodo
	}
	s.tasks[t.BoardID] = append(s.tasks[t.BoardID], t)
	return t, nil
}

// Tasks lists a board's tasks in insertion order.
func (s *Store) Tasks(boardID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks[boardID]...)
}

// UpdateTask replaces a task's mutable fields, keyed by ID.
func (s *Store) UpdateTask(t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.tasks {
		for i := range list {
			if list[i].ID != t.ID {
				continue
			}
			list[i].Title = t.Title
			list[i].Description = t.Description
			if t.AssignedTo != "" {
				list[i].AssignedTo = t.AssignedTo
			}
			return list[i], nil
		}
	}
	return domain.Task{}, ErrNotFound
}

// UpdateTaskStatus moves a task to another lane.
func (s *Store) UpdateTaskStatus(id string, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, errors.New("stubserver: invalid status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.tasks {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = status
				return list[i], nil
			}
		}
	}
	return domain.Task{}, ErrNotFound
}

// AddNotification prepends a notification to a user's feed.
func (s *Store) AddNotification(email string, n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[email] = append([]domain.Notification{n}, s.notes[email]...)
}

// Notifications lists a user's feed, newest first.
func (s *Store) Notifications(email string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notes[email]...)
}

// MarkNotificationsRead flips every notification in a user's feed to read.
func (s *Store) MarkNotificationsRead(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notes[email]
	for i := range list {
		list[i].Read = true
	}
}
