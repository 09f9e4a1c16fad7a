// Package rest is the HTTP client for the TeamSphere API. Every authenticated
// request carries the cached bearer token; a 401 triggers exactly one shared
// refresh attempt before the request is retried once with the rotated token.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/session"
)

// ErrSessionExpired is returned when a 401 could not be recovered by the
// refresh-token call. The caller surfaces it and abandons the operation.
var ErrSessionExpired = errors.New("rest: session expired")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("rest: server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one TeamSphere API base URL on behalf of one session store.
// The underlying http.Client keeps a cookie jar so the HTTP-only refresh
// cookie set at login is replayed on refresh-token calls.
type Client struct {
	baseURL string
	http    *http.Client
	store   *session.Store
	refresh singleflight.Group
}

// NewClient creates a client for the given API base URL. The session store
// supplies the bearer token and receives rotated tokens after refresh.
func NewClient(baseURL string, store *session.Store) *Client {
	if store == nil {
		panic("rest.NewClient: session store is nil")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options never fails.
		panic(err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar},
		store:   store,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
	Message string      `json:"message,omitempty"`
}

// Login authenticates and stores the resulting session. The response also sets
// the HTTP-only refresh cookie on the client's jar.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Session, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password}, &resp, false)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{Token: resp.Token, User: resp.User}
	if err := c.store.Login(sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

type registerRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// Register creates an account and stores the resulting session.
func (c *Client) Register(ctx context.Context, name, email, password string, role domain.Role) (domain.Session, error) {
	var resp loginResponse
	req := registerRequest{Name: name, Email: email, Password: password, Role: role}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &resp, false); err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{Token: resp.Token, User: resp.User}
	if err := c.store.Login(sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Boards lists the boards visible to the given role.
func (c *Client) Boards(ctx context.Context, role domain.Role) ([]domain.Board, error) {
	var boards []domain.Board
	path := "/api/board/all?role=" + url.QueryEscape(string(role))
	if err := c.do(ctx, http.MethodGet, path, nil, &boards, true); err != nil {
		return nil, err
	}
	return boards, nil
}

// CreateBoard registers a new board. Manager-gating is checked by the caller
// via domain.Role.Can; the server enforces it as well.
func (c *Client) CreateBoard(ctx context.Context, title string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/board/register", body, &resp, true); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Tasks lists all tasks for a board in server order.
func (c *Client) Tasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var tasks []domain.Task
	path := "/api/task/all?boardID=" + url.QueryEscape(boardID)
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks, true); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates a task on the task's board.
func (c *Client) CreateTask(ctx context.Context, task domain.Task) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/task/create-task", task, &resp, true); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// UpdateTask performs a full task update.
func (c *Client) UpdateTask(ctx context.Context, task domain.Task) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/task/update", task, &resp, true); err != nil {
		return "", err
	}
	return resp.Message, nil
}

type statusUpdateRequest struct {
	ID            string        `json:"_id"`
	UpdatedStatus domain.Status `json:"updatedStatus"`
}

// UpdateTaskStatus performs the status-only update issued after a cross-lane
// drag.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status) (string, error) {
	if !status.Valid() {
		return "", fmt.Errorf("rest: invalid status %q", status)
	}
	var resp struct {
		Message string `json:"message"`
	}
	req := statusUpdateRequest{ID: taskID, UpdatedStatus: status}
	if err := c.do(ctx, http.MethodPut, "/api/task/updateStatus", req, &resp, true); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// TeamMember is one entry of the team roster. Name is derived client-side from
// the email local part.
type TeamMember struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Team lists the current user's team, with display names filled in from the
// email local part.
func (c *Client) Team(ctx context.Context) ([]TeamMember, error) {
	var team []TeamMember
	if err := c.do(ctx, http.MethodGet, "/api/auth/getTeam", nil, &team, true); err != nil {
		return nil, err
	}
	for i := range team {
		if team[i].Name == "" {
			team[i].Name = domain.UsernameFromEmail(team[i].Email)
		}
	}
	return team, nil
}

// AddTeam invites members by email.
func (c *Client) AddTeam(ctx context.Context, emails []string) error {
	body := map[string][]string{"emails": emails}
	return c.do(ctx, http.MethodPost, "/api/auth/addTeam", body, nil, true)
}

// Notifications lists the user's notifications, newest first.
func (c *Client) Notifications(ctx context.Context) ([]domain.Notification, error) {
	var out []domain.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notification/all", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationsRead flags every notification read server-side.
func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/notification/update", nil, nil, true)
}

// do issues one request. When authed, the request carries the current bearer
// token and a 401 is recovered by refreshToken followed by a single retry.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	resp, err := c.send(ctx, method, path, body, c.store.Token(), authed)
	if err != nil {
		return err
	}
	if authed && resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		token, err := c.refreshToken(ctx)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, body, token, true)
		if err != nil {
			return err
		}
	}
	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("rest: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		// Mutations carry an ID so the server can correlate or dedupe them.
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	if authed {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// refreshToken performs the cookie-credentialed refresh call. Concurrent 401s
// share one in-flight attempt; every waiter gets the same rotated token or the
// same failure.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/refresh-token", nil)
		if err != nil {
			return nil, fmt.Errorf("rest: build refresh request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("rest: refresh token: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.WithField("status", resp.StatusCode).Error("token refresh rejected")
			return nil, ErrSessionExpired
		}
		var body struct {
			AccessToken string `json:"accessToken"`
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("rest: read refresh response: %w", err)
		}
		if err := sonic.Unmarshal(data, &body); err != nil || body.AccessToken == "" {
			return nil, ErrSessionExpired
		}
		if err := c.store.SetToken(body.AccessToken); err != nil {
			return nil, err
		}
		return body.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rest: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := sonic.Unmarshal(data, &body); err == nil {
			apiErr.Message = body.Message
			if apiErr.Message == "" {
				apiErr.Message = body.Error
			}
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rest: decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
