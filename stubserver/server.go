// Package stubserver is an in-memory TeamSphere API for local development and
// integration tests. It speaks the same REST surface and websocket frames as
// the production backend, issues real signed tokens, and fans task events out
// to per-user and per-task rooms.
package stubserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/realtime"
)

const refreshCookie = "refreshToken"

// New builds a ready-to-run echo instance with the full API registered.
func New(store *Store, auth *Auth, hub *Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	Register(e, store, auth, hub)
	return e
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store *Store, auth *Auth, hub *Hub) {
	e.POST("/api/auth/login", postLogin(store, auth))
	e.POST("/api/auth/register", postRegister(store, auth))
	e.POST("/api/auth/refresh-token", postRefreshToken(auth))
	e.GET("/api/auth/getTeam", getTeam(store, auth))
	e.POST("/api/auth/addTeam", postAddTeam(store, auth))

	e.GET("/api/board/all", getBoards(store, auth))
	e.POST("/api/board/register", postBoard(store, auth))

	e.GET("/api/task/all", getTasks(store, auth))
	e.POST("/api/task/create-task", postTask(store, auth, hub))
	e.PUT("/api/task/update", putTask(store, auth, hub))
	e.PUT("/api/task/updateStatus", putTaskStatus(store, auth, hub))

	e.GET("/api/notification/all", getNotifications(store, auth))
	e.PUT("/api/notification/update", putNotifications(store, auth))

	e.GET("/ws", echo.WrapHandler(hub))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

type message struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func setRefreshCookie(c echo.Context, auth *Auth, email string) error {
	token, err := auth.IssueRefresh(email)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(auth.refreshTTL),
	})
	return nil
}

func sessionReply(c echo.Context, store *Store, auth *Auth, email string, code int) error {
	user, err := store.User(email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
	}
	access, err := auth.IssueAccess(email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
	}
	if err := setRefreshCookie(c, auth, email); err != nil {
		return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
	}
	return c.JSON(code, sessionResponse{Token: access, User: user})
}

func postLogin(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, message{Message: "invalid request body"})
		}
		if _, err := store.Authenticate(req.Email, req.Password); err != nil {
			return c.JSON(http.StatusUnauthorized, message{Message: "Invalid email or password"})
		}
		return sessionReply(c, store, auth, req.Email, http.StatusOK)
	}
}

func postRegister(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Name     string      `json:"name"`
			Email    string      `json:"email"`
			Password string      `json:"password"`
			Role     domain.Role `json:"role"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, message{Message: "invalid request body"})
		}
		if req.Email == "" || req.Password == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "email and password are required"})
		}
		user := domain.User{Email: req.Email, Name: req.Name, Role: req.Role}
		if err := store.Register(user, req.Password); err != nil {
			return c.JSON(http.StatusConflict, message{Message: "User already exists"})
		}
		return sessionReply(c, store, auth, req.Email, http.StatusCreated)
	}
}

func postRefreshToken(auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(refreshCookie)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, message{Message: "missing refresh token"})
		}
		email, err := auth.EmailFromRefreshToken(cookie.Value)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, message{Message: "invalid refresh token"})
		}
		access, err := auth.IssueAccess(email)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
		}
		if err := setRefreshCookie(c, auth, email); err != nil {
			return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"accessToken": access})
	}
}

// requireUser resolves the caller from the Authorization header. On failure it
// writes the 401 itself and returns ok=false.
func requireUser(c echo.Context, store *Store, auth *Auth) (domain.User, bool) {
	email, err := auth.EmailFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, message{Message: "unauthorized"})
		return domain.User{}, false
	}
	user, err := store.User(email)
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, message{Message: "unknown user"})
		return domain.User{}, false
	}
	return user, true
}

func getTeam(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := requireUser(c, store, auth); !ok {
			return nil
		}
		type member struct {
			Email string `json:"email"`
		}
		team := store.Team()
		out := make([]member, 0, len(team))
		for _, u := range team {
			out = append(out, member{Email: u.Email})
		}
		return c.JSON(http.StatusOK, out)
	}
}

func postAddTeam(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		if !user.Role.Can(domain.CapInviteMembers) {
			return c.JSON(http.StatusForbidden, message{Message: "Only managers can invite members"})
		}
		var req struct {
			Emails []string `json:"emails"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, message{Message: "invalid request body"})
		}
		added := 0
		for _, email := range req.Emails {
			if email == "" {
				continue
			}
			invited := domain.User{Email: email, Name: domain.UsernameFromEmail(email), Role: domain.RoleEmployee}
			// Placeholder password; invited members reset it on first login
			// against the real backend, the stub just needs the account.
			if err := store.Register(invited, uuid.NewString()); err == nil {
				added++
			}
		}
		return c.JSON(http.StatusOK, message{Message: fmt.Sprintf("%d members added", added)})
	}
}

func getBoards(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		role := domain.Role(c.QueryParam("role"))
		if role == "" {
			role = user.Role
		}
		boards := store.Boards(user.Email, role)
		if boards == nil {
			boards = []domain.Board{}
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func postBoard(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		if !user.Role.Can(domain.CapCreateBoard) {
			return c.JSON(http.StatusForbidden, message{Message: "Only managers can create boards"})
		}
		var req struct {
			Title string `json:"title"`
		}
		if err := c.Bind(&req); err != nil || req.Title == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "title is required"})
		}
		if _, err := store.CreateBoard(req.Title, user.Email); err != nil {
			return c.JSON(http.StatusConflict, message{Message: "Board already exists"})
		}
		return c.JSON(http.StatusCreated, message{Message: "Board created"})
	}
}

func getTasks(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := requireUser(c, store, auth); !ok {
			return nil
		}
		boardID := c.QueryParam("boardID")
		if boardID == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "boardID is required"})
		}
		tasks := store.Tasks(boardID)
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func postTask(store *Store, auth *Auth, hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		if !user.Role.Can(domain.CapCreateTask) {
			return c.JSON(http.StatusForbidden, message{Message: "Only managers can add cards!"})
		}
		var task domain.Task
		if err := c.Bind(&task); err != nil || task.Title == "" || task.BoardID == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "title and boardID are required"})
		}
		task.CreatedBy = user.Email
		created, err := store.CreateTask(task)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
		}
		boardName := created.SelectedBoard
		if b, err := store.BoardByID(created.BoardID); err == nil {
			boardName = b.Title
		}
		if created.AssignedTo != "" && created.AssignedTo != user.Email {
			note := domain.Notification{
				Message:   created.Title,
				BoardName: boardName,
				CreatedBy: user.Email,
			}
			store.AddNotification(created.AssignedTo, note)
			hub.NotifyUser(created.AssignedTo, realtime.EventNotification, note)
		}
		hub.BroadcastExceptUser(user.Email, realtime.EventTaskUpdated,
			realtime.TaskUpdatedEvent{Message: fmt.Sprintf("Task %q created", created.Title)})
		log.WithFields(log.Fields{"task": created.ID, "board": created.BoardID}).Info("task created")
		return c.JSON(http.StatusCreated, message{Message: "Task created"})
	}
}

func putTask(store *Store, auth *Auth, hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		var task domain.Task
		if err := c.Bind(&task); err != nil || task.ID == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "_id is required"})
		}
		updated, err := store.UpdateTask(task)
		if err != nil {
			return c.JSON(http.StatusNotFound, message{Message: "Task not found"})
		}
		hub.BroadcastExceptUser(user.Email, realtime.EventTaskUpdated,
			realtime.TaskUpdatedEvent{Message: fmt.Sprintf("Task %q updated", updated.Title)})
		return c.JSON(http.StatusOK, message{Message: "Task updated"})
	}
}

func putTaskStatus(store *Store, auth *Auth, hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		var req struct {
			ID            string        `json:"_id"`
			UpdatedStatus domain.Status `json:"updatedStatus"`
		}
		if err := c.Bind(&req); err != nil || req.ID == "" {
			return c.JSON(http.StatusBadRequest, message{Message: "_id is required"})
		}
		updated, err := store.UpdateTaskStatus(req.ID, req.UpdatedStatus)
		if err != nil {
			if req.UpdatedStatus.Valid() {
				return c.JSON(http.StatusNotFound, message{Message: "Task not found"})
			}
			return c.JSON(http.StatusBadRequest, message{Message: "invalid status"})
		}
		hub.BroadcastExceptUser(user.Email, realtime.EventTaskUpdated,
			realtime.TaskUpdatedEvent{Message: fmt.Sprintf("Task %q moved to %s", updated.Title, updated.Status)})
		return c.JSON(http.StatusOK, message{Message: "Task status updated"})
	}
}

func getNotifications(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		notes := store.Notifications(user.Email)
		if notes == nil {
			notes = []domain.Notification{}
		}
		return c.JSON(http.StatusOK, notes)
	}
}

func putNotifications(store *Store, auth *Auth) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := requireUser(c, store, auth)
		if !ok {
			return nil
		}
		store.MarkNotificationsRead(user.Email)
		return c.JSON(http.StatusOK, message{Message: "Notifications updated"})
	}
}
