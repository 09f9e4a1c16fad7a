// Command teamsphere is a terminal client for the TeamSphere task boards. It
// drives the same session, board, and realtime machinery the web UI uses, so
// moves and edits made here show up live for everyone else in the room.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Usmanmre/teamsphere-go/alerts"
	"github.com/Usmanmre/teamsphere-go/boards"
	"github.com/Usmanmre/teamsphere-go/boardview"
	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/editor"
	"github.com/Usmanmre/teamsphere-go/notifyfeed"
	"github.com/Usmanmre/teamsphere-go/realtime"
	"github.com/Usmanmre/teamsphere-go/rest"
	"github.com/Usmanmre/teamsphere-go/session"
	"github.com/Usmanmre/teamsphere-go/taskcache"
)

type app struct {
	apiURL string
	wsURL  string

	store  *session.Store
	client *rest.Client
}

func newApp() (*app, error) {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	apiURL := os.Getenv("TEAMSPHERE_API")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	wsURL := os.Getenv("TEAMSPHERE_WS")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(apiURL, "http") + "/ws"
	}
	sessionPath := os.Getenv("TEAMSPHERE_SESSION")
	if sessionPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		sessionPath = filepath.Join(home, ".teamsphere", "session.json")
	}
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	store, err := session.NewStore(sessionPath)
	if err != nil {
		return nil, err
	}
	return &app{
		apiURL: apiURL,
		wsURL:  wsURL,
		store:  store,
		client: rest.NewClient(apiURL, store),
	}, nil
}

// resolveBoard matches arg against board IDs first, then titles.
func (a *app) resolveBoard(ctx context.Context, arg string) (domain.Board, error) {
	user, ok := a.store.User()
	if !ok {
		return domain.Board{}, session.ErrNoSession
	}
	list, err := a.client.Boards(ctx, user.Role)
	if err != nil {
		return domain.Board{}, err
	}
	for _, b := range list {
		if b.ID == arg {
			return b, nil
		}
	}
	for _, b := range list {
		if strings.EqualFold(b.Title, arg) {
			return b, nil
		}
	}
	return domain.Board{}, fmt.Errorf("no board named %q", arg)
}

// findTask matches arg against task IDs first, then titles, within the lanes.
func findTask(lanes map[domain.Status][]domain.Task, arg string) (domain.Status, int, domain.Task, error) {
	for _, s := range domain.Statuses {
		for i, t := range lanes[s] {
			if t.ID == arg {
				return s, i, t, nil
			}
		}
	}
	for _, s := range domain.Statuses {
		for i, t := range lanes[s] {
			if strings.EqualFold(t.Title, arg) {
				return s, i, t, nil
			}
		}
	}
	return "", 0, domain.Task{}, fmt.Errorf("no task named %q", arg)
}

func printLanes(lanes map[domain.Status][]domain.Task) {
	for _, s := range domain.Statuses {
		fmt.Printf("%s (%d)\n", s, len(lanes[s]))
		for _, t := range lanes[s] {
			line := "  " + t.Title
			if t.AssignedTo != "" {
				line += "  @" + domain.UsernameFromEmail(t.AssignedTo)
			}
			fmt.Println(line)
			fmt.Printf("    id: %s\n", t.ID)
		}
	}
}

func main() {
	root := &cobra.Command{
		Use:           "teamsphere",
		Short:         "TeamSphere task boards from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		loginCmd(), registerCmd(), logoutCmd(),
		boardsCmd(), tasksCmd(), moveCmd(), editCmd(), createCmd(),
		watchCmd(), teamCmd(), inviteCmd(), notificationsCmd(),
	)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login EMAIL PASSWORD",
		Short: "Authenticate and persist the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sess, err := a.client.Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", sess.User.Email, sess.User.Role)
			if exp, ok := a.store.TokenExpiry(); ok {
				fmt.Printf("Access token valid until %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "register NAME EMAIL PASSWORD",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sess, err := a.client.Register(cmd.Context(), args[0], args[1], args[2], domain.Role(role))
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s)\n", sess.User.Email, sess.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleEmployee), "account role: manager, employee or hr")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Leave the realtime room and drop the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sock := realtime.NewSocket(a.wsURL, a.store)
			if err := sock.Connect(cmd.Context()); err == nil {
				if user, ok := a.store.User(); ok {
					_ = sock.Emit(realtime.EventLogout, user.Email)
				}
				_ = sock.Close()
			}
			return a.store.Logout()
		},
	}
}

func boardsCmd() *cobra.Command {
	var create string
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List boards, or create one with --create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			reg := boards.NewRegistry(a.client, a.store)
			if create != "" {
				msg, err := reg.Create(cmd.Context(), create)
				if err != nil {
					return err
				}
				fmt.Println(msg)
			}
			if err := reg.Refresh(cmd.Context()); err != nil {
				return err
			}
			for _, b := range reg.Boards() {
				fmt.Printf("%s  %s\n", b.ID, b.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&create, "create", "", "create a board with this title first")
	return cmd
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks BOARD",
		Short: "Show a board's lanes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			board, err := a.resolveBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cache := taskcache.NewCache(a.client)
			cache.SetBoard(board)
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(board.Title)
			printLanes(cache.Lanes())
			return nil
		},
	}
}

func moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move BOARD TASK STATUS",
		Short: "Drag a task to another lane",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			dst := domain.Status(args[2])
			if !dst.Valid() {
				return fmt.Errorf("invalid status %q, want one of todo, inProgress, done", args[2])
			}
			board, err := a.resolveBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sock := realtime.NewSocket(a.wsURL, a.store)
			if err := sock.Connect(cmd.Context()); err != nil {
				return err
			}
			defer sock.Close()

			cache := taskcache.NewCache(a.client)
			cache.SetBoard(board)
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}
			view := boardview.NewView(a.client, cache, sock, alerts.Log{})
			defer view.Close()

			src, srcIdx, task, err := findTask(view.Lanes(), args[1])
			if err != nil {
				return err
			}
			if err := view.Reorder(cmd.Context(), src, srcIdx, dst, 0); err != nil {
				return err
			}
			fmt.Printf("Moved %q to %s\n", task.Title, dst)
			return nil
		},
	}
}

func editCmd() *cobra.Command {
	var description, title string
	cmd := &cobra.Command{
		Use:   "edit BOARD TASK",
		Short: "Edit a task, broadcasting the change to the task room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if description == "" && title == "" {
				return fmt.Errorf("nothing to change, pass --description or --title")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			board, err := a.resolveBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sock := realtime.NewSocket(a.wsURL, a.store)
			if err := sock.Connect(cmd.Context()); err != nil {
				return err
			}
			defer sock.Close()

			cache := taskcache.NewCache(a.client)
			cache.SetBoard(board)
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}
			_, _, task, err := findTask(cache.Lanes(), args[1])
			if err != nil {
				return err
			}

			ed := editor.NewEditor(a.client, cache, sock, a.store, alerts.Log{})
			ed.Debounce = 50 * time.Millisecond
			defer ed.Close()
			ed.Open(task)
			if title != "" {
				if err := ed.SetField("title", title); err != nil {
					return err
				}
			}
			if description != "" {
				if err := ed.SetField(editor.FieldDescription, description); err != nil {
					return err
				}
				// Let the debounced collaborative broadcast go out before saving.
				time.Sleep(2 * ed.Debounce)
			}
			msg, err := ed.Save(cmd.Context())
			if err != nil {
				return err
			}
			if msg != "" {
				fmt.Println(msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	return cmd
}

func createCmd() *cobra.Command {
	var description, assign, status string
	cmd := &cobra.Command{
		Use:   "create BOARD TITLE",
		Short: "Add a card to a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			board, err := a.resolveBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st := domain.Status(status)
			if !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			sock := realtime.NewSocket(a.wsURL, a.store)
			if err := sock.Connect(cmd.Context()); err != nil {
				return err
			}
			defer sock.Close()

			cache := taskcache.NewCache(a.client)
			cache.SetBoard(board)
			ed := editor.NewEditor(a.client, cache, sock, a.store, alerts.Log{})
			defer ed.Close()
			ed.Open(domain.Task{
				Title:         args[1],
				Description:   description,
				Status:        st,
				AssignedTo:    assign,
				BoardID:       board.ID,
				SelectedBoard: board.Title,
			})
			msg, err := ed.Create(cmd.Context())
			if err != nil {
				return err
			}
			if msg != "" {
				fmt.Println(msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "card description")
	cmd.Flags().StringVar(&assign, "assign", "", "assignee email")
	cmd.Flags().StringVar(&status, "status", string(domain.StatusTodo), "initial lane")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch BOARD",
		Short: "Follow a board live, reprinting lanes as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			board, err := a.resolveBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sock := realtime.NewSocket(a.wsURL, a.store)
			if err := sock.Connect(ctx); err != nil {
				return err
			}
			defer sock.Close()

			cache := taskcache.NewCache(a.client)
			cache.SetBoard(board)
			if err := cache.Refresh(ctx); err != nil {
				return err
			}
			view := boardview.NewView(a.client, cache, sock, alerts.Log{})
			defer view.Close()
			feed := notifyfeed.NewFeed(a.client, sock, alerts.Log{})
			defer feed.Close()
			if err := feed.Refresh(ctx); err != nil {
				log.WithError(err).Warn("notification refresh failed")
			}

			off := cache.Subscribe(func() {
				fmt.Printf("\n%s  %s\n", time.Now().Format("15:04:05"), board.Title)
				printLanes(cache.Lanes())
			})
			defer off()

			fmt.Println(board.Title)
			printLanes(cache.Lanes())
			fmt.Println("\nWatching, Ctrl-C to stop.")
			<-ctx.Done()
			return nil
		},
	}
}

func teamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "team",
		Short: "List the team roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			team, err := a.client.Team(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(team, func(i, j int) bool { return team[i].Email < team[j].Email })
			for _, m := range team {
				fmt.Printf("%s  %s\n", m.Email, m.Name)
			}
			return nil
		},
	}
}

func inviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite EMAIL...",
		Short: "Invite members to the team",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, ok := a.store.User()
			if !ok {
				return session.ErrNoSession
			}
			if !user.Role.Can(domain.CapInviteMembers) {
				return fmt.Errorf("only managers can invite members")
			}
			if err := a.client.AddTeam(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Printf("Invited %d member(s)\n", len(args))
			return nil
		},
	}
}

func notificationsCmd() *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the notification feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			feed := notifyfeed.NewFeed(a.client, realtime.NewFake(), alerts.Log{})
			defer feed.Close()
			if err := feed.Refresh(cmd.Context()); err != nil {
				return err
			}
			for _, n := range feed.Notifications() {
				marker := " "
				if !n.Read {
					marker = "*"
				}
				fmt.Printf("%s New task: %s on board %s (by %s)\n", marker, n.Message, n.BoardName, n.CreatedBy)
			}
			fmt.Printf("%d unread\n", feed.UnreadCount())
			if markRead {
				feed.OpenPanel(cmd.Context())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "read", false, "mark everything read")
	return cmd
}
