package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/notify"
	"github.com/Tomlord1122/calendar-todo/internal/scheduler"
	"github.com/Tomlord1122/calendar-todo/internal/service"
)

const defaultPingInterval = 25 * time.Second

// PendingLister exposes the scheduler's registered reminders.
type PendingLister interface {
	Pending() []scheduler.Pending
}

// Deps are the collaborators the HTTP layer needs. Push may be nil when
// Firebase is not configured.
type Deps struct {
	Todos       service.TodoService
	Calendar    service.CalendarService
	Hub         *notify.Hub
	Push        *notify.Push
	Reminders   PendingLister
	Health      func() map[string]string
	Location    *time.Location
	CORSOrigins []string
	Logger      *slog.Logger

	// Now and PingInterval are overridden in tests.
	Now          func() time.Time
	PingInterval time.Duration
}

type Server struct {
	todoService     service.TodoService
	calendarService service.CalendarService
	hub             *notify.Hub
	push            *notify.Push
	reminders       PendingLister
	health          func() map[string]string
	loc             *time.Location
	corsOrigins     []string
	logger          *slog.Logger
	now             func() time.Time
	pingInterval    time.Duration
}

func New(deps Deps) *Server {
	s := &Server{
		todoService:     deps.Todos,
		calendarService: deps.Calendar,
		hub:             deps.Hub,
		push:            deps.Push,
		reminders:       deps.Reminders,
		health:          deps.Health,
		loc:             deps.Location,
		corsOrigins:     deps.CORSOrigins,
		logger:          deps.Logger,
		now:             deps.Now,
		pingInterval:    deps.PingInterval,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if len(s.corsOrigins) == 0 {
		s.corsOrigins = []string{"https://*", "http://*"}
	}
	if s.health == nil {
		s.health = func() map[string]string { return map[string]string{"status": "up"} }
	}
	return s
}

func NewServer(port int, deps Deps) *http.Server {
	appServer := New(deps)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           appServer.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ErrorLog:          slog.NewLogLogger(appServer.logger.Handler(), slog.LevelError),
	}

	return server
}
