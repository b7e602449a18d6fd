package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/gcal"
)

// CalendarConnector hands out an authorized calendar provider.
// *gcal.Connector implements it.
type CalendarConnector interface {
	Status() (gcal.Status, error)
	Connect(tok *oauth2.Token) error
	Disconnect() error
	Provider(ctx context.Context) (gcal.Provider, error)
}

// ImportResult reports one Google Calendar import.
type ImportResult struct {
	Fetched  int           `json:"fetched"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Todos    []domain.Todo `json:"todos"`
}

// CalendarService moves todos between the store and Google Calendar.
// Calls made without a usable token fail with domain.ErrPermissionDenied
// and leave the store untouched.
type CalendarService interface {
	Status(ctx context.Context) (gcal.Status, error)
	Connect(ctx context.Context, tok *oauth2.Token) error
	Disconnect(ctx context.Context) error

	// Import adds upcoming events as todos, skipping already linked events.
	Import(ctx context.Context) (ImportResult, error)

	// Export inserts the todo as an event and links the todo to it.
	Export(ctx context.Context, id int64) (domain.Todo, error)
}

type calendarService struct {
	todos     TodoService
	connector CalendarConnector
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

func NewCalendarService(todos TodoService, connector CalendarConnector, opts Options) CalendarService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &calendarService{
		todos:     todos,
		connector: connector,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

func (s *calendarService) Status(ctx context.Context) (gcal.Status, error) {
	return s.connector.Status()
}

func (s *calendarService) Connect(ctx context.Context, tok *oauth2.Token) error {
	if err := s.connector.Connect(tok); err != nil {
		return err
	}
	s.logger.Info("google calendar connected")
	return nil
}

func (s *calendarService) Disconnect(ctx context.Context) error {
	if err := s.connector.Disconnect(); err != nil {
		return err
	}
	s.logger.Info("google calendar disconnected")
	return nil
}

func (s *calendarService) Import(ctx context.Context) (ImportResult, error) {
	provider, err := s.connector.Provider(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	events, err := provider.ListUpcoming(ctx, s.now())
	if err != nil {
		return ImportResult{}, err
	}

	mapped, skipped, err := gcal.ImportEvents(events, s.todos.List(ctx), s.loc)
	if err != nil {
		return ImportResult{}, fmt.Errorf("mapping google events: %w", err)
	}
	added, raced, err := s.todos.ImportExternal(ctx, mapped)
	if err != nil {
		return ImportResult{}, err
	}

	res := ImportResult{
		Fetched:  len(events),
		Imported: len(added),
		Skipped:  skipped + raced,
		Todos:    added,
	}
	s.logger.Info("google calendar import", "fetched", res.Fetched, "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

func (s *calendarService) Export(ctx context.Context, id int64) (domain.Todo, error) {
	todo, err := s.todos.Get(ctx, id)
	if err != nil {
		return domain.Todo{}, err
	}
	provider, err := s.connector.Provider(ctx)
	if err != nil {
		return domain.Todo{}, err
	}
	created, err := provider.InsertEvent(ctx, gcal.TodoToEvent(todo, s.loc))
	if err != nil {
		return domain.Todo{}, err
	}

	linked, err := s.todos.Update(ctx, id, UpdateTodoRequest{ExternalEventID: &created.Id})
	if err != nil {
		return domain.Todo{}, fmt.Errorf("linking todo %d to event %s: %w", id, created.Id, err)
	}
	s.logger.Info("todo exported to google calendar", "todo_id", id, "event_id", created.Id)
	return linked, nil
}
