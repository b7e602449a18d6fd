package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/backup"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/repository"
	"github.com/Tomlord1122/calendar-todo/internal/scheduler"
)

// CreateTodoRequest holds the data needed to create a new todo.
// Date is YYYY-MM-DD (an RFC3339 timestamp is also accepted) and Time is
// HH:MM or empty for an all-day todo.
type CreateTodoRequest struct {
	Date                string `json:"date"`
	Time                string `json:"time"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	Link                string `json:"link"`
	EnableNotification  bool   `json:"enableNotification"`
	NotificationMinutes *int   `json:"notificationMinutes"`
	Completed           bool   `json:"completed"`
	Source              string `json:"source"`
	ExternalEventID     string `json:"externalEventId"`
}

// UpdateTodoRequest holds the data for updating an existing todo.
// Using pointers allows distinguishing between a field being omitted
// vs. being set to its zero value (e.g., setting Completed to false).
type UpdateTodoRequest struct {
	Date                *string `json:"date"`
	Time                *string `json:"time"`
	Title               *string `json:"title"`
	Description         *string `json:"description"`
	Link                *string `json:"link"`
	EnableNotification  *bool   `json:"enableNotification"`
	NotificationMinutes *int    `json:"notificationMinutes"`
	Completed           *bool   `json:"completed"`
	Source              *string `json:"source"`
	ExternalEventID     *string `json:"externalEventId"`
}

// Reminders is the scheduler as seen by the store.
type Reminders interface {
	Schedule(t domain.Todo) scheduler.Outcome
	Cancel(id int64)
	CancelAll()
	ReconcileAll(todos []domain.Todo, now time.Time) scheduler.Summary
}

// Backups is the snapshot store.
type Backups interface {
	Create(todos []domain.Todo, now time.Time) (backup.Info, error)
	List() ([]backup.Info, error)
	Read(filename string) ([]domain.Todo, error)
}

// TodoService is the todo store. Every mutation is persisted before it
// returns and keeps the reminder scheduler in step with the collection.
type TodoService interface {
	// Start loads the persisted collection and reconciles its reminders.
	Start(ctx context.Context) (scheduler.Summary, error)

	List(ctx context.Context) []domain.Todo
	Get(ctx context.Context, id int64) (domain.Todo, error)

	// ForDate returns the todos of one day: timed ones by time, then all-day.
	ForDate(ctx context.Context, d domain.Date) []domain.Todo

	Create(ctx context.Context, req CreateTodoRequest) (domain.Todo, error)
	Update(ctx context.Context, id int64, req UpdateTodoRequest) (domain.Todo, error)
	Delete(ctx context.Context, id int64) error

	// ImportExternal appends todos from an external calendar, skipping
	// events already linked to a stored todo. It returns the added todos and
	// the number skipped.
	ImportExternal(ctx context.Context, todos []domain.Todo) ([]domain.Todo, int, error)

	// Replace swaps the whole collection (restore, file import).
	Replace(ctx context.Context, todos []domain.Todo) (scheduler.Summary, error)

	CreateBackup(ctx context.Context) (backup.Info, error)
	ListBackups(ctx context.Context) ([]backup.Info, error)
	RestoreBackup(ctx context.Context, filename string) (int, error)
	Export(ctx context.Context) backup.Document
}

type Options struct {
	Location                   *time.Location
	DefaultNotificationMinutes int
	Now                        func() time.Time
	Logger                     *slog.Logger
}

// todoService implements the TodoService interface.
type todoService struct {
	repo      repository.TodoRepository
	reminders Reminders
	backups   Backups

	loc            *time.Location
	defaultMinutes int
	now            func() time.Time
	logger         *slog.Logger

	mu     sync.RWMutex
	todos  []domain.Todo
	lastID int64
}

// NewTodoService creates the store. Call Start before serving requests.
func NewTodoService(repo repository.TodoRepository, reminders Reminders, backups Backups, opts Options) TodoService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &todoService{
		repo:           repo,
		reminders:      reminders,
		backups:        backups,
		loc:            opts.Location,
		defaultMinutes: opts.DefaultNotificationMinutes,
		now:            opts.Now,
		logger:         opts.Logger,
		todos:          []domain.Todo{},
	}
}

func (s *todoService) Start(ctx context.Context) (scheduler.Summary, error) {
	loaded, err := s.repo.Load(ctx)
	if err != nil {
		return scheduler.Summary{}, &domain.PersistenceError{Op: "loading todos", Err: err}
	}
	if err := domain.ValidateBatch(loaded); err != nil {
		return scheduler.Summary{}, fmt.Errorf("loading todos: %w", err)
	}
	if loaded == nil {
		loaded = []domain.Todo{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = loaded
	s.seedIDs()
	s.logger.Info("todos loaded", "count", len(loaded))
	return s.reminders.ReconcileAll(slices.Clone(s.todos), s.now()), nil
}

func (s *todoService) List(ctx context.Context) []domain.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.todos)
}

func (s *todoService) Get(ctx context.Context, id int64) (domain.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Todo{}, notFound(id)
	}
	return s.todos[i], nil
}

func (s *todoService) ForDate(ctx context.Context, d domain.Date) []domain.Todo {
	s.mu.RLock()
	var day []domain.Todo
	for _, t := range s.todos {
		if t.Date == d {
			day = append(day, t)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(day, func(a, b domain.Todo) int {
		switch {
		case !a.Time.Valid() && !b.Time.Valid():
			return 0
		case !a.Time.Valid():
			return 1
		case !b.Time.Valid():
			return -1
		}
		return compareClock(a.Time, b.Time)
	})
	if day == nil {
		day = []domain.Todo{}
	}
	return day
}

func (s *todoService) Create(ctx context.Context, req CreateTodoRequest) (domain.Todo, error) {
	date, err := domain.ParseDate(req.Date, s.loc)
	if err != nil {
		return domain.Todo{}, &domain.ValidationError{Index: -1, Field: "date", Reason: err.Error()}
	}
	clock, err := domain.ParseClockTime(req.Time)
	if err != nil {
		return domain.Todo{}, &domain.ValidationError{Index: -1, Field: "time", Reason: err.Error()}
	}
	minutes := s.defaultMinutes
	if req.NotificationMinutes != nil {
		minutes = *req.NotificationMinutes
	}
	source := domain.Source(req.Source)
	if source == "" {
		source = domain.SourceLocal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	todo := domain.Todo{
		ID:                  s.nextID(now),
		Date:                date,
		Time:                clock,
		Title:               req.Title,
		Description:         req.Description,
		Link:                req.Link,
		EnableNotification:  req.EnableNotification,
		NotificationMinutes: minutes,
		Completed:           req.Completed,
		Source:              source,
		ExternalEventID:     req.ExternalEventID,
		CreatedAt:           now.UTC(),
	}
	if err := domain.Validate(todo); err != nil {
		return domain.Todo{}, err
	}

	s.todos = append(s.todos, todo)
	if err := s.persist(ctx); err != nil {
		s.todos = s.todos[:len(s.todos)-1]
		return domain.Todo{}, err
	}

	outcome := s.reminders.Schedule(todo)
	s.logger.Info("todo created", "todo_id", todo.ID, "reminder", outcome.String())
	return todo, nil
}

func (s *todoService) Update(ctx context.Context, id int64, req UpdateTodoRequest) (domain.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Todo{}, notFound(id)
	}
	previous := s.todos[i]
	merged, err := s.merge(previous, req)
	if err != nil {
		return domain.Todo{}, err
	}
	if err := domain.Validate(merged); err != nil {
		return domain.Todo{}, err
	}

	s.todos[i] = merged
	if err := s.persist(ctx); err != nil {
		s.todos[i] = previous
		return domain.Todo{}, err
	}

	s.reminders.Cancel(id)
	outcome := s.reminders.Schedule(merged)
	s.logger.Info("todo updated", "todo_id", id, "reminder", outcome.String())
	return merged, nil
}

func (s *todoService) merge(t domain.Todo, req UpdateTodoRequest) (domain.Todo, error) {
	if req.Date != nil {
		d, err := domain.ParseDate(*req.Date, s.loc)
		if err != nil {
			return t, &domain.ValidationError{Index: -1, Field: "date", Reason: err.Error()}
		}
		t.Date = d
	}
	if req.Time != nil {
		c, err := domain.ParseClockTime(*req.Time)
		if err != nil {
			return t, &domain.ValidationError{Index: -1, Field: "time", Reason: err.Error()}
		}
		t.Time = c
	}
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Link != nil {
		t.Link = *req.Link
	}
	if req.EnableNotification != nil {
		t.EnableNotification = *req.EnableNotification
	}
	if req.NotificationMinutes != nil {
		t.NotificationMinutes = *req.NotificationMinutes
	}
	if req.Completed != nil {
		t.Completed = *req.Completed
	}
	if req.Source != nil {
		t.Source = domain.Source(*req.Source)
	}
	if req.ExternalEventID != nil {
		t.ExternalEventID = *req.ExternalEventID
	}
	return t, nil
}

func (s *todoService) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return notFound(id)
	}
	previous := s.todos
	s.todos = slices.Delete(slices.Clone(s.todos), i, i+1)
	if err := s.persist(ctx); err != nil {
		s.todos = previous
		return err
	}

	s.reminders.Cancel(id)
	s.logger.Info("todo deleted", "todo_id", id)
	return nil
}

func (s *todoService) ImportExternal(ctx context.Context, incoming []domain.Todo) ([]domain.Todo, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	linked := make(map[string]struct{}, len(s.todos))
	for _, t := range s.todos {
		if t.ExternalEventID != "" {
			linked[t.ExternalEventID] = struct{}{}
		}
	}

	now := s.now()
	added := make([]domain.Todo, 0, len(incoming))
	skipped := 0
	for _, t := range incoming {
		if t.ExternalEventID != "" {
			if _, dup := linked[t.ExternalEventID]; dup {
				skipped++
				continue
			}
			linked[t.ExternalEventID] = struct{}{}
		}
		t.ID = s.nextID(now)
		if t.Source == "" {
			t.Source = domain.SourceGoogleCalendar
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now.UTC()
		}
		added = append(added, t)
	}
	if err := domain.ValidateBatch(added); err != nil {
		return nil, 0, err
	}
	if len(added) == 0 {
		return added, skipped, nil
	}

	n := len(s.todos)
	s.todos = append(slices.Clip(s.todos), added...)
	if err := s.persist(ctx); err != nil {
		s.todos = s.todos[:n]
		return nil, 0, err
	}

	for _, t := range added {
		s.reminders.Schedule(t)
	}
	s.logger.Info("external todos imported", "imported", len(added), "skipped", skipped)
	return added, skipped, nil
}

func (s *todoService) Replace(ctx context.Context, todos []domain.Todo) (scheduler.Summary, error) {
	if err := domain.ValidateBatch(todos); err != nil {
		return scheduler.Summary{}, err
	}
	if todos == nil {
		todos = []domain.Todo{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.todos
	s.todos = slices.Clone(todos)
	if err := s.persist(ctx); err != nil {
		s.todos = previous
		return scheduler.Summary{}, err
	}
	s.seedIDs()

	s.reminders.CancelAll()
	sum := s.reminders.ReconcileAll(slices.Clone(s.todos), s.now())
	s.logger.Info("todos replaced", "count", len(s.todos))
	return sum, nil
}

func (s *todoService) CreateBackup(ctx context.Context) (backup.Info, error) {
	s.mu.RLock()
	todos := slices.Clone(s.todos)
	s.mu.RUnlock()

	info, err := s.backups.Create(todos, s.now())
	if err != nil {
		return backup.Info{}, &domain.PersistenceError{Op: "creating backup", Err: err}
	}
	s.logger.Info("backup created", "file", info.Path, "count", len(todos))
	return info, nil
}

func (s *todoService) ListBackups(ctx context.Context) ([]backup.Info, error) {
	infos, err := s.backups.List()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "listing backups", Err: err}
	}
	return infos, nil
}

func (s *todoService) RestoreBackup(ctx context.Context, filename string) (int, error) {
	todos, err := s.backups.Read(filename)
	if err != nil {
		return 0, err
	}
	if _, err := s.Replace(ctx, todos); err != nil {
		return 0, err
	}
	s.logger.Info("backup restored", "file", filename, "count", len(todos))
	return len(todos), nil
}

func (s *todoService) Export(ctx context.Context) backup.Document {
	return backup.NewDocument(s.List(ctx), s.now())
}

// persist writes the current collection. Callers hold s.mu and roll back
// their in-memory change on error.
func (s *todoService) persist(ctx context.Context) error {
	if err := s.repo.Save(ctx, s.todos); err != nil {
		s.logger.Error("saving todos", "error", err)
		return &domain.PersistenceError{Op: "saving todos", Err: err}
	}
	return nil
}

func (s *todoService) indexOf(id int64) int {
	return slices.IndexFunc(s.todos, func(t domain.Todo) bool { return t.ID == id })
}

// nextID returns a millisecond timestamp, bumped past the last issued id so
// ids stay unique and increasing.
func (s *todoService) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *todoService) seedIDs() {
	for _, t := range s.todos {
		if t.ID > s.lastID {
			s.lastID = t.ID
		}
	}
}

func notFound(id int64) error {
	return fmt.Errorf("todo with ID %d: %w", id, domain.ErrNotFound)
}

func compareClock(a, b domain.ClockTime) int {
	ah, am := a.HourMinute()
	bh, bm := b.HourMinute()
	return (ah*60 + am) - (bh*60 + bm)
}
