package service_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tomlord1122/calendar-todo/internal/backup"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/notify"
	"github.com/Tomlord1122/calendar-todo/internal/repository"
	"github.com/Tomlord1122/calendar-todo/internal/scheduler"
	"github.com/Tomlord1122/calendar-todo/internal/service"
)

var errDiskFull = errors.New("disk full")

type memRepo struct {
	mu      sync.Mutex
	saved   []domain.Todo
	saves   int
	failing bool
}

func (r *memRepo) Load(context.Context) ([]domain.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.saved), nil
}

func (r *memRepo) Save(_ context.Context, todos []domain.Todo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errDiskFull
	}
	r.saves++
	r.saved = slices.Clone(todos)
	return nil
}

func (r *memRepo) Health() map[string]string {
	return map[string]string{"status": "up"}
}

func (r *memRepo) Saved() []domain.Todo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.saved)
}

// recordingReminders logs every scheduler call in order.
type recordingReminders struct {
	mu        sync.Mutex
	calls     []string
	reconcile [][]domain.Todo
}

func (r *recordingReminders) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingReminders) Schedule(t domain.Todo) scheduler.Outcome {
	r.record("schedule:%d", t.ID)
	return scheduler.Scheduled
}

func (r *recordingReminders) Cancel(id int64) { r.record("cancel:%d", id) }

func (r *recordingReminders) CancelAll() { r.record("cancel-all") }

func (r *recordingReminders) ReconcileAll(todos []domain.Todo, _ time.Time) scheduler.Summary {
	r.record("reconcile:%d", len(todos))
	r.mu.Lock()
	r.reconcile = append(r.reconcile, todos)
	r.mu.Unlock()
	return scheduler.Summary{Scheduled: len(todos)}
}

func (r *recordingReminders) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

var fixedNow = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc       service.TodoService
	repo      *memRepo
	reminders *recordingReminders
	fs        afero.Fs
}

func newFixture(t *testing.T, seed ...domain.Todo) fixture {
	t.Helper()
	repo := &memRepo{saved: seed}
	reminders := &recordingReminders{}
	fs := afero.NewMemMapFs()
	svc := service.NewTodoService(repo, reminders, backup.NewManager(fs, "data"), service.Options{
		Location:                   time.UTC,
		DefaultNotificationMinutes: 15,
		Now:                        func() time.Time { return fixedNow },
	})
	_, err := svc.Start(context.Background())
	require.NoError(t, err)
	return fixture{svc: svc, repo: repo, reminders: reminders, fs: fs}
}

func ptr[T any](v T) *T { return &v }

func seedTodo(id int64, date string, clock string) domain.Todo {
	d, _ := domain.ParseDate(date, time.UTC)
	c, _ := domain.ParseClockTime(clock)
	return domain.Todo{ID: id, Date: d, Time: c, Title: fmt.Sprintf("todo %d", id), EnableNotification: true, NotificationMinutes: 15}
}

func TestStart_LoadsAndReconciles(t *testing.T) {
	f := newFixture(t, seedTodo(5, "2024-03-15", "09:00"), seedTodo(9, "2024-03-16", ""))

	assert.Len(t, f.svc.List(context.Background()), 2)
	assert.Equal(t, []string{"reconcile:2"}, f.reminders.Calls())

	// New ids are above every loaded id even if the clock is behind.
	created, err := f.svc.Create(context.Background(), service.CreateTodoRequest{Date: "2024-03-15", Title: "x"})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(9))
}

func TestStart_RejectsInvalidCollection(t *testing.T) {
	repo := &memRepo{saved: []domain.Todo{seedTodo(1, "2024-03-15", ""), seedTodo(1, "2024-03-16", "")}}
	svc := service.NewTodoService(repo, &recordingReminders{}, nil, service.Options{})
	_, err := svc.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	todo, err := f.svc.Create(ctx, service.CreateTodoRequest{
		Date:               "2024-03-15",
		Time:               "09:00",
		Title:              "Standup",
		EnableNotification: true,
	})
	require.NoError(t, err)

	assert.Equal(t, fixedNow.UnixMilli(), todo.ID)
	assert.Equal(t, 15, todo.NotificationMinutes)
	assert.Equal(t, domain.SourceLocal, todo.Source)
	assert.Equal(t, fixedNow, todo.CreatedAt)
	assert.Equal(t, "09:00", todo.Time.String())
	assert.Equal(t, []domain.Todo{todo}, f.repo.Saved())
	assert.Equal(t, []string{"reconcile:0", fmt.Sprintf("schedule:%d", todo.ID)}, f.reminders.Calls())

	second, err := f.svc.Create(ctx, service.CreateTodoRequest{Date: "2024-03-15", Title: "Second", NotificationMinutes: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, todo.ID+1, second.ID, "ids stay unique within one millisecond")
	assert.Equal(t, 0, second.NotificationMinutes)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   service.CreateTodoRequest
		field string
	}{
		{name: "empty title", req: service.CreateTodoRequest{Date: "2024-03-15", Title: "  "}, field: "title"},
		{name: "missing date", req: service.CreateTodoRequest{Title: "x"}, field: "date"},
		{name: "bad date", req: service.CreateTodoRequest{Date: "15/03/2024", Title: "x"}, field: "date"},
		{name: "bad time", req: service.CreateTodoRequest{Date: "2024-03-15", Time: "25:00", Title: "x"}, field: "time"},
		{name: "negative lead", req: service.CreateTodoRequest{Date: "2024-03-15", Title: "x", NotificationMinutes: ptr(-5)}, field: "notificationMinutes"},
		{name: "unknown source", req: service.CreateTodoRequest{Date: "2024-03-15", Title: "x", Source: "outlook"}, field: "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tt.req)
			require.Error(t, err)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, f.svc.List(context.Background()))
			assert.Equal(t, 0, f.repo.saves)
		})
	}
}

func TestCreate_KeepsSourceAndEventLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	todo, err := f.svc.Create(ctx, service.CreateTodoRequest{
		Date:            "2024-03-15",
		Title:           "Standup",
		Source:          string(domain.SourceGoogleCalendar),
		ExternalEventID: "evt-9",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGoogleCalendar, todo.Source)
	assert.Equal(t, "evt-9", todo.ExternalEventID)

	updated, err := f.svc.Update(ctx, todo.ID, service.UpdateTodoRequest{Source: ptr(string(domain.SourceLocal))})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLocal, updated.Source)
	assert.Equal(t, "evt-9", updated.ExternalEventID)

	_, err = f.svc.Update(ctx, todo.ID, service.UpdateTodoRequest{Source: ptr("outlook")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreate_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "10:00"))
	f.repo.failing = true

	_, err := f.svc.Create(context.Background(), service.CreateTodoRequest{Date: "2024-03-15", Title: "x", EnableNotification: true, Time: "11:00"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)

	assert.Len(t, f.svc.List(context.Background()), 1)
	assert.Equal(t, []string{"reconcile:1"}, f.reminders.Calls(), "nothing scheduled")
}

func TestUpdate_MergesAndReschedules(t *testing.T) {
	original := seedTodo(1, "2024-03-15", "09:00")
	original.Description = "keep me"
	f := newFixture(t, original)

	updated, err := f.svc.Update(context.Background(), 1, service.UpdateTodoRequest{Completed: ptr(true)})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "keep me", updated.Description)
	assert.Equal(t, "09:00", updated.Time.String())

	updated, err = f.svc.Update(context.Background(), 1, service.UpdateTodoRequest{Time: ptr(""), Date: ptr("2024-03-20")})
	require.NoError(t, err)
	assert.False(t, updated.Time.Valid())
	assert.Equal(t, "2024-03-20", updated.Date.String())

	assert.Equal(t, []string{"reconcile:1", "cancel:1", "schedule:1", "cancel:1", "schedule:1"}, f.reminders.Calls())
	assert.Equal(t, updated, f.repo.Saved()[0])
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "09:00"))
	ctx := context.Background()

	_, err := f.svc.Update(ctx, 2, service.UpdateTodoRequest{Title: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Update(ctx, 1, service.UpdateTodoRequest{Title: ptr("")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.repo.failing = true
	_, err = f.svc.Update(ctx, 1, service.UpdateTodoRequest{Title: ptr("renamed")})
	assert.ErrorIs(t, err, domain.ErrPersistence)

	got, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "todo 1", got.Title, "rolled back")
	assert.Equal(t, []string{"reconcile:1"}, f.reminders.Calls())
}

func TestDelete(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "09:00"), seedTodo(2, "2024-03-15", "10:00"))
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, 1))
	assert.ErrorIs(t, f.svc.Delete(ctx, 1), domain.ErrNotFound)
	_, err := f.svc.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []int64{2}, ids(f.repo.Saved()))
	assert.Equal(t, []string{"reconcile:2", "cancel:1"}, f.reminders.Calls())

	f.repo.failing = true
	assert.ErrorIs(t, f.svc.Delete(ctx, 2), domain.ErrPersistence)
	assert.Len(t, f.svc.List(ctx), 1)
}

func TestForDate_TimedFirstThenAllDay(t *testing.T) {
	f := newFixture(t,
		seedTodo(1, "2024-03-15", ""),
		seedTodo(2, "2024-03-15", "14:00"),
		seedTodo(3, "2024-03-16", "08:00"),
		seedTodo(4, "2024-03-15", "09:30"),
		seedTodo(5, "2024-03-15", ""),
	)

	day := f.svc.ForDate(context.Background(), domain.Date{Year: 2024, Month: time.March, Day: 15})
	assert.Equal(t, []int64{4, 2, 1, 5}, ids(day))

	empty := f.svc.ForDate(context.Background(), domain.Date{Year: 2024, Month: time.April, Day: 1})
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestImportExternal(t *testing.T) {
	linked := seedTodo(1, "2024-03-15", "09:00")
	linked.ExternalEventID = "evt-a"
	f := newFixture(t, linked)

	incoming := []domain.Todo{
		{Date: linked.Date, Title: "dup", ExternalEventID: "evt-a"},
		{Date: linked.Date, Title: "new", ExternalEventID: "evt-b", EnableNotification: true, NotificationMinutes: 15},
	}
	added, skipped, err := f.svc.ImportExternal(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, added, 1)
	assert.Equal(t, domain.SourceGoogleCalendar, added[0].Source)
	assert.Positive(t, added[0].ID)
	assert.Len(t, f.repo.Saved(), 2)
	assert.Contains(t, f.reminders.Calls(), fmt.Sprintf("schedule:%d", added[0].ID))

	// Importing the same events again adds nothing.
	added, skipped, err = f.svc.ImportExternal(context.Background(), incoming)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 2, skipped)
}

func TestImportExternal_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.failing = true
	_, _, err := f.svc.ImportExternal(context.Background(), []domain.Todo{
		{Date: domain.Date{Year: 2024, Month: time.March, Day: 15}, Title: "a", ExternalEventID: "a"},
	})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, f.svc.List(context.Background()))
}

func TestReplace(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "09:00"))
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, []domain.Todo{seedTodo(7, "2024-03-15", ""), {ID: 8}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, []int64{1}, ids(f.svc.List(ctx)), "invalid batch leaves the store untouched")

	sum, err := f.svc.Replace(ctx, []domain.Todo{seedTodo(7, "2024-03-15", ""), seedTodo(8, "2024-03-16", "10:00")})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scheduled)
	assert.Equal(t, []int64{7, 8}, ids(f.repo.Saved()))
	assert.Equal(t, []string{"reconcile:1", "cancel-all", "reconcile:2"}, f.reminders.Calls())
}

func TestBackupAndRestore(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "09:00"), seedTodo(2, "2024-03-16", ""))
	ctx := context.Background()

	info, err := f.svc.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, backup.FileName(fixedNow), info.Filename)

	list, err := f.svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.Delete(ctx, 1))
	n, err := f.svc.RestoreBackup(ctx, info.Filename)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, ids(f.svc.List(ctx)))

	_, err = f.svc.RestoreBackup(ctx, "todos-backup-missing.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, afero.WriteFile(f.fs, "data/todos-backup-bad.json", []byte(`[{"id":1}]`), 0o644))
	_, err = f.svc.RestoreBackup(ctx, "todos-backup-bad.json")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, f.svc.List(ctx), 2)

	doc := f.svc.Export(ctx)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, 2, doc.TotalTodos)
}

func TestRestoreBackup_MixedIDs(t *testing.T) {
	f := newFixture(t, seedTodo(1, "2024-03-15", "09:00"))
	ctx := context.Background()

	raw := `[{"id":1710490000000,"date":"2024-03-15","title":"Gym"},{"id":"abc123googleevent","date":"2024-03-16","title":"Standup"}]`
	require.NoError(t, afero.WriteFile(f.fs, "data/todos-backup-2024-03-15T08-00-00-000Z.json", []byte(raw), 0o644))

	n, err := f.svc.RestoreBackup(ctx, "todos-backup-2024-03-15T08-00-00-000Z.json")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1710490000000, 1710490000001}, ids(f.repo.Saved()))

	imported, err := f.svc.Get(ctx, 1710490000001)
	require.NoError(t, err)
	assert.Equal(t, "abc123googleevent", imported.ExternalEventID)

	created, err := f.svc.Create(ctx, service.CreateTodoRequest{Date: "2024-03-17", Title: "Next"})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(1710490000001))
}

// manualClock never fires timers on its own.
type manualClock struct{ now time.Time }

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (c manualClock) Now() time.Time { return c.now }

func (c manualClock) AfterFunc(time.Duration, func()) scheduler.Timer { return noopTimer{} }

func TestLifecycleWithScheduler(t *testing.T) {
	hub := notify.NewHub(nil)
	hub.SetPermission(notify.PermissionGranted)
	_, stream, cancel := hub.Subscribe()
	defer cancel()

	sched := scheduler.New(hub, scheduler.Options{Clock: manualClock{now: fixedNow}, Location: time.UTC})
	repo, err := repository.NewFileTodoRepository(afero.NewMemMapFs(), "data")
	require.NoError(t, err)
	svc := service.NewTodoService(repo, sched, nil, service.Options{
		Location:                   time.UTC,
		DefaultNotificationMinutes: 15,
		Now:                        func() time.Time { return fixedNow },
	})
	ctx := context.Background()
	_, err = svc.Start(ctx)
	require.NoError(t, err)

	todo, err := svc.Create(ctx, service.CreateTodoRequest{Date: "2024-03-15", Time: "09:00", Title: "Standup", EnableNotification: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.Len())

	for i := 0; i < 5; i++ {
		_, err := svc.Update(ctx, todo.ID, service.UpdateTodoRequest{NotificationMinutes: ptr(10 + i)})
		require.NoError(t, err)
		assert.Equal(t, 1, sched.Len())
	}

	// Moving the reminder into the past fires it right away.
	_, err = svc.Update(ctx, todo.ID, service.UpdateTodoRequest{Time: ptr("08:00")})
	require.NoError(t, err)
	assert.Equal(t, 0, sched.Len())
	got := <-stream
	assert.Equal(t, "Standup - 08:00", got.Body)

	_, err = svc.Update(ctx, todo.ID, service.UpdateTodoRequest{Time: ptr("12:00")})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, todo.ID))
	for _, p := range sched.Pending() {
		assert.NotEqual(t, todo.ID, p.TodoID)
	}
	assert.Equal(t, 0, sched.Len())
}

func ids(todos []domain.Todo) []int64 {
	out := make([]int64, 0, len(todos))
	for _, t := range todos {
		out = append(out, t.ID)
	}
	return out
}
