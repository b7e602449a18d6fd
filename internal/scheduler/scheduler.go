// Package scheduler turns todos into timed reminders and keeps at most one
// pending reminder per todo.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/notify"
)

const (
	// ReminderTitle is the heading of every reminder.
	ReminderTitle = "Calendar Todo Reminder"

	// DefaultGraceWindow bounds how far in the past a missed reminder is still
	// delivered by ReconcileAll.
	DefaultGraceWindow = time.Minute

	deliverTimeout = 10 * time.Second
)

// Outcome is what Schedule did with a todo.
type Outcome int

const (
	Skipped Outcome = iota
	FiredNow
	Scheduled
)

func (o Outcome) String() string {
	switch o {
	case FiredNow:
		return "fired"
	case Scheduled:
		return "scheduled"
	default:
		return "skipped"
	}
}

// Summary counts the decisions of one ReconcileAll pass.
type Summary struct {
	Fired     int `json:"fired"`
	Scheduled int `json:"scheduled"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}

// Pending is one registered reminder.
type Pending struct {
	TodoID int64     `json:"todoId"`
	Title  string    `json:"title"`
	FireAt time.Time `json:"fireAt"`
}

type entry struct {
	todo   domain.Todo
	fireAt time.Time
	timer  Timer
}

type Options struct {
	Clock       Clock
	Location    *time.Location
	GraceWindow time.Duration
	Logger      *slog.Logger
}

type Scheduler struct {
	clock   Clock
	loc     *time.Location
	grace   time.Duration
	channel notify.Channel
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[int64]*entry
	closed   bool
	inflight sync.WaitGroup
}

// New creates a scheduler delivering through channel. Zero options fall back
// to the wall clock, the local zone and DefaultGraceWindow.
func New(channel notify.Channel, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.GraceWindow == 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		clock:   opts.Clock,
		loc:     opts.Location,
		grace:   opts.GraceWindow,
		channel: channel,
		logger:  opts.Logger,
		entries: make(map[int64]*entry),
	}
}

// Schedule replaces any pending reminder for the todo. A reminder that is
// already due (fire time at or before now) is delivered immediately on a
// separate goroutine, so Schedule never waits on a slow channel.
func (s *Scheduler) Schedule(t domain.Todo) Outcome {
	fireAt, ok := t.FireAt(s.loc)
	if !ok {
		s.Cancel(t.ID)
		return Skipped
	}

	s.mu.Lock()
	s.cancelLocked(t.ID)
	if s.closed {
		s.mu.Unlock()
		return Skipped
	}
	now := s.clock.Now()
	if !fireAt.After(now) {
		s.dispatchLocked([]domain.Todo{t})
		s.mu.Unlock()
		return FiredNow
	}
	s.registerLocked(t, fireAt, now)
	s.mu.Unlock()
	return Scheduled
}

// Cancel removes the pending reminder for id. Cancelling an id with nothing
// pending is a no-op.
func (s *Scheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

// CancelAll removes every pending reminder.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.cancelLocked(id)
	}
}

// ReconcileAll decides every todo's reminder after a load. A fire time in
// [now-grace, now] is delivered in the background, a future one is scheduled
// and anything older is dropped without catch-up.
func (s *Scheduler) ReconcileAll(todos []domain.Todo, now time.Time) Summary {
	var (
		sum  Summary
		due  []domain.Todo
		edge = now.Add(-s.grace)
	)

	s.mu.Lock()
	for _, t := range todos {
		s.cancelLocked(t.ID)
		fireAt, ok := t.FireAt(s.loc)
		switch {
		case !ok || s.closed:
			sum.Skipped++
		case fireAt.After(now):
			s.registerLocked(t, fireAt, now)
			sum.Scheduled++
		case !fireAt.Before(edge):
			due = append(due, t)
			sum.Fired++
		default:
			sum.Dropped++
		}
	}
	s.dispatchLocked(due)
	s.mu.Unlock()

	s.logger.Info("reminders reconciled",
		"fired", sum.Fired, "scheduled", sum.Scheduled, "dropped", sum.Dropped, "skipped", sum.Skipped)
	return sum
}

// Fire delivers the todo's reminder. It does nothing when the channel is not
// permitted and never reports an error to the caller.
func (s *Scheduler) Fire(t domain.Todo) {
	if !s.channel.Permitted() {
		s.logger.Debug("notification channel not permitted, skipping reminder", "todo_id", t.ID)
		return
	}

	fireAt, _ := t.FireAt(s.loc)
	r := notify.Reminder{
		TodoID: t.ID,
		Tag:    t.Tag(),
		Title:  ReminderTitle,
		Body:   t.Title + " - " + t.DisplayTime(),
		FireAt: fireAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := s.channel.Deliver(ctx, r); err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			s.logger.Debug("reminder not delivered", "todo_id", t.ID, "error", err)
			return
		}
		s.logger.Error("delivering reminder", "todo_id", t.ID, "error", err)
		return
	}
	s.logger.Info("reminder delivered", "todo_id", t.ID, "tag", r.Tag)
}

// Wait blocks until every reminder handed off by Schedule or ReconcileAll has
// been delivered or given up.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// dispatchLocked fires todos in order on one goroutine. Callers hold s.mu and
// have checked s.closed, which keeps Add ahead of the Wait in Close.
func (s *Scheduler) dispatchLocked(todos []domain.Todo) {
	if len(todos) == 0 {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		for _, t := range todos {
			s.Fire(t)
		}
	}()
}

// Pending lists registered reminders ordered by fire time.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Pending{TodoID: id, Title: e.todo.Title, FireAt: e.fireAt})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].TodoID < out[j].TodoID
	})
	return out
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops every timer and waits for deliveries already under way. Later
// calls to Schedule are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id := range s.entries {
		s.cancelLocked(id)
	}
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Scheduler) cancelLocked(id int64) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(s.entries, id)
}

func (s *Scheduler) registerLocked(t domain.Todo, fireAt, now time.Time) {
	e := &entry{todo: t, fireAt: fireAt}
	e.timer = s.clock.AfterFunc(fireAt.Sub(now), func() { s.expire(e) })
	s.entries[t.ID] = e
	s.logger.Debug("reminder scheduled", "todo_id", t.ID, "fire_at", fireAt)
}

// expire runs on the timer goroutine. A timer that lost the race with Cancel
// finds a different (or no) entry for its id and does nothing.
func (s *Scheduler) expire(e *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[e.todo.ID]; !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.todo.ID)
	s.mu.Unlock()

	s.Fire(e.todo)
}
