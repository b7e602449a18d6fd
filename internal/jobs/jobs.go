// Package jobs runs the periodic background work: automatic backups and the
// Google Calendar import.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Tomlord1122/calendar-todo/internal/config"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/service"
)

const (
	BackupJob     = "backup"
	GoogleSyncJob = "google-sync"

	DefaultTimeout = 2 * time.Minute
)

// Func is one unit of periodic work.
type Func func(ctx context.Context) error

type job struct {
	id cron.EntryID
	fn Func
}

// Runner wraps a cron scheduler. Every run gets its own timeout, panics are
// recovered and a run is skipped while the previous one is still going.
type Runner struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]job
}

func NewRunner(loc *time.Location, timeout time.Duration, logger *slog.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]job),
	}
}

// Add registers fn under name on a standard five-field cron spec (descriptors
// such as "@daily" work too). An empty spec leaves the job disabled and
// reports false.
func (r *Runner) Add(name, spec string, fn Func) (bool, error) {
	if spec == "" {
		r.logger.Info("job disabled", "job", name)
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return false, fmt.Errorf("job %q already registered", name)
	}

	id, err := r.cron.AddFunc(spec, func() { r.runOnce(name, fn) })
	if err != nil {
		return false, fmt.Errorf("scheduling job %q: %w", name, err)
	}
	r.jobs[name] = job{id: id, fn: fn}
	r.logger.Info("job scheduled", "job", name, "schedule", spec)
	return true, nil
}

// Trigger runs a registered job right away on the caller's goroutine.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q: %w", name, domain.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return j.fn(ctx)
}

// Next returns the next run time of every registered job.
func (r *Runner) Next() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.jobs))
	for name, j := range r.jobs {
		out[name] = r.cron.Entry(j.id).Next
	}
	return out
}

// Names lists the registered jobs in order.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done,
// after which in-flight runs are cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	defer r.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

func (r *Runner) runOnce(name string, fn Func) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	log := r.logger.With("job", name, "duration", time.Since(start))
	switch {
	case err == nil:
		log.Info("job finished")
	case errors.Is(err, domain.ErrPermissionDenied):
		log.Info("job skipped", "reason", err.Error())
	default:
		log.Error("job failed", "error", err)
	}
}

// Register wires the configured jobs to the services.
func Register(r *Runner, cfg config.Jobs, todos service.TodoService, calendar service.CalendarService) error {
	if _, err := r.Add(BackupJob, cfg.BackupSchedule, func(ctx context.Context) error {
		info, err := todos.CreateBackup(ctx)
		if err != nil {
			return err
		}
		r.logger.Info("automatic backup created", "file", info.Path)
		return nil
	}); err != nil {
		return err
	}
	if _, err := r.Add(GoogleSyncJob, cfg.GoogleSyncSchedule, func(ctx context.Context) error {
		_, err := calendar.Import(ctx)
		return err
	}); err != nil {
		return err
	}
	return nil
}

// cronLogger routes cron's logr-style calls to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
