package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/afero"

	"github.com/Tomlord1122/calendar-todo/internal/backup"
	"github.com/Tomlord1122/calendar-todo/internal/config"
	"github.com/Tomlord1122/calendar-todo/internal/database"
	"github.com/Tomlord1122/calendar-todo/internal/gcal"
	"github.com/Tomlord1122/calendar-todo/internal/jobs"
	"github.com/Tomlord1122/calendar-todo/internal/notify"
	"github.com/Tomlord1122/calendar-todo/internal/repository"
	"github.com/Tomlord1122/calendar-todo/internal/scheduler"
	"github.com/Tomlord1122/calendar-todo/internal/server"
	"github.com/Tomlord1122/calendar-todo/internal/service"
)

func main() {
	// Reconfigured once the config is loaded.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(context.Background()); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.ParseLogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// openRepository picks the persistence backend. The returned close func is
// nil for the file backend.
func openRepository(cfg config.Config, logger *slog.Logger) (repository.TodoRepository, func() error, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		dbService, err := database.New(cfg.DB, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("running database auto-migration")
		if err := repository.Migrate(dbService.GetDB()); err != nil {
			_ = dbService.Close()
			return nil, nil, fmt.Errorf("failed to auto-migrate database: %w", err)
		}
		return repository.NewGormTodoRepository(dbService.GetDB(), dbService.Health), dbService.Close, nil
	default:
		repo, err := repository.NewFileTodoRepository(afero.NewOsFs(), cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file storage", "path", repo.Path())
		return repo, nil, nil
	}
}

// openNotifications builds the browser hub and, when credentials are set, the
// Firebase push channel, then restores their saved state.
func openNotifications(ctx context.Context, cfg config.Config, logger *slog.Logger) (*notify.Hub, *notify.Push, error) {
	hub := notify.NewHub(logger)
	var push *notify.Push
	if cfg.Notify.FirebaseCredentialsFile != "" {
		var err error
		push, err = notify.NewPushFromCredentials(ctx, cfg.Notify.FirebaseCredentialsFile, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("firebase push notifications enabled")
	}

	state := notify.NewStateStore(afero.NewOsFs(), cfg.DataDir, logger)
	if err := state.Track(hub, push); err != nil {
		return nil, nil, err
	}
	return hub, push, nil
}

func todoOptions(cfg config.Config, loc *time.Location, logger *slog.Logger) service.Options {
	return service.Options{
		Location:                   loc,
		DefaultNotificationMinutes: cfg.Notify.DefaultNotificationMinutes,
		Logger:                     logger,
	}
}

// startTodos loads the collection and reconciles its reminders. Due ones are
// delivered through hub and push, so their state must already be restored.
func startTodos(ctx context.Context, cfg config.Config, loc *time.Location, repo repository.TodoRepository, backups service.Backups, hub *notify.Hub, push *notify.Push, logger *slog.Logger) (service.TodoService, *scheduler.Scheduler, error) {
	channels := notify.Fanout{hub}
	if push != nil {
		channels = append(channels, push)
	}
	sched := scheduler.New(channels, scheduler.Options{
		Clock:       scheduler.RealClock(),
		Location:    loc,
		GraceWindow: cfg.Notify.GraceWindow,
		Logger:      logger,
	})

	todoService := service.NewTodoService(repo, sched, backups, todoOptions(cfg, loc, logger))
	if _, err := todoService.Start(ctx); err != nil {
		sched.Close()
		return nil, nil, err
	}
	return todoService, sched, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"port", cfg.Port,
		"storage", cfg.StorageDriver,
		"timezone", loc.String(),
		"log_level", cfg.LogLevel,
	)

	// 1. Persistence
	todoRepo, closeDB, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer func() {
			logger.Info("closing database connection pool")
			if err := closeDB(); err != nil {
				logger.Error("closing database connection pool", "error", err)
			}
		}()
	}
	backups := backup.NewManager(afero.NewOsFs(), cfg.DataDir)

	// 2. Notification channels, restored before the first reconcile
	hub, push, err := openNotifications(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 3. Scheduler and store
	todoService, sched, err := startTodos(ctx, cfg, loc, todoRepo, backups, hub, push, logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	// 4. Google Calendar
	tokens, err := gcal.OpenTokenStore(cfg.Keyring)
	if err != nil {
		return err
	}
	connector := gcal.NewConnector(cfg.Google, tokens)
	calendarService := service.NewCalendarService(todoService, connector, todoOptions(cfg, loc, logger))

	// 5. Periodic jobs
	runner := jobs.NewRunner(loc, cfg.Jobs.Timeout, logger)
	if err := jobs.Register(runner, cfg.Jobs, todoService, calendarService); err != nil {
		return err
	}
	runner.Start()

	// 6. HTTP server
	srv := server.NewServer(cfg.Port, server.Deps{
		Todos:       todoService,
		Calendar:    calendarService,
		Hub:         hub,
		Push:        push,
		Reminders:   sched,
		Health:      todoRepo.Health,
		Location:    loc,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	srv.RegisterOnShutdown(hub.Close)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	logger.Info("server starting", "addr", srv.Addr)

	<-ctx.Done()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error("stopping jobs", "error", err)
	}

	logger.Info("server exiting")
	return nil
}
