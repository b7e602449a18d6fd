package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Tomlord1122/calendar-todo/internal/backup"
	"github.com/Tomlord1122/calendar-todo/internal/calview"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/service"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.HelloWorldHandler)

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/todos", func(r chi.Router) {
			r.Post("/", s.createTodoHandler)
			r.Get("/", s.getAllTodosHandler)

			r.Post("/backup", s.createBackupHandler)
			r.Get("/backups", s.listBackupsHandler)
			r.Post("/restore/{filename}", s.restoreBackupHandler)
			r.Get("/export", s.exportTodosHandler)
			r.Post("/import", s.importTodosHandler)

			r.Get("/{id}", s.getTodoByIDHandler)
			r.Put("/{id}", s.updateTodoHandler)
			r.Delete("/{id}", s.deleteTodoHandler)
			r.Post("/{id}/google", s.exportToGoogleHandler)
		})

		r.Get("/dates/{date}/todos", s.getTodosForDateHandler)
		r.Get("/calendar/{year}/{month}", s.calendarMonthHandler)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/stream", s.notificationStreamHandler)
			r.Get("/permission", s.getPermissionHandler)
			r.Put("/permission", s.setPermissionHandler)
			r.Get("/pending", s.pendingRemindersHandler)
			r.Post("/devices", s.registerDeviceHandler)
			r.Delete("/devices", s.unregisterDeviceHandler)
		})

		r.Route("/google", func(r chi.Router) {
			r.Get("/status", s.googleStatusHandler)
			r.Put("/token", s.googleConnectHandler)
			r.Delete("/token", s.googleDisconnectHandler)
			r.Post("/import", s.googleImportHandler)
		})
	})

	return r
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Hello World from Calendar Todo!"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthStats := map[string]string{}
	for k, v := range s.health() {
		healthStats[k] = v
	}
	if s.reminders != nil {
		healthStats["pending_reminders"] = strconv.Itoa(len(s.reminders.Pending()))
	}
	if s.hub != nil {
		healthStats["notification_streams"] = strconv.Itoa(s.hub.Subscribers())
	}
	if status, ok := healthStats["status"]; ok && status == "down" {
		respondWithJSON(w, http.StatusServiceUnavailable, healthStats)
		return
	}
	respondWithJSON(w, http.StatusOK, healthStats)
}

func (s *Server) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTodoRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}

	todo, err := s.todoService.Create(r.Context(), req)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to create todo")
		return
	}

	respondWithJSON(w, http.StatusCreated, todo)
}

func (s *Server) getAllTodosHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.todoService.List(r.Context()))
}

func (s *Server) getTodoByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoIDParam(w, r)
	if !ok {
		return
	}

	todo, err := s.todoService.Get(r.Context(), id)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to retrieve todo")
		return
	}

	respondWithJSON(w, http.StatusOK, todo)
}

func (s *Server) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoIDParam(w, r)
	if !ok {
		return
	}

	// Clients send the edited record back whole, so unknown fields such as
	// id and createdAt are ignored here.
	var req service.UpdateTodoRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}

	updatedTodo, err := s.todoService.Update(r.Context(), id, req)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to update todo")
		return
	}

	respondWithJSON(w, http.StatusOK, updatedTodo)
}

func (s *Server) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoIDParam(w, r)
	if !ok {
		return
	}

	if err := s.todoService.Delete(r.Context(), id); err != nil {
		s.respondWithServiceError(w, r, err, "Failed to delete todo")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Todo deleted successfully"})
}

func (s *Server) getTodosForDateHandler(w http.ResponseWriter, r *http.Request) {
	date, err := domain.ParseDate(chi.URLParam(r, "date"), s.loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid date provided, expected YYYY-MM-DD")
		return
	}

	respondWithJSON(w, http.StatusOK, s.todoService.ForDate(r.Context(), date))
}

type calendarMonthResponse struct {
	Year  int            `json:"year"`
	Month int            `json:"month"`
	Cells []calview.Cell `json:"cells"`
}

func (s *Server) calendarMonthHandler(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 || year > 9999 {
		respondWithError(w, http.StatusBadRequest, "Invalid year provided")
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		respondWithError(w, http.StatusBadRequest, "Invalid month provided, expected 1-12")
		return
	}

	today := domain.DateOf(s.now().In(s.loc))
	cells := calview.Project(year, time.Month(month), s.todoService.List(r.Context()), today)
	respondWithJSON(w, http.StatusOK, calendarMonthResponse{Year: year, Month: month, Cells: cells})
}

func (s *Server) createBackupHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.todoService.CreateBackup(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to create backup")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Backup created", "file": info.Path})
}

func (s *Server) listBackupsHandler(w http.ResponseWriter, r *http.Request) {
	backups, err := s.todoService.ListBackups(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to list backups")
		return
	}

	respondWithJSON(w, http.StatusOK, backups)
}

func (s *Server) restoreBackupHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.todoService.RestoreBackup(r.Context(), chi.URLParam(r, "filename"))
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to restore backup")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Todos restored from backup", "count": count})
}

func (s *Server) exportTodosHandler(w http.ResponseWriter, r *http.Request) {
	doc := s.todoService.Export(r.Context())
	filename := fmt.Sprintf("calendar-todos-%s.json", domain.DateOf(s.now().In(s.loc)))

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	respondWithJSON(w, http.StatusOK, doc)
}

func (s *Server) importTodosHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
		return
	}
	todos, err := backup.Decode(data)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to import todos")
		return
	}

	summary, err := s.todoService.Replace(r.Context(), todos)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to import todos")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":   "Todos imported",
		"count":     len(todos),
		"reminders": summary,
	})
}
