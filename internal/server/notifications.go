package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/notify"
	"github.com/Tomlord1122/calendar-todo/internal/scheduler"
)

type permissionResponse struct {
	Permission  notify.Permission `json:"permission"`
	PushEnabled bool              `json:"pushEnabled"`
	Devices     int               `json:"devices"`
}

type deviceRequest struct {
	Token string `json:"token"`
}

// notificationStreamHandler keeps a Server-Sent-Events stream open and
// writes every reminder the hub delivers, with periodic pings.
func (s *Server) notificationStreamHandler(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clearing write deadline", "error", err)
	}

	subscriber, stream, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := notify.WritePing(w, s.now()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Error("notification stream cannot flush", "subscriber", subscriber, "error", err)
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case reminder, ok := <-stream:
			if !ok {
				return
			}
			if err := notify.WriteReminder(w, reminder); err != nil {
				s.logger.Warn("writing reminder to stream", "subscriber", subscriber, "error", err)
				return
			}
		case now := <-ticker.C:
			if err := notify.WritePing(w, now); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) permissionState() permissionResponse {
	resp := permissionResponse{Permission: s.hub.Permission()}
	if s.push != nil {
		resp.PushEnabled = true
		resp.Devices = len(s.push.Devices())
	}
	return resp
}

func (s *Server) getPermissionHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.permissionState())
}

func (s *Server) setPermissionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission string `json:"permission"`
	}
	if !s.decodeJSON(w, r, &req, true) {
		return
	}
	p, err := notify.ParsePermission(req.Permission)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Permission must be one of default, granted, denied")
		return
	}

	s.hub.SetPermission(p)
	respondWithJSON(w, http.StatusOK, s.permissionState())
}

func (s *Server) pendingRemindersHandler(w http.ResponseWriter, r *http.Request) {
	pending := []scheduler.Pending{}
	if s.reminders != nil {
		pending = s.reminders.Pending()
	}
	respondWithJSON(w, http.StatusOK, pending)
}

func (s *Server) deviceToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.push == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Push notifications are not configured")
		return "", false
	}
	var req deviceRequest
	if !s.decodeJSON(w, r, &req, true) {
		return "", false
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "Device token is required")
		return "", false
	}
	return token, true
}

func (s *Server) registerDeviceHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := s.deviceToken(w, r)
	if !ok {
		return
	}

	s.push.Register(token)
	respondWithJSON(w, http.StatusCreated, map[string]any{"message": "Device registered", "devices": len(s.push.Devices())})
}

func (s *Server) unregisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := s.deviceToken(w, r)
	if !ok {
		return
	}

	if !s.push.Unregister(token) {
		respondWithError(w, http.StatusNotFound, "Device not registered")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Device unregistered", "devices": len(s.push.Devices())})
}
