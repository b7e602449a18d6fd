package server

import (
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

func (s *Server) googleStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.calendarService.Status(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to read Google Calendar status")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// googleConnectHandler stores the token the browser obtained from Google
// sign-in. The body uses the oauth2 token field names.
func (s *Server) googleConnectHandler(w http.ResponseWriter, r *http.Request) {
	var tok oauth2.Token
	if !s.decodeJSON(w, r, &tok, false) {
		return
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		respondWithError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	if err := s.calendarService.Connect(r.Context(), &tok); err != nil {
		s.respondWithServiceError(w, r, err, "Failed to store Google token")
		return
	}
	status, err := s.calendarService.Status(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to read Google Calendar status")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) googleDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.calendarService.Disconnect(r.Context()); err != nil {
		s.respondWithServiceError(w, r, err, "Failed to remove Google token")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Google Calendar disconnected"})
}

func (s *Server) googleImportHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.calendarService.Import(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to import from Google Calendar")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) exportToGoogleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoIDParam(w, r)
	if !ok {
		return
	}

	todo, err := s.calendarService.Export(r.Context(), id)
	if err != nil {
		s.respondWithServiceError(w, r, err, "Failed to export todo to Google Calendar")
		return
	}

	respondWithJSON(w, http.StatusOK, todo)
}
