package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roondisplay/internal/models"
)

func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "not connected to core")
	case errors.Is(err, models.ErrZoneNotFound):
		writeError(w, http.StatusNotFound, "zone not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	var req struct {
		Control string `json:"control"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Control(r.Context(), zoneID, req.Control); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Seek(r.Context(), zoneID, req.Seconds); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	var req struct {
		Mute bool `json:"mute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Mute(r.Context(), zoneID, req.Mute); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handlePlayFromQueue(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	var req struct {
		QueueItemID uint32 `json:"queue_item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.PlayFromQueue(r.Context(), zoneID, req.QueueItemID); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.reconnector == nil {
		writeError(w, http.StatusServiceUnavailable, "reconnect not available")
		return
	}
	s.reconnector.Reconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconnecting"})
}
