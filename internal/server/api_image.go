package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleImage serves a cached image. On a miss the engine requests it
// upstream and waits briefly for the bytes to arrive before giving up.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "imageKey")

	entry, ok := s.engine.Image(r.Context(), key)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(entry.Data)
}
