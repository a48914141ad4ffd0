package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Get("/status", s.handleStatus)
		r.Get("/zones", s.handleZones)
		r.Get("/now-playing", s.handleNowPlaying)
		r.Get("/queue/{zoneID}", s.handleQueue)

		r.Post("/control/{zoneID}", s.handleControl)
		r.Post("/seek/{zoneID}", s.handleSeek)
		r.Post("/mute/{zoneID}", s.handleMute)
		r.Post("/play-from-queue/{zoneID}", s.handlePlayFromQueue)
		r.Post("/reconnect", s.handleReconnect)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Get("/image/{imageKey}", s.handleImage)
		r.Get("/ws", s.handleWS)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
