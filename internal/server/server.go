// Package server exposes the display engine over HTTP and WebSocket:
// JSON read endpoints, playback control endpoints, album art and a
// push stream of broadcast messages.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roondisplay/internal/broker"
	"roondisplay/internal/images"
	"roondisplay/internal/models"
	"roondisplay/internal/store"
)

// Engine is the reconciliation engine surface the server consumes: read
// accessors, fire-and-forget actions and broadcast subscription.
type Engine interface {
	Connected() bool
	CoreName() string
	Zones() []models.Zone
	ZoneViews(ctx context.Context) []models.ZoneView
	Queue(ctx context.Context, zoneID string) ([]models.QueueItem, error)
	Image(ctx context.Context, key string) (images.Entry, bool)
	Control(ctx context.Context, zoneID, control string) error
	Seek(ctx context.Context, zoneID string, seconds int) error
	Mute(ctx context.Context, zoneID string, mute bool) error
	PlayFromQueue(ctx context.Context, zoneID string, queueItemID uint32) error
	Subscribe() *broker.Subscriber
	Unsubscribe(*broker.Subscriber)
}

// Reconnector forces the upstream connection to drop and redial.
type Reconnector interface {
	Reconnect()
}

type Server struct {
	router      chi.Router
	engine      Engine
	store       *store.Store
	reconnector Reconnector
	corsOrigin  string
}

func NewServer(engine Engine, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		engine: engine,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

func WithReconnector(r Reconnector) Option {
	return func(s *Server) { s.reconnector = r }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
