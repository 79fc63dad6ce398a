// Package httpapi implements the HTTP Adapter: the device-facing REST
// surface of spec.md §4.6, plus the group/timeseries/scheduler passthroughs
// named in its last bullet, on top of go-chi/chi/v5 the way the teacher
// routes its own HTTP surface.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/broker"
	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/scheduler"
	"github.com/meshgate/iotbroker/timeseries"
)

// Config bundles the dependencies the HTTP Adapter needs. Timeseries may
// be nil (disabled).
type Config struct {
	Store            *identity.Store
	Cache            *cache.Cache
	Engine           *broker.Engine
	Scheduler        *scheduler.Scheduler
	Timeseries       *timeseries.Sink
	MessageMaxLength int
	Logger           *slog.Logger
}

// Server wires Config into an http.Handler.
type Server struct {
	store            *identity.Store
	cache            *cache.Cache
	engine           *broker.Engine
	scheduler        *scheduler.Scheduler
	timeseries       *timeseries.Sink
	messageMaxLength int
	log              *slog.Logger

	router chi.Router
}

// New builds the Server and its route table.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	maxLen := cfg.MessageMaxLength
	if maxLen <= 0 {
		maxLen = 1024
	}
	s := &Server{
		store:            cfg.Store,
		cache:            cfg.Cache,
		engine:           cfg.Engine,
		scheduler:        cfg.Scheduler,
		timeseries:       cfg.Timeseries,
		messageMaxLength: maxLen,
		log:              log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(corsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/device", func(r chi.Router) {
		r.Post("/auth", s.handleDeviceAuthCreate)
		r.Get("/auth", s.handleDeviceAuthConnect)
		r.Post("/s", s.handleDeviceSend)
		r.Get("/r", s.handleDeviceReceive)
	})

	r.Route("/groups", func(r chi.Router) {
		r.Post("/", s.handleCreateGroup)
		r.Get("/{name}", s.handleGetGroup)
		r.Post("/{name}/members", s.handleAddGroupMember)
		r.Delete("/{name}/members/{clientId}", s.handleRemoveGroupMember)
	})

	r.Get("/timeseries", s.handleQueryTimeseries)

	r.Route("/schedule", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Patch("/{taskId}", s.handleUpdateTask)
		r.Delete("/{taskId}", s.handleCancelTask)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	detail := map[string]any{"status": "ok"}
	if s.timeseries != nil {
		detail["timeseriesConnected"] = s.timeseries.IsConnected()
	}
	writeOK(w, detail)
}
