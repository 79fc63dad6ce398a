// Package management implements the Management Adapter named in spec.md's
// module table: device and peer CRUD against the Identity Store, plus
// triggers for Bridge reconfiguration, behind the bearer-token check
// spec.md §6 names for the admin surface.
package management

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/bridge"
	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
)

// Config bundles the dependencies the Management Adapter needs. Bridge may
// be nil (federation disabled).
type Config struct {
	Store     *identity.Store
	Cache     *cache.Cache
	Bridge    *bridge.Manager
	UserToken string
	Logger    *slog.Logger
}

// Server wires Config into an http.Handler.
type Server struct {
	store     *identity.Store
	cache     *cache.Cache
	bridge    *bridge.Manager
	userToken string
	log       *slog.Logger

	router chi.Router
}

// New builds the Server and its route table.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:     cfg.Store,
		cache:     cfg.Cache,
		bridge:    cfg.Bridge,
		userToken: cfg.UserToken,
		log:       log,
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
	r.Post("/auth/token", s.handleAuthToken)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Delete("/{uuid}", s.handleDeleteDevice)
		})

		r.Route("/peers", func(r chi.Router) {
			r.Get("/", s.handleListPeers)
			r.Post("/", s.handleCreatePeer)
			r.Patch("/{brokerId}", s.handleUpdatePeer)
			r.Delete("/{brokerId}", s.handleRemovePeer)
			r.Post("/reload", s.handleReloadPeers)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	detail := map[string]any{"status": "ok"}
	if s.bridge != nil {
		detail["bridgeEnabled"] = s.bridge.Enabled()
		detail["peers"] = s.bridge.PeerStatus()
	}
	writeOK(w, detail)
}

// handleAuthToken implements POST /auth/token: exchanges the raw
// USER_TOKEN bearer secret for a short-lived session JWT. The bypass rules
// in authMiddleware apply here too, so a loopback caller or an open
// surface (USER_TOKEN unset) can mint a token without presenting one.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if s.userToken != "" && !isLoopback(r) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != s.userToken {
			writeUnauthorized(w, "invalid bearer token")
			return
		}
	}
	signed, err := s.issueSessionToken()
	if err != nil {
		s.log.Error("issuing session token", "err", err)
		writeServerError(w, "issuing session token")
		return
	}
	writeOK(w, map[string]any{"token": signed, "expiresInSeconds": int(sessionTokenTTL.Seconds())})
}
