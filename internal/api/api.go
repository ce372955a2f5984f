// Package api is the process boundary: it exposes the session registry,
// command executor, file transfer engine, and key store over HTTP routes,
// and streams lifecycle notifications over a websocket.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halyard-ssh/halyard/internal/events"
	"github.com/halyard-ssh/halyard/internal/keystore"
	"github.com/halyard-ssh/halyard/internal/session"
	"github.com/halyard-ssh/halyard/internal/transfer"
)

// Server holds the wired core components behind the HTTP boundary.
type Server struct {
	reg   *session.Registry
	exec  *session.Executor
	files *transfer.Engine
	keys  *keystore.Store
	gen   *keystore.Generator
	bus   *events.Bus
}

func NewServer(reg *session.Registry, exec *session.Executor, files *transfer.Engine, keys *keystore.Store, gen *keystore.Generator, bus *events.Bus) *Server {
	return &Server{reg: reg, exec: exec, files: files, keys: keys, gen: gen, bus: bus}
}

// Routes builds the full route tree.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleConnect)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDisconnect)
				r.Post("/reconnect", s.handleReconnect)
				r.Post("/exec", s.handleExecute)
				r.Get("/transitions", s.handleTransitions)
				r.Get("/events", s.handleSessionEvents)
				r.Get("/files", s.handleListFiles)
				r.Post("/files/upload", s.handleUpload)
				r.Post("/files/download", s.handleDownload)
			})
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", s.handleListKeys)
			r.Post("/", s.handleAddKey)
			r.Post("/generate", s.handleGenerateKey)
			r.Get("/{id}", s.handleGetKey)
			r.Delete("/{id}", s.handleRemoveKey)
		})

		r.Get("/logs", s.handleReadLogs)
		r.Delete("/logs", s.handleClearLogs)

		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
