package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

// Server is the recall HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over the given engine and version string.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// SetDB attaches the SQLite database so health reports its path and counts.
func (s *Server) SetDB(db *store.DB) {
	s.db = db
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleStoreMemory)
		r.Get("/memories", s.handleRetrieveMemories)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Delete("/memories/{id}", s.handleDeleteMemory)

		r.Get("/context", s.handleGetContext)
		r.Post("/forget", s.handleForget)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Store
	resp := map[string]any{
		"status":          "ok",
		"version":         s.version,
		"uptime":          time.Since(s.started).Seconds(),
		"durable":         st.Available(),
		"fallback_cache":  st.Fallback().Len(),
		"pending_deletes": st.Fallback().Tombstones(),
	}
	if s.db != nil {
		resp["db_path"] = s.db.Path
		if stats, err := s.db.Stats(r.Context()); err != nil {
			log.Printf("server: health: %v", err)
		} else {
			resp["db"] = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
