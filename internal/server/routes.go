package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

// defaultContextTokens is used when /api/context has no max_tokens.
const defaultContextTokens = 1000

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	rec, err := s.engine.StoreMemory(r.Context(), req)
	if err != nil {
		s.engineError(w, "store memory", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRetrieveMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := engine.RetrieveRequest{
		OwnerID:   q.Get("owner_id"),
		SessionID: q.Get("session_id"),
		Query:     q.Get("q"),
	}
	var err error
	if req.MaxResults, err = intParam(q.Get("max_results"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "max_results must be an integer")
		return
	}
	if req.MinImportance, err = floatParam(q.Get("min_importance")); err != nil {
		writeError(w, http.StatusBadRequest, "min_importance must be a number")
		return
	}
	if v := q.Get("include_archived"); v != "" {
		if req.IncludeArchived, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "include_archived must be a boolean")
			return
		}
	}
	if v := q.Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			req.Types = append(req.Types, store.MemoryType(strings.TrimSpace(t)))
		}
	}

	results, err := s.engine.RetrieveMemories(r.Context(), req)
	if err != nil {
		s.engineError(w, "retrieve memories", err)
		return
	}
	if results == nil {
		results = []engine.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.engineError(w, "get memory", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteMemory(r.Context(), id); err != nil {
		s.engineError(w, "delete memory", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxTokens, err := intParam(q.Get("max_tokens"), defaultContextTokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, "max_tokens must be an integer")
		return
	}

	text, err := s.engine.GetContext(r.Context(), q.Get("owner_id"), q.Get("session_id"), maxTokens, q.Get("q"))
	if err != nil {
		s.engineError(w, "get context", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context": text,
		"tokens":  s.engine.Analyzer().EstimateTokens(text),
	})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	report, err := s.engine.RunForgettingCycle(r.Context(), req.OwnerID)
	if err != nil {
		s.engineError(w, "forgetting cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// engineError maps malformed input to 400. Anything else is logged and
// reported as a 500.
func (s *Server) engineError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, engine.ErrMalformedInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("server: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
