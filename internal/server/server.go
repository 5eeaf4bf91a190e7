// Package server exposes the character directory over HTTP with
// conditional-request semantics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ubk8751/cathyAI/internal/character"
	"github.com/ubk8751/cathyAI/internal/fingerprint"
	"github.com/ubk8751/cathyAI/internal/types"
)

// Server serves the directory endpoints. Requests are stateless reads over
// the store; the only shared state is the memoized list payload.
type Server struct {
	store  *character.Store
	apiKey string
	list   *listCache
}

// New returns a Server over store. When apiKey is empty the API is open.
func New(store *character.Store, apiKey string) *Server {
	return &Server{store: store, apiKey: apiKey, list: &listCache{}}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /characters", s.auth(s.handleList))
	mux.HandleFunc("GET /characters/{id}", s.auth(s.handleDetail))
	mux.HandleFunc("GET /avatars/{filename}", s.auth(s.handleAvatar))
	return logRequests(mux)
}

// auth gates a handler on the x-api-key header.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"char_dir":   cfg.CharDir,
		"prompt_dir": cfg.PromptDir,
		"info_dir":   cfg.InfoDir,
		"avatar_dir": cfg.AvatarDir,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := fingerprint.Combined(sources)
	if notModified(w, r, etag) {
		return
	}

	payload, ok := s.list.get(etag)
	if !ok {
		chars, err := s.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if chars == nil {
			chars = []types.CharacterSummary{}
		}
		payload, err = json.Marshal(map[string]any{"characters": chars})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.list.set(etag, payload)
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view := character.ViewPrivate
	if r.URL.Query().Get("view") == string(character.ViewPublic) {
		view = character.ViewPublic
	}

	sources, err := s.store.Sources(id)
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Character not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := fingerprint.Combined(sources)
	if notModified(w, r, etag) {
		return
	}

	resolved, err := s.store.Resolve(id, view)
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Character not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	path, err := s.store.AvatarPath(filename)
	if err != nil {
		if errors.Is(err, character.ErrBadFilename) {
			writeError(w, http.StatusBadRequest, "Invalid filename")
			return
		}
		writeError(w, http.StatusNotFound, "Avatar not found")
		return
	}

	etag := fingerprint.Combined([]string{path})
	if notModified(w, r, etag) {
		return
	}
	w.Header().Set("ETag", etag)
	http.ServeFile(w, r, path)
}

// notModified answers the request with 304 when If-None-Match matches etag
// exactly. The ETag header rides along on the 304 so clients can refresh
// their stored token.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if r.Header.Get("If-None-Match") != etag {
		return false
	}
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusWriter records the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
