package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rdelgatto/jobagent/internal/store"
)

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	inst, err := s.store.GetInstance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	if err != nil {
		s.logger.Error("get instance", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get instance")
		return
	}

	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	if _, err := s.store.GetInstance(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.logger.Error("get instance for logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get instance")
		return
	}

	entries, err := s.store.ListLogEntries(r.Context(), id)
	if err != nil {
		s.logger.Error("list log entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list log entries")
		return
	}

	s.writeJSON(w, http.StatusOK, entries)
}
