package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
)

// listBusinesses serves GET /businesses with filtering and pagination.
// Page parameters outside the supported range are clamped, never rejected.
func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := directory.Filter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Status:   directory.BusinessStatus(q.Get("status")),
	}
	page := directory.PageRequest{
		Page:     intParam(q.Get("page")),
		PageSize: intParam(q.Get("limit")),
		All:      q.Get("all") == "true",
	}

	result, err := s.engine.List(r.Context(), filter, page)
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// upsertBusiness serves POST /businesses for manual record maintenance.
func (s *Server) upsertBusiness(w http.ResponseWriter, r *http.Request) {
	var biz directory.Business
	if err := json.NewDecoder(r.Body).Decode(&biz); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	directory.ApplyDefaults(&biz)
	now := s.clock.Now()
	if biz.CreatedAt.IsZero() {
		biz.CreatedAt = now
	}
	biz.UpdatedAt = now

	outcome, err := s.store.Upsert(r.Context(), biz)
	if err != nil {
		var verr *directory.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		if errors.Is(err, directory.ErrReadOnly) {
			s.writeError(w, http.StatusMethodNotAllowed, "this deployment is read-only")
			return
		}
		s.storageError(w, err)
		return
	}

	status := http.StatusOK
	if outcome == directory.OutcomeCreated {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{
		"success":    true,
		"businessId": biz.ID,
		"outcome":    string(outcome),
	})
}

// getStats serves GET /stats from the cached row when available.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.aggregator.Stats(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// refreshStats serves POST /stats/refresh by recomputing and persisting.
func (s *Server) refreshStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.aggregator.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, directory.ErrReadOnly) {
			s.writeError(w, http.StatusMethodNotAllowed, "this deployment is read-only")
			return
		}
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, directory.ErrStorageUnavailable) {
		s.logger.Warn("storage backend unavailable", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage backend unavailable")
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}

func intParam(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
