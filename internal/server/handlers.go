package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/metrics"
	"github.com/trialscope/trialscope/internal/models"
)

// matchRequest is the POST /api/v1/match body: the patient record plus
// optional pipeline overrides.
type matchRequest struct {
	Patient        *models.Patient `json:"patient"`
	CandidateLimit int             `json:"candidate_limit,omitempty"`
	TopK           int             `json:"top_k,omitempty"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Patient == nil {
		s.respondError(w, http.StatusBadRequest, "patient is required")
		return
	}
	s.logger.Debug("match request",
		zap.String("patient_id", req.Patient.PatientID),
		zap.Int("top_k", req.TopK))
	result, err := s.engine.Match(r.Context(), req.Patient, models.MatchRequest{
		CandidateLimit: req.CandidateLimit,
		TopK:           req.TopK,
	})
	if err != nil {
		s.logger.Error("match failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.MatchRunsTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.MatchDuration.Observe(float64(result.QueryTimeMS) / 1000)
	metrics.MatchCandidates.Observe(float64(result.TotalMatches))
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trial, err := s.store.GetTrial(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "trial not found")
		return
	}
	s.respondJSON(w, http.StatusOK, trial)
}

func (s *Server) handleSearchTrials(w http.ResponseWriter, r *http.Request) {
	if s.keywords == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword search not enabled")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	fuzzy := r.URL.Query().Get("fuzzy") == "true"

	results, err := s.keywords.Search(r.Context(), query, limit, fuzzy)
	if err != nil {
		s.logger.Error("keyword search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	trialCount, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count trials failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"trials": trialCount,
	}
	if s.index != nil {
		resp["vector_index_size"] = s.index.Size()
	}
	if s.keywords != nil {
		if n, err := s.keywords.DocCount(); err == nil {
			resp["keyword_index_size"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
