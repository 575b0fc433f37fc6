package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/scheduler"
)

const defaultRetryReadyLimit = 50

// GapListResponse wraps a list of ledger rows.
type GapListResponse struct {
	Count int                `json:"count"`
	Gaps  []domain.GapRecord `json:"gaps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleStatus serves the status file written by the scheduler process.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := scheduler.LoadStatus(s.statusPath)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load scheduler status")
		s.writeError(w, http.StatusInternalServerError, "failed to load scheduler status")
		return
	}
	if status == nil {
		s.writeError(w, http.StatusNotFound, "scheduler has not written a status yet")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.usage.Summary())
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	if s.throttle == nil {
		s.writeError(w, http.StatusServiceUnavailable, "rate limit tracking not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.throttle.Status())
}

func (s *Server) handleGapCounts(w http.ResponseWriter, r *http.Request) {
	if s.gaps == nil {
		s.writeError(w, http.StatusServiceUnavailable, "gap ledger not configured")
		return
	}
	counts, err := s.gaps.Counts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count gaps")
		s.writeError(w, http.StatusInternalServerError, "failed to count gaps")
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleWaitingGaps(w http.ResponseWriter, r *http.Request) {
	if s.gaps == nil {
		s.writeError(w, http.StatusServiceUnavailable, "gap ledger not configured")
		return
	}
	records, err := s.gaps.GetWaiting(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list waiting gaps")
		s.writeError(w, http.StatusInternalServerError, "failed to list waiting gaps")
		return
	}
	s.writeGapList(w, records)
}

func (s *Server) handleRetryReadyGaps(w http.ResponseWriter, r *http.Request) {
	if s.gaps == nil {
		s.writeError(w, http.StatusServiceUnavailable, "gap ledger not configured")
		return
	}

	limit := defaultRetryReadyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.gaps.GetRetryReady(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list retry-ready gaps")
		s.writeError(w, http.StatusInternalServerError, "failed to list retry-ready gaps")
		return
	}
	s.writeGapList(w, records)
}

func (s *Server) writeGapList(w http.ResponseWriter, records []domain.GapRecord) {
	if records == nil {
		records = []domain.GapRecord{}
	}
	s.writeJSON(w, http.StatusOK, GapListResponse{Count: len(records), Gaps: records})
}
