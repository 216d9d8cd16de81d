package chi

import (
	"fmt"
	"net/http"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/job"
)

// ListJobs handles GET /api/v1/jobs?status=&limit=.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	var raw string
	if !queryParam(w, r, "status", &raw) {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	var status job.Status
	if raw != "" {
		st, err := job.ParseStatus(raw)
		if err != nil {
			s.handleDomainError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			return
		}
		status = st
	}

	jobs, err := s.indexer.List(r.Context(), organization(r.Context()), status, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	j, err := s.indexer.Get(r.Context(), organization(r.Context()), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// RetryJob handles POST /api/v1/jobs/{id}/retry. Only failed jobs qualify.
func (s *Server) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	j, err := s.indexer.Retry(r.Context(), organization(r.Context()), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:    j.ID,
		EntityID: j.EntityID,
		Status:   j.Status,
	})
}
