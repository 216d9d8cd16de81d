package chi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/job"
)

// SubmitResponse acknowledges a queued entity.
type SubmitResponse struct {
	JobID    string     `json:"job_id"`
	EntityID string     `json:"entity_id"`
	Status   job.Status `json:"status"`
}

// DeleteEntityResponse reports removed records.
type DeleteEntityResponse struct {
	EntityID       string `json:"entity_id"`
	DeletedRecords int    `json:"deleted_records"`
}

// scopeEntity binds e to the request organization. A body naming another
// organization is rejected.
func scopeEntity(org string, e *entity.Entity) error {
	if e.OrganizationID != "" && e.OrganizationID != org {
		return domain.NewCrossTenant(org, e.OrganizationID, e.ID)
	}
	e.OrganizationID = org
	return nil
}

// IngestEntity handles POST /api/v1/entities.
func (s *Server) IngestEntity(w http.ResponseWriter, r *http.Request) {
	var e entity.Entity
	if !decodeJSON(w, r, &e) {
		return
	}
	if err := scopeEntity(organization(r.Context()), &e); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.submit(w, r, e)
}

// IngestEmail handles POST /api/v1/entities/email with a raw RFC 822 body.
// The entity id comes from ?id=, else from the Message-ID header, else a
// random id.
func (s *Server) IngestEmail(w http.ResponseWriter, r *http.Request) {
	var id string
	if !queryParam(w, r, "id", &id) {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEmailBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "message too large")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "read message: "+err.Error())
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "message body is required")
		return
	}

	e, err := entity.ParseEmail(raw)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	e.OrganizationID = organization(r.Context())
	e.ID = emailEntityID(id, e.Fields["message_id"])
	s.submit(w, r, e)
}

// emailEntityID derives a stable id from the Message-ID so a resent message
// replaces its earlier copy.
func emailEntityID(explicit, messageID string) string {
	switch {
	case explicit != "":
		return explicit
	case messageID != "":
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mid:"+messageID)).String()
	default:
		return uuid.NewString()
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, e entity.Entity) {
	j, err := s.indexer.Submit(r.Context(), e)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) && j.ID != "" {
			requestLogger(r, s.logger).Warn("indexing queue full", zap.String("job_id", j.ID))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"code":    CodeQueueFull,
				"message": domain.ErrQueueFull.Error(),
				"job_id":  j.ID,
			})
			return
		}
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+j.ID)
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:    j.ID,
		EntityID: j.EntityID,
		Status:   j.Status,
	})
}

// DeleteEntity handles DELETE /api/v1/entities/{id}. In-flight indexing of
// the entity is superseded.
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	n, err := s.indexer.Delete(r.Context(), organization(r.Context()), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteEntityResponse{EntityID: id, DeletedRecords: n})
}
