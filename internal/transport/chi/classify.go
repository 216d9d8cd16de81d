package chi

import (
	"net/http"
	"time"

	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/entity"
)

// RuleTestRequest is a dry-run classification of sample data.
type RuleTestRequest struct {
	EntityType string        `json:"entity_type"`
	TestData   entity.Entity `json:"test_data"`
}

// Classify handles POST /api/v1/classify. The entity is classified and
// logged but not indexed.
func (s *Server) Classify(w http.ResponseWriter, r *http.Request) {
	var e entity.Entity
	if !decodeJSON(w, r, &e) {
		return
	}
	s.classify(w, r, e, false)
}

// TestRules handles POST /api/v1/rules/test. ACTIVE rule statistics are left
// untouched; TESTING rules are counted and their actions simulated.
func (s *Server) TestRules(w http.ResponseWriter, r *http.Request) {
	var req RuleTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e := req.TestData
	if req.EntityType != "" {
		e.Type = req.EntityType
	}
	s.classify(w, r, e, true)
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request, e entity.Entity, dryRun bool) {
	if err := scopeEntity(organization(r.Context()), &e); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	e.Normalize(time.Now())

	run := s.classifier.Classify
	if dryRun {
		run = s.classifier.Test
	}
	res, err := run(r.Context(), e)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if res.MatchedRuleIDs == nil {
		res.MatchedRuleIDs = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListClassifications handles GET /api/v1/classifications?limit=.
func (s *Server) ListClassifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	entries, err := s.classifier.History(r.Context(), organization(r.Context()), limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []classification.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
