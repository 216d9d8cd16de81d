package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

// RuleRequest is the body of rule create and update.
type RuleRequest struct {
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Priority          int             `json:"priority"`
	Status            string          `json:"status"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`
	Actions           json.RawMessage `json:"actions"`
}

func (req RuleRequest) params() (rule.Params, error) {
	p := rule.Params{
		Name:       req.Name,
		Category:   req.Category,
		Priority:   req.Priority,
		Conditions: req.TriggerConditions,
		Actions:    req.Actions,
	}
	if req.Status != "" {
		st, err := rule.ParseStatus(req.Status)
		if err != nil {
			return rule.Params{}, fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
		}
		p.Status = st
	}
	return p, nil
}

// RuleResponse is a stored rule with its statistics.
type RuleResponse struct {
	ID                string          `json:"id"`
	OrganizationID    string          `json:"organization_id"`
	Name              string          `json:"name"`
	Category          string          `json:"category,omitempty"`
	Priority          int             `json:"priority"`
	Status            rule.Status     `json:"status"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`
	Actions           json.RawMessage `json:"actions"`
	Stats             rule.Stats      `json:"stats"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func ruleToResponse(r rule.Rule) RuleResponse {
	return RuleResponse{
		ID:                r.ID(),
		OrganizationID:    r.OrganizationID(),
		Name:              r.Name(),
		Category:          r.Category(),
		Priority:          r.Priority(),
		Status:            r.Status(),
		TriggerConditions: r.Conditions(),
		Actions:           r.Actions(),
		Stats:             r.Stats(),
		CreatedAt:         r.CreatedAt(),
		UpdatedAt:         r.UpdatedAt(),
	}
}

// CreateRule handles POST /api/v1/rules.
func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	created, err := s.rules.Create(r.Context(), organization(r.Context()), p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/rules/"+created.ID())
	writeJSON(w, http.StatusCreated, ruleToResponse(created))
}

// ListRules handles GET /api/v1/rules. Rules come back in evaluation order.
func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context(), organization(r.Context()))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]RuleResponse, len(rules))
	for i, ru := range rules {
		items[i] = ruleToResponse(ru)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetRule handles GET /api/v1/rules/{id}.
func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	ru, err := s.rules.Get(r.Context(), organization(r.Context()), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToResponse(ru))
}

// UpdateRule handles PUT /api/v1/rules/{id}. Statistics are kept.
func (s *Server) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	updated, err := s.rules.Update(r.Context(), organization(r.Context()), id, p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToResponse(updated))
}

// DeleteRule handles DELETE /api/v1/rules/{id}.
func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.rules.Delete(r.Context(), organization(r.Context()), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
