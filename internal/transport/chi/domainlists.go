package chi

import (
	"net/http"
	"time"

	"github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// DomainListRequest adds a pattern to a list.
type DomainListRequest struct {
	Pattern  string `json:"pattern"`
	ListType string `json:"list_type"`
	Reason   string `json:"reason"`
}

// DomainListEntry is a stored list entry.
type DomainListEntry struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organization_id"`
	Pattern        string              `json:"pattern"`
	ListType       domainlist.ListType `json:"list_type"`
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// LookupResponse reports the lists a domain belongs to.
type LookupResponse struct {
	Domain      string                `json:"domain"`
	Lists       []domainlist.ListType `json:"lists"`
	Blacklisted bool                  `json:"blacklisted"`
	Whitelisted bool                  `json:"whitelisted"`
	VIP         bool                  `json:"vip"`
}

func entryToResponse(e domainlist.Entry) DomainListEntry {
	return DomainListEntry{
		ID:             e.ID(),
		OrganizationID: e.OrganizationID(),
		Pattern:        e.Pattern(),
		ListType:       e.ListType(),
		Reason:         e.Reason(),
		CreatedAt:      e.CreatedAt(),
	}
}

// SearchDomainLists handles GET /api/v1/domain-lists?query=.
func (s *Server) SearchDomainLists(w http.ResponseWriter, r *http.Request) {
	var query string
	if !queryParam(w, r, "query", &query) {
		return
	}
	entries, err := s.lists.Search(r.Context(), organization(r.Context()), query)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]DomainListEntry, len(entries))
	for i, e := range entries {
		items[i] = entryToResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// AddDomainListEntry handles POST /api/v1/domain-lists.
func (s *Server) AddDomainListEntry(w http.ResponseWriter, r *http.Request) {
	var req DomainListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := s.lists.Add(r.Context(), organization(r.Context()), req.Pattern, req.ListType, req.Reason)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryToResponse(e))
}

// RemoveDomainListEntry handles DELETE /api/v1/domain-lists/{id}.
func (s *Server) RemoveDomainListEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.lists.Remove(r.Context(), organization(r.Context()), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupDomain handles GET /api/v1/domain-lists/lookup?domain=. An e-mail
// address is accepted in place of a domain.
func (s *Server) LookupDomain(w http.ResponseWriter, r *http.Request) {
	var dom string
	if !queryParam(w, r, "domain", &dom) {
		return
	}
	if dom == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "domain query parameter is required")
		return
	}
	dom = domainlist.DomainOf(dom)
	m, err := s.lists.Lookup(r.Context(), organization(r.Context()), dom)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	lists := m.Types()
	if lists == nil {
		lists = []domainlist.ListType{}
	}
	writeJSON(w, http.StatusOK, LookupResponse{
		Domain:      dom,
		Lists:       lists,
		Blacklisted: m.Has(domainlist.Blacklist),
		Whitelisted: m.Has(domainlist.Whitelist),
		VIP:         m.Has(domainlist.VIP),
	})
}
