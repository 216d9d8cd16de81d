package chi

import (
	"net/http"

	"github.com/kailas-cloud/triage/internal/usecase/retrieval"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query string   `json:"query"`
	Types []string `json:"types,omitempty"`
}

// SearchPost handles POST /api/v1/search.
func (s *Server) SearchPost(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runSearch(w, r, req)
}

// SearchGet handles GET /api/v1/search?q=&types=a,b.
func (s *Server) SearchGet(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !queryParam(w, r, "q", &req.Query) || !queryParam(w, r, "types", &req.Types) {
		return
	}
	s.runSearch(w, r, req)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, req SearchRequest) {
	resp, err := s.search.Search(r.Context(), organization(r.Context()), req.Query, req.Types)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []retrieval.Result{}
	}
	if resp.Groups == nil {
		resp.Groups = []retrieval.Group{}
	}
	if resp.Degraded {
		w.Header().Set("X-Search-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, resp)
}
