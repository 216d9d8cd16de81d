package chi

import (
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kailas-cloud/triage/internal/metrics"
)

// NewRouter mounts the API on a chi router with the standard middleware stack.
func NewRouter(s *Server, apiKeys []string) http.Handler {
	r := gochi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r gochi.Router) {
		r.Use(TenantMiddleware)

		r.Route("/rules", func(r gochi.Router) {
			r.Get("/", s.ListRules)
			r.Post("/", s.CreateRule)
			r.Post("/test", s.TestRules)
			r.Get("/{id}", s.GetRule)
			r.Put("/{id}", s.UpdateRule)
			r.Delete("/{id}", s.DeleteRule)
		})

		r.Route("/domain-lists", func(r gochi.Router) {
			r.Get("/", s.SearchDomainLists)
			r.Post("/", s.AddDomainListEntry)
			r.Get("/lookup", s.LookupDomain)
			r.Delete("/{id}", s.RemoveDomainListEntry)
		})

		r.Route("/entities", func(r gochi.Router) {
			r.Post("/", s.IngestEntity)
			r.Post("/email", s.IngestEmail)
			r.Delete("/{id}", s.DeleteEntity)
		})

		r.Post("/classify", s.Classify)
		r.Get("/classifications", s.ListClassifications)

		r.Get("/search", s.SearchGet)
		r.Post("/search", s.SearchPost)

		r.Route("/jobs", func(r gochi.Router) {
			r.Get("/", s.ListJobs)
			r.Get("/{id}", s.GetJob)
			r.Post("/{id}/retry", s.RetryJob)
		})
	})

	return r
}
