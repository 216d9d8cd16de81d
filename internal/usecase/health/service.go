// Package health aggregates component checks for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing; classification and search still work.
	Degraded Status = "degraded"
	// Unhealthy indicates a required store is down.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	ComponentVectorStore = "vector_store"
	ComponentMetadata    = "metadata"
	ComponentEmbedding   = "embedding"
)

// DefaultTimeout bounds each individual check.
const DefaultTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

type check struct {
	name     string
	required bool
	fn       func(ctx context.Context) error
}

// Service coordinates health checks.
type Service struct {
	checks  []check
	timeout time.Duration
}

// New creates a Service. metadata and embedding can be nil.
func New(vectors, metadata Pinger, embedding EmbeddingChecker) *Service {
	s := &Service{timeout: DefaultTimeout}
	s.checks = append(s.checks, check{name: ComponentVectorStore, required: true, fn: vectors.Ping})
	if metadata != nil {
		s.checks = append(s.checks, check{name: ComponentMetadata, required: true, fn: metadata.Ping})
	}
	if embedding != nil {
		s.checks = append(s.checks, check{name: ComponentEmbedding, fn: embedding.HealthCheck})
	}
	return s
}

// WithTimeout overrides the per-check timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs all checks concurrently. A failing required check makes the
// report Unhealthy, a failing optional one Degraded.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(s.checks))
	var wg sync.WaitGroup
	for i, c := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = CheckOK
			if err := c.fn(cctx); err != nil {
				results[i] = CheckError
			}
		}()
	}
	wg.Wait()

	report := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.checks))}
	for i, c := range s.checks {
		report.Checks[c.name] = results[i]
		if results[i] == CheckOK {
			continue
		}
		if c.required {
			report.Status = Unhealthy
		} else if report.Status == Healthy {
			report.Status = Degraded
		}
	}
	return report
}
